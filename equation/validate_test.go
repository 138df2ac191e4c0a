package equation_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// BALANCE
// =============================================================================

func TestCheckBalance_Balanced(t *testing.T) {
	for _, text := range []string{
		"",
		"1 + 2",
		"(1 + 2) * (3 - (4 / 5))",
		`"(" + "x"`,
	} {
		assert.NoError(t, equation.CheckBalance(text, '(', ')', equation.PartEquation), text)
	}
}

func TestCheckBalance_ExtraClose_FailsAtTheClose(t *testing.T) {
	err := equation.CheckBalance("(1 + 2))", '(', ')', equation.PartEquation)

	var se *equation.SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 7, se.Position)
	assert.Equal(t, ")", se.Near)
	assert.True(t, errors.Is(err, generic.ErrSyntax))
}

func TestCheckBalance_ExtraOpen_FailsAtEarliestPendingOpen(t *testing.T) {
	err := equation.CheckBalance("1 + ((2 * 3)", '(', ')', equation.PartCondition)

	var se *equation.SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 4, se.Position)
	assert.Equal(t, equation.PartCondition, se.Part)
	assert.Equal(t, "Condition Validation Error:  Incorrect syntax near '('.\n[POSITION:4]", se.Error())
}

func TestCheckBalance_Brackets(t *testing.T) {
	assert.NoError(t, equation.CheckBalance("[A] + [B]", '[', ']', equation.PartEquation))

	err := equation.CheckBalance("[A] + B]", '[', ']', equation.PartEquation)
	var se *equation.SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 7, se.Position)
}

// =============================================================================
// DECIMAL ANNOTATION
// =============================================================================

func TestAnnotateDecimalLiterals(t *testing.T) {
	cases := map[string]string{
		"10":                  "10M",
		"[Hours 40] * 1.5":    "[Hours 40] * 1.5M",
		"10 / [Metric 2]":     "10M / [Metric 2]",
		"Rate2 + 3":           "Rate2 + 3M",
		"(1+2)":               "(1M+2)",
		"GreaterOf([A], 100)": "GreaterOf([A], 100)",
		"[A] > 0 ? 1 : 2":     "[A] > 0M ? 1M : 2M",
		`"Shift 3" + 4`:       `"Shift 3" + 4M`,
	}
	for in, want := range cases {
		assert.Equal(t, want, equation.AnnotateDecimalLiterals(in), in)
	}
}

func TestAnnotateDecimalLiterals_NeverTouchesMetricNames(t *testing.T) {
	out := equation.AnnotateDecimalLiterals("[2024 Hours 12] + [Code 7]")
	assert.Equal(t, "[2024 Hours 12] + [Code 7]", out)
}

// =============================================================================
// METRIC REFERENCES
// =============================================================================

func TestExtractMetricReferences_UniqueInOrder(t *testing.T) {
	names, err := equation.ExtractMetricReferences("[B] + ([A] * [B]) - GreaterOf([C],[A])", equation.PartEquation)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "C"}, names)
}

func TestExtractMetricReferences_MissingOperatorAfter(t *testing.T) {
	_, err := equation.ExtractMetricReferences("[A] [B]", equation.PartEquation)

	var se *equation.SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 4, se.Position)
	assert.Contains(t, se.Message, "Missing operator after metric 'A'")
}

func TestExtractMetricReferences_MissingOperatorBefore(t *testing.T) {
	_, err := equation.ExtractMetricReferences("2[A]", equation.PartEquation)

	var se *equation.SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Position)
	assert.Contains(t, se.Message, "Missing operator before metric 'A'")
}

func TestExtractMetricReferences_EmptyReference(t *testing.T) {
	_, err := equation.ExtractMetricReferences("1 + []", equation.PartEquation)
	assert.True(t, errors.Is(err, generic.ErrSyntax))
}

// =============================================================================
// IDENTIFIERS AND QUANTITY SOURCES
// =============================================================================

func TestSanitizeIdentifier(t *testing.T) {
	assert.Equal(t, "OvertimePay", equation.SanitizeIdentifier("Overtime Pay"))
	assert.Equal(t, "Number1stShift", equation.SanitizeIdentifier("1st Shift"))
	assert.Equal(t, "abc", equation.SanitizeIdentifier("a_b-c"))
	assert.Equal(t, "", equation.SanitizeIdentifier("()"))
}

func TestFixQuantitySource(t *testing.T) {
	assert.Equal(t, "[Hours Worked]", equation.FixQuantitySource("  Hours Worked "))
	assert.Equal(t, "[A] * 2", equation.FixQuantitySource("[A] * 2"))
	assert.Equal(t, "GreaterOf([A], [B])", equation.FixQuantitySource("GreaterOf([A], [B])"))
	assert.Equal(t, "Regular-Hours", equation.FixQuantitySource("Regular-Hours"))
	assert.Equal(t, "", equation.FixQuantitySource(""))
}

func TestNormalizeSpaces(t *testing.T) {
	assert.Equal(t, "[A] + 1", equation.NormalizeSpaces("  [A]\r\n+\t  1 "))
}

func TestValidate_ReturnsPreparedText(t *testing.T) {
	p, err := equation.Validate(equation.PartEquation, "[Hours]\n* 2")
	require.NoError(t, err)
	assert.Equal(t, "[Hours] * 2", p.Text)
	assert.Equal(t, "[Hours] * 2M", p.Annotated)
	assert.Equal(t, []string{"Hours"}, p.Metrics)

	empty, err := equation.Validate(equation.PartCondition, "   ")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}
