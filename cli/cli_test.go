package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/equation"
)

func execute(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--format", format}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func writeBatch(t *testing.T, batch equation.Batch) string {
	t.Helper()
	raw, err := json.Marshal(batch)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func payBatch() equation.Batch {
	return equation.Batch{
		Equations: []equation.Definition{
			{Name: "Gross", ReturnType: equation.ReturnDecimal, Expression: "[Hours] * Rate", QuantitySource: "Hours"},
			{Name: "Label", ReturnType: equation.ReturnText, Expression: `[Hours] > 40 ? "overtime" : "regular"`},
		},
		Variables: []equation.Variable{
			{Name: "Rate", Value: decimal.NewFromInt(20)},
			{Name: "Hours", Cacheable: true},
		},
	}
}

// =============================================================================
// ROOT
// =============================================================================

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"validate", "evaluate", "qualify", "hours"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "yaml", "validate", "1 + 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestEvaluateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	evaluate, _, err := cmd.Find([]string{"evaluate"})
	require.NoError(t, err)

	for _, name := range []string{"db", "file", "equation-id", "name", "var", "metric", "from", "to", "location-id"} {
		assert.NotNil(t, evaluate.Flags().Lookup(name), name)
	}
	assert.Equal(t, "f", evaluate.Flags().Lookup("file").Shorthand)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapExitError(ExitCommandError, "bad", nil)))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}

// =============================================================================
// VALIDATE
// =============================================================================

func TestValidate_Text(t *testing.T) {
	out, err := execute(t, "text", "validate", "[Hours]   *  1.5")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
	assert.Contains(t, out, "[Hours]")
}

func TestValidate_JSON(t *testing.T) {
	out, err := execute(t, "json", "validate", "[Hours] * Rate", "--condition", "[Hours] > 0")
	require.NoError(t, err)

	var result ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
	require.Len(t, result.Parts, 2)
	assert.Equal(t, []string{"Hours"}, result.Parts[0].Metrics)
}

func TestValidate_UnbalancedFailsWithPosition(t *testing.T) {
	out, err := execute(t, "json", "validate", "([Hours] * 2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Problems)
	assert.Equal(t, 0, result.Problems[0].Position)
}

func TestValidate_NeedsInput(t *testing.T) {
	_, err := execute(t, "text", "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_Batch(t *testing.T) {
	out, err := execute(t, "json", "validate", "--file", writeBatch(t, payBatch()))
	require.NoError(t, err)

	var result ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
	assert.ElementsMatch(t, []string{"Gross", "Label"}, result.Names)
	assert.Equal(t, []string{"Hours"}, result.Metrics)
}

func TestValidate_BatchWithUnknownReference(t *testing.T) {
	batch := payBatch()
	batch.Equations[0].Expression = "[Hours] * Bonus"

	out, err := execute(t, "text", "validate", "-f", writeBatch(t, batch))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Gross")
}

func TestValidate_UnreadableBatch(t *testing.T) {
	_, err := execute(t, "text", "validate", "--file", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// =============================================================================
// EVALUATE
// =============================================================================

func TestEvaluate_FromFile(t *testing.T) {
	// GIVEN a batch with 42 recorded hours and a Rate override
	out, err := execute(t, "json", "evaluate",
		"--file", writeBatch(t, payBatch()),
		"--name", "Gross", "--name", "Label",
		"--metric", "Hours=42",
		"--var", "Rate=12.5",
	)
	require.NoError(t, err)

	var results []struct {
		Name     string `json:"name"`
		Value    any    `json:"value"`
		Quantity string `json:"quantity"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)

	assert.Equal(t, "Gross", results[0].Name)
	assert.Equal(t, "525", results[0].Value)
	assert.Equal(t, "42", results[0].Quantity)
	assert.Equal(t, "overtime", results[1].Value)
}

func TestEvaluate_Text(t *testing.T) {
	out, err := execute(t, "text", "evaluate",
		"-f", writeBatch(t, payBatch()),
		"-n", "Gross",
		"--metric", "Hours=8",
		"--from", "2025-06-01", "--to", "2025-06-30",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Gross = 160")
}

func TestEvaluate_PeriodType(t *testing.T) {
	// GIVEN hours recorded at the start of the semi-monthly period of June 20
	out, err := execute(t, "text", "evaluate",
		"-f", writeBatch(t, payBatch()),
		"-n", "Gross",
		"--metric", "Hours=10",
		"--from", "2025-06-20", "--period", "semi_monthly",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Gross = 200")

	_, err = execute(t, "text", "evaluate", "-f", writeBatch(t, payBatch()), "-n", "Gross", "--period", "daily", "--from", "2025-06-20")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEvaluate_UnknownName(t *testing.T) {
	_, err := execute(t, "text", "evaluate", "-f", writeBatch(t, payBatch()), "-n", "Net")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestEvaluate_BadOverride(t *testing.T) {
	_, err := execute(t, "text", "evaluate", "-f", writeBatch(t, payBatch()), "-n", "Gross", "--var", "Rate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEvaluate_NeedsASource(t *testing.T) {
	_, err := execute(t, "text", "evaluate", "-n", "Gross")
	require.Error(t, err)
}

func TestAssignments(t *testing.T) {
	got, err := assignments([]string{"Rate=12.5", " Hours = 8 "})
	require.NoError(t, err)
	assert.True(t, got["Rate"].Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got["Hours"].Equal(decimal.NewFromInt(8)))

	_, err = assignments([]string{"Rate="})
	assert.Error(t, err)
	_, err = assignments([]string{"=3"})
	assert.Error(t, err)
}

// =============================================================================
// SHIFTS
// =============================================================================

func TestHours_NightWindow(t *testing.T) {
	// GIVEN a 20:00-04:30 shift and a 22:00-06:00 night rule
	out, err := execute(t, "json", "hours",
		"--in", "2025-06-02T20:00", "--out", "2025-06-03T04:30",
		"--begin", "22:00", "--end", "06:00",
	)
	require.NoError(t, err)

	var result ShiftResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Hours.Equal(decimal.RequireFromString("6.5")), result.Hours.String())
	assert.True(t, result.ShiftLength.Equal(decimal.RequireFromString("8.5")), result.ShiftLength.String())
}

func TestQualify_WindowIsEndExclusive(t *testing.T) {
	out, err := execute(t, "text", "qualify",
		"--in", "2025-06-02T16:00", "--out", "2025-06-02T22:00",
		"--begin", "08:00", "--end", "16:00",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "does not qualify")
}

func TestQualify_Holiday(t *testing.T) {
	out, err := execute(t, "json", "qualify",
		"--in", "2025-12-25T09:00", "--out", "2025-12-25T17:00",
		"--type", "hol",
		"--holiday-start", "2025-12-25", "--holiday-end", "2025-12-25T23:59",
	)
	require.NoError(t, err)

	var result ShiftResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Qualifies)
	assert.True(t, result.Hours.Equal(decimal.NewFromInt(8)))
}

func TestHours_DaylightAdjustment(t *testing.T) {
	// GIVEN a shift across the spring-forward change in New York
	out, err := execute(t, "json", "hours",
		"--tz", "America/New_York",
		"--in", "2025-03-08T22:00", "--out", "2025-03-09T06:00",
		"--no-time-range",
		"--scheduled-daylight", "-1",
	)
	require.NoError(t, err)

	var result ShiftResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.ShiftLength.Equal(decimal.NewFromInt(7)), result.ShiftLength.String())
}

func TestShift_InvalidMode(t *testing.T) {
	_, err := execute(t, "text", "hours", "--in", "2025-06-02T08:00", "--out", "2025-06-02T16:00", "--mode", "later")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestShift_EndBeforeStart(t *testing.T) {
	_, err := execute(t, "text", "hours", "--in", "2025-06-02T16:00", "--out", "2025-06-02T08:00")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
