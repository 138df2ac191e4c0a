package equation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
)

func TestProblems_FlattensBuildError(t *testing.T) {
	_, err := equation.NewProgram(equation.Batch{
		Equations: []equation.Definition{
			eq("Gross", "[Hours] * Bonus"),
			eq("Net", "(Gross - 1"),
		},
		Variables: []equation.Variable{metricVar("Hours")},
	})
	require.Error(t, err)

	problems := equation.Problems(err)
	require.Len(t, problems, 2)

	byName := map[string]equation.Problem{}
	for _, p := range problems {
		byName[p.Equation] = p
	}
	assert.Contains(t, byName["Gross"].Message, "Bonus")
	assert.Equal(t, equation.PartEquation, byName["Net"].Part)
	assert.Equal(t, 0, byName["Net"].Position)
}

func TestProblems_SyntaxError(t *testing.T) {
	_, err := equation.Validate(equation.PartCondition, "[Hours] > 1)")
	require.Error(t, err)

	problems := equation.Problems(err)
	require.Len(t, problems, 1)
	assert.Equal(t, equation.PartCondition, problems[0].Part)
	assert.Equal(t, 11, problems[0].Position)
	assert.Empty(t, problems[0].Equation)
}

func TestProblems_OtherErrors(t *testing.T) {
	assert.Nil(t, equation.Problems(nil))
	assert.Nil(t, equation.Problems(generic.ErrReleased))
}
