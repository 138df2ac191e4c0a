package artifact_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/artifact"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
)

func sampleBatch() equation.Batch {
	return equation.Batch{
		Name: "equation_7",
		Equations: []equation.Definition{{
			Name:           "Regular Pay",
			ReturnType:     equation.ReturnDecimal,
			Expression:     "[Hours] * Rate",
			QuantitySource: "Hours",
		}},
		Variables: []equation.Variable{
			{Name: "Hours", Cacheable: true, MetricType: "hours"},
			{Name: "Rate", Value: decimal.RequireFromString("17.25")},
		},
	}
}

func TestFileStore_SaveLoadDelete(t *testing.T) {
	store, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.False(t, store.Exists("equation_7"))
	require.NoError(t, store.Save("equation_7", sampleBatch()))
	assert.True(t, store.Exists("equation_7"))

	got, err := store.Load("equation_7")
	require.NoError(t, err)
	assert.Equal(t, "equation_7", got.Name)
	require.Len(t, got.Variables, 2)
	assert.True(t, got.Variables[1].Value.Equal(decimal.RequireFromString("17.25")))
	assert.Equal(t, "[Hours] * Rate", got.Equations[0].Expression)

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"equation_7"}, names)

	require.NoError(t, store.Delete("equation_7"))
	assert.False(t, store.Exists("equation_7"))
	require.NoError(t, store.Delete("equation_7"))
}

func TestFileStore_LoadMissing(t *testing.T) {
	store, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("nope")
	assert.True(t, errors.Is(err, generic.ErrNotFound))
}

func TestFileStore_SaveReplaces(t *testing.T) {
	store, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	first := sampleBatch()
	require.NoError(t, store.Save("equation_7", first))

	second := sampleBatch()
	second.Equations[0].Expression = "[Hours] * Rate * 2"
	require.NoError(t, store.Save("equation_7", second))

	got, err := store.Load("equation_7")
	require.NoError(t, err)
	assert.Equal(t, "[Hours] * Rate * 2", got.Equations[0].Expression)
}
