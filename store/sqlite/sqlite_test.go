package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/store"
	"github.com/warp/payroll-engine/store/sqlite"
	"github.com/warp/payroll-engine/store/storetest"
)

func newStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newStore(t) })
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payroll.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveEquation(ctx, decimal.NewFromInt(4), []equation.Definition{
		{Name: "Flat", ReturnType: equation.ReturnInteger, Expression: "7 / 2"},
	}, nil))
	require.NoError(t, s.Close())

	// WHEN the file is opened again
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN the definitions are still there
	defs, _, err := s.FetchDefinitions(ctx, decimal.NewFromInt(4))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, equation.ReturnInteger, defs[0].ReturnType)
	assert.Equal(t, "7 / 2", defs[0].Expression)
}

func TestSQLite_MetricSumsAreExact(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

	// GIVEN ten metric rows of 0.1
	for i := 0; i < 10; i++ {
		require.NoError(t, s.RecordMetric(ctx, store.Metric{Name: "Tips", Value: decimal.RequireFromString("0.1"), EffectiveAt: at}))
	}

	// THEN the sum is exactly 1, not a float approximation
	got, err := s.MetricValue(ctx, "Tips", equation.Params{})
	require.NoError(t, err)
	assert.Equal(t, "1", got.String())
}

func TestSQLite_CorruptDecimalIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payroll.db")
	ctx := context.Background()
	at := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

	// GIVEN a stored metric and variable whose values were overwritten with text
	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordMetric(ctx, store.Metric{Name: "Hours", Value: decimal.NewFromInt(8), EffectiveAt: at}))
	require.NoError(t, s.SaveEquation(ctx, decimal.NewFromInt(1), []equation.Definition{
		{Name: "Pay", ReturnType: equation.ReturnDecimal, Expression: "Rate"},
	}, []equation.Variable{{Name: "Rate", Value: decimal.NewFromInt(20)}}))
	require.NoError(t, s.Close())

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE metrics SET value = 'abc'`)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE equation_variables SET value = 'twenty'`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	// WHEN the metric is summed
	_, err = s.MetricValue(ctx, "Hours", equation.Params{})

	// THEN the bad row fails the read instead of counting as zero
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt metric Hours")

	_, _, err = s.FetchDefinitions(ctx, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt variable Rate")
}

func TestSQLite_ScheduleTypeScope(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordMetric(ctx, store.Metric{Name: "Hours", Value: decimal.NewFromInt(8), EffectiveAt: at, ScheduleType: "NIGHT"}))
	require.NoError(t, s.RecordMetric(ctx, store.Metric{Name: "Hours", Value: decimal.NewFromInt(2), EffectiveAt: at}))

	night, err := s.MetricValue(ctx, "Hours", equation.Params{ScheduleType: "NIGHT"})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(night))

	day, err := s.MetricValue(ctx, "Hours", equation.Params{ScheduleType: "DAY"})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(day))
}
