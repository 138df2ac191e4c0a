// Package storetest holds the behaviour every store.Store must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/store"
	"github.com/warp/payroll-engine/timerange"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(d, h int) time.Time { return time.Date(2025, time.June, d, h, 0, 0, 0, time.UTC) }

// Run exercises s against the shared contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("EquationsRoundTrip", func(t *testing.T) { equationsRoundTrip(t, newStore(t)) })
	t.Run("SaveReplaces", func(t *testing.T) { saveReplaces(t, newStore(t)) })
	t.Run("DuplicateNames", func(t *testing.T) { duplicateNames(t, newStore(t)) })
	t.Run("MetricScope", func(t *testing.T) { metricScope(t, newStore(t)) })
	t.Run("Holidays", func(t *testing.T) { holidays(t, newStore(t)) })
	t.Run("FeedsTheCache", func(t *testing.T) { feedsTheCache(t, newStore(t)) })
}

func payroll() ([]equation.Definition, []equation.Variable) {
	return []equation.Definition{
			{Name: "Gross", ReturnType: equation.ReturnDecimal, Expression: "[Hours] * Rate", QuantitySource: "Hours"},
			{Name: "Overtime", ReturnType: equation.ReturnBoolean, Expression: "[Hours] > 40"},
		}, []equation.Variable{
			{Name: "Rate", Value: dec("12.5")},
			{Name: "Hours", Cacheable: true, MetricType: "TIME"},
		}
}

func equationsRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	defs, vars := payroll()
	require.NoError(t, s.SaveEquation(ctx, dec("7"), defs, vars))
	require.NoError(t, s.SaveEquation(ctx, dec("3"), defs[:1], vars))

	gotDefs, gotVars, err := s.FetchDefinitions(ctx, dec("7"))
	require.NoError(t, err)
	require.Len(t, gotDefs, 2)
	assert.Equal(t, "Gross", gotDefs[0].Name)
	assert.Equal(t, "Overtime", gotDefs[1].Name)
	assert.Equal(t, equation.ReturnBoolean, gotDefs[1].ReturnType)
	assert.Equal(t, "Hours", gotDefs[0].QuantitySource)
	require.Len(t, gotVars, 2)

	byName := map[string]equation.Variable{}
	for _, v := range gotVars {
		byName[v.Name] = v
	}
	assert.True(t, dec("12.5").Equal(byName["Rate"].Value))
	assert.True(t, byName["Hours"].Cacheable)

	ids, err := s.ListEquationIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.True(t, dec("3").Equal(ids[0]))
	assert.True(t, dec("7").Equal(ids[1]))

	_, _, err = s.FetchDefinitions(ctx, dec("99"))
	assert.True(t, errors.Is(err, generic.ErrNotFound))
}

func saveReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()
	defs, vars := payroll()
	require.NoError(t, s.SaveEquation(ctx, dec("1"), defs, vars))

	// GIVEN a second save under the same id
	require.NoError(t, s.SaveEquation(ctx, dec("1"), []equation.Definition{
		{Name: "Net", ReturnType: equation.ReturnDecimal, Expression: "1"},
	}, nil))

	// THEN only the new definitions remain
	gotDefs, gotVars, err := s.FetchDefinitions(ctx, dec("1"))
	require.NoError(t, err)
	require.Len(t, gotDefs, 1)
	assert.Equal(t, "Net", gotDefs[0].Name)
	assert.Empty(t, gotVars)
}

func duplicateNames(t *testing.T, s store.Store) {
	defs := []equation.Definition{
		{Name: "Gross", Expression: "1"},
		{Name: "Gross", Expression: "2"},
	}
	err := s.SaveEquation(context.Background(), dec("1"), defs, nil)
	assert.True(t, errors.Is(err, generic.ErrDuplicateName), err)
}

func metricScope(t *testing.T, s store.Store) {
	ctx := context.Background()
	loc := dec("10")
	other := dec("11")

	for _, m := range []store.Metric{
		{Name: "Hours", Value: dec("8"), EffectiveAt: day(2, 9)},
		{Name: "Hours", Value: dec("7.5"), EffectiveAt: day(3, 9), LocationID: &loc},
		{Name: "Hours", Value: dec("100"), EffectiveAt: day(3, 9), LocationID: &other},
		{Name: "Hours", Value: dec("50"), EffectiveAt: day(20, 9)},
		{Name: "Bonus", Value: dec("1"), EffectiveAt: day(2, 9)},
	} {
		require.NoError(t, s.RecordMetric(ctx, m))
	}

	week := generic.Period{Start: day(1, 0), End: day(7, 23)}
	got, err := s.MetricValue(ctx, "Hours", equation.Params{Period: week, LocationID: loc})
	require.NoError(t, err)
	assert.True(t, dec("15.5").Equal(got), got.String())

	// no period: every date counts
	got, err = s.MetricValue(ctx, "Hours", equation.Params{LocationID: loc})
	require.NoError(t, err)
	assert.True(t, dec("65.5").Equal(got), got.String())

	got, err = s.MetricValue(ctx, "Missing", equation.Params{Period: week})
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func holidays(t *testing.T, s store.Store) {
	ctx := context.Background()
	loc := dec("10")

	global, err := s.SaveHoliday(ctx, timerange.Holiday{Name: "Founders Day", Start: day(4, 0), End: day(4, 23)})
	require.NoError(t, err)
	local, err := s.SaveHoliday(ctx, timerange.Holiday{Name: "Site Day", Start: day(4, 0), End: day(4, 23), LocationID: &loc})
	require.NoError(t, err)
	assert.NotEqual(t, global, local)

	_, err = s.SaveHoliday(ctx, timerange.Holiday{Start: day(5, 0), End: day(4, 0)})
	assert.True(t, errors.Is(err, generic.ErrInvalidPeriod))

	// location-scoped holiday wins at its location
	h, err := s.HolidayAt(ctx, day(4, 12), loc)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "Site Day", h.Name)

	h, err = s.HolidayAt(ctx, day(4, 12), dec("11"))
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "Founders Day", h.Name)

	h, err = s.HolidayAt(ctx, day(6, 12), loc)
	require.NoError(t, err)
	assert.Nil(t, h)

	all, err := s.ListHolidays(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteHoliday(ctx, local))
	assert.True(t, errors.Is(s.DeleteHoliday(ctx, local), generic.ErrNotFound))

	h, err = s.HolidayAt(ctx, day(4, 12), loc)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "Founders Day", h.Name)
}

func feedsTheCache(t *testing.T, s store.Store) {
	ctx := context.Background()
	defs, vars := payroll()
	require.NoError(t, s.SaveEquation(ctx, dec("5"), defs, vars))
	require.NoError(t, s.RecordMetric(ctx, store.Metric{Name: "Hours", Value: dec("42"), EffectiveAt: day(2, 9)}))

	cache := equation.NewCache(equation.NewCompiler(), zerolog.Nop())
	defer cache.Close()

	ev, err := cache.GetOrBuild(ctx, dec("5"), s, s)
	require.NoError(t, err)

	session, err := ev.Session(equation.Params{Period: generic.Period{Start: day(1, 0), End: day(7, 0)}}, nil)
	require.NoError(t, err)
	gross, err := session.EvaluateDecimal(ctx, "Gross")
	require.NoError(t, err)
	assert.True(t, dec("525").Equal(gross), gross.String())

	overtime, err := session.EvaluateBool(ctx, "Overtime")
	require.NoError(t, err)
	assert.True(t, overtime)

	qty, err := session.EvaluateQuantitySource(ctx, "Gross")
	require.NoError(t, err)
	assert.True(t, dec("42").Equal(qty))
}
