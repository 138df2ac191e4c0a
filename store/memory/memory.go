// Package memory provides an in-memory store.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/store"
	"github.com/warp/payroll-engine/timerange"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ store.Store = (*Memory)(nil)

type Memory struct {
	mu        sync.RWMutex
	equations map[string]entry
	metrics   []store.Metric
	holidays  []timerange.Holiday
	nextID    int64
}

type entry struct {
	id   decimal.Decimal
	defs []equation.Definition
	vars []equation.Variable
}

func New() *Memory {
	return &Memory{equations: make(map[string]entry)}
}

func (m *Memory) FetchDefinitions(_ context.Context, equationID decimal.Decimal) ([]equation.Definition, []equation.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.equations[generic.IDString(equationID)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: equation %s", generic.ErrNotFound, generic.IDString(equationID))
	}
	return append([]equation.Definition(nil), e.defs...), append([]equation.Variable(nil), e.vars...), nil
}

// SaveEquation replaces every definition stored under equationID.
func (m *Memory) SaveEquation(_ context.Context, equationID decimal.Decimal, defs []equation.Definition, vars []equation.Variable) error {
	seen := make(map[string]bool, len(defs)+len(vars))
	for _, d := range defs {
		if seen["e:"+d.Name] {
			return fmt.Errorf("%w: equation %q", generic.ErrDuplicateName, d.Name)
		}
		seen["e:"+d.Name] = true
	}
	for _, v := range vars {
		if seen["v:"+v.Name] {
			return fmt.Errorf("%w: variable %q", generic.ErrDuplicateName, v.Name)
		}
		seen["v:"+v.Name] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.equations[generic.IDString(equationID)] = entry{
		id:   equationID,
		defs: append([]equation.Definition(nil), defs...),
		vars: append([]equation.Variable(nil), vars...),
	}
	return nil
}

func (m *Memory) ListEquationIDs(_ context.Context) ([]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]decimal.Decimal, 0, len(m.equations))
	for _, e := range m.equations {
		ids = append(ids, e.id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].LessThan(ids[j]) })
	return ids, nil
}

// =============================================================================
// METRICS
// =============================================================================

func (m *Memory) RecordMetric(_ context.Context, metric store.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, metric)
	return nil
}

// MetricValue sums the matching metrics; see store.Metric.Matches.
func (m *Memory) MetricValue(_ context.Context, name string, p equation.Params) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return store.Sum(m.metrics, name, p), nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (m *Memory) SaveHoliday(_ context.Context, h timerange.Holiday) (int64, error) {
	if h.End.Before(h.Start) {
		return 0, fmt.Errorf("%w: holiday %q", generic.ErrInvalidPeriod, h.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	h.ID = m.nextID
	m.holidays = append(m.holidays, h)
	return h.ID, nil
}

func (m *Memory) DeleteHoliday(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, h := range m.holidays {
		if h.ID == id {
			m.holidays = append(m.holidays[:i], m.holidays[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: holiday %d", generic.ErrNotFound, id)
}

func (m *Memory) HolidayAt(_ context.Context, t time.Time, location decimal.Decimal) (*timerange.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *timerange.Holiday
	for i := range m.holidays {
		h := m.holidays[i]
		if !h.Contains(t) || !h.AppliesTo(location) {
			continue
		}
		// location-scoped rows win over unscoped ones
		if found == nil || (found.LocationID == nil && h.LocationID != nil) {
			found = &h
		}
	}
	return found, nil
}

func (m *Memory) ListHolidays(_ context.Context) ([]timerange.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := append([]timerange.Holiday(nil), m.holidays...)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result, nil
}

func (m *Memory) Close() error { return nil }
