/*
Package store defines the persistence contract behind the payroll engine.

PURPOSE:
  The equation engine only needs two collaborators, a Repository for
  definitions and a MetricProvider for run-time values. The service around
  it also writes equations, records metrics and keeps a holiday calendar.
  Store gathers all of it so the API and CLI depend on one interface.

KEY INTERFACES:
  Store:    Equations, metrics and holidays together
  Calendar: Holiday lookup used by the time-range matcher

METRIC SCOPE:
  A metric row carries optional scope columns (location, provider location,
  process, pay header, schedule type). A nil column matches every run; a
  set column only matches runs with the same value.

IMPLEMENTATIONS:
  - store/sqlite: SQLite, the production store
  - store/memory: In-memory for tests and the CLI

SEE ALSO:
  - equation/types.go: Repository and MetricProvider
  - timerange/types.go: Holiday
*/
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/timerange"
)

// =============================================================================
// STORE - Interface for equation, metric and holiday persistence
// =============================================================================

// Store is the full persistence surface of the service.
type Store interface {
	equation.Repository
	equation.MetricProvider
	Calendar

	// SaveEquation replaces every definition stored under equationID.
	SaveEquation(ctx context.Context, equationID decimal.Decimal, defs []equation.Definition, vars []equation.Variable) error

	// ListEquationIDs returns every stored equation id, ascending.
	ListEquationIDs(ctx context.Context) ([]decimal.Decimal, error)

	RecordMetric(ctx context.Context, m Metric) error

	Close() error
}

// Calendar stores holiday ranges.
type Calendar interface {
	SaveHoliday(ctx context.Context, h timerange.Holiday) (int64, error)
	DeleteHoliday(ctx context.Context, id int64) error

	// HolidayAt returns the holiday containing t for location, preferring
	// location-scoped holidays. Returns nil, nil when none matches.
	HolidayAt(ctx context.Context, t time.Time, location decimal.Decimal) (*timerange.Holiday, error)

	ListHolidays(ctx context.Context) ([]timerange.Holiday, error)
}

// =============================================================================
// METRICS
// =============================================================================

// Metric is one dated metric value. Nil scope fields match any run.
type Metric struct {
	Name               string           `json:"name" validate:"required"`
	Value              decimal.Decimal  `json:"value"`
	EffectiveAt        time.Time        `json:"effective_at" validate:"required"`
	LocationID         *decimal.Decimal `json:"location_id,omitempty"`
	ProviderLocationID *decimal.Decimal `json:"provider_location_id,omitempty"`
	ProcessID          *decimal.Decimal `json:"process_id,omitempty"`
	PayHeaderID        *decimal.Decimal `json:"pay_header_id,omitempty"`
	ScheduleType       string           `json:"schedule_type,omitempty"`
}

// Matches reports whether the metric counts toward a run with p. A zero
// run period matches every date; otherwise the period is inclusive.
func (m Metric) Matches(name string, p equation.Params) bool {
	if m.Name != name {
		return false
	}
	if !p.Period.IsZero() && !p.Period.Contains(m.EffectiveAt) {
		return false
	}
	return scoped(m.LocationID, p.LocationID) &&
		scoped(m.ProviderLocationID, p.ProviderLocationID) &&
		scoped(m.ProcessID, p.ProcessID) &&
		scoped(m.PayHeaderID, p.PayHeaderID) &&
		(m.ScheduleType == "" || m.ScheduleType == p.ScheduleType)
}

func scoped(column *decimal.Decimal, run decimal.Decimal) bool {
	return column == nil || column.Equal(run)
}

// Sum adds the values of the metrics matching name and p.
func Sum(metrics []Metric, name string, p equation.Params) decimal.Decimal {
	total := decimal.Zero
	for _, m := range metrics {
		if m.Matches(name, p) {
			total = total.Add(m.Value)
		}
	}
	return total
}

// HolidayFor looks up the holiday observed at the shift's scheduled start.
func HolidayFor(ctx context.Context, cal Calendar, shift timerange.Shift) (*timerange.Holiday, error) {
	h, err := cal.HolidayAt(ctx, shift.ScheduledIn, shift.LocationID)
	if err != nil {
		return nil, fmt.Errorf("holiday lookup at %s: %w", shift.ScheduledIn.Format(time.RFC3339), err)
	}
	return h, nil
}
