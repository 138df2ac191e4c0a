package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The pay period that metric lookups are scoped to
// =============================================================================

// Period is the [Start, End] range a payroll run covers. Cacheable
// variables and metric references are resolved for this range.
//
// Examples:
//   - Weekly: Sun 00:00 - Sat 23:59:59
//   - Semi-monthly: 1st - 15th, 16th - end of month
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod validates and builds a period.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate rejects periods whose end precedes their start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains returns true if t is within the period [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Days returns the calendar dates the period touches.
func (p Period) Days() []time.Time {
	var days []time.Time
	current := StartOfDay(p.Start)
	for !current.After(p.End) {
		days = append(days, current)
		current = current.AddDate(0, 0, 1)
	}
	return days
}

func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + "]"
}

// PeriodType defines how pay periods are cut
type PeriodType string

const (
	PeriodWeekly      PeriodType = "weekly"       // 7 days starting on the anchor weekday
	PeriodBiweekly    PeriodType = "biweekly"     // 14 days counted from the anchor date
	PeriodSemiMonthly PeriodType = "semi_monthly" // 1st-15th, 16th-end of month
	PeriodMonthly     PeriodType = "monthly"      // calendar month
)

// PeriodConfig defines how to calculate pay periods
type PeriodConfig struct {
	Type PeriodType

	// For weekly and biweekly: a date on which some period starts.
	Anchor time.Time
}

// =============================================================================
// PERIOD CALCULATOR - Determines which pay period a date falls into
// =============================================================================

// PeriodFor returns the pay period that contains date. The end is the last
// instant before the next period starts.
func (pc PeriodConfig) PeriodFor(date time.Time) Period {
	day := StartOfDay(date)

	switch pc.Type {
	case PeriodWeekly:
		return pc.cycle(day, 7)

	case PeriodBiweekly:
		return pc.cycle(day, 14)

	case PeriodSemiMonthly:
		if day.Day() <= 15 {
			start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
			return closed(start, start.AddDate(0, 0, 15))
		}
		start := time.Date(day.Year(), day.Month(), 16, 0, 0, 0, 0, day.Location())
		return closed(start, time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, day.Location()))

	default:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return closed(start, start.AddDate(0, 1, 0))
	}
}

func (pc PeriodConfig) cycle(day time.Time, length int) Period {
	anchor := StartOfDay(pc.Anchor)
	if pc.Anchor.IsZero() {
		// Sunday-based weeks when no anchor is configured
		anchor = time.Date(1970, time.January, 4, 0, 0, 0, 0, day.Location())
	}

	elapsed := int(WallDuration(anchor, day).Hours()) / 24
	offset := elapsed % length
	if offset < 0 {
		offset += length
	}
	start := day.AddDate(0, 0, -offset)
	return closed(start, start.AddDate(0, 0, length))
}

// closed turns the half-open [start, next) into [start, next - 1s].
func closed(start, next time.Time) Period {
	return Period{Start: start, End: next.Add(-time.Second)}
}

// NextPeriod returns the period following this one under the same config
func (pc PeriodConfig) NextPeriod(p Period) Period {
	return pc.PeriodFor(p.End.Add(time.Second))
}

// PreviousPeriod returns the period before this one under the same config
func (pc PeriodConfig) PreviousPeriod(p Period) Period {
	return pc.PeriodFor(p.Start.Add(-time.Second))
}
