/*
Package timerange decides which hours of a shift fall inside a pay rule's
time window.

PURPOSE:
  Shift differentials, holiday pay and weekday-specific rates pay a
  different rate for hours worked inside a window such as 22:00-06:00 or
  "Saturday and Sunday". This package answers two questions for the payroll
  run:

    ShiftQualifies   - does the shift, by its scheduled start, belong to
                       the rule's window (or to the holiday)?
    HoursInTimeRange - how many of the shift's hours fall inside the window,
                       across days, weekdays and daylight-saving changes?

KEY CONCEPTS:
  - Windows are times of day; a window whose end precedes its begin crosses
    midnight and belongs to two calendar days.
  - Timing codes number weekdays 1 (Sunday) to 7 (Saturday). A rule's code
    may also be 0 (every day), 8 (weekdays) or 9 (weekend).
  - Hours are measured on the wall clock. When a counted span crosses a
    daylight-saving change, the schedule's daylight adjustment is added.

SEE ALSO:
  - generic/time.go: TimeOfDay, TimingCode, wall-clock hours
*/
package timerange

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// HolidayType marks a rule paid on holidays instead of a time window.
const HolidayType = "HOL"

// Mode selects which of a shift's times are measured.
type Mode string

const (
	Actual    Mode = "ACTUAL"
	Scheduled Mode = "SCHEDULED"
)

// Rule timing codes beyond the seven weekdays.
const (
	EveryDay = 0
	Weekdays = 8
	Weekend  = 9
)

// Shift is one scheduled (and possibly worked) shift.
type Shift struct {
	ScheduledIn       time.Time          `json:"scheduled_in"`
	ScheduledOut      time.Time          `json:"scheduled_out"`
	ActualIn          time.Time          `json:"actual_in"`
	ActualOut         time.Time          `json:"actual_out"`
	LocationID        decimal.Decimal    `json:"location_id"`
	TimingCode        generic.TimingCode `json:"timing_code"`
	ScheduledDaylight decimal.Decimal    `json:"scheduled_daylight"`
	ActualDaylight    decimal.Decimal    `json:"actual_daylight"`
}

// Times returns the in and out times for mode. Actual falls back to the
// scheduled times when the shift has not been clocked.
func (s Shift) Times(mode Mode) (time.Time, time.Time) {
	if mode == Actual && !s.ActualIn.IsZero() && !s.ActualOut.IsZero() {
		return s.ActualIn, s.ActualOut
	}
	return s.ScheduledIn, s.ScheduledOut
}

// Daylight is the hour adjustment to apply when a span crosses a
// daylight-saving change.
func (s Shift) Daylight(mode Mode) decimal.Decimal {
	if mode == Actual {
		return s.ActualDaylight
	}
	return s.ScheduledDaylight
}

// Code is the shift's timing code, derived from the scheduled start when
// the schedule did not carry one.
func (s Shift) Code() generic.TimingCode {
	if s.TimingCode.Valid() {
		return s.TimingCode
	}
	return generic.TimingCodeOf(s.ScheduledIn)
}

// Window is the time window of a pay rule.
type Window struct {
	Begin        generic.TimeOfDay `json:"begin"`
	End          generic.TimeOfDay `json:"end"`
	TimingCode   int               `json:"timing_code"`
	EquationType string            `json:"equation_type,omitempty"`
	NoTimeRange  bool              `json:"no_time_range"`
}

func (w Window) IsHoliday() bool { return w.EquationType == HolidayType }

// CrossesMidnight reports whether the window ends on the day after it begins.
func (w Window) CrossesMidnight() bool { return w.End.Before(w.Begin) }

// Holiday is a holiday period, optionally limited to one location.
type Holiday struct {
	ID         int64            `json:"id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	LocationID *decimal.Decimal `json:"location_id,omitempty"`
}

// AppliesTo reports whether the holiday is observed at location.
func (h Holiday) AppliesTo(location decimal.Decimal) bool {
	return h.LocationID == nil || h.LocationID.Equal(location)
}

// Contains is inclusive at both ends.
func (h Holiday) Contains(t time.Time) bool {
	return !t.Before(h.Start) && !t.After(h.End)
}
