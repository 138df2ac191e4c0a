package timerange

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Matcher evaluates one shift against one pay rule window. Holiday is only
// read for holiday rules; without one a holiday rule never matches.
type Matcher struct {
	Shift   Shift
	Window  Window
	Holiday *Holiday
}

func New(shift Shift, window Window, holiday *Holiday) *Matcher {
	return &Matcher{Shift: shift, Window: window, Holiday: holiday}
}

// =============================================================================
// QUALIFICATION - Judged by the scheduled start alone
// =============================================================================

// ShiftQualifies reports whether the shift's scheduled start belongs to the
// rule. Windows are end-exclusive: a window ending at 16:00 does not
// contain a 16:00 start.
func (m *Matcher) ShiftQualifies() bool {
	start := m.Shift.ScheduledIn
	w := m.Window

	if w.IsHoliday() {
		h := m.Holiday
		if h == nil || !h.AppliesTo(m.Shift.LocationID) {
			return false
		}
		// the end of the shift may run past the holiday
		return h.Contains(start)
	}

	if w.NoTimeRange {
		return true
	}

	from, to := w.Begin.On(start), w.End.On(start)
	if !to.After(from) {
		to = generic.AddDays(to, 1)
	}
	if within(start, from, to) {
		return true
	}

	// a start after midnight may belong to the window that opened yesterday
	if w.CrossesMidnight() {
		from, to = w.Begin.On(start), w.End.On(start)
		if from.After(to) {
			from = generic.AddDays(from, -1)
		}
		return within(start, from, to)
	}
	return false
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// =============================================================================
// HOURS
// =============================================================================

// HoursInTimeRange sums the hours of [start, end] that fall inside the
// daily window [begin, finish) on days the rule applies to. Each day's
// window instance is clipped to the span; an instance crossing a
// daylight-saving change gets the shift's daylight adjustment for mode.
// Only positive instances count.
func (m *Matcher) HoursInTimeRange(start, end time.Time, begin, finish generic.TimeOfDay, mode Mode) decimal.Decimal {
	const day = 24 * time.Hour
	span := generic.WallDuration(start, end)
	days := int(span/day) + 1
	if span > 0 && span%day != 0 {
		days++
	}

	code := m.Shift.Code()
	current := start
	if begin.After(finish) {
		// the window may have opened the day before the span starts
		current = generic.AddDays(current, -1)
		code = code.Prev()
		days++
	}

	total := decimal.Zero
	for i := 0; i < days; i++ {
		from, to := begin.On(current), finish.On(current)
		if from.After(to) {
			to = generic.AddDays(to, 1)
		}

		if IsApplicableToDay(m.Window.TimingCode, code) {
			if start.After(from) {
				from = start
			}
			if end.Before(to) {
				to = end
			}
			hours := generic.WallHours(from, to)
			if SpansDaylightTransition(from, to) {
				hours = hours.Add(m.Shift.Daylight(mode))
			}
			if hours.IsPositive() {
				total = total.Add(hours)
			}
		}

		current = generic.AddDays(current, 1)
		code = code.Next()
	}
	return total
}

// ShiftLength is the wall-clock length of the shift in mode, adjusted when
// it crosses a daylight-saving change.
func (m *Matcher) ShiftLength(mode Mode) decimal.Decimal {
	in, out := m.Shift.Times(mode)
	hours := generic.WallHours(in, out)
	if SpansDaylightTransition(in, out) {
		hours = hours.Add(m.Shift.Daylight(mode))
	}
	return hours
}

// QualifyingHours is what the rule pays for. Holiday rules pay the whole
// shift when it qualifies; rules without a time range pay the whole shift
// on applicable days; windowed rules pay the hours inside the window.
func (m *Matcher) QualifyingHours(mode Mode) decimal.Decimal {
	switch {
	case m.Window.IsHoliday():
		if !m.ShiftQualifies() {
			return decimal.Zero
		}
		return m.ShiftLength(mode)
	case m.Window.NoTimeRange:
		if !IsApplicableToDay(m.Window.TimingCode, m.Shift.Code()) {
			return decimal.Zero
		}
		return m.ShiftLength(mode)
	}
	in, out := m.Shift.Times(mode)
	return m.HoursInTimeRange(in, out, m.Window.Begin, m.Window.End, mode)
}

// =============================================================================
// HELPERS
// =============================================================================

// IsApplicableToDay reports whether a rule timing code covers the weekday
// dayCode.
func IsApplicableToDay(ruleCode int, dayCode generic.TimingCode) bool {
	switch ruleCode {
	case EveryDay:
		return true
	case Weekdays:
		return dayCode >= generic.Monday && dayCode <= generic.Friday
	case Weekend:
		return dayCode == generic.Saturday || dayCode == generic.Sunday
	}
	return generic.TimingCode(ruleCode) == dayCode
}

// SpansDaylightTransition reports whether a and b fall under different
// zone offsets.
func SpansDaylightTransition(a, b time.Time) bool {
	_, offA := a.Zone()
	_, offB := b.Zone()
	return offA != offB
}
