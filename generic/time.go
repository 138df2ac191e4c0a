package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIME OF DAY - Pay rule window bounds (no date component)
// =============================================================================

// TimeOfDay is a wall-clock time without a date, e.g. the 22:00 start of a
// night differential.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// NewTimeOfDay builds a TimeOfDay. Out-of-range fields are normalized the
// way time.Date normalizes them.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	total := ((hour*60+minute)*60 + second) % (24 * 3600)
	if total < 0 {
		total += 24 * 3600
	}
	return TimeOfDay{Hour: total / 3600, Minute: total / 60 % 60, Second: total % 60}
}

// TimeOfDayOf extracts the wall-clock time of day from t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q (use HH:MM or HH:MM:SS)", s)
}

// On anchors the time of day to day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, day.Location())
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int { return (t.Hour*60+t.Minute)*60 + t.Second }

func (t TimeOfDay) Compare(other TimeOfDay) int {
	a, b := t.Seconds(), other.Seconds()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (t TimeOfDay) Before(other TimeOfDay) bool { return t.Compare(other) < 0 }
func (t TimeOfDay) After(other TimeOfDay) bool  { return t.Compare(other) > 0 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// =============================================================================
// TIMING CODE - Weekday numbering used by pay rules (1 = Sunday ... 7 = Saturday)
// =============================================================================

type TimingCode int

const (
	Sunday TimingCode = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// TimingCodeOf returns the timing code of t's weekday.
func TimingCodeOf(t time.Time) TimingCode { return TimingCode(t.Weekday()) + 1 }

func (c TimingCode) Valid() bool { return c >= Sunday && c <= Saturday }

// Next wraps Saturday to Sunday.
func (c TimingCode) Next() TimingCode {
	if c == Saturday {
		return Sunday
	}
	return c + 1
}

// Prev wraps Sunday to Saturday.
func (c TimingCode) Prev() TimingCode {
	if c == Sunday {
		return Saturday
	}
	return c - 1
}

func (c TimingCode) Weekday() time.Weekday { return time.Weekday(c - 1) }

func (c TimingCode) String() string {
	if !c.Valid() {
		return fmt.Sprintf("TimingCode(%d)", int(c))
	}
	return c.Weekday().String()
}

// =============================================================================
// WALL-CLOCK ARITHMETIC
// =============================================================================

// WallClock returns t's calendar fields reinterpreted in UTC, so that
// subtraction ignores zone offset changes (daylight saving).
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// WallDuration is the wall-clock distance from a to b.
func WallDuration(a, b time.Time) time.Duration {
	return WallClock(b).Sub(WallClock(a))
}

// HoursOf converts a duration to an exact decimal hour count.
func HoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Hour)))
}

// WallHours is the wall-clock hours from a to b (negative if b precedes a).
func WallHours(a, b time.Time) decimal.Decimal {
	return HoursOf(WallDuration(a, b))
}

// StartOfDay returns midnight of t's calendar date in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days, keeping its wall-clock time.
func AddDays(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }
