/*
Package generic provides the shared primitives of the payroll engine.

PURPOSE:
  This package holds the small, domain-agnostic building blocks that both
  the equation engine and the time-range matcher use: exact decimal helpers,
  time-of-day and weekday ("timing code") arithmetic, pay periods, and the
  sentinel errors every other package wraps.

KEY CONCEPTS IN THIS FILE (types.go):
  - Decimal helpers: payroll never touches float64 for money or hours
  - Identifiers: equation, location and process ids are decimals, the
    way the payroll database stores them

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Wall clock: Hours are measured on the wall clock; daylight-saving
     corrections are explicit adjustments supplied by the schedule
  3. Immutability: Values here are plain structs, safe to share

SEE ALSO:
  - time.go: TimeOfDay, TimingCode, wall-clock hours
  - period.go: Pay period boundaries
  - errors.go: Sentinel errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// IDString renders a decimal identifier the way map keys and logs use it.
func IDString(id decimal.Decimal) string { return id.String() }

// MaxDecimal returns the greater of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// MinDecimal returns the lesser of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
