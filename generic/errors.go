/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  The equation and timerange packages wrap these with structured context
  (position, equation name, expression part).

ERROR CATEGORIES:
  1. Authoring errors  - Equation text that cannot be compiled
  2. Lookup errors     - Names that do not resolve to a unit or variable
  3. Lifecycle errors  - Using a compiled set that is not (or no longer) ready
  4. Arithmetic        - Division by zero (a business rule, not a failure)

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, generic.ErrNotFound) {
        // equation or variable does not exist
    }

SEE ALSO:
  - equation/errors.go: SyntaxError, UnitError, BuildError
*/
package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an equation, variable, metric reference or
	// provider slot does not exist in a compiled set.
	ErrNotFound = errors.New("not found")

	// ErrSyntax is returned when equation text is structurally malformed.
	ErrSyntax = errors.New("syntax error")

	// ErrDuplicateName is returned when two definitions in one compile batch
	// sanitize to the same identifier.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrTypeMismatch is returned when an expression does not produce the
	// type its equation declares, or operands do not fit an operator.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrCircularReference is returned when equations reference each other
	// in a cycle.
	ErrCircularReference = errors.New("circular reference")

	// ErrDivideByZero is raised inside an equation body. Compiled units turn
	// it into the zero value of their return type; it never reaches callers.
	ErrDivideByZero = errors.New("attempted to divide by zero")

	// ErrReleased is returned when evaluating a compiled set after release.
	ErrReleased = errors.New("compiled equation set released")

	// ErrNotReady is returned when evaluating a compiled set that was never
	// built or whose build failed.
	ErrNotReady = errors.New("compiled equation set not ready")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing name.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is caused by the equation text or
// the caller's input rather than by the engine.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSyntax) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrCircularReference) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsRetryable returns true if rebuilding the compiled set may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrReleased)
}
