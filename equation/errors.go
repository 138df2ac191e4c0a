package equation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// STRUCTURED ERRORS - Carry position and source context
// =============================================================================

// SyntaxError reports malformed equation text at a character position of
// the normalized text.
type SyntaxError struct {
	Part     Part
	Message  string
	Near     string
	Position int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s Validation Error:  %s\n[POSITION:%d]", e.Part, e.Message, e.Position)
}

func (e *SyntaxError) Unwrap() error { return generic.ErrSyntax }

func newSyntaxError(part Part, pos int, near string, format string, args ...any) *SyntaxError {
	return &SyntaxError{Part: part, Message: fmt.Sprintf(format, args...), Near: near, Position: pos}
}

// UnitError attaches a failure to the equation (and the part of it) that
// caused it. Position is -1 when the failure is not tied to a character.
type UnitError struct {
	Equation string
	Part     Part
	Position int
	Err      error
}

func (e *UnitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "equation %q", e.Equation)
	if e.Part != "" {
		fmt.Fprintf(&b, " (%s)", strings.ToLower(string(e.Part)))
	}
	if e.Position >= 0 {
		fmt.Fprintf(&b, " at position %d", e.Position)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *UnitError) Unwrap() error { return e.Err }

// BuildError aggregates every failure of one compile attempt. Nothing is
// published when a BuildError is returned.
type BuildError struct {
	Artifact string
	Errors   []error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString("Error Compiling Expression: ")
	if e.Artifact != "" {
		fmt.Fprintf(&b, "[%s] ", e.Artifact)
	}
	for i, err := range e.Errors {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes every collected error to errors.Is / errors.As.
func (e *BuildError) Unwrap() []error { return e.Errors }

// errorList collects errors across a batch instead of failing fast.
type errorList []error

func (l *errorList) add(equation string, part Part, pos int, err error) {
	if err == nil {
		return
	}
	if se, ok := err.(*SyntaxError); ok && pos < 0 {
		pos = se.Position
	}
	*l = append(*l, &UnitError{Equation: equation, Part: part, Position: pos, Err: err})
}

func (l errorList) err(artifact string) error {
	if len(l) == 0 {
		return nil
	}
	return &BuildError{Artifact: artifact, Errors: []error(l)}
}

// Problem is one positioned error, flattened for reporting.
type Problem struct {
	Equation string `json:"equation,omitempty"`
	Part     Part   `json:"part,omitempty"`
	Position int    `json:"position"`
	Message  string `json:"message"`
}

// Problems flattens a BuildError or a SyntaxError. Other errors yield nil.
func Problems(err error) []Problem {
	var be *BuildError
	if errors.As(err, &be) {
		problems := make([]Problem, 0, len(be.Errors))
		for _, e := range be.Errors {
			problems = append(problems, problemOf(e))
		}
		return problems
	}
	var se *SyntaxError
	if errors.As(err, &se) {
		return []Problem{problemOf(se)}
	}
	return nil
}

func problemOf(err error) Problem {
	var ue *UnitError
	if errors.As(err, &ue) {
		p := Problem{Equation: ue.Equation, Part: ue.Part, Position: ue.Position, Message: ue.Err.Error()}
		var se *SyntaxError
		if errors.As(ue.Err, &se) {
			p.Message = se.Message
		}
		return p
	}
	var se *SyntaxError
	if errors.As(err, &se) {
		return Problem{Part: se.Part, Position: se.Position, Message: se.Message}
	}
	return Problem{Position: -1, Message: err.Error()}
}
