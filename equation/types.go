/*
Package equation validates, compiles, caches and evaluates payroll equations.

PURPOSE:
  Payroll amounts are computed from formulas authored by the business, e.g.

    [TotalHoursWorked] * HourlyRate + GreaterOf([Bonus], 0)

  Formula text is data: it changes per customer configuration and is loaded
  from a repository. This package turns a batch of equation and variable
  definitions into an immutable Program (an expression tree compiled into
  closures), wraps it in an Evaluator with an explicit lifecycle, and keeps
  one Evaluator per equation id in a Cache.

ARITHMETIC:
  Every number is a decimal.Decimal. Division (or modulo) by zero inside an
  equation body yields the zero value of the equation's return type; this is
  a payroll rule, not an error. Any other fault reaches the caller.

DATA FLOW:
  Repository -> Validate -> Compile -> Evaluator -> Cache
  Payroll run -> Cache.GetOrBuild -> Session(params, provider) -> Evaluate

SEE ALSO:
  - validate.go: Text normalization and structural checks
  - compile.go: Symbol table, type check, closure generation
  - evaluator.go: Lifecycle and the shared-parameter API
  - session.go: Per-run parameter context
  - cache.go: Single-flight compilation per equation id
*/
package equation

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// RETURN TYPES
// =============================================================================

// ReturnType is the declared result type of an equation.
type ReturnType string

const (
	ReturnInteger ReturnType = "Integer"
	ReturnText    ReturnType = "Text"
	ReturnBoolean ReturnType = "Boolean"
	ReturnDecimal ReturnType = "Decimal"
)

// ParseReturnType accepts the canonical names plus the aliases found in
// legacy equation tables (Int32, String, Bool, ...).
func ParseReturnType(s string) (ReturnType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int", "int32", "int64":
		return ReturnInteger, nil
	case "text", "string":
		return ReturnText, nil
	case "boolean", "bool":
		return ReturnBoolean, nil
	case "decimal", "", "money", "number":
		return ReturnDecimal, nil
	}
	return "", fmt.Errorf("%w: unknown return type %q", generic.ErrTypeMismatch, s)
}

func (r ReturnType) valueKind() Kind {
	switch r {
	case ReturnText:
		return KindText
	case ReturnBoolean:
		return KindBool
	default:
		return KindDecimal
	}
}

// =============================================================================
// DEFINITIONS - Immutable inputs fetched from the repository
// =============================================================================

// Definition is one equation as authored.
type Definition struct {
	Name           string     `json:"name"`
	ReturnType     ReturnType `json:"return_type"`
	Expression     string     `json:"expression"`
	Condition      string     `json:"condition,omitempty"`
	QuantitySource string     `json:"quantity_source,omitempty"`
}

// Variable is a named value usable in equations. Cacheable variables are
// resolved through the MetricProvider at evaluation time; the others are
// constants seeded with Value.
type Variable struct {
	Name       string          `json:"name"`
	Value      decimal.Decimal `json:"value"`
	Cacheable  bool            `json:"cacheable"`
	MetricType string          `json:"metric_type,omitempty"`
}

// Batch is the unit of compilation. Name is the artifact identity; an
// empty name keeps the compiled set in memory only.
type Batch struct {
	Name      string       `json:"name"`
	Equations []Definition `json:"equations"`
	Variables []Variable   `json:"variables"`
}

// =============================================================================
// RUN PARAMETERS
// =============================================================================

// Params is the context a payroll run evaluates under. Cacheable variables
// and metric references are resolved with these values.
type Params struct {
	Period             generic.Period
	ProviderLocationID decimal.Decimal
	LocationID         decimal.Decimal
	ProcessID          decimal.Decimal
	PayHeaderID        decimal.Decimal
	ScheduleType       string
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// MetricProvider resolves a named metric for a run. Evaluators hold a
// provider but never own or close it.
type MetricProvider interface {
	MetricValue(ctx context.Context, name string, p Params) (decimal.Decimal, error)
}

// MetricProviderFunc adapts a function to MetricProvider.
type MetricProviderFunc func(ctx context.Context, name string, p Params) (decimal.Decimal, error)

func (f MetricProviderFunc) MetricValue(ctx context.Context, name string, p Params) (decimal.Decimal, error) {
	return f(ctx, name, p)
}

// Repository returns the definitions stored under an equation id.
type Repository interface {
	FetchDefinitions(ctx context.Context, equationID decimal.Decimal) ([]Definition, []Variable, error)
}

// ArtifactStore persists compiled batches by name so they can be reloaded
// after a restart. Replacing a name deletes the previous artifact first.
type ArtifactStore interface {
	Exists(name string) bool
	Save(name string, batch Batch) error
	Load(name string) (Batch, error)
	Delete(name string) error
}

// Part identifies which text of a definition an error refers to.
type Part string

const (
	PartEquation  Part = "Equation"
	PartCondition Part = "Condition"
	PartQuantity  Part = "Quantity"
)
