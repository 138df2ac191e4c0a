package equation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// LIFECYCLE
// =============================================================================

// State is the lifecycle position of an Evaluator.
//
//	Unbuilt -> Building -> Ready | Failed
//	Ready -> Released
type State int

const (
	Unbuilt State = iota
	Building
	Ready
	Failed
	Released
)

func (s State) String() string {
	switch s {
	case Building:
		return "Building"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	case Released:
		return "Released"
	default:
		return "Unbuilt"
	}
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator is a compiled equation set with run parameters attached.
//
// The program is immutable; the parameters, provider and constant
// overrides are shared state behind mu. Every evaluation works from a
// snapshot taken under the read lock, so Release never waits for
// in-flight evaluations and they finish against the program they began
// with. Callers that evaluate concurrently with different parameters
// should use Session instead of SetParameters.
type Evaluator struct {
	compiler *Compiler
	name     string

	mu         sync.RWMutex
	state      State
	program    *Program
	provider   MetricProvider
	params     Params
	constants  []decimal.Decimal // copy-on-write
	generation uint64
}

func newEvaluator(c *Compiler, name string) *Evaluator {
	return &Evaluator{compiler: c, name: name}
}

// build moves the evaluator through Building to Ready or Failed.
func (e *Evaluator) build(batch Batch) error {
	e.mu.Lock()
	e.state = Building
	e.mu.Unlock()

	prog, err := NewProgram(batch)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = Failed
		return err
	}
	e.program = prog
	e.constants = prog.constants
	e.state = Ready
	e.generation++
	return nil
}

// snapshot is the immutable view one evaluation runs against.
type snapshot struct {
	program    *Program
	params     Params
	provider   MetricProvider
	constants  []decimal.Decimal
	generation uint64
}

func (e *Evaluator) snapshot() (snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case Ready:
		return snapshot{
			program:    e.program,
			params:     e.params,
			provider:   e.provider,
			constants:  e.constants,
			generation: e.generation,
		}, nil
	case Released:
		return snapshot{}, fmt.Errorf("%w: %s", generic.ErrReleased, e.label())
	default:
		return snapshot{}, fmt.Errorf("%w: %s is %s", generic.ErrNotReady, e.label(), e.state)
	}
}

func (s snapshot) frame(ctx context.Context) *frame {
	return &frame{ctx: ctx, params: s.params, provider: s.provider, constants: s.constants, memo: newMetricMemo()}
}

func (e *Evaluator) label() string {
	if e.name == "" {
		return "in-memory equation set"
	}
	return e.name
}

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// Evaluate runs the named equation. An unknown name fails with
// generic.ErrNotFound and releases the whole set, so the owning cache
// rebuilds it on next use.
func (e *Evaluator) Evaluate(ctx context.Context, name string) (Value, error) {
	s, err := e.snapshot()
	if err != nil {
		return Value{}, err
	}
	return e.run(s.program, s.frame(ctx), name)
}

func (e *Evaluator) run(p *Program, f *frame, name string) (Value, error) {
	u, ok := p.unit(name)
	if !ok {
		e.Release()
		return Value{}, fmt.Errorf("%w: equation %q", generic.ErrNotFound, name)
	}
	return u.value(f)
}

func (e *Evaluator) EvaluateInt(ctx context.Context, name string) (int64, error) {
	v, err := e.Evaluate(ctx, name)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func (e *Evaluator) EvaluateString(ctx context.Context, name string) (string, error) {
	v, err := e.Evaluate(ctx, name)
	if err != nil {
		return "", err
	}
	return v.AsText()
}

func (e *Evaluator) EvaluateBool(ctx context.Context, name string) (bool, error) {
	v, err := e.Evaluate(ctx, name)
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

func (e *Evaluator) EvaluateDecimal(ctx context.Context, name string) (decimal.Decimal, error) {
	v, err := e.Evaluate(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}
	return v.AsDecimal()
}

// EvaluateQuantitySource runs the quantity source of the named equation.
// Equations without one (and unknown names) yield zero.
func (e *Evaluator) EvaluateQuantitySource(ctx context.Context, name string) (decimal.Decimal, error) {
	s, err := e.snapshot()
	if err != nil {
		return decimal.Zero, err
	}
	return quantity(s.program, s.frame(ctx), name)
}

func quantity(p *Program, f *frame, name string) (decimal.Decimal, error) {
	u, ok := p.unit(name)
	if !ok || u.quantity == nil {
		return decimal.Zero, nil
	}
	v, err := u.quantity(f)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Decimal, nil
}

// -----------------------------------------------------------------------------
// Shared run state
// -----------------------------------------------------------------------------

// SetVariable overwrites a constant variable. Metric-backed variables
// cannot be set.
func (e *Evaluator) SetVariable(name string, value decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.program == nil {
		return fmt.Errorf("%w: variable %q (%s)", generic.ErrNotFound, name, e.state)
	}
	slot, ok := e.program.constSlot(name)
	if !ok {
		return fmt.Errorf("%w: variable %q", generic.ErrNotFound, name)
	}
	next := append([]decimal.Decimal(nil), e.constants...)
	next[slot] = value
	e.constants = next
	return nil
}

// ChangeVariable is SetVariable under its legacy name.
func (e *Evaluator) ChangeVariable(name string, value decimal.Decimal) error {
	return e.SetVariable(name, value)
}

// VariableExists reports whether the set declares a variable called name.
func (e *Evaluator) VariableExists(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.program == nil {
		return false
	}
	_, ok := e.program.variables[SanitizeIdentifier(name)]
	return ok
}

// SetMetricProvider attaches the provider used for metric-backed
// variables. The provider is shared, never closed by the evaluator.
func (e *Evaluator) SetMetricProvider(p MetricProvider) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.program == nil {
		return fmt.Errorf("%w: no provider slot on %s (%s)", generic.ErrNotFound, e.label(), e.state)
	}
	e.provider = p
	return nil
}

// SetParameters replaces every run parameter.
func (e *Evaluator) SetParameters(p Params) {
	e.mu.Lock()
	e.params = p
	e.mu.Unlock()
}

// SetPeriodParameters replaces the period, provider location and process,
// keeping the other parameters.
func (e *Evaluator) SetPeriodParameters(begin, end time.Time, providerLocationID, processID decimal.Decimal) {
	e.mu.Lock()
	e.params.Period = generic.Period{Start: begin, End: end}
	e.params.ProviderLocationID = providerLocationID
	e.params.ProcessID = processID
	e.mu.Unlock()
}

// Params returns the current run parameters.
func (e *Evaluator) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// -----------------------------------------------------------------------------
// Release and introspection
// -----------------------------------------------------------------------------

// Release drops the program and deletes the artifact this set owns.
// Evaluations already running keep their snapshot. Calling Release more
// than once is harmless.
func (e *Evaluator) Release() {
	e.mu.Lock()
	if e.state == Released {
		e.mu.Unlock()
		return
	}
	e.state = Released
	e.program = nil
	e.provider = nil
	e.constants = nil
	e.generation++
	e.mu.Unlock()

	if e.compiler != nil {
		e.compiler.forget(e)
	}
}

func (e *Evaluator) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Name is the artifact identity; empty for in-memory sets.
func (e *Evaluator) Name() string { return e.name }

// Generation increases on every build and release.
func (e *Evaluator) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

func (e *Evaluator) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.program == nil {
		return nil
	}
	return e.program.Names()
}

func (e *Evaluator) Metrics() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.program == nil {
		return nil
	}
	return e.program.Metrics()
}

// Program returns the compiled program, nil unless Ready.
func (e *Evaluator) Program() *Program {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.program
}
