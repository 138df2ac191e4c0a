package equation

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Session evaluates one payroll run against a compiled set. It carries its
// own parameters, provider, variable overrides and metric memo, so any
// number of sessions may run against the same Evaluator at once.
//
// A session pins the program that was Ready when it was opened; releasing
// the Evaluator does not disturb it.
type Session struct {
	ev      *Evaluator
	program *Program
	params  Params
	source  MetricProvider
	memo    *metricMemo

	mu        sync.RWMutex
	constants []decimal.Decimal
}

// Session opens a run context. A nil provider falls back to the one
// attached to the evaluator.
func (e *Evaluator) Session(params Params, provider MetricProvider) (*Session, error) {
	s, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		provider = s.provider
	}
	return &Session{
		ev:        e,
		program:   s.program,
		params:    params,
		source:    provider,
		memo:      newMetricMemo(),
		constants: s.constants,
	}, nil
}

func (s *Session) frame(ctx context.Context) *frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &frame{ctx: ctx, params: s.params, provider: s.source, constants: s.constants, memo: s.memo}
}

// Params returns the run parameters of this session.
func (s *Session) Params() Params { return s.params }

// SetVariable overrides a constant variable for this session only.
func (s *Session) SetVariable(name string, value decimal.Decimal) error {
	slot, ok := s.program.constSlot(name)
	if !ok {
		return fmt.Errorf("%w: variable %q", generic.ErrNotFound, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]decimal.Decimal(nil), s.constants...)
	next[slot] = value
	s.constants = next
	return nil
}

func (s *Session) VariableExists(name string) bool {
	_, ok := s.program.variables[SanitizeIdentifier(name)]
	return ok
}

// Evaluate runs the named equation. An unknown name releases the
// underlying Evaluator, as Evaluator.Evaluate does.
func (s *Session) Evaluate(ctx context.Context, name string) (Value, error) {
	return s.ev.run(s.program, s.frame(ctx), name)
}

func (s *Session) EvaluateInt(ctx context.Context, name string) (int64, error) {
	v, err := s.Evaluate(ctx, name)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func (s *Session) EvaluateString(ctx context.Context, name string) (string, error) {
	v, err := s.Evaluate(ctx, name)
	if err != nil {
		return "", err
	}
	return v.AsText()
}

func (s *Session) EvaluateBool(ctx context.Context, name string) (bool, error) {
	v, err := s.Evaluate(ctx, name)
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

func (s *Session) EvaluateDecimal(ctx context.Context, name string) (decimal.Decimal, error) {
	v, err := s.Evaluate(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}
	return v.AsDecimal()
}

// EvaluateQuantitySource yields zero when the equation has no quantity
// source.
func (s *Session) EvaluateQuantitySource(ctx context.Context, name string) (decimal.Decimal, error) {
	return quantity(s.program, s.frame(ctx), name)
}
