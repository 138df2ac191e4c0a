package equation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// PROGRAM - The immutable result of compiling one batch
// =============================================================================

// evalFunc is a compiled expression. Kinds are checked before closures are
// built, so a closure never sees an operand of the wrong kind.
type evalFunc func(f *frame) (Value, error)

// unit holds the callables synthesized for one equation: the value
// function and, when a quantity source exists, the quantity function.
// Referencing an equation by bare name goes through value.
type unit struct {
	name       string
	returnType ReturnType
	value      evalFunc
	quantity   evalFunc
}

// variable is either a constant slot or a metric-backed lookup.
type variable struct {
	name      string // as defined, passed to the metric provider
	cacheable bool
	slot      int
}

// Program is a compiled equation set. It is never mutated after NewProgram
// returns and may be shared by any number of concurrent evaluations.
type Program struct {
	batch     Batch
	units     map[string]*unit
	order     []string
	variables map[string]*variable
	constants []decimal.Decimal
	helpers   []string
	metrics   []string
}

// Names lists the equations in definition order, sanitized.
func (p *Program) Names() []string { return append([]string(nil), p.order...) }

// Metrics lists every [reference] used by the batch, in order of first use.
func (p *Program) Metrics() []string { return append([]string(nil), p.metrics...) }

// Helpers lists the helper functions this batch enabled.
func (p *Program) Helpers() []string { return append([]string(nil), p.helpers...) }

// Batch returns the definitions the program was compiled from.
func (p *Program) Batch() Batch { return p.batch }

func (p *Program) unit(name string) (*unit, bool) {
	u, ok := p.units[SanitizeIdentifier(name)]
	return u, ok
}

// constSlot returns the slot of a non-cacheable variable.
func (p *Program) constSlot(name string) (int, bool) {
	v, ok := p.variables[SanitizeIdentifier(name)]
	if !ok || v.cacheable {
		return 0, false
	}
	return v.slot, true
}

// =============================================================================
// EVALUATION FRAME
// =============================================================================

// metricMemo caches provider results for the lifetime of one evaluation
// or one Session.
type metricMemo struct {
	mu     sync.Mutex
	values map[string]decimal.Decimal
}

func newMetricMemo() *metricMemo {
	return &metricMemo{values: make(map[string]decimal.Decimal)}
}

// frame is everything one evaluation reads besides the program itself.
type frame struct {
	ctx       context.Context
	params    Params
	provider  MetricProvider
	constants []decimal.Decimal
	memo      *metricMemo
}

func (f *frame) metric(name string) (decimal.Decimal, error) {
	f.memo.mu.Lock()
	d, ok := f.memo.values[name]
	f.memo.mu.Unlock()
	if ok {
		return d, nil
	}
	if f.provider == nil {
		return decimal.Zero, fmt.Errorf("%w: no metric provider to resolve %q", generic.ErrNotReady, name)
	}
	d, err := f.provider.MetricValue(f.ctx, name, f.params)
	if err != nil {
		return decimal.Zero, fmt.Errorf("metric %q: %w", name, err)
	}
	f.memo.mu.Lock()
	f.memo.values[name] = d
	f.memo.mu.Unlock()
	return d, nil
}

// =============================================================================
// COMPILATION
// =============================================================================

// posError pins a compile failure to a node position in annotated text.
type posError struct {
	pos int
	err error
}

func (e *posError) Error() string { return e.err.Error() }
func (e *posError) Unwrap() error { return e.err }

func errorAt(n node, err error) error { return &posError{pos: n.pos(), err: err} }

var allParts = [...]Part{PartEquation, PartCondition, PartQuantity}

// parsedUnit is one definition after validation and parsing.
type parsedUnit struct {
	def   Definition
	name  string
	parts map[Part]parsedPart
}

type parsedPart struct {
	prep Prepared
	root node
}

// NewProgram validates, type checks and compiles a batch. Every failure in
// the batch is reported in a single *BuildError; nothing is returned
// unless the whole batch compiles.
func NewProgram(batch Batch) (*Program, error) {
	var errs errorList
	p := &Program{
		batch:     batch,
		units:     make(map[string]*unit),
		variables: make(map[string]*variable),
	}
	taken := make(map[string]bool)

	// Variables first: they take precedence over equations in lookups.
	for _, v := range batch.Variables {
		name := SanitizeIdentifier(v.Name)
		switch {
		case name == "":
			errs.add(v.Name, "", -1, fmt.Errorf("%w: variable name %q is empty once sanitized", generic.ErrSyntax, v.Name))
			continue
		case taken[name]:
			errs.add(v.Name, "", -1, fmt.Errorf("%w: %s", generic.ErrDuplicateName, name))
			continue
		}
		taken[name] = true
		slot := &variable{name: v.Name, cacheable: v.Cacheable, slot: -1}
		if !v.Cacheable {
			slot.slot = len(p.constants)
			p.constants = append(p.constants, v.Value)
		}
		p.variables[name] = slot
	}

	parsed := make([]*parsedUnit, 0, len(batch.Equations))
	for _, def := range batch.Equations {
		name := SanitizeIdentifier(def.Name)
		switch {
		case name == "":
			errs.add(def.Name, "", -1, fmt.Errorf("%w: equation name %q is empty once sanitized", generic.ErrSyntax, def.Name))
			continue
		case taken[name]:
			errs.add(def.Name, "", -1, fmt.Errorf("%w: %s", generic.ErrDuplicateName, name))
			continue
		}
		taken[name] = true

		rt, err := ParseReturnType(string(def.ReturnType))
		if err != nil {
			errs.add(name, "", -1, err)
			continue
		}
		def.ReturnType = rt

		pu := &parsedUnit{def: def, name: name, parts: make(map[Part]parsedPart)}
		ok := true
		texts := [...]string{def.Expression, def.Condition, FixQuantitySource(def.QuantitySource)}
		for i, part := range allParts {
			pp, err := parsePart(part, texts[i])
			if err != nil {
				errs.add(name, part, -1, err)
				ok = false
				continue
			}
			if pp.root != nil {
				pu.parts[part] = pp
			}
		}
		if _, has := pu.parts[PartEquation]; !has && ok {
			errs.add(name, PartEquation, -1, fmt.Errorf("%w: expression is empty", generic.ErrSyntax))
			ok = false
		}
		p.units[name] = &unit{name: name, returnType: rt}
		if ok {
			parsed = append(parsed, pu)
		}
		p.order = append(p.order, name)
	}

	p.collectReferences(parsed)

	for _, pu := range parsed {
		b := &builder{program: p}
		u := p.units[pu.name]
		if err := b.buildUnit(u, pu); err != nil {
			var pe *posError
			if errors.As(err, &pe) {
				part := b.part
				errs.add(pu.name, part, pu.parts[part].prep.sourcePos(pe.pos), pe.err)
			} else {
				errs.add(pu.name, b.part, -1, err)
			}
		}
	}

	for _, name := range p.cycles(parsed) {
		errs.add(name, "", -1, fmt.Errorf("%w: %s references itself", generic.ErrCircularReference, name))
	}

	if err := errs.err(batch.Name); err != nil {
		return nil, err
	}
	return p, nil
}

// parsePart validates and parses one text of a definition. Empty text
// yields a zero parsedPart.
func parsePart(part Part, text string) (parsedPart, error) {
	prep, err := Validate(part, text)
	if err != nil {
		return parsedPart{}, err
	}
	if prep.Empty() {
		return parsedPart{prep: prep}, nil
	}
	root, err := parse(part, prep.Annotated)
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			remapped := *se
			remapped.Position = prep.sourcePos(se.Position)
			return parsedPart{}, &remapped
		}
		return parsedPart{}, err
	}
	return parsedPart{prep: prep, root: root}, nil
}

// collectReferences records the metric names and helpers used anywhere in
// the batch. Helpers are enabled once, for the whole program.
func (p *Program) collectReferences(parsed []*parsedUnit) {
	seenMetric := make(map[string]bool)
	seenHelper := make(map[string]bool)
	for _, pu := range parsed {
		for _, part := range allParts {
			for _, m := range pu.parts[part].prep.Metrics {
				if !seenMetric[m] {
					seenMetric[m] = true
					p.metrics = append(p.metrics, m)
				}
			}
			walk(pu.parts[part].root, func(n node) {
				if c, ok := n.(*callExpr); ok && isHelper(c.name) {
					seenHelper[c.name] = true
				}
			})
		}
	}
	for _, h := range helperNames {
		if seenHelper[h] {
			p.helpers = append(p.helpers, h)
		}
	}
}

func isHelper(name string) bool {
	for _, h := range helperNames {
		if h == name {
			return true
		}
	}
	return false
}

func (p *Program) helperEnabled(name string) bool {
	for _, h := range p.helpers {
		if h == name {
			return true
		}
	}
	return false
}

// cycles returns the equations that take part in a reference cycle,
// sorted. Each cycle is reported once, at the equation that closes it.
func (p *Program) cycles(parsed []*parsedUnit) []string {
	edges := make(map[string][]string)
	for _, pu := range parsed {
		for _, part := range allParts {
			walk(pu.parts[part].root, func(n node) {
				var ref string
				switch t := n.(type) {
				case *identRef:
					ref = t.name
				case *metricRef:
					ref = t.name
				default:
					return
				}
				ref = SanitizeIdentifier(ref)
				if _, isVar := p.variables[ref]; isVar {
					return
				}
				if _, isUnit := p.units[ref]; isUnit {
					edges[pu.name] = append(edges[pu.name], ref)
				}
			})
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var found []string
	var visit func(string)
	visit = func(n string) {
		color[n] = grey
		for _, m := range edges[n] {
			switch color[m] {
			case grey:
				if len(found) == 0 || found[len(found)-1] != n {
					found = append(found, n)
				}
			case white:
				visit(m)
			}
		}
		color[n] = black
	}
	for _, pu := range parsed {
		if color[pu.name] == white {
			visit(pu.name)
		}
	}
	sort.Strings(found)
	return found
}

// =============================================================================
// BUILDER - Type check and closure generation for one unit
// =============================================================================

type builder struct {
	program *Program
	part    Part
}

func (b *builder) buildUnit(u *unit, pu *parsedUnit) error {
	want := u.returnType.valueKind()

	b.part = PartEquation
	body, kind, err := b.compile(pu.parts[PartEquation].root)
	if err != nil {
		return err
	}
	if kind != want {
		return errorAt(pu.parts[PartEquation].root,
			fmt.Errorf("%w: expression yields %s, equation returns %s", generic.ErrTypeMismatch, kind, u.returnType))
	}

	var cond evalFunc
	if cp, ok := pu.parts[PartCondition]; ok {
		b.part = PartCondition
		c, kind, err := b.compile(cp.root)
		if err != nil {
			return err
		}
		if kind != KindBool {
			return errorAt(cp.root, fmt.Errorf("%w: condition yields %s, want Boolean", generic.ErrTypeMismatch, kind))
		}
		cond = c
		body = conditional(cond, body, zeroOf(u.returnType))
	}
	if u.returnType == ReturnInteger {
		body = truncate(body)
	}
	u.value = guard(u.returnType, body)

	if qp, ok := pu.parts[PartQuantity]; ok {
		b.part = PartQuantity
		qty, kind, err := b.compile(qp.root)
		if err != nil {
			return err
		}
		if kind != KindDecimal {
			return errorAt(qp.root, fmt.Errorf("%w: quantity source yields %s, want Decimal", generic.ErrTypeMismatch, kind))
		}
		// a false condition pays no quantity either
		if cond != nil {
			qty = conditional(cond, qty, zeroOf(ReturnDecimal))
		}
		u.quantity = guard(ReturnDecimal, qty)
	}
	b.part = PartEquation
	return nil
}

// guard applies the payroll division rule: a body that divides by zero
// yields the zero value of its return type. Any other error passes.
func guard(rt ReturnType, body evalFunc) evalFunc {
	return func(f *frame) (Value, error) {
		v, err := body(f)
		if errors.Is(err, generic.ErrDivideByZero) {
			return zeroOf(rt), nil
		}
		return v, err
	}
}

func conditional(cond, body evalFunc, otherwise Value) evalFunc {
	return func(f *frame) (Value, error) {
		c, err := cond(f)
		if err != nil {
			return Value{}, err
		}
		if !c.Bool {
			return otherwise, nil
		}
		return body(f)
	}
}

func truncate(body evalFunc) evalFunc {
	return func(f *frame) (Value, error) {
		v, err := body(f)
		if err != nil {
			return v, err
		}
		return DecimalValue(v.Decimal.Truncate(0)), nil
	}
}

func (b *builder) compile(n node) (evalFunc, Kind, error) {
	switch t := n.(type) {
	case *numberLit:
		v := DecimalValue(t.value)
		return constant(v), KindDecimal, nil
	case *textLit:
		return constant(TextValue(t.value)), KindText, nil
	case *boolLit:
		return constant(BoolValue(t.value)), KindBool, nil
	case *metricRef:
		return b.reference(n, t.name, true)
	case *identRef:
		return b.reference(n, t.name, false)
	case *callExpr:
		return b.call(t)
	case *unaryExpr:
		return b.unary(t)
	case *binaryExpr:
		return b.binary(t)
	case *ternaryExpr:
		return b.ternary(t)
	}
	return nil, 0, errorAt(n, fmt.Errorf("%w: unsupported expression", generic.ErrSyntax))
}

func constant(v Value) evalFunc {
	return func(*frame) (Value, error) { return v, nil }
}

// reference resolves a name: constant variable, metric-backed variable,
// then equation.
func (b *builder) reference(n node, name string, bracketed bool) (evalFunc, Kind, error) {
	key := SanitizeIdentifier(name)
	if v, ok := b.program.variables[key]; ok {
		if !v.cacheable {
			slot := v.slot
			return func(f *frame) (Value, error) {
				return DecimalValue(f.constants[slot]), nil
			}, KindDecimal, nil
		}
		metric := v.name
		return func(f *frame) (Value, error) {
			d, err := f.metric(metric)
			return DecimalValue(d), err
		}, KindDecimal, nil
	}
	if u, ok := b.program.units[key]; ok {
		// u.value is filled in once every unit is built; cycles are
		// rejected before a program is returned.
		return func(f *frame) (Value, error) {
			return u.value(f)
		}, u.returnType.valueKind(), nil
	}
	what := "identifier"
	if bracketed {
		what = "metric"
	}
	return nil, 0, errorAt(n, fmt.Errorf("%w: %s '%s'", generic.ErrNotFound, what, name))
}

func (b *builder) call(c *callExpr) (evalFunc, Kind, error) {
	if !b.program.helperEnabled(c.name) {
		return nil, 0, errorAt(c, fmt.Errorf("%w: undefined helper '%s'", generic.ErrNotFound, c.name))
	}
	if len(c.args) != 2 {
		return nil, 0, errorAt(c, fmt.Errorf("%w: %s takes 2 arguments, got %d", generic.ErrTypeMismatch, c.name, len(c.args)))
	}
	args := make([]evalFunc, 2)
	for i, a := range c.args {
		fn, kind, err := b.compile(a)
		if err != nil {
			return nil, 0, err
		}
		if kind != KindDecimal {
			return nil, 0, errorAt(a, fmt.Errorf("%w: %s argument is %s", generic.ErrTypeMismatch, c.name, kind))
		}
		args[i] = fn
	}
	pick := generic.MaxDecimal
	if c.name == "LesserOf" {
		pick = generic.MinDecimal
	}
	return func(f *frame) (Value, error) {
		x, err := args[0](f)
		if err != nil {
			return Value{}, err
		}
		y, err := args[1](f)
		if err != nil {
			return Value{}, err
		}
		return DecimalValue(pick(x.Decimal, y.Decimal)), nil
	}, KindDecimal, nil
}

func (b *builder) unary(u *unaryExpr) (evalFunc, Kind, error) {
	x, kind, err := b.compile(u.x)
	if err != nil {
		return nil, 0, err
	}
	if u.op == "!" {
		if kind != KindBool {
			return nil, 0, errorAt(u, fmt.Errorf("%w: '!' needs Boolean, got %s", generic.ErrTypeMismatch, kind))
		}
		return func(f *frame) (Value, error) {
			v, err := x(f)
			return BoolValue(!v.Bool), err
		}, KindBool, nil
	}
	if kind != KindDecimal {
		return nil, 0, errorAt(u, fmt.Errorf("%w: '%s' needs a number, got %s", generic.ErrTypeMismatch, u.op, kind))
	}
	if u.op == "+" {
		return x, KindDecimal, nil
	}
	return func(f *frame) (Value, error) {
		v, err := x(f)
		return DecimalValue(v.Decimal.Neg()), err
	}, KindDecimal, nil
}

func (b *builder) ternary(t *ternaryExpr) (evalFunc, Kind, error) {
	cond, ck, err := b.compile(t.cond)
	if err != nil {
		return nil, 0, err
	}
	if ck != KindBool {
		return nil, 0, errorAt(t, fmt.Errorf("%w: '?' needs a Boolean condition, got %s", generic.ErrTypeMismatch, ck))
	}
	then, tk, err := b.compile(t.then)
	if err != nil {
		return nil, 0, err
	}
	els, ek, err := b.compile(t.els)
	if err != nil {
		return nil, 0, err
	}
	if tk != ek {
		return nil, 0, errorAt(t, fmt.Errorf("%w: branches yield %s and %s", generic.ErrTypeMismatch, tk, ek))
	}
	return func(f *frame) (Value, error) {
		c, err := cond(f)
		if err != nil {
			return Value{}, err
		}
		if c.Bool {
			return then(f)
		}
		return els(f)
	}, tk, nil
}

func (b *builder) binary(e *binaryExpr) (evalFunc, Kind, error) {
	left, lk, err := b.compile(e.left)
	if err != nil {
		return nil, 0, err
	}
	right, rk, err := b.compile(e.right)
	if err != nil {
		return nil, 0, err
	}
	mismatch := func() (evalFunc, Kind, error) {
		return nil, 0, errorAt(e, fmt.Errorf("%w: '%s' cannot combine %s and %s", generic.ErrTypeMismatch, e.op, lk, rk))
	}

	switch e.op {
	case "&&", "||":
		if lk != KindBool || rk != KindBool {
			return mismatch()
		}
		and := e.op == "&&"
		return func(f *frame) (Value, error) {
			l, err := left(f)
			if err != nil {
				return Value{}, err
			}
			if l.Bool != and {
				return l, nil
			}
			return right(f)
		}, KindBool, nil

	case "==", "!=":
		if lk != rk {
			return mismatch()
		}
		negate := e.op == "!="
		return both(left, right, func(l, r Value) (Value, error) {
			return BoolValue(equal(l, r) != negate), nil
		}), KindBool, nil

	case "<", "<=", ">", ">=":
		if lk != KindDecimal || rk != KindDecimal {
			return mismatch()
		}
		op := e.op
		return both(left, right, func(l, r Value) (Value, error) {
			c := l.Decimal.Cmp(r.Decimal)
			switch op {
			case "<":
				return BoolValue(c < 0), nil
			case "<=":
				return BoolValue(c <= 0), nil
			case ">":
				return BoolValue(c > 0), nil
			}
			return BoolValue(c >= 0), nil
		}), KindBool, nil

	case "+":
		if lk == KindText || rk == KindText {
			if lk == KindBool || rk == KindBool {
				return mismatch()
			}
			return both(left, right, func(l, r Value) (Value, error) {
				return TextValue(l.String() + r.String()), nil
			}), KindText, nil
		}
	}

	if lk != KindDecimal || rk != KindDecimal {
		return mismatch()
	}
	arith, ok := arithmetic[e.op]
	if !ok {
		return nil, 0, errorAt(e, fmt.Errorf("%w: unknown operator '%s'", generic.ErrSyntax, e.op))
	}
	return both(left, right, func(l, r Value) (Value, error) {
		d, err := arith(l.Decimal, r.Decimal)
		return DecimalValue(d), err
	}), KindDecimal, nil
}

func both(left, right evalFunc, op func(l, r Value) (Value, error)) evalFunc {
	return func(f *frame) (Value, error) {
		l, err := left(f)
		if err != nil {
			return Value{}, err
		}
		r, err := right(f)
		if err != nil {
			return Value{}, err
		}
		return op(l, r)
	}
}

func equal(l, r Value) bool {
	switch l.Kind {
	case KindBool:
		return l.Bool == r.Bool
	case KindText:
		return l.Text == r.Text
	default:
		return l.Decimal.Equal(r.Decimal)
	}
}

// =============================================================================
// DECIMAL ARITHMETIC
// =============================================================================

var arithmetic = map[string]func(a, b decimal.Decimal) (decimal.Decimal, error){
	"+": func(a, b decimal.Decimal) (decimal.Decimal, error) { return a.Add(b), nil },
	"-": func(a, b decimal.Decimal) (decimal.Decimal, error) { return a.Sub(b), nil },
	"*": func(a, b decimal.Decimal) (decimal.Decimal, error) { return a.Mul(b), nil },
	"/": func(a, b decimal.Decimal) (decimal.Decimal, error) {
		if b.IsZero() {
			return decimal.Zero, generic.ErrDivideByZero
		}
		return a.Div(b), nil
	},
	"%": func(a, b decimal.Decimal) (decimal.Decimal, error) {
		if b.IsZero() {
			return decimal.Zero, generic.ErrDivideByZero
		}
		return a.Mod(b), nil
	},
	"^": power,
}

// maxExponent bounds '^' so a runaway exponent fails instead of
// allocating without limit.
const maxExponent = 1024

// power raises base to an integer exponent by repeated squaring.
func power(base, exp decimal.Decimal) (decimal.Decimal, error) {
	if !exp.IsInteger() {
		return decimal.Zero, fmt.Errorf("%w: exponent %s is not an integer", generic.ErrTypeMismatch, exp)
	}
	n := exp.IntPart()
	if n > maxExponent || n < -maxExponent {
		return decimal.Zero, fmt.Errorf("%w: exponent %d out of range", generic.ErrTypeMismatch, n)
	}
	if n < 0 && base.IsZero() {
		return decimal.Zero, generic.ErrDivideByZero
	}
	neg := n < 0
	if neg {
		n = -n
	}
	result, b := decimal.NewFromInt(1), base
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(b)
		}
		b = b.Mul(b)
		n >>= 1
	}
	if neg {
		return decimal.NewFromInt(1).Div(result), nil
	}
	return result, nil
}
