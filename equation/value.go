package equation

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Kind is the runtime type of a Value.
type Kind int

const (
	KindDecimal Kind = iota
	KindBool
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Boolean"
	case KindText:
		return "Text"
	default:
		return "Decimal"
	}
}

// Value is the result of evaluating an expression.
type Value struct {
	Kind    Kind
	Decimal decimal.Decimal
	Bool    bool
	Text    string
}

func DecimalValue(d decimal.Decimal) Value { return Value{Kind: KindDecimal, Decimal: d} }
func BoolValue(b bool) Value               { return Value{Kind: KindBool, Bool: b} }
func TextValue(s string) Value             { return Value{Kind: KindText, Text: s} }

// zeroOf is what a unit returns when its body divides by zero.
func zeroOf(r ReturnType) Value {
	switch r {
	case ReturnBoolean:
		return BoolValue(false)
	case ReturnText:
		return TextValue("")
	default:
		return DecimalValue(decimal.Zero)
	}
}

// Interface returns the Go value: decimal.Decimal, bool or string.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindText:
		return v.Text
	default:
		return v.Decimal
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindText:
		return v.Text
	default:
		return v.Decimal.String()
	}
}

// AsDecimal returns the numeric value; Integer results are decimals too.
func (v Value) AsDecimal() (decimal.Decimal, error) {
	if v.Kind != KindDecimal {
		return decimal.Zero, fmt.Errorf("%w: %s is not numeric", generic.ErrTypeMismatch, v.Kind)
	}
	return v.Decimal, nil
}

// AsInt truncates toward zero.
func (v Value) AsInt() (int64, error) {
	d, err := v.AsDecimal()
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}

func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, fmt.Errorf("%w: %s is not Boolean", generic.ErrTypeMismatch, v.Kind)
	}
	return v.Bool, nil
}

func (v Value) AsText() (string, error) {
	if v.Kind != KindText {
		return "", fmt.Errorf("%w: %s is not Text", generic.ErrTypeMismatch, v.Kind)
	}
	return v.Text, nil
}

// MarshalJSON renders decimals as strings to keep their exact digits.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return []byte(strconv.FormatBool(v.Bool)), nil
	case KindText:
		return []byte(strconv.Quote(v.Text)), nil
	default:
		return []byte(strconv.Quote(v.Decimal.String())), nil
	}
}
