package equation

import (
	"github.com/shopspring/decimal"
)

// node is an expression tree element. at is the position of the token that
// produced it, in the annotated text.
type node interface {
	pos() int
}

type numberLit struct {
	at    int
	value decimal.Decimal
}

type textLit struct {
	at    int
	value string
}

type boolLit struct {
	at    int
	value bool
}

// metricRef is a bracketed reference: [Total Hours Worked].
type metricRef struct {
	at   int
	name string
}

// identRef is a bare name: a variable or another equation.
type identRef struct {
	at   int
	name string
}

type callExpr struct {
	at   int
	name string
	args []node
}

type unaryExpr struct {
	at int
	op string
	x  node
}

type binaryExpr struct {
	at          int
	op          string
	left, right node
}

type ternaryExpr struct {
	at              int
	cond, then, els node
}

func (n *numberLit) pos() int   { return n.at }
func (n *textLit) pos() int     { return n.at }
func (n *boolLit) pos() int     { return n.at }
func (n *metricRef) pos() int   { return n.at }
func (n *identRef) pos() int    { return n.at }
func (n *callExpr) pos() int    { return n.at }
func (n *unaryExpr) pos() int   { return n.at }
func (n *binaryExpr) pos() int  { return n.at }
func (n *ternaryExpr) pos() int { return n.at }

// walk visits n and its children depth first.
func walk(n node, visit func(node)) {
	if n == nil {
		return
	}
	visit(n)
	switch t := n.(type) {
	case *callExpr:
		for _, a := range t.args {
			walk(a, visit)
		}
	case *unaryExpr:
		walk(t.x, visit)
	case *binaryExpr:
		walk(t.left, visit)
		walk(t.right, visit)
	case *ternaryExpr:
		walk(t.cond, visit)
		walk(t.then, visit)
		walk(t.els, visit)
	}
}
