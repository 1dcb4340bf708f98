package vm

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// ArithOp selects a binary arithmetic operator.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithMod
)

var arithSymbols = [...]string{"+", "-", "*", "/", "mod"}

func (op ArithOp) String() string { return arithSymbols[op] }

// Arith applies op to a and b. Integer operands stay integral, mixed
// operands promote to Float. Arrays combine element-wise with arrays
// of the same length and broadcast against numbers. A returned error is
// always a TypeCoercionWarning and the Datum is then Void.
func Arith(op ArithOp, a, b Datum) (Datum, error) {
	if a.kind == KindArray || b.kind == KindArray {
		return arithArray(op, a, b)
	}
	x, err := CoerceToNumber(a)
	if err != nil {
		return Void, err
	}
	y, err := CoerceToNumber(b)
	if err != nil {
		return Void, err
	}
	if x.kind == KindInteger && y.kind == KindInteger {
		return arithInt(op, x.i, y.i)
	}
	return arithFloat(op, asFloat(x), asFloat(y))
}

func asFloat(n Datum) float64 {
	if n.kind == KindInteger {
		return float64(n.i)
	}
	return n.f
}

func arithInt(op ArithOp, x, y int64) (Datum, error) {
	switch op {
	case ArithAdd:
		return Int(x + y), nil
	case ArithSub:
		return Int(x - y), nil
	case ArithMul:
		return Int(x * y), nil
	case ArithDiv:
		if y == 0 {
			return Void, newError(TypeCoercionWarning, "division by zero")
		}
		return Int(x / y), nil
	case ArithMod:
		if y == 0 {
			return Void, newError(TypeCoercionWarning, "division by zero")
		}
		return Int(x % y), nil
	}
	return Void, newError(TypeCoercionWarning, "unknown operator")
}

func arithFloat(op ArithOp, x, y float64) (Datum, error) {
	switch op {
	case ArithAdd:
		return Float(x + y), nil
	case ArithSub:
		return Float(x - y), nil
	case ArithMul:
		return Float(x * y), nil
	case ArithDiv:
		if y == 0 {
			return Void, newError(TypeCoercionWarning, "division by zero")
		}
		return Float(x / y), nil
	case ArithMod:
		if y == 0 {
			return Void, newError(TypeCoercionWarning, "division by zero")
		}
		return Float(math.Mod(x, y)), nil
	}
	return Void, newError(TypeCoercionWarning, "unknown operator")
}

func arithArray(op ArithOp, a, b Datum) (Datum, error) {
	switch {
	case a.kind == KindArray && b.kind == KindArray:
		if len(a.arr) != len(b.arr) {
			return Void, newError(TypeCoercionWarning,
				"list length mismatch in %s: %d and %d", op, len(a.arr), len(b.arr))
		}
		out := make([]Datum, len(a.arr))
		for i := range a.arr {
			v, err := Arith(op, a.arr[i], b.arr[i])
			if err != nil {
				return Void, err
			}
			out[i] = v
		}
		return arrayOwned(out), nil
	case a.kind == KindArray:
		out := make([]Datum, len(a.arr))
		for i := range a.arr {
			v, err := Arith(op, a.arr[i], b)
			if err != nil {
				return Void, err
			}
			out[i] = v
		}
		return arrayOwned(out), nil
	default:
		out := make([]Datum, len(b.arr))
		for i := range b.arr {
			v, err := Arith(op, a, b.arr[i])
			if err != nil {
				return Void, err
			}
			out[i] = v
		}
		return arrayOwned(out), nil
	}
}

// Negate returns -a.
func Negate(a Datum) (Datum, error) {
	if a.kind == KindArray {
		out := make([]Datum, len(a.arr))
		for i, e := range a.arr {
			v, err := Negate(e)
			if err != nil {
				return Void, err
			}
			out[i] = v
		}
		return arrayOwned(out), nil
	}
	n, err := CoerceToNumber(a)
	if err != nil {
		return Void, err
	}
	if n.kind == KindInteger {
		return Int(-n.i), nil
	}
	return Float(-n.f), nil
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// CompareOp selects a comparison operator.
type CompareOp uint8

const (
	CmpEq CompareOp = iota
	CmpNeq
	CmpLt
	CmpGt
	CmpLe
	CmpGe
)

// Compare evaluates a op b and returns Integer 1 or 0. Operands that
// both coerce to numbers compare numerically; otherwise their string
// forms compare case-insensitively. Lists support only = and <>.
func Compare(op CompareOp, a, b Datum, precision int) (Datum, error) {
	if a.kind == KindArray || b.kind == KindArray {
		eq := a.Equal(b)
		switch op {
		case CmpEq:
			return Bool(eq), nil
		case CmpNeq:
			return Bool(!eq), nil
		}
		return Void, newError(TypeCoercionWarning, "cannot order %s and %s", a.kind, b.kind)
	}

	var c int
	x, errX := CoerceToNumber(a)
	y, errY := CoerceToNumber(b)
	if errX == nil && errY == nil {
		c = compareNumbers(x, y)
	} else {
		c = strings.Compare(FoldName(CoerceToString(a, precision)), FoldName(CoerceToString(b, precision)))
	}

	switch op {
	case CmpEq:
		return Bool(c == 0), nil
	case CmpNeq:
		return Bool(c != 0), nil
	case CmpLt:
		return Bool(c < 0), nil
	case CmpGt:
		return Bool(c > 0), nil
	case CmpLe:
		return Bool(c <= 0), nil
	case CmpGe:
		return Bool(c >= 0), nil
	}
	return Void, newError(TypeCoercionWarning, "unknown comparison")
}

func compareNumbers(x, y Datum) int {
	if x.kind == KindInteger && y.kind == KindInteger {
		switch {
		case x.i < y.i:
			return -1
		case x.i > y.i:
			return 1
		}
		return 0
	}
	fx, fy := asFloat(x), asFloat(y)
	switch {
	case fx < fy:
		return -1
	case fx > fy:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// Concat joins the string forms of a and b, with a single space between
// them when space is set.
func Concat(a, b Datum, space bool, precision int) Datum {
	sa, sb := CoerceToString(a, precision), CoerceToString(b, precision)
	if space {
		return String(sa + " " + sb)
	}
	return String(sa + sb)
}

// StringPredicate selects a substring test.
type StringPredicate uint8

const (
	PredContains StringPredicate = iota
	PredStarts
	PredEnds
)

// TestString applies pred to the string forms of a and b, ignoring case.
func TestString(pred StringPredicate, a, b Datum, precision int) Datum {
	sa := FoldName(CoerceToString(a, precision))
	sb := FoldName(CoerceToString(b, precision))
	switch pred {
	case PredStarts:
		return Bool(strings.HasPrefix(sa, sb))
	case PredEnds:
		return Bool(strings.HasSuffix(sa, sb))
	}
	return Bool(strings.Contains(sa, sb))
}
