package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Datum: Tagged runtime value
// ---------------------------------------------------------------------------

// Kind discriminates the payload carried by a Datum.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInteger
	KindFloat
	KindString
	KindSymbol
	KindArray
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindInteger: "integer",
	KindFloat:   "float",
	KindString:  "string",
	KindSymbol:  "symbol",
	KindArray:   "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Datum is the dynamically typed value manipulated by scripts.
// Exactly one payload field is meaningful for a given kind; the zero
// Datum is Void.
type Datum struct {
	kind Kind
	i    int64   // KindInteger
	f    float64 // KindFloat
	s    string  // KindString, KindSymbol (name)
	arr  []Datum // KindArray
}

// Void is the uninitialized value.
var Void = Datum{}

// Int returns an Integer datum.
func Int(n int64) Datum { return Datum{kind: KindInteger, i: n} }

// Float returns a Float datum.
func Float(f float64) Datum { return Datum{kind: KindFloat, f: f} }

// String returns a String datum.
func String(s string) Datum { return Datum{kind: KindString, s: s} }

// Sym returns a Symbol datum referring to name.
func Sym(name string) Datum { return Datum{kind: KindSymbol, s: name} }

// Bool returns the Integer 1 or 0.
func Bool(b bool) Datum {
	if b {
		return Int(1)
	}
	return Int(0)
}

// Array returns an Array datum owning a copy of elems.
func Array(elems ...Datum) Datum {
	owned := make([]Datum, len(elems))
	for i, e := range elems {
		owned[i] = e.Copy()
	}
	return Datum{kind: KindArray, arr: owned}
}

// arrayOwned wraps elems without copying. Callers must not retain elems.
func arrayOwned(elems []Datum) Datum {
	if elems == nil {
		elems = []Datum{}
	}
	return Datum{kind: KindArray, arr: elems}
}

// Kind returns the datum's discriminant.
func (d Datum) Kind() Kind { return d.kind }

// IsVoid reports whether d carries no value.
func (d Datum) IsVoid() bool { return d.kind == KindVoid }

// IsNumber reports whether d is an Integer or Float.
func (d Datum) IsNumber() bool { return d.kind == KindInteger || d.kind == KindFloat }

// AsInt returns the integer payload. Only meaningful for KindInteger.
func (d Datum) AsInt() int64 { return d.i }

// AsFloat returns the float payload. Only meaningful for KindFloat.
func (d Datum) AsFloat() float64 { return d.f }

// AsString returns the string payload of a String or the name of a Symbol.
func (d Datum) AsString() string { return d.s }

// Len returns the number of elements of an Array, or 0.
func (d Datum) Len() int { return len(d.arr) }

// At returns a copy of the i-th (0-based) element of an Array.
func (d Datum) At(i int) Datum { return d.arr[i].Copy() }

// Elems returns a copy of the elements of an Array.
func (d Datum) Elems() []Datum {
	out := make([]Datum, len(d.arr))
	for i, e := range d.arr {
		out[i] = e.Copy()
	}
	return out
}

// Copy returns a logical copy of d. Arrays are copied deeply so that no
// two live datums share a mutable backing slice.
func (d Datum) Copy() Datum {
	if d.kind != KindArray {
		return d
	}
	return Datum{kind: KindArray, arr: d.Elems()}
}

// Equal reports whether a and b have the same kind and payload.
// Symbols compare case-insensitively.
func (d Datum) Equal(o Datum) bool {
	if d.kind != o.kind {
		return false
	}
	switch d.kind {
	case KindVoid:
		return true
	case KindInteger:
		return d.i == o.i
	case KindFloat:
		return d.f == o.f
	case KindString:
		return d.s == o.s
	case KindSymbol:
		return FoldName(d.s) == FoldName(o.s)
	case KindArray:
		if len(d.arr) != len(o.arr) {
			return false
		}
		for i := range d.arr {
			if !d.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders d for debugging. Strings are quoted, symbols prefixed
// with '#'. Use CoerceToString for script-visible conversion.
func (d Datum) String() string {
	switch d.kind {
	case KindVoid:
		return "<Void>"
	case KindInteger:
		return strconv.FormatInt(d.i, 10)
	case KindFloat:
		return strconv.FormatFloat(d.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(d.s)
	case KindSymbol:
		return "#" + d.s
	case KindArray:
		parts := make([]string, len(d.arr))
		for i, e := range d.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("Datum(%d)", d.kind)
}
