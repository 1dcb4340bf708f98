package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Coercions
// ---------------------------------------------------------------------------

// DefaultFloatPrecision is the number of fractional digits used when a
// Float is converted to a String.
const DefaultFloatPrecision = 4

// CoerceToNumber converts d to an Integer or Float. Strings are parsed
// as an integer first, then as a float; surrounding blanks are ignored.
func CoerceToNumber(d Datum) (Datum, error) {
	switch d.kind {
	case KindInteger, KindFloat:
		return d, nil
	case KindString:
		s := strings.TrimSpace(d.s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(n), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
			return Float(f), nil
		}
		return Void, newError(TypeCoercionWarning, "%s is not a number", d)
	}
	return Void, newError(TypeCoercionWarning, "cannot use %s as a number", d.kind)
}

// toFloat64 coerces d and widens the result to float64.
func toFloat64(d Datum) (float64, error) {
	n, err := CoerceToNumber(d)
	if err != nil {
		return 0, err
	}
	if n.kind == KindInteger {
		return float64(n.i), nil
	}
	return n.f, nil
}

// toInt64 coerces d and truncates the result to an integer.
func toInt64(d Datum) (int64, error) {
	n, err := CoerceToNumber(d)
	if err != nil {
		return 0, err
	}
	if n.kind == KindFloat {
		return int64(n.f), nil
	}
	return n.i, nil
}

// CoerceToString converts d to its script-visible text. Floats are
// formatted with precision fractional digits and Void becomes "".
func CoerceToString(d Datum, precision int) string {
	switch d.kind {
	case KindVoid:
		return ""
	case KindInteger:
		return strconv.FormatInt(d.i, 10)
	case KindFloat:
		if precision < 0 {
			precision = 0
		}
		return strconv.FormatFloat(d.f, 'f', precision, 64)
	case KindString:
		return d.s
	case KindSymbol:
		return d.s
	case KindArray:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range d.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			switch e.kind {
			case KindString:
				sb.WriteString(strconv.Quote(e.s))
			case KindSymbol:
				sb.WriteString("#" + e.s)
			default:
				sb.WriteString(CoerceToString(e, precision))
			}
		}
		sb.WriteByte(']')
		return sb.String()
	}
	return ""
}

// Truthy reports whether d counts as true in a condition. Zero, the
// empty string and Void are false; numeric strings use their value.
func Truthy(d Datum) bool {
	switch d.kind {
	case KindVoid:
		return false
	case KindInteger:
		return d.i != 0
	case KindFloat:
		return d.f != 0
	case KindString:
		if strings.TrimSpace(d.s) == "" {
			return false
		}
		if n, err := CoerceToNumber(d); err == nil {
			return Truthy(n)
		}
		return true
	case KindArray:
		return len(d.arr) > 0
	}
	return true
}
