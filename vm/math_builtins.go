package vm

import (
	"math"
)

// ---------------------------------------------------------------------------
// Math builtins
// ---------------------------------------------------------------------------

func registerMathBuiltins(r *Registry) {
	unary := func(name, doc string, fn func(float64) float64) {
		r.Register(&Builtin{
			Name:  name,
			Arity: Fixed(1),
			Doc:   doc,
			Fn: func(c *Call, args []Datum) (Datum, error) {
				x, err := toFloat64(args[0])
				if err != nil {
					return Void, err
				}
				return Float(fn(x)), nil
			},
		})
	}
	unary("atan", "arc tangent in radians", math.Atan)
	unary("cos", "cosine of an angle in radians", math.Cos)
	unary("exp", "e raised to a power", math.Exp)
	unary("log", "natural logarithm", math.Log)
	unary("sin", "sine of an angle in radians", math.Sin)
	unary("sqrt", "square root", math.Sqrt)
	unary("tan", "tangent of an angle in radians", math.Tan)

	r.Register(&Builtin{Name: "abs", Arity: Fixed(1), Doc: "absolute value", Fn: builtinAbs})
	r.Register(&Builtin{Name: "float", Arity: Fixed(1), Doc: "convert to a float", Fn: builtinFloat})
	r.Register(&Builtin{Name: "integer", Arity: Fixed(1), Doc: "round to the nearest integer", Fn: builtinInteger})
	r.Register(&Builtin{Name: "pi", Arity: Fixed(0), Doc: "the constant pi", Fn: func(*Call, []Datum) (Datum, error) {
		return Float(math.Pi), nil
	}})
	r.Register(&Builtin{Name: "power", Arity: Fixed(2), Doc: "base raised to exponent", Fn: builtinPower})
	r.Register(&Builtin{Name: "random", Arity: Fixed(1), Doc: "random integer from 1 to n", Fn: builtinRandom})
}

func builtinAbs(c *Call, args []Datum) (Datum, error) {
	n, err := CoerceToNumber(args[0])
	if err != nil {
		return Void, err
	}
	if n.kind == KindInteger {
		if n.i < 0 {
			return Int(-n.i), nil
		}
		return n, nil
	}
	return Float(math.Abs(n.f)), nil
}

func builtinFloat(c *Call, args []Datum) (Datum, error) {
	f, err := toFloat64(args[0])
	if err != nil {
		return Void, err
	}
	return Float(f), nil
}

func builtinInteger(c *Call, args []Datum) (Datum, error) {
	n, err := CoerceToNumber(args[0])
	if err != nil {
		return Void, err
	}
	if n.kind == KindFloat {
		return Int(int64(math.Round(n.f))), nil
	}
	return n, nil
}

func builtinPower(c *Call, args []Datum) (Datum, error) {
	base, err := toFloat64(args[0])
	if err != nil {
		return Void, err
	}
	exp, err := toFloat64(args[1])
	if err != nil {
		return Void, err
	}
	return Float(math.Pow(base, exp)), nil
}

func builtinRandom(c *Call, args []Datum) (Datum, error) {
	n, err := toInt64(args[0])
	if err != nil {
		return Void, err
	}
	if n < 1 {
		return Void, argError(c.Name, "range must be positive, got %d", n)
	}
	return Int(c.VM.rng.Int64N(n) + 1), nil
}
