package vm

// ---------------------------------------------------------------------------
// List builtins
// ---------------------------------------------------------------------------

// Lists are values: append returns a new list and leaves its argument
// untouched.

func registerListBuiltins(r *Registry) {
	r.Register(&Builtin{Name: "count", Arity: Fixed(1), Doc: "number of elements in a list", Fn: builtinCount})
	r.Register(&Builtin{Name: "getAt", Arity: Fixed(2), Doc: "element at a 1-based position", Fn: builtinGetAt})
	r.Register(&Builtin{Name: "append", Arity: Fixed(2), Doc: "copy of a list with a value added at the end", Fn: builtinAppend})
	r.Register(&Builtin{Name: "list", Arity: Variadic(0), Doc: "list of the arguments", Fn: builtinList})
	r.Register(&Builtin{Name: "max", Arity: Variadic(1), Doc: "largest argument, or largest element of a list", Fn: builtinExtreme(1)})
	r.Register(&Builtin{Name: "min", Arity: Variadic(1), Doc: "smallest argument, or smallest element of a list", Fn: builtinExtreme(-1)})
	r.Register(&Builtin{Name: "point", Arity: Fixed(2), Doc: "point list [h, v]", Fn: builtinNumericList})
	r.Register(&Builtin{Name: "rect", Arity: Fixed(4), Doc: "rect list [left, top, right, bottom]", Fn: builtinNumericList})
}

func listArg(c *Call, d Datum) (Datum, error) {
	if d.kind != KindArray {
		return Void, argError(c.Name, "expected a list, got %s", d.kind)
	}
	return d, nil
}

func builtinCount(c *Call, args []Datum) (Datum, error) {
	switch args[0].kind {
	case KindArray:
		return Int(int64(args[0].Len())), nil
	case KindVoid:
		return Int(0), nil
	}
	return Void, argError(c.Name, "expected a list, got %s", args[0].kind)
}

func builtinGetAt(c *Call, args []Datum) (Datum, error) {
	l, err := listArg(c, args[0])
	if err != nil {
		return Void, err
	}
	i, err := toInt64(args[1])
	if err != nil {
		return Void, err
	}
	if i < 1 || i > int64(l.Len()) {
		return Void, newError(IndexOutOfRange, "getAt: index %d outside list of %d", i, l.Len())
	}
	return l.At(int(i - 1)), nil
}

func builtinAppend(c *Call, args []Datum) (Datum, error) {
	l, err := listArg(c, args[0])
	if err != nil {
		return Void, err
	}
	return arrayOwned(append(l.Elems(), args[1].Copy())), nil
}

func builtinList(c *Call, args []Datum) (Datum, error) {
	return Array(args...), nil
}

func builtinExtreme(sign int) BuiltinFunc {
	return func(c *Call, args []Datum) (Datum, error) {
		vals := args
		if len(args) == 1 && args[0].kind == KindArray {
			vals = args[0].arr
		}
		if len(vals) == 0 {
			return Void, nil
		}
		best, err := CoerceToNumber(vals[0])
		if err != nil {
			return Void, err
		}
		for _, v := range vals[1:] {
			n, err := CoerceToNumber(v)
			if err != nil {
				return Void, err
			}
			if compareNumbers(n, best)*sign > 0 {
				best = n
			}
		}
		return best, nil
	}
}

func builtinNumericList(c *Call, args []Datum) (Datum, error) {
	out := make([]Datum, len(args))
	for i, a := range args {
		n, err := CoerceToNumber(a)
		if err != nil {
			return Void, err
		}
		out[i] = n
	}
	return arrayOwned(out), nil
}
