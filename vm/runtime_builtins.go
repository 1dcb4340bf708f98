package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Runtime builtins
// ---------------------------------------------------------------------------

func registerRuntimeBuiltins(r *Registry) {
	r.Register(&Builtin{Name: "put", Arity: Variadic(0), Procedure: true, Doc: "write values to the message output", Fn: builtinPut})
	r.Register(&Builtin{Name: "alert", Arity: Fixed(1), Procedure: true, Doc: "show a message to the user", Fn: builtinAlert})
	r.Register(&Builtin{Name: "beep", Arity: Range(0, 1), Procedure: true, Doc: "sound the system beep", Fn: builtinBeep})
	r.Register(&Builtin{Name: "pass", Arity: Fixed(0), Procedure: true, Doc: "let the event continue to the movie handler", Fn: builtinPass})
	r.Register(&Builtin{Name: "dontPassEvent", Arity: Fixed(0), Procedure: true, Doc: "stop the event at this handler", Fn: builtinDontPass})
	r.Register(&Builtin{Name: "do", Arity: Fixed(1), Procedure: true, Doc: "compile and run statements", Fn: builtinDo})
	r.Register(&Builtin{Name: "value", Arity: Fixed(1), Doc: "evaluate an expression given as a string", Fn: builtinValue})
	r.Register(&Builtin{Name: "param", Arity: Fixed(1), Doc: "argument at a 1-based position of the current handler", Fn: builtinParam})
	r.Register(&Builtin{Name: "startTimer", Arity: Fixed(0), Procedure: true, Doc: "reset the timer to zero", Fn: builtinStartTimer})
	r.Register(&Builtin{Name: "showGlobals", Arity: Fixed(0), Procedure: true, Doc: "list global variables on the message output", Fn: builtinShowGlobals})
	r.Register(&Builtin{Name: "showLocals", Arity: Fixed(0), Procedure: true, Doc: "list local variables on the message output", Fn: builtinShowLocals})
	r.Register(&Builtin{Name: "nothing", Arity: Fixed(0), Procedure: true, Doc: "do nothing", Fn: func(*Call, []Datum) (Datum, error) {
		return Void, nil
	}})
	r.Register(&Builtin{Name: "getProp", Arity: Fixed(3), Doc: "read a property of a host entity", Fn: builtinGetProp})
	r.Register(&Builtin{Name: "setProp", Arity: Fixed(4), Procedure: true, Doc: "write a property of a host entity", Fn: builtinSetProp})
}

func builtinPut(c *Call, args []Datum) (Datum, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = c.ToString(a)
	}
	fmt.Fprintln(c.Output(), strings.Join(parts, " "))
	return Void, nil
}

func builtinAlert(c *Call, args []Datum) (Datum, error) {
	fmt.Fprintf(c.Output(), "alert: %s\n", c.ToString(args[0]))
	return Void, nil
}

func builtinBeep(c *Call, args []Datum) (Datum, error) {
	c.VM.log.Debug("beep")
	return Void, nil
}

func builtinPass(c *Call, args []Datum) (Datum, error) {
	c.in.passed = true
	return Void, nil
}

func builtinDontPass(c *Call, args []Datum) (Datum, error) {
	c.in.passed = false
	return Void, nil
}

func builtinDo(c *Call, args []Datum) (Datum, error) {
	if c.VM.compile == nil {
		return Void, argError(c.Name, "no compiler configured")
	}
	s, err := c.VM.compile("do", c.ToString(args[0]))
	if err != nil {
		return Void, argError(c.Name, "%v", err)
	}
	return Void, c.in.runNested(s)
}

func builtinValue(c *Call, args []Datum) (Datum, error) {
	src := c.ToString(args[0])
	if n, err := CoerceToNumber(String(src)); err == nil {
		return n, nil
	}
	if c.VM.compile == nil {
		return Void, nil
	}
	s, err := c.VM.compile("value", "on value_\nreturn "+src+"\nend\n")
	if err != nil {
		return Void, nil
	}
	h, _ := s.Handler("value_")
	v, err := c.in.callHandler(c.in.ctx, &HandlerRef{Script: s, Info: h}, nil)
	if err != nil {
		return Void, newError(HostError, "value(%q): %v", src, err)
	}
	return v, nil
}

func builtinParam(c *Call, args []Datum) (Datum, error) {
	n, err := toInt64(args[0])
	if err != nil {
		return Void, err
	}
	f := c.Frame()
	if f == nil || n < 1 || n > int64(len(f.Args)) {
		return Void, nil
	}
	return f.Args[n-1].Copy(), nil
}

func builtinStartTimer(c *Call, args []Datum) (Datum, error) {
	c.VM.timerStart = c.in.ticks()
	return Void, nil
}

func builtinShowGlobals(c *Call, args []Datum) (Datum, error) {
	showTable(c, "Global variables", c.VM.globals)
	return Void, nil
}

func builtinShowLocals(c *Call, args []Datum) (Datum, error) {
	f := c.Frame()
	if f == nil {
		fmt.Fprintln(c.Output(), "-- No local variables")
		return Void, nil
	}
	showTable(c, "Local variables of "+f.Handler.Name, f.Locals)
	return Void, nil
}

func showTable(c *Call, title string, st *SymbolTable) {
	fmt.Fprintf(c.Output(), "-- %s:\n", title)
	for _, name := range st.Names() {
		sym, _ := st.Lookup(name)
		if sym.Global {
			fmt.Fprintf(c.Output(), "%s (global)\n", name)
			continue
		}
		fmt.Fprintf(c.Output(), "%s = %s\n", name, sym.Value)
	}
}

func entityName(c *Call, d Datum) (string, error) {
	switch d.kind {
	case KindSymbol, KindString:
		return FoldName(d.s), nil
	}
	return "", argError(c.Name, "entity must be a symbol or string, got %s", d.kind)
}

func builtinGetProp(c *Call, args []Datum) (Datum, error) {
	entity, err := entityName(c, args[0])
	if err != nil {
		return Void, err
	}
	return c.in.entityGet(entity, args[1], FoldName(c.ToString(args[2]))), nil
}

func builtinSetProp(c *Call, args []Datum) (Datum, error) {
	entity, err := entityName(c, args[0])
	if err != nil {
		return Void, err
	}
	c.in.entitySet(entity, args[1], FoldName(c.ToString(args[2])), args[3])
	return Void, nil
}
