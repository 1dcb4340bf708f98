package compiler

import (
	"strconv"
	"strings"
	"testing"
)

func parseExpr(t *testing.T, input string) Expr {
	t.Helper()
	toks, err := Tokenize(input)
	if err != nil {
		t.Fatalf("Tokenize(%q) error: %v", input, err)
	}
	p := NewParser(toks)
	e, err := p.ParseExpression()
	if err != nil {
		t.Fatalf("ParseExpression(%q) error: %v", input, err)
	}
	if !p.curTokenIs(TokenEOF) {
		t.Fatalf("ParseExpression(%q) stopped at %v", input, p.curToken)
	}
	return e
}

func mustParse(t *testing.T, src string) *Unit {
	t.Helper()
	u, err := Parse("test", src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return u
}

func TestParserLiterals(t *testing.T) {
	tests := []struct {
		input string
		check func(Expr) bool
		desc  string
	}{
		{"42", func(e Expr) bool { return e.(*IntLiteral).Value == 42 }, "integer"},
		{"-5", func(e Expr) bool { return e.(*IntLiteral).Value == -5 }, "negative integer"},
		{"3.14", func(e Expr) bool { return e.(*FloatLiteral).Value == 3.14 }, "float"},
		{"-0.5", func(e Expr) bool { return e.(*FloatLiteral).Value == -0.5 }, "negative float"},
		{`"hello"`, func(e Expr) bool { return e.(*StringLiteral).Value == "hello" }, "string"},
		{"#foo", func(e Expr) bool { return e.(*SymbolLiteral).Value == "foo" }, "symbol"},
		{"TRUE", func(e Expr) bool { return e.(*IntLiteral).Value == 1 }, "true"},
		{"false", func(e Expr) bool { return e.(*IntLiteral).Value == 0 }, "false"},
		{"EMPTY", func(e Expr) bool { return e.(*StringLiteral).Value == "" }, "empty"},
		{"void", func(e Expr) bool { _, ok := e.(*VoidLiteral); return ok }, "void"},
		{"99999999999999999999", func(e Expr) bool { _, ok := e.(*FloatLiteral); return ok }, "integer overflow becomes float"},
	}

	for _, tc := range tests {
		expr := parseExpr(t, tc.input)
		if !tc.check(expr) {
			t.Errorf("%s: check failed for %q (got %T)", tc.desc, tc.input, expr)
		}
	}
}

// shape renders an expression with explicit grouping.
func shape(e Expr) string {
	switch n := e.(type) {
	case *IntLiteral:
		return strconv.FormatInt(n.Value, 10)
	case *Variable:
		return n.Name
	case *StringLiteral:
		return `"` + n.Value + `"`
	case *BinaryExpr:
		return "(" + shape(n.Left) + " " + n.Op + " " + shape(n.Right) + ")"
	case *UnaryExpr:
		return "(" + n.Op + " " + shape(n.Operand) + ")"
	case *IndexExpr:
		return shape(n.Target) + "[" + shape(n.Index) + "]"
	case *CallExpr:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = shape(a)
		}
		return n.Name + "(" + strings.Join(args, ", ") + ")"
	case *ListExpr:
		elems := make([]string, len(n.Elements))
		for i, a := range n.Elements {
			elems[i] = shape(a)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	case *TheExpr:
		if n.Entity == "" {
			return "the " + n.Field
		}
		return "the " + n.Field + " of " + n.Entity + " " + shape(n.ID)
	}
	return "?"
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"a mod 3 = 0", "((a mod 3) = 0)"},
		{`a & b = "ab"`, `((a & b) = "ab")`},
		{"a + 1 & b", "((a + 1) & b)"},
		{"a && b & c", "((a && b) & c)"},
		{"a < b and b < c or d", "(((a < b) and (b < c)) or d)"},
		{"not a = b", "((not a) = b)"},
		{"-x * 2", "((- x) * 2)"},
		{`s contains "x" and s starts "a"`, `((s contains "x") and (s starts "a"))`},
		{"list[1] + 2", "(list[1] + 2)"},
		{"m[1][2]", "m[1][2]"},
		{"max(a, b + 1)", "max(a, (b + 1))"},
		{"[1, 2 * 3]", "[1, (2 * 3)]"},
		{"the ticks - 1", "(the ticks - 1)"},
		{"the locH of sprite 3 + 10", "(the locH of sprite 3 + 10)"},
	}

	for _, tc := range tests {
		got := shape(parseExpr(t, tc.input))
		if got != tc.want {
			t.Errorf("parse %q = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserStatements(t *testing.T) {
	tests := []struct {
		input string
		check func(Stmt) bool
		desc  string
	}{
		{"x = 1", func(s Stmt) bool { a := s.(*AssignStmt); return a.Name == "x" && a.Index == nil }, "assignment"},
		{"set x to 1", func(s Stmt) bool { return s.(*AssignStmt).Name == "x" }, "set to"},
		{"set x = 1", func(s Stmt) bool { return s.(*AssignStmt).Name == "x" }, "set ="},
		{"l[2] = 5", func(s Stmt) bool { return s.(*AssignStmt).Index != nil }, "index assignment"},
		{"set the floatPrecision to 2", func(s Stmt) bool { return s.(*TheAssignStmt).Target.Field == "floatPrecision" }, "set the"},
		{"set the locH of sprite 1 to 10", func(s Stmt) bool { return s.(*TheAssignStmt).Target.Entity == "sprite" }, "set the of"},
		{"beep", func(s Stmt) bool { c := s.(*CallStmt); return c.Name == "beep" && len(c.Args) == 0 }, "bare call"},
		{"foo 1, 2", func(s Stmt) bool { return len(s.(*CallStmt).Args) == 2 }, "command call"},
		{"foo(1, 2, 3)", func(s Stmt) bool { return len(s.(*CallStmt).Args) == 3 }, "paren call"},
		{"foo()", func(s Stmt) bool { return len(s.(*CallStmt).Args) == 0 }, "empty paren call"},
		{"put 1", func(s Stmt) bool { return s.(*PutStmt).Mode == PutMessage }, "put"},
		{"put 1 into x", func(s Stmt) bool { p := s.(*PutStmt); return p.Mode == PutInto && p.Target == "x" }, "put into"},
		{"put 1 after x", func(s Stmt) bool { return s.(*PutStmt).Mode == PutAfter }, "put after"},
		{"put 1 before x", func(s Stmt) bool { return s.(*PutStmt).Mode == PutBefore }, "put before"},
		{"global a, b", func(s Stmt) bool { return len(s.(*GlobalStmt).Names) == 2 }, "global"},
		{"exit", func(s Stmt) bool { _, ok := s.(*ExitStmt); return ok }, "exit"},
	}

	for _, tc := range tests {
		u := mustParse(t, tc.input)
		if len(u.Body) != 1 {
			t.Errorf("%s: got %d statements, want 1", tc.desc, len(u.Body))
			continue
		}
		if !tc.check(u.Body[0]) {
			t.Errorf("%s: check failed for %q (got %T)", tc.desc, tc.input, u.Body[0])
		}
	}
}

func TestParserHandlers(t *testing.T) {
	src := `
global gCount

on mouseUp me
  gCount = gCount + 1
end mouseUp

on add a, b
  return a + b
end

ON noArgs
END
`
	u := mustParse(t, src)
	if len(u.Handlers) != 3 {
		t.Fatalf("handlers = %d, want 3", len(u.Handlers))
	}
	if len(u.Globals) != 1 || u.Globals[0] != "gCount" {
		t.Errorf("Globals = %v, want [gCount]", u.Globals)
	}

	tests := []struct {
		name   string
		params []string
		body   int
		line   int
	}{
		{"mouseUp", []string{"me"}, 1, 4},
		{"add", []string{"a", "b"}, 1, 8},
		{"noArgs", nil, 0, 12},
	}
	for i, tc := range tests {
		h := u.Handlers[i]
		if h.Name != tc.name {
			t.Errorf("handler[%d] name = %q, want %q", i, h.Name, tc.name)
		}
		if strings.Join(h.Params, ",") != strings.Join(tc.params, ",") {
			t.Errorf("handler %s params = %v, want %v", h.Name, h.Params, tc.params)
		}
		if len(h.Body) != tc.body {
			t.Errorf("handler %s body = %d statements, want %d", h.Name, len(h.Body), tc.body)
		}
		if h.NamePos.Line != tc.line {
			t.Errorf("handler %s line = %d, want %d", h.Name, h.NamePos.Line, tc.line)
		}
	}
}

func TestParserIfForms(t *testing.T) {
	t.Run("block with else if chain", func(t *testing.T) {
		src := `if x = 1 then
  put "one"
else if x = 2 then
  put "two"
else
  put "many"
  put "really"
end if`
		u := mustParse(t, src)
		if len(u.Body) != 1 {
			t.Fatalf("body = %d statements, want 1", len(u.Body))
		}
		outer := u.Body[0].(*IfStmt)
		if len(outer.Then) != 1 || len(outer.Else) != 1 {
			t.Fatalf("outer then/else = %d/%d, want 1/1", len(outer.Then), len(outer.Else))
		}
		inner, ok := outer.Else[0].(*IfStmt)
		if !ok {
			t.Fatalf("else branch = %T, want *IfStmt", outer.Else[0])
		}
		if len(inner.Then) != 1 || len(inner.Else) != 2 {
			t.Errorf("inner then/else = %d/%d, want 1/2", len(inner.Then), len(inner.Else))
		}
	})

	t.Run("single line", func(t *testing.T) {
		u := mustParse(t, `if x then put 1 else put 2`)
		s := u.Body[0].(*IfStmt)
		if len(s.Then) != 1 || len(s.Else) != 1 {
			t.Errorf("then/else = %d/%d, want 1/1", len(s.Then), len(s.Else))
		}
	})

	t.Run("single line with else on next line", func(t *testing.T) {
		u := mustParse(t, "if x then put 1\nelse put 2\nput 3")
		if len(u.Body) != 2 {
			t.Fatalf("body = %d statements, want 2", len(u.Body))
		}
		s := u.Body[0].(*IfStmt)
		if len(s.Else) != 1 {
			t.Errorf("else = %d statements, want 1", len(s.Else))
		}
	})

	t.Run("bare else belongs to enclosing block", func(t *testing.T) {
		src := `if a then
  if b then put 1
else
  put 2
end if`
		u := mustParse(t, src)
		outer := u.Body[0].(*IfStmt)
		if len(outer.Else) != 1 {
			t.Fatalf("outer else = %d statements, want 1", len(outer.Else))
		}
		inner := outer.Then[0].(*IfStmt)
		if len(inner.Else) != 0 {
			t.Errorf("inner else = %d statements, want 0", len(inner.Else))
		}
	})
}

func TestParserRepeat(t *testing.T) {
	src := `on loops
  repeat with i = 1 to 10
    if i = 5 then next repeat
    if i = 8 then exit repeat
  end repeat
  repeat with j = 10 down to 1
    nothing
  end repeat
  repeat while x < 3
    x = x + 1
  end repeat
end`
	u := mustParse(t, src)
	body := u.Handlers[0].Body
	if len(body) != 3 {
		t.Fatalf("body = %d statements, want 3", len(body))
	}
	up := body[0].(*RepeatWithStmt)
	if up.Var != "i" || up.Down || len(up.Body) != 2 {
		t.Errorf("repeat with = %+v", up)
	}
	down := body[1].(*RepeatWithStmt)
	if !down.Down {
		t.Errorf("repeat with j: Down = false, want true")
	}
	if _, ok := body[2].(*RepeatWhileStmt); !ok {
		t.Errorf("body[2] = %T, want *RepeatWhileStmt", body[2])
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		input string
		msg   string
		line  int
	}{
		{"return 1", "return outside of a handler", 1},
		{"exit repeat", "outside of a repeat loop", 1},
		{"on a\n  next repeat\nend", "outside of a repeat loop", 2},
		{"x = \ny = 1", "unexpected end of line", 1},
		{"on foo\n  x = 1\n", `expected "end"`, 3},
		{"on foo\nend\non FOO\nend", "duplicate handler FOO", 3},
		{"repeat x\nend repeat", `"while" or "with"`, 1},
		{"if x then\n put 1\n", `expected "end"`, 3},
		{"put 1 2", "after statement", 1},
		{"on outer\n  on inner\n  end\nend", `expected "end"`, 2},
	}

	for _, tc := range tests {
		_, err := Parse("test", tc.input)
		if err == nil {
			t.Errorf("Parse(%q) succeeded, want error", tc.input)
			continue
		}
		errs := Errors(err)
		if len(errs) == 0 {
			t.Fatalf("Errors(%v) is empty", err)
		}
		if errs[0].Kind != SyntaxError {
			t.Errorf("Parse(%q) kind = %v, want %v", tc.input, errs[0].Kind, SyntaxError)
		}
		if !strings.Contains(errs[0].Msg, tc.msg) {
			t.Errorf("Parse(%q) msg = %q, want it to contain %q", tc.input, errs[0].Msg, tc.msg)
		}
		if errs[0].Pos.Line != tc.line {
			t.Errorf("Parse(%q) line = %d, want %d", tc.input, errs[0].Pos.Line, tc.line)
		}
	}
}

func TestParserRecoversAtLineBoundaries(t *testing.T) {
	src := "x = = 1\ny = 2\nz = (\nw = 3"
	u, err := Parse("test", src)
	errs := Errors(err)
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2", err)
	}
	if errs[0].Pos.Line != 1 || errs[1].Pos.Line != 3 {
		t.Errorf("error lines = %d, %d, want 1, 3", errs[0].Pos.Line, errs[1].Pos.Line)
	}
	var names []string
	for _, s := range u.Body {
		names = append(names, s.(*AssignStmt).Name)
	}
	if strings.Join(names, ",") != "y,w" {
		t.Errorf("parsed assignments = %v, want [y w]", names)
	}
}

func TestParserStopsAfterTooManyErrors(t *testing.T) {
	src := strings.Repeat("x = )\n", 50)
	_, err := Parse("test", src)
	if n := len(Errors(err)); n != maxErrors {
		t.Errorf("errors = %d, want %d", n, maxErrors)
	}
}

func TestParserSpans(t *testing.T) {
	u := mustParse(t, "\n  total = a + 1")
	s := u.Body[0].(*AssignStmt)
	span := s.Span()
	if span.Start.Line != 2 || span.Start.Column != 3 {
		t.Errorf("start = %d:%d, want 2:3", span.Start.Line, span.Start.Column)
	}
	if span.End.Column != 16 {
		t.Errorf("end column = %d, want 16", span.End.Column)
	}
}
