package vm

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

func TestArity(t *testing.T) {
	tests := []struct {
		a    Arity
		n    int
		want bool
	}{
		{Fixed(1), 1, true},
		{Fixed(1), 0, false},
		{Fixed(1), 2, false},
		{Variadic(1), 5, true},
		{Variadic(1), 0, false},
		{Range(0, 1), 0, true},
		{Range(0, 1), 2, false},
	}
	for _, tc := range tests {
		if got := tc.a.Accepts(tc.n); got != tc.want {
			t.Errorf("%v.Accepts(%d) = %v, want %v", tc.a, tc.n, got, tc.want)
		}
	}
	if s := Range(2, 3).String(); s != "2 to 3 arguments" {
		t.Errorf("Range(2, 3) = %q", s)
	}
}

func TestStandardBuiltinNames(t *testing.T) {
	names := StandardBuiltinNames()
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[FoldName(n)] = true
	}
	for _, want := range []string{
		"abs", "atan", "cos", "exp", "float", "integer", "log", "pi", "power", "random",
		"sin", "sqrt", "tan", "string", "length", "chars", "charToNum", "numToChar",
		"offset", "value", "ilk", "count", "getAt", "append", "list", "max", "min",
		"point", "rect", "alert", "put", "beep", "pass", "dontPassEvent", "do", "param",
		"startTimer", "showGlobals", "showLocals", "nothing", "getProp", "setProp",
	} {
		if !have[FoldName(want)] {
			t.Errorf("builtin %s not registered", want)
		}
	}
}

func TestBuiltinResults(t *testing.T) {
	tests := []struct {
		name string
		args []Datum
		want Datum
	}{
		{"abs", []Datum{Int(-3)}, Int(3)},
		{"abs", []Datum{Float(-1.5)}, Float(1.5)},
		{"float", []Datum{Int(2)}, Float(2)},
		{"integer", []Datum{Float(2.5)}, Int(3)},
		{"integer", []Datum{Float(-2.5)}, Int(-3)},
		{"integer", []Datum{String("7")}, Int(7)},
		{"power", []Datum{Int(2), Int(10)}, Float(1024)},
		{"sqrt", []Datum{Int(9)}, Float(3)},
		{"string", []Datum{Float(1.5)}, String("1.5000")},
		{"string", []Datum{Void}, String("")},
		{"length", []Datum{String("héllo")}, Int(5)},
		{"length", []Datum{Int(1234)}, Int(4)},
		{"chars", []Datum{String("hello"), Int(2), Int(4)}, String("ell")},
		{"chars", []Datum{String("hello"), Int(0), Int(99)}, String("hello")},
		{"chars", []Datum{String("hi"), Int(3), Int(5)}, String("")},
		{"charToNum", []Datum{String("A")}, Int(65)},
		{"charToNum", []Datum{String("é")}, Int(142)},
		{"charToNum", []Datum{String("")}, Int(0)},
		{"numToChar", []Datum{Int(65)}, String("A")},
		{"numToChar", []Datum{Int(142)}, String("é")},
		{"offset", []Datum{String("LL"), String("hello")}, Int(3)},
		{"offset", []Datum{String("z"), String("hello")}, Int(0)},
		{"ilk", []Datum{Array()}, Sym("list")},
		{"ilk", []Datum{Float(1)}, Sym("float")},
		{"count", []Datum{Array(Int(1), Int(2))}, Int(2)},
		{"count", []Datum{Void}, Int(0)},
		{"getAt", []Datum{Array(Int(5), Int(6)), Int(2)}, Int(6)},
		{"append", []Datum{Array(Int(1)), String("x")}, Array(Int(1), String("x"))},
		{"list", []Datum{Int(1), Sym("a")}, Array(Int(1), Sym("a"))},
		{"list", nil, Array()},
		{"max", []Datum{Int(3), Float(7.5), Int(2)}, Float(7.5)},
		{"min", []Datum{Array(Int(3), Int(-1), String("2"))}, Int(-1)},
		{"max", []Datum{Array()}, Void},
		{"point", []Datum{Int(1), String("2")}, Array(Int(1), Int(2))},
		{"rect", []Datum{Int(0), Int(0), Int(640), Int(480)}, Array(Int(0), Int(0), Int(640), Int(480))},
		{"value", []Datum{String(" 12 ")}, Int(12)},
		{"value", []Datum{String("1 + 2")}, Void}, // no compiler installed
		{"param", []Datum{Int(1)}, Void},
		{"nothing", nil, Void},
		{"pi", nil, Float(math.Pi)},
	}

	for _, tc := range tests {
		v, _ := newTestVM(t)
		got, err := v.Call(context.Background(), tc.name, tc.args...)
		if err != nil {
			t.Errorf("%s(%v) error: %v", tc.name, tc.args, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s(%v) = %v, want %v", tc.name, tc.args, got, tc.want)
		}
	}
}

func TestBuiltinWarningsYieldVoid(t *testing.T) {
	tests := []struct {
		name string
		args []Datum
	}{
		{"abs", []Datum{String("x")}},
		{"count", []Datum{Int(3)}},
		{"append", []Datum{Int(1), Int(2)}},
		{"numToChar", []Datum{Int(300)}},
		{"random", []Datum{Int(0)}},
		{"getProp", []Datum{Int(1), Int(1), String("x")}},
		{"do", []Datum{String("put 1")}},
	}

	for _, tc := range tests {
		v, log := newTestVM(t)
		got, err := v.Call(context.Background(), tc.name, tc.args...)
		if err != nil {
			t.Errorf("%s(%v) error: %v, want a warning", tc.name, tc.args, err)
			continue
		}
		if !got.IsVoid() {
			t.Errorf("%s(%v) = %v, want Void", tc.name, tc.args, got)
		}
		if log.count("warning:") != 1 {
			t.Errorf("%s(%v) log = %v, want one warning", tc.name, tc.args, log.entries)
		}
	}
}

func TestBuiltinGetAtOutOfRangeIsFatal(t *testing.T) {
	v, _ := newTestVM(t)
	_, err := v.Call(context.Background(), "getAt", Array(Int(1)), Int(2))
	if kind, _ := KindOf(err); kind != IndexOutOfRange {
		t.Errorf("getAt error = %v, want IndexOutOfRange", err)
	}
}

func TestBuiltinAppendLeavesArgument(t *testing.T) {
	v, _ := newTestVM(t)
	orig := Array(Int(1))
	if _, err := v.Call(context.Background(), "append", orig, Int(2)); err != nil {
		t.Fatal(err)
	}
	if orig.Len() != 1 {
		t.Errorf("append modified its argument: %v", orig)
	}
}

func TestBuiltinRandomIsSeeded(t *testing.T) {
	draw := func() []int64 {
		v, _ := newTestVM(t)
		out := make([]int64, 20)
		for i := range out {
			d, err := v.Call(context.Background(), "random", Int(6))
			if err != nil {
				t.Fatal(err)
			}
			out[i] = d.AsInt()
		}
		return out
	}
	a, b := draw(), draw()
	for i := range a {
		if a[i] < 1 || a[i] > 6 {
			t.Errorf("random(6) = %d, out of range", a[i])
		}
		if a[i] != b[i] {
			t.Errorf("draw %d differs between equal seeds: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestBuiltinOutput(t *testing.T) {
	var out bytes.Buffer
	v, _ := newTestVM(t, WithOutput(&out))
	v.Interpreter().FloatPrecision = 1

	calls := []struct {
		name string
		args []Datum
	}{
		{"put", []Datum{Int(1), String("a"), Float(0.26)}},
		{"alert", []Datum{Sym("careful")}},
		{"showLocals", nil},
	}
	for _, c := range calls {
		if _, err := v.Call(context.Background(), c.name, c.args...); err != nil {
			t.Fatalf("%s error: %v", c.name, err)
		}
	}

	v.SetGlobal("gName", String("x"))
	if _, err := v.Call(context.Background(), "showGlobals"); err != nil {
		t.Fatal(err)
	}

	want := "1 a 0.3\nalert: careful\n-- No local variables\n-- Global variables:\ngName = \"x\"\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestBuiltinEntityProperties(t *testing.T) {
	ents := &MapEntities{}
	v, _ := newTestVM(t, WithEntities(ents))
	ctx := context.Background()

	if _, err := v.Call(ctx, "setProp", Sym("Sprite"), Int(2), String("locH"), Int(50)); err != nil {
		t.Fatal(err)
	}
	got, err := v.Call(ctx, "getProp", String("sprite"), Int(2), Sym("LOCH"))
	if err != nil || !got.Equal(Int(50)) {
		t.Errorf("getProp = %v, %v; want 50", got, err)
	}
}

func TestBuiltinTimer(t *testing.T) {
	clock := &ManualClock{}
	v, _ := newTestVM(t, WithClock(clock))
	ctx := context.Background()

	clock.Advance(3 * time.Second)
	if _, err := v.Call(ctx, "startTimer"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second / 2)

	mustRun(t, v, topLevel(func(b *ScriptBuilder) {
		b.EmitThe(OpThePush, b.AddName("timer"), NoEntity)
		assign(b, "elapsed")
	}))
	if e := global(t, v, "elapsed"); !e.Equal(Int(30)) {
		t.Errorf("the timer = %v, want 30 ticks", e)
	}
}

func TestBuiltinParamAndParamCount(t *testing.T) {
	v, _ := newTestVM(t)
	v.Load(handlerScript("lib", map[string]func(*ScriptBuilder){
		"extra": func(b *ScriptBuilder) {
			b.EmitThe(OpThePush, b.AddName("paramCount"), NoEntity)
			b.EmitInt8(OpPushInt8, 3)
			b.EmitCall(b.AddName("param"), 1, true)
			b.EmitUint16(OpMakeArray, 2)
			b.Emit(OpReturn)
		},
	}, map[string][]string{"extra": {"a"}}), 0)

	got, err := v.Call(context.Background(), "extra", Int(1), Int(2), String("third"))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(Array(Int(3), String("third"))) {
		t.Errorf("extra = %v, want [3, \"third\"]", got)
	}
	if !strings.Contains(got.String(), "third") {
		t.Errorf("String() = %q", got.String())
	}
}
