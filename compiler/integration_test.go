package compiler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/lingo/vm"
)

// testLogger records what the VM logs.
type testLogger struct {
	entries []string // "level: kind: message"
}

func (l *testLogger) record(level, msg string, kv []any) {
	kind := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == "kind" {
			kind, _ = kv[i+1].(string)
		}
	}
	l.entries = append(l.entries, level+": "+kind+": "+msg)
}

func (l *testLogger) Critical(msg string, kv ...any) { l.record("critical", msg, kv) }
func (l *testLogger) Error(msg string, kv ...any)    { l.record("error", msg, kv) }
func (l *testLogger) Warning(msg string, kv ...any)  { l.record("warning", msg, kv) }
func (l *testLogger) Debug(msg string, kv ...any)    {}

func (l *testLogger) count(kind vm.ErrorKind) int {
	n := 0
	for _, e := range l.entries {
		if strings.Contains(e, ": "+kind.String()+": ") {
			n++
		}
	}
	return n
}

type harness struct {
	t   *testing.T
	vm  *vm.VM
	out *bytes.Buffer
	log *testLogger
}

func newHarness(t *testing.T, opts ...vm.Option) *harness {
	t.Helper()
	h := &harness{t: t, out: &bytes.Buffer{}, log: &testLogger{}}
	opts = append([]vm.Option{
		vm.WithOutput(h.out),
		vm.WithLogger(h.log),
		vm.WithCompiler(Compile),
		vm.WithSeed(1),
	}, opts...)
	h.vm = vm.New(opts...)
	return h
}

// load compiles src and loads it for target.
func (h *harness) load(src string, target int) *vm.Script {
	h.t.Helper()
	s, err := Compile("script", src)
	if err != nil {
		h.t.Fatalf("compile error: %v", err)
	}
	h.vm.Load(s, target)
	return s
}

// run compiles src as a movie script, loads it and runs its top-level code.
func (h *harness) run(src string) error {
	h.t.Helper()
	s, err := Compile("main", src)
	if err != nil {
		h.t.Fatalf("compile error: %v", err)
	}
	h.vm.Load(s, 0)
	return h.vm.Run(context.Background(), s)
}

func (h *harness) mustRun(src string) {
	h.t.Helper()
	if err := h.run(src); err != nil {
		h.t.Fatalf("run error: %v", err)
	}
}

func (h *harness) global(name string) vm.Datum {
	h.t.Helper()
	v, ok := h.vm.GetGlobal(name)
	if !ok {
		h.t.Fatalf("global %s is not defined", name)
	}
	return v
}

func (h *harness) checkBalanced() {
	h.t.Helper()
	in := h.vm.Interpreter()
	if in.StackDepth() != 0 || in.FrameDepth() != 0 {
		h.t.Errorf("stack depth = %d, frame depth = %d, want 0, 0", in.StackDepth(), in.FrameDepth())
	}
}

func TestRunControlFlow(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want vm.Datum
	}{
		{"repeat with sums", "r = 0\nrepeat with i = 1 to 5\n  r = r + i\nend repeat", vm.Int(15)},
		{"repeat down to", "r = \"\"\nrepeat with i = 3 down to 1\n  r = r & i\nend repeat", vm.String("321")},
		{"repeat with empty range", "r = 0\nrepeat with i = 5 to 1\n  r = r + 1\nend repeat", vm.Int(0)},
		{"while false runs zero times", "r = 0\nrepeat while false\n  r = r + 1\nend repeat", vm.Int(0)},
		{"while counts", "r = 0\nrepeat while r < 7\n  r = r + 2\nend repeat", vm.Int(8)},
		{"next and exit repeat", `r = ""
repeat with i = 1 to 10
  if i mod 2 = 0 then next repeat
  if i > 7 then exit repeat
  r = r & i
end repeat`, vm.String("1357")},
		{"nested loops", `r = 0
repeat with i = 1 to 3
  repeat with j = 1 to 3
    if j > i then exit repeat
    r = r + 1
  end repeat
end repeat`, vm.Int(6)},
		{"if else chain", `x = 2
if x = 1 then
  r = "one"
else if x = 2 then
  r = "two"
else
  r = "many"
end if`, vm.String("two")},
		{"single line if", "x = 0\nif x then r = 1 else r = 2", vm.Int(2)},
		{"loop variable after loop", "repeat with i = 1 to 3\nend repeat\nr = i", vm.Int(4)},
		{"exit stops top level", "r = 1\nexit\nr = 2", vm.Int(1)},
		{"exit inside repeat with", "r = 0\nrepeat with i = 1 to 3\n  r = i\n  exit\nend repeat\nr = 99", vm.Int(1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.mustRun(tc.src)
			if got := h.global("r"); !got.Equal(tc.want) {
				t.Errorf("r = %v, want %v", got, tc.want)
			}
			h.checkBalanced()
		})
	}
}

func TestRunExpressions(t *testing.T) {
	tests := []struct {
		src  string
		want vm.Datum
	}{
		{`r = "3" + 4`, vm.Int(7)},
		{`r = "2.5" * 2`, vm.Float(5)},
		{"r = 7 / 2", vm.Int(3)},
		{"r = 7.0 / 2", vm.Float(3.5)},
		{"r = -7 mod 3", vm.Int(-1)},
		{`r = "abc" & "def"`, vm.String("abcdef")},
		{`r = "abc" && 1`, vm.String("abc 1")},
		{`r = "Hello" contains "ELL"`, vm.Int(1)},
		{`r = "Hello" starts "he"`, vm.Int(1)},
		{`r = "Hello" ends "x"`, vm.Int(0)},
		{`r = "abc" = "ABC"`, vm.Int(1)},
		{`r = "10" = 10.0`, vm.Int(1)},
		{"r = 1 < 2 and 2 < 1", vm.Int(0)},
		{"r = not 0", vm.Int(1)},
		{"r = [1, 2] + [10, 20]", vm.Array(vm.Int(11), vm.Int(22))},
		{"r = [1, 2] * 3", vm.Array(vm.Int(3), vm.Int(6))},
		{"r = [3, 4, 5][2]", vm.Int(4)},
		{"l = [1, 2, 3]\nl[2] = 5\nr = l[2] + l[3]", vm.Int(8)},
		{"r = #Foo = #foo", vm.Int(1)},
		{"r = abs(-3) + max(1, 9, 4)", vm.Int(12)},
		{`r = length("hello")`, vm.Int(5)},
		{"r = count(append([1], 2))", vm.Int(2)},
		{`r = value("2 * 21")`, vm.Int(42)},
		{`do "r = 40 + 2"`, vm.Int(42)},
		{"r = pi > 3", vm.Int(1)},
	}

	for _, tc := range tests {
		h := newHarness(t)
		if err := h.run(tc.src); err != nil {
			t.Errorf("%q: run error: %v", tc.src, err)
			continue
		}
		if got := h.global("r"); !got.Equal(tc.want) {
			t.Errorf("%q: r = %v, want %v", tc.src, got, tc.want)
		}
		h.checkBalanced()
	}
}

func TestRunLargeIntegerLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{"r = 3000000000", 3000000000},
		{"r = 9007199254740993", 9007199254740993},
		{"r = -9007199254740993", -9007199254740993},
		{"r = 9223372036854775807", 9223372036854775807},
		{"r = 2147483647 + 1", 2147483648},
	}
	for _, tc := range tests {
		h := newHarness(t)
		h.mustRun(tc.src)
		got := h.global("r")
		if got.Kind() != vm.KindInteger || got.AsInt() != tc.want {
			t.Errorf("%q: r = %v (%v), want integer %d", tc.src, got, got.Kind(), tc.want)
		}
	}
}

func TestRunCoercionWarningYieldsVoid(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`r = "abc" + 4
done = 1`)
	if got := h.global("r"); !got.IsVoid() {
		t.Errorf("r = %v, want void", got)
	}
	if got := h.global("done"); !got.Equal(vm.Int(1)) {
		t.Errorf("execution did not continue after the warning")
	}
	if n := h.log.count(vm.TypeCoercionWarning); n != 1 {
		t.Errorf("coercion warnings = %d, want 1: %v", n, h.log.entries)
	}
}

func TestRunPutForms(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`s = "b"
put "a" before s
put "c" after s
put s into r
put r && 1.5`)
	if got := h.global("r"); !got.Equal(vm.String("abc")) {
		t.Errorf("r = %v, want \"abc\"", got)
	}
	if got, want := h.out.String(), "abc 1.5000\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunFloatPrecision(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`set the floatPrecision to 2
put 1.0 / 3
r = the floatPrecision`)
	if got, want := h.out.String(), "0.33\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if got := h.global("r"); !got.Equal(vm.Int(2)) {
		t.Errorf("the floatPrecision = %v, want 2", got)
	}
}

func TestHandlerCalls(t *testing.T) {
	h := newHarness(t)
	h.load(`on add a, b
  return a + b
end

on second a, b
  return b
end

on fact n
  if n <= 1 then return 1
  return n * fact(n - 1)
end

on count3 a, b, c
  return the paramCount
end

on noResult
  x = 1
end`, 0)

	ctx := context.Background()
	tests := []struct {
		name string
		args []vm.Datum
		want vm.Datum
	}{
		{"add", []vm.Datum{vm.Int(2), vm.Int(3)}, vm.Int(5)},
		{"ADD", []vm.Datum{vm.String("2"), vm.Int(3)}, vm.Int(5)},
		{"second", []vm.Datum{vm.Int(1)}, vm.Void},
		{"fact", []vm.Datum{vm.Int(10)}, vm.Int(3628800)},
		{"count3", []vm.Datum{vm.Int(1), vm.Int(2)}, vm.Int(2)},
		{"noResult", nil, vm.Void},
		{"abs", []vm.Datum{vm.Int(-4)}, vm.Int(4)},
	}
	for _, tc := range tests {
		got, err := h.vm.Call(ctx, tc.name, tc.args...)
		if err != nil {
			t.Errorf("Call(%s) error: %v", tc.name, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("Call(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
	h.checkBalanced()
}

func TestHandlerCallsFromTopLevel(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`on double x
  return x * 2
end

r = double(double(3))
double 5`)
	if got := h.global("r"); !got.Equal(vm.Int(12)) {
		t.Errorf("r = %v, want 12", got)
	}
	h.checkBalanced()
}

func TestScopeRules(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`g = 1
shadow = 1

on writesLocal
  shadow = 99
  return shadow
end

on writesGlobal
  global g
  g = g + 10
end

on readsGlobal
  return shadow
end`)

	ctx := context.Background()
	if got, _ := h.vm.Call(ctx, "writesLocal"); !got.Equal(vm.Int(99)) {
		t.Errorf("writesLocal() = %v, want 99", got)
	}
	if got := h.global("shadow"); !got.Equal(vm.Int(1)) {
		t.Errorf("shadow = %v after local write, want 1", got)
	}
	if _, err := h.vm.Call(ctx, "writesGlobal"); err != nil {
		t.Fatalf("writesGlobal error: %v", err)
	}
	if got := h.global("g"); !got.Equal(vm.Int(11)) {
		t.Errorf("g = %v, want 11", got)
	}
	if got, _ := h.vm.Call(ctx, "readsGlobal"); !got.Equal(vm.Int(1)) {
		t.Errorf("readsGlobal() = %v, want 1", got)
	}
}

func TestDoInsideHandlerRunsAtTopLevel(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`on setGlobal
  do "r = 42"
  put r
end

on keepLocal
  n = 7
  do "n = 99"
  return n
end`)

	ctx := context.Background()
	if _, err := h.vm.Call(ctx, "setGlobal"); err != nil {
		t.Fatalf("setGlobal error: %v", err)
	}
	if got, ok := h.vm.GetGlobal("r"); !ok || !got.Equal(vm.Int(42)) {
		t.Errorf("r = %v (defined %v), want global 42", got, ok)
	}
	if got := h.out.String(); got != "42\n" {
		t.Errorf("output = %q, want 42", got)
	}

	got, err := h.vm.Call(ctx, "keepLocal")
	if err != nil || !got.Equal(vm.Int(7)) {
		t.Errorf("keepLocal() = %v, %v; want the untouched local 7", got, err)
	}
	if got := h.global("n"); !got.Equal(vm.Int(99)) {
		t.Errorf("n = %v, want global 99", got)
	}
	h.checkBalanced()
}

func TestUnitLevelGlobalDeclaration(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`global gHits

on hit
  gHits = gHits + 1
end

gHits = 0
hit
hit`)
	if got := h.global("gHits"); !got.Equal(vm.Int(2)) {
		t.Errorf("gHits = %v, want 2", got)
	}
}

func TestErrorContainment(t *testing.T) {
	h := newHarness(t)
	err := h.run(`on deep n
  if n = 0 then return missing()
  return deep(n - 1)
end

started = 1
r = deep(5)
finished = 1`)

	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("run error = %v, want *vm.RuntimeError", err)
	}
	if re.Kind != vm.UnboundReference {
		t.Errorf("kind = %v, want %v", re.Kind, vm.UnboundReference)
	}
	if re.Handler != "deep" || re.Line != 2 {
		t.Errorf("error at %s:%d, want deep:2", re.Handler, re.Line)
	}
	if _, ok := h.vm.GetGlobal("finished"); ok {
		t.Errorf("execution continued past a fatal error")
	}
	h.checkBalanced()
	if n := h.log.count(vm.UnboundReference); n != 1 {
		t.Errorf("logged %d unbound reference errors, want 1", n)
	}

	// The VM stays usable.
	h.mustRun("r = 5")
	if got := h.global("r"); !got.Equal(vm.Int(5)) {
		t.Errorf("r = %v, want 5", got)
	}
}

func TestRuntimeErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		src  string
		opts []vm.Option
		kind vm.ErrorKind
	}{
		{"unbound variable", "r = nope + 1", nil, vm.UnboundReference},
		{"unbound handler", "nope 1", nil, vm.UnboundReference},
		{"index out of range", "l = [1]\nr = l[2]", nil, vm.IndexOutOfRange},
		{"index assignment out of range", "l = [1]\nl[0] = 2", nil, vm.IndexOutOfRange},
		{"builtin arity", "r = abs(1, 2)", nil, vm.ArityError},
		{"recursion", "on r n\n  return r(n + 1)\nend\nx = r(1)", nil, vm.StackDiscipline},
		{"step limit", "repeat while true\nend repeat", []vm.Option{vm.WithMaxSteps(5000)}, vm.StepLimit},
		{"entity without accessor", "r = the locH of sprite 1", nil, vm.UnboundReference},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts...)
			err := h.run(tc.src)
			if kind, ok := vm.KindOf(err); !ok || kind != tc.kind {
				t.Errorf("error = %v, want kind %v", err, tc.kind)
			}
			h.checkBalanced()
		})
	}
}

func TestCancellation(t *testing.T) {
	h := newHarness(t)
	s := h.load("repeat while true\nend repeat", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.vm.Run(ctx, s)
	if kind, ok := vm.KindOf(err); !ok || kind != vm.Canceled {
		t.Errorf("error = %v, want kind %v", err, vm.Canceled)
	}
	h.checkBalanced()
}

func TestEntityProperties(t *testing.T) {
	entities := &vm.MapEntities{}
	h := newHarness(t, vm.WithEntities(entities))
	h.mustRun(`set the locH of sprite 1 to 10
set the locH of sprite 2 to 20
r = the locH of sprite 1 + the locH of sprite (1 + 1)
setProp(#member, 3, #name, "logo")
n = getProp(#member, 3, #name)`)
	if got := h.global("r"); !got.Equal(vm.Int(30)) {
		t.Errorf("r = %v, want 30", got)
	}
	if got := h.global("n"); !got.Equal(vm.String("logo")) {
		t.Errorf("n = %v, want \"logo\"", got)
	}
	v, _ := entities.GetProperty("sprite", vm.Int(2), "loch")
	if !v.Equal(vm.Int(20)) {
		t.Errorf("sprite 2 locH = %v, want 20", v)
	}
}

func TestSpriteGeometry(t *testing.T) {
	entities := &vm.MapEntities{}
	h := newHarness(t, vm.WithEntities(entities))
	h.mustRun(`on place n, l, tp, r, b
  set the left of sprite n to l
  set the top of sprite n to tp
  set the right of sprite n to r
  set the bottom of sprite n to b
end

place(1, 0, 0, 100, 100)
place(2, 50, 50, 150, 150)
place(3, 10, 10, 20, 20)
place(4, 100, 0, 200, 100)
a = 1 intersects 2
b = 2 intersects 1
c = 3 intersects 2
d = 1 intersects 4
e = 3 within 1
f = 2 within 1
g = 1 within 1`)

	tests := []struct {
		name string
		want int64
	}{
		{"a", 1}, // overlapping
		{"b", 1},
		{"c", 0}, // disjoint
		{"d", 0}, // edges touch
		{"e", 1},
		{"f", 0},
		{"g", 1},
	}
	for _, tc := range tests {
		if got := h.global(tc.name); !got.Equal(vm.Int(tc.want)) {
			t.Errorf("%s = %v, want %d", tc.name, got, tc.want)
		}
	}
	h.checkBalanced()
}

func TestTimerFields(t *testing.T) {
	clock := &vm.ManualClock{}
	h := newHarness(t, vm.WithClock(clock))
	clock.Advance(2_000_000_000) // 2s
	h.mustRun("t1 = the ticks\nm = the milliseconds\nstartTimer")
	clock.Advance(500_000_000)
	h.mustRun("t2 = the timer")
	if got := h.global("t1"); !got.Equal(vm.Int(120)) {
		t.Errorf("the ticks = %v, want 120", got)
	}
	if got := h.global("m"); !got.Equal(vm.Int(2000)) {
		t.Errorf("the milliseconds = %v, want 2000", got)
	}
	if got := h.global("t2"); !got.Equal(vm.Int(30)) {
		t.Errorf("the timer = %v, want 30", got)
	}
}

func TestDispatchPrecedence(t *testing.T) {
	const movie = `on mouseUp
  put "movie"
end
on keyDown k
  put "key" && k
end`

	tests := []struct {
		name   string
		sprite string
		event  vm.Event
		want   string
	}{
		{"movie only", "", vm.Event{Kind: vm.EventMouseUp}, "movie\n"},
		{"sprite stops propagation", "on mouseUp\n  put \"sprite\"\nend", vm.Event{Kind: vm.EventMouseUp, Target: 1}, "sprite\n"},
		{"pass reaches movie", "on mouseUp\n  put \"sprite\"\n  pass\nend", vm.Event{Kind: vm.EventMouseUp, Target: 1}, "sprite\nmovie\n"},
		{"dontPassEvent cancels pass", "on mouseUp\n  pass\n  dontPassEvent\nend", vm.Event{Kind: vm.EventMouseUp, Target: 1}, ""},
		{"sprite without handler falls back", "on other\nend", vm.Event{Kind: vm.EventMouseUp, Target: 1}, "movie\n"},
		{"key argument", "", vm.Event{Kind: vm.EventKeyDown, Key: 65}, "key 65\n"},
		{"unhandled event ignored", "", vm.Event{Kind: vm.EventIdle}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.load(movie, 0)
			if tc.sprite != "" {
				h.load(tc.sprite, 1)
			}
			if err := h.vm.Dispatch(context.Background(), tc.event); err != nil {
				t.Fatalf("Dispatch error: %v", err)
			}
			if got := h.out.String(); got != tc.want {
				t.Errorf("output = %q, want %q", got, tc.want)
			}
			h.checkBalanced()
		})
	}
}

func TestDispatchErrorDoesNotStopLaterEvents(t *testing.T) {
	h := newHarness(t)
	h.load(`on mouseDown
  boom
end
on mouseUp
  put "up"
end`, 0)
	ctx := context.Background()
	if err := h.vm.Dispatch(ctx, vm.Event{Kind: vm.EventMouseDown}); err == nil {
		t.Errorf("Dispatch(mouseDown) succeeded, want error")
	}
	if err := h.vm.Dispatch(ctx, vm.Event{Kind: vm.EventMouseUp}); err != nil {
		t.Errorf("Dispatch(mouseUp) error: %v", err)
	}
	if got := h.out.String(); got != "up\n" {
		t.Errorf("output = %q, want %q", got, "up\n")
	}
	if st := h.vm.Dispatcher().State(); st != vm.StateIdle {
		t.Errorf("state = %v, want %v", st, vm.StateIdle)
	}
}

func TestReentrantDispatch(t *testing.T) {
	for _, policy := range []vm.Reentrancy{vm.ReentrancyDrop, vm.ReentrancyQueue} {
		t.Run(policy.String(), func(t *testing.T) {
			h := newHarness(t, vm.WithReentrancy(policy))
			h.vm.RegisterBuiltin("raise", vm.Fixed(0), func(c *vm.Call, args []vm.Datum) (vm.Datum, error) {
				return vm.Void, c.VM.Dispatch(c.Context(), vm.Event{Kind: vm.EventMouseUp})
			})
			h.load(`on mouseDown
  raise
  put "down"
end
on mouseUp
  put "up"
end`, 0)
			if err := h.vm.Dispatch(context.Background(), vm.Event{Kind: vm.EventMouseDown}); err != nil {
				t.Fatalf("Dispatch error: %v", err)
			}
			want := "down\n"
			dropped := 1
			if policy == vm.ReentrancyQueue {
				want = "down\nup\n"
				dropped = 0
			}
			if got := h.out.String(); got != want {
				t.Errorf("output = %q, want %q", got, want)
			}
			if got := h.vm.Dispatcher().Dropped(); got != dropped {
				t.Errorf("Dropped() = %d, want %d", got, dropped)
			}
		})
	}
}

func TestHandlerRedefinitionLaterWins(t *testing.T) {
	h := newHarness(t)
	a, _ := Compile("a", "on greet\n  return 1\nend")
	b, _ := Compile("b", "on greet\n  return 2\nend")
	h.vm.Load(a, 0)
	h.vm.Load(b, 0)
	got, err := h.vm.Call(context.Background(), "greet")
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if !got.Equal(vm.Int(2)) {
		t.Errorf("greet() = %v, want 2", got)
	}
	warned := false
	for _, e := range h.log.entries {
		if strings.Contains(e, "handler redefined") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("no redefinition warning in %v", h.log.entries)
	}
}

func TestShowGlobals(t *testing.T) {
	h := newHarness(t)
	h.mustRun(`b = "two"
a = 1
showGlobals`)
	want := "-- Global variables:\na = 1\nb = \"two\"\n"
	if got := h.out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
