package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// recordingLogger keeps every entry as "level: kind: message".
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string, kv []any) {
	kind := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == "kind" {
			kind = fmt.Sprint(kv[i+1])
		}
	}
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+kind+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Critical(msg string, kv ...any) { l.add("critical", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any)    { l.add("error", msg, kv) }
func (l *recordingLogger) Warning(msg string, kv ...any)  { l.add("warning", msg, kv) }
func (l *recordingLogger) Debug(msg string, kv ...any)    { l.add("debug", msg, kv) }

func (l *recordingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}

func newTestVM(t *testing.T, opts ...Option) (*VM, *recordingLogger) {
	t.Helper()
	log := &recordingLogger{}
	return New(append([]Option{WithLogger(log), WithSeed(7)}, opts...)...), log
}

// handlerScript builds a script with no top-level code and one handler
// per entry of bodies, each emitted by its function.
func handlerScript(name string, bodies map[string]func(b *ScriptBuilder), params map[string][]string) *Script {
	b := NewScriptBuilder(name)
	b.Emit(OpStop)
	for _, hn := range slices.Sorted(maps.Keys(bodies)) {
		h := b.BeginHandler(hn, params[hn], 1)
		b.MarkLine(1)
		bodies[hn](b)
		b.EndHandler(h)
	}
	return b.Build()
}

// ---------------------------------------------------------------------------
// VM facade tests
// ---------------------------------------------------------------------------

func TestNewVMDefaults(t *testing.T) {
	v := New()
	if v.Interpreter().FloatPrecision != DefaultFloatPrecision {
		t.Errorf("FloatPrecision = %d, want %d", v.Interpreter().FloatPrecision, DefaultFloatPrecision)
	}
	if v.Dispatcher().State() != StateIdle {
		t.Errorf("State = %v, want idle", v.Dispatcher().State())
	}
	if _, ok := v.Builtins().Lookup("ABS"); !ok {
		t.Error("standard builtin abs not registered")
	}
	if _, err := v.Compile("x", "put 1"); !errors.Is(err, ErrNoCompiler) {
		t.Errorf("Compile error = %v, want ErrNoCompiler", err)
	}
}

func TestVMOptions(t *testing.T) {
	v := New(WithFloatPrecision(2), WithMaxSteps(50), WithReentrancy(ReentrancyQueue))
	if v.Interpreter().FloatPrecision != 2 {
		t.Errorf("FloatPrecision = %d, want 2", v.Interpreter().FloatPrecision)
	}
	if v.Interpreter().MaxSteps != 50 {
		t.Errorf("MaxSteps = %d, want 50", v.Interpreter().MaxSteps)
	}
	if v.Dispatcher().policy != ReentrancyQueue {
		t.Errorf("policy = %v, want queue", v.Dispatcher().policy)
	}
}

func TestVMGlobals(t *testing.T) {
	v, _ := newTestVM(t)

	list := Array(Int(1), Int(2))
	v.SetGlobal("Score", list)
	list.arr[0] = Int(99)

	got, ok := v.GetGlobal("score")
	if !ok {
		t.Fatal("GetGlobal(score) not found")
	}
	if !got.Equal(Array(Int(1), Int(2))) {
		t.Errorf("GetGlobal(score) = %v, want [1, 2]", got)
	}

	got.arr[1] = Int(42)
	again, _ := v.GetGlobal("SCORE")
	if !again.Equal(Array(Int(1), Int(2))) {
		t.Errorf("global changed through returned copy: %v", again)
	}

	v.SetGlobal("apple", Int(1))
	names := v.GlobalNames()
	if strings.Join(names, ",") != "Score,apple" {
		t.Errorf("GlobalNames = %v", names)
	}

	v.ResetGlobals()
	if len(v.GlobalNames()) != 0 {
		t.Errorf("GlobalNames after reset = %v, want none", v.GlobalNames())
	}
}

func TestVMLoadReplacesMovieScriptByName(t *testing.T) {
	v, log := newTestVM(t)
	ret := func(n int8) func(b *ScriptBuilder) {
		return func(b *ScriptBuilder) {
			b.EmitInt8(OpPushInt8, n)
			b.Emit(OpReturn)
		}
	}

	v.Load(handlerScript("a", map[string]func(*ScriptBuilder){"f": ret(1)}, nil), 0)
	v.Load(handlerScript("b", map[string]func(*ScriptBuilder){"f": ret(2), "g": ret(3)}, nil), 0)

	got, err := v.Call(context.Background(), "F")
	if err != nil || !got.Equal(Int(2)) {
		t.Errorf("f() = %v, %v; want 2", got, err)
	}
	if log.count("handler redefined") != 1 {
		t.Errorf("redefinition warnings = %d, want 1", log.count("handler redefined"))
	}

	// Reloading a replaces the earlier copy and now wins.
	v.Load(handlerScript("A", map[string]func(*ScriptBuilder){"f": ret(4)}, nil), 0)
	if n := len(v.MovieScripts()); n != 2 {
		t.Errorf("MovieScripts = %d, want 2", n)
	}
	got, _ = v.Call(context.Background(), "f")
	if !got.Equal(Int(4)) {
		t.Errorf("f() after reload = %v, want 4", got)
	}
	if strings.Join(v.HandlerNames(), ",") != "f,g" {
		t.Errorf("HandlerNames = %v, want [f g]", v.HandlerNames())
	}

	v.Unload(0)
	if len(v.HandlerNames()) != 0 || len(v.MovieScripts()) != 0 {
		t.Errorf("Unload(0) left %v", v.HandlerNames())
	}
}

func TestVMEntityScripts(t *testing.T) {
	v, _ := newTestVM(t)
	s := handlerScript("sprite", map[string]func(*ScriptBuilder){"mouseUp": func(b *ScriptBuilder) { b.Emit(OpReturnVoid) }}, nil)
	v.Load(s, 5)
	if got, ok := v.EntityScript(5); !ok || got != s {
		t.Errorf("EntityScript(5) = %v, %v", got, ok)
	}
	if len(v.HandlerNames()) != 0 {
		t.Errorf("entity handlers leaked into movie handlers: %v", v.HandlerNames())
	}
	v.Unload(5)
	if _, ok := v.EntityScript(5); ok {
		t.Error("EntityScript(5) still loaded after Unload")
	}
}

func TestVMCallUnknown(t *testing.T) {
	v, log := newTestVM(t)
	_, err := v.Call(context.Background(), "nowhere")
	if kind, ok := KindOf(err); !ok || kind != UnboundReference {
		t.Errorf("Call(nowhere) error = %v, want UnboundReference", err)
	}
	if log.count("UnboundReferenceError") != 1 {
		t.Errorf("log entries = %v", log.entries)
	}
}

func TestVMRegisterBuiltin(t *testing.T) {
	var out bytes.Buffer
	v, _ := newTestVM(t, WithOutput(&out))
	v.RegisterBuiltin("Shout", Fixed(1), func(c *Call, args []Datum) (Datum, error) {
		fmt.Fprint(c.Output(), strings.ToUpper(c.ToString(args[0])))
		return Int(1), nil
	})

	got, err := v.Call(context.Background(), "shout", String("hey"))
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if !got.Equal(Int(1)) || out.String() != "HEY" {
		t.Errorf("shout = %v, output %q", got, out.String())
	}

	if _, err := v.Call(context.Background(), "shout"); err == nil {
		t.Error("shout() with no arguments succeeded, want arity error")
	} else if kind, _ := KindOf(err); kind != ArityError {
		t.Errorf("shout() kind = %v, want ArityError", kind)
	}
}
