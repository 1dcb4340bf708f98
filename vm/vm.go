package vm

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// VM: The Lingo script environment
// ---------------------------------------------------------------------------

// CompileFunc turns source text into a Script. The compiler package
// provides one; the VM takes it as a dependency so that do and value
// can compile at run time without an import cycle.
type CompileFunc func(name, source string) (*Script, error)

// VM holds the loaded program: global variables, movie scripts, entity
// scripts, builtins and the interpreter that runs them. A VM is not safe
// for concurrent use; hosts with several goroutines must serialize calls
// (see server.VMWorker).
type VM struct {
	globals  *SymbolTable
	handlers *SymbolTable // movie handlers by name
	builtins *Registry

	movie         []*Script // load order; later scripts win
	entityScripts map[int]*Script

	interp     *Interpreter
	dispatcher *Dispatcher

	log        Logger
	entities   EntityAccessor
	clock      Clock
	out        io.Writer
	compile    CompileFunc
	rng        *rand.Rand
	timerStart int64 // ticks at the last timer reset
}

// Option configures a VM.
type Option func(*VM)

// WithLogger sets the sink for warnings and errors.
func WithLogger(l Logger) Option { return func(vm *VM) { vm.log = l } }

// WithEntities sets the accessor used by "the ... of ..." and
// getProp/setProp.
func WithEntities(a EntityAccessor) Option { return func(vm *VM) { vm.entities = a } }

// WithClock sets the time source for ticks, milliseconds and the timer.
func WithClock(c Clock) Option { return func(vm *VM) { vm.clock = c } }

// WithOutput sets where put and the show builtins write.
func WithOutput(w io.Writer) Option { return func(vm *VM) { vm.out = w } }

// WithFloatPrecision sets the initial float precision.
func WithFloatPrecision(p int) Option {
	return func(vm *VM) { vm.interp.FloatPrecision = p }
}

// WithReentrancy sets the policy for events delivered during a dispatch.
func WithReentrancy(r Reentrancy) Option {
	return func(vm *VM) { vm.dispatcher.policy = r }
}

// WithMaxSteps bounds the instructions per top-level invocation.
func WithMaxSteps(n int64) Option { return func(vm *VM) { vm.interp.MaxSteps = n } }

// WithCompiler installs the compiler used by Compile, do and value.
func WithCompiler(fn CompileFunc) Option { return func(vm *VM) { vm.compile = fn } }

// WithSeed makes random reproducible.
func WithSeed(seed uint64) Option {
	return func(vm *VM) { vm.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// New creates a VM with the standard builtins registered.
func New(opts ...Option) *VM {
	vm := &VM{
		globals:       NewSymbolTable(ScopeGlobal),
		handlers:      NewSymbolTable(ScopeGlobal),
		builtins:      NewStandardRegistry(),
		entityScripts: make(map[int]*Script),
		log:           DefaultLogger(),
		clock:         wallClock{start: time.Now()},
		out:           io.Discard,
		rng:           rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	vm.interp = newInterpreter(vm)
	vm.dispatcher = newDispatcher(vm, ReentrancyDrop)

	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Interpreter returns the VM's interpreter.
func (vm *VM) Interpreter() *Interpreter { return vm.interp }

// Dispatcher returns the VM's event dispatcher.
func (vm *VM) Dispatcher() *Dispatcher { return vm.dispatcher }

// Builtins returns the builtin registry.
func (vm *VM) Builtins() *Registry { return vm.builtins }

// ---------------------------------------------------------------------------
// Compiling and loading
// ---------------------------------------------------------------------------

// ErrNoCompiler is returned by Compile when no compiler was installed.
var ErrNoCompiler = errors.New("vm: no compiler configured")

// Compile compiles source with the installed compiler.
func (vm *VM) Compile(name, source string) (*Script, error) {
	if vm.compile == nil {
		return nil, ErrNoCompiler
	}
	return vm.compile(name, source)
}

// Load registers s. With target 0 it becomes a movie script whose
// handlers are visible to every script and receive every event; a movie
// script with the same name is replaced. With a non-zero target it
// becomes the script of that entity, replacing any previous one.
func (vm *VM) Load(s *Script, target int) {
	if target != 0 {
		vm.entityScripts[target] = s
		return
	}
	for i, m := range vm.movie {
		if FoldName(m.Name) == FoldName(s.Name) {
			vm.movie = append(vm.movie[:i], vm.movie[i+1:]...)
			break
		}
	}
	vm.movie = append(vm.movie, s)
	vm.rebuildHandlers(s)
}

// Unload removes the script of target, or every movie script when
// target is 0.
func (vm *VM) Unload(target int) {
	if target != 0 {
		delete(vm.entityScripts, target)
		return
	}
	vm.movie = nil
	vm.handlers.Clear()
}

// EntityScript returns the script loaded for target.
func (vm *VM) EntityScript(target int) (*Script, bool) {
	s, ok := vm.entityScripts[target]
	return s, ok
}

// MovieScripts returns the loaded movie scripts in load order.
func (vm *VM) MovieScripts() []*Script {
	return append([]*Script(nil), vm.movie...)
}

func (vm *VM) rebuildHandlers(added *Script) {
	vm.handlers.Clear()
	for _, s := range vm.movie {
		for _, h := range s.Handlers {
			if prev, ok := vm.handlers.Lookup(h.Name); ok && s == added {
				vm.log.Warning("handler redefined",
					"handler", h.Name, "script", s.Name, "previous", prev.Handler.Script.Name)
			}
			vm.handlers.Define(&Symbol{
				Name:    h.Name,
				Kind:    SymHandler,
				Handler: &HandlerRef{Script: s, Info: h},
			})
		}
	}
}

func (vm *VM) movieHandler(name string) (*HandlerRef, bool) {
	sym, ok := vm.handlers.Lookup(name)
	if !ok {
		return nil, false
	}
	return sym.Handler, true
}

// HandlerNames returns the names of all movie handlers, sorted.
func (vm *VM) HandlerNames() []string { return vm.handlers.Names() }

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Run executes the top-level statements of s. Top-level code reads and
// writes global variables.
func (vm *VM) Run(ctx context.Context, s *Script) error {
	return vm.interp.runTopLevel(ctx, s)
}

// Call invokes the movie handler or builtin called name and returns its
// result.
func (vm *VM) Call(ctx context.Context, name string, args ...Datum) (Datum, error) {
	if ref, ok := vm.movieHandler(name); ok {
		return vm.interp.callHandler(ctx, ref, args)
	}
	if b, ok := vm.builtins.Lookup(name); ok {
		var result Datum
		err := vm.interp.execute(ctx, func() {
			result = vm.interp.invokeBuiltin(b, args)
		})
		return result, err
	}
	err := newError(UnboundReference, "handler %s is not defined", name)
	logRuntimeError(vm.log, err)
	return Void, err
}

// Dispatch delivers ev to the matching handler. It returns the fatal
// error that aborted the cycle, if any; the VM remains usable.
func (vm *VM) Dispatch(ctx context.Context, ev Event) error {
	return vm.dispatcher.Dispatch(ctx, ev)
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// GetGlobal returns a copy of the global variable name.
func (vm *VM) GetGlobal(name string) (Datum, bool) {
	return vm.globals.Get(name)
}

// SetGlobal stores a copy of v in the global variable name.
func (vm *VM) SetGlobal(name string, v Datum) {
	vm.globals.Set(name, v)
}

// GlobalNames returns the names of all global variables, sorted.
func (vm *VM) GlobalNames() []string {
	names := vm.globals.Names()
	sort.Strings(names)
	return names
}

// ResetGlobals clears the global scope.
func (vm *VM) ResetGlobals() {
	vm.globals.Clear()
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// RegisterBuiltin exposes fn to scripts as name.
func (vm *VM) RegisterBuiltin(name string, arity Arity, fn BuiltinFunc) {
	vm.builtins.Register(&Builtin{Name: name, Arity: arity, Fn: fn})
}
