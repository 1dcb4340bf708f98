package vm

import (
	"context"
	"errors"
	"fmt"
)

// MaxCallDepth bounds handler recursion.
const MaxCallDepth = 1024

// ---------------------------------------------------------------------------
// CallFrame: Execution state for a handler invocation
// ---------------------------------------------------------------------------

// CallFrame is the activation record of one running handler.
type CallFrame struct {
	Handler      *HandlerInfo
	Script       *Script // script containing the handler body
	ReturnPC     int
	ReturnScript *Script
	Locals       *SymbolTable
	Args         []Datum // actual arguments, for param() and the paramCount
	BP           int     // operand stack depth when the frame was pushed
	WantResult   bool    // push the return value onto the caller's stack
}

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes compiled scripts. It is owned by a VM and is not
// safe for concurrent use.
type Interpreter struct {
	vm *VM

	// Execution state
	stack  []Datum
	frames []*CallFrame
	script *Script
	pc     int
	ctx    context.Context
	depth  int // nesting of execute calls

	// Frames and operand stack entries below these marks belong to a
	// caller of the running top-level code and are not visible to it.
	topFrames int
	topStack  int

	// FloatPrecision is the number of fractional digits used when a
	// Float becomes a String.
	FloatPrecision int

	// MaxSteps bounds the instructions run per top-level invocation.
	// Zero means unlimited.
	MaxSteps int64
	steps    int64

	result Datum // value of the last handler return
	passed bool  // set by the pass builtin during dispatch
}

func newInterpreter(vm *VM) *Interpreter {
	return &Interpreter{
		vm:             vm,
		stack:          make([]Datum, 0, 64),
		frames:         make([]*CallFrame, 0, 16),
		FloatPrecision: DefaultFloatPrecision,
	}
}

// StackDepth returns the number of values on the operand stack.
func (in *Interpreter) StackDepth() int { return len(in.stack) }

// FrameDepth returns the number of active call frames.
func (in *Interpreter) FrameDepth() int { return len(in.frames) }

// Result returns the value of the most recent handler return.
func (in *Interpreter) Result() Datum { return in.result }

// frame returns the running handler's frame, or nil while top-level code
// runs, even when that code was started by do from inside a handler.
func (in *Interpreter) frame() *CallFrame {
	if len(in.frames) <= in.topFrames {
		return nil
	}
	return in.frames[len(in.frames)-1]
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (in *Interpreter) push(v Datum) {
	in.stack = append(in.stack, v)
}

func (in *Interpreter) pop() Datum {
	n := len(in.stack)
	floor := in.topStack
	if f := in.frame(); f != nil {
		floor = f.BP
	}
	if n <= floor {
		panic(newError(StackDiscipline, "operand stack underflow"))
	}
	v := in.stack[n-1]
	in.stack = in.stack[:n-1]
	return v
}

func (in *Interpreter) popN(n int) []Datum {
	out := make([]Datum, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = in.pop()
	}
	return out
}

func (in *Interpreter) top() Datum {
	n := len(in.stack)
	if n == 0 {
		panic(newError(StackDiscipline, "operand stack underflow"))
	}
	return in.stack[n-1]
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// execute runs body inside the error boundary. Fatal errors unwind the
// operand and frame stacks to their state on entry and are returned;
// the outermost boundary also logs them. The caller's script and pc are
// always restored so nested executions (do, value) resume the outer
// instruction stream.
func (in *Interpreter) execute(ctx context.Context, body func()) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stackDepth, frameDepth := len(in.stack), len(in.frames)
	savedScript, savedPC, savedCtx := in.script, in.pc, in.ctx
	if in.depth == 0 {
		in.steps = 0
	}
	in.depth++
	in.ctx = ctx

	defer func() {
		in.depth--
		if r := recover(); r != nil {
			re := in.annotate(asRuntimeError(r))
			in.stack = in.stack[:stackDepth]
			clear(in.frames[frameDepth:])
			in.frames = in.frames[:frameDepth]
			if in.depth == 0 {
				logRuntimeError(in.vm.log, re)
			}
			err = re
		}
		in.script, in.pc, in.ctx = savedScript, savedPC, savedCtx
	}()

	body()
	return nil
}

func asRuntimeError(r any) *RuntimeError {
	switch e := r.(type) {
	case *RuntimeError:
		return e
	case error:
		return &RuntimeError{Kind: StackDiscipline, Msg: e.Error()}
	default:
		return &RuntimeError{Kind: StackDiscipline, Msg: fmt.Sprint(r)}
	}
}

// annotate fills in the handler and line active at the current pc.
func (in *Interpreter) annotate(e *RuntimeError) *RuntimeError {
	if e.Handler == "" {
		if f := in.frame(); f != nil {
			e.Handler = f.Handler.Name
		}
	}
	if e.Line == 0 && in.script != nil && in.pc > 0 {
		e.Line = in.script.LineAt(in.pc - 1)
	}
	return e
}

// warn logs a non-fatal error.
func (in *Interpreter) warn(e *RuntimeError) {
	logRuntimeError(in.vm.log, in.annotate(e))
}

// runTopLevel executes the top-level statements of s.
func (in *Interpreter) runTopLevel(ctx context.Context, s *Script) error {
	return in.execute(ctx, func() {
		depth := len(in.stack)
		savedFrames, savedStack := in.topFrames, in.topStack
		in.topFrames, in.topStack = len(in.frames), depth
		defer func() { in.topFrames, in.topStack = savedFrames, savedStack }()

		in.script = s
		in.pc = 0
		in.run(len(in.frames), false)
		// exit inside repeat with leaves the loop limit behind.
		in.stack = in.stack[:depth]
	})
}

// runNested executes the top-level statements of s from inside a
// running handler. Like any top-level code it reads and writes globals;
// the caller's locals are not visible.
func (in *Interpreter) runNested(s *Script) error {
	return in.runTopLevel(in.ctx, s)
}

// callHandler invokes ref with args and returns its result.
func (in *Interpreter) callHandler(ctx context.Context, ref *HandlerRef, args []Datum) (Datum, error) {
	var result Datum
	err := in.execute(ctx, func() {
		base := len(in.frames)
		in.pushFrame(ref, args, true)
		in.run(base, true)
		result = in.pop()
	})
	return result, err
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

func (in *Interpreter) pushFrame(ref *HandlerRef, args []Datum, wantResult bool) {
	if len(in.frames) >= MaxCallDepth {
		panic(newError(StackDiscipline, "call stack overflow calling %s", ref.Info.Name))
	}
	f := &CallFrame{
		Handler:      ref.Info,
		Script:       ref.Script,
		ReturnPC:     in.pc,
		ReturnScript: in.script,
		Locals:       NewSymbolTable(ScopeLocal),
		Args:         args,
		BP:           len(in.stack),
		WantResult:   wantResult,
	}
	for i, p := range ref.Info.Params {
		v := Void
		if i < len(args) {
			v = args[i]
		}
		f.Locals.Set(p, v)
	}
	in.frames = append(in.frames, f)
	in.script = ref.Script
	in.pc = ref.Info.Offset
}

func (in *Interpreter) returnFrom(v Datum, base int) {
	if len(in.frames) <= base {
		panic(newError(StackDiscipline, "return with no active handler"))
	}
	f := in.frames[len(in.frames)-1]
	in.frames[len(in.frames)-1] = nil
	in.frames = in.frames[:len(in.frames)-1]
	in.stack = in.stack[:f.BP]
	in.script = f.ReturnScript
	in.pc = f.ReturnPC
	in.result = v
	if f.WantResult {
		in.push(v)
	}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// readVar resolves name in the current frame's locals, then the global
// scope. A name bound to a builtin that takes no arguments is called.
func (in *Interpreter) readVar(name string) Datum {
	if f := in.frame(); f != nil {
		if sym, ok := f.Locals.Lookup(name); ok && !sym.Global {
			return sym.Value.Copy()
		}
	}
	if v, ok := in.vm.globals.Get(name); ok {
		return v
	}
	if b, ok := in.vm.builtins.Lookup(name); ok && b.Arity.Accepts(0) {
		return in.invokeBuiltin(b, nil)
	}
	panic(newError(UnboundReference, "variable %s is not defined", name))
}

// writeVar stores v. Without a frame the global scope is written. In a
// handler the local scope is written unless name was declared global.
func (in *Interpreter) writeVar(name string, v Datum) {
	f := in.frame()
	if f == nil {
		in.vm.globals.Set(name, v)
		return
	}
	if sym, ok := f.Locals.Lookup(name); ok && sym.Global {
		in.vm.globals.Set(name, v)
		return
	}
	f.Locals.Set(name, v)
}

func (in *Interpreter) declareGlobal(name string) {
	if _, ok := in.vm.globals.Lookup(name); !ok {
		in.vm.globals.Set(name, Void)
	}
	if f := in.frame(); f != nil {
		f.Locals.Define(&Symbol{Name: name, Kind: SymVariable, Global: true})
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// resolveHandler looks name up in the running script, then among the
// movie handlers.
func (in *Interpreter) resolveHandler(name string) (*HandlerRef, bool) {
	if in.script != nil {
		if h, ok := in.script.Handler(name); ok {
			return &HandlerRef{Script: in.script, Info: h}, true
		}
	}
	return in.vm.movieHandler(name)
}

func (in *Interpreter) call(name string, args []Datum, wantResult bool) {
	if ref, ok := in.resolveHandler(name); ok {
		in.pushFrame(ref, args, wantResult)
		return
	}
	if b, ok := in.vm.builtins.Lookup(name); ok {
		v := in.invokeBuiltin(b, args)
		if wantResult {
			in.push(v)
		}
		return
	}
	panic(newError(UnboundReference, "handler %s is not defined", name))
}

// invokeBuiltin calls b. Fatal runtime errors propagate; any other
// failure is logged and yields Void.
func (in *Interpreter) invokeBuiltin(b *Builtin, args []Datum) (result Datum) {
	if !b.Arity.Accepts(len(args)) {
		panic(newError(ArityError, "%s expects %s, got %d", b.Name, b.Arity, len(args)))
	}
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(*RuntimeError); ok && re.Fatal() {
				panic(re)
			}
			in.warn(newError(HostError, "%s: %v", b.Name, r))
			result = Void
		}
	}()

	v, err := b.Fn(&Call{VM: in.vm, Name: b.Name, in: in}, args)
	if err != nil {
		var re *RuntimeError
		if !errors.As(err, &re) {
			re = &RuntimeError{Kind: HostError, Msg: fmt.Sprintf("%s: %v", b.Name, err)}
		}
		if re.Fatal() {
			panic(re)
		}
		in.warn(re)
		return Void
	}
	if b.Procedure {
		return Void
	}
	return v
}

// ---------------------------------------------------------------------------
// Main execution loop
// ---------------------------------------------------------------------------

// run executes instructions until OpStop. When handler is set it also
// stops once a return brings the frame stack back to base.
func (in *Interpreter) run(base int, handler bool) {
	for {
		if in.MaxSteps > 0 && in.steps >= in.MaxSteps {
			panic(newError(StepLimit, "step limit of %d exceeded", in.MaxSteps))
		}
		if in.steps&1023 == 0 {
			if err := in.ctx.Err(); err != nil {
				panic(newError(Canceled, "%v", err))
			}
		}
		in.steps++

		code := in.script.Code
		if in.pc < 0 || in.pc >= len(code) {
			panic(newError(StackDiscipline, "pc %d outside %s", in.pc, in.script.Name))
		}
		op := Opcode(code[in.pc])
		in.pc++

		switch op {
		case OpNop:

		case OpPop:
			in.pop()

		case OpDup:
			in.push(in.top().Copy())

		// Constants
		case OpPushVoid:
			in.push(Void)

		case OpPushInt8:
			in.push(Int(int64(int8(in.readByte()))))

		case OpPushInt32:
			in.push(Int(int64(in.readInt32())))

		case OpPushInt64:
			in.push(Int(in.readInt64()))

		case OpPushFloat:
			in.push(Float(in.script.Floats[in.readUint16()]))

		case OpPushString:
			in.push(String(in.script.Strings[in.readUint16()]))

		case OpPushSymbol:
			in.push(Sym(in.script.Strings[in.readUint16()]))

		// Variables
		case OpPushVar:
			in.push(in.readVar(in.name()))

		case OpAssign:
			name := in.name()
			in.writeVar(name, in.pop())

		case OpGlobal:
			in.declareGlobal(in.name())

		case OpMakeArray:
			n := int(in.readUint16())
			in.push(arrayOwned(in.popN(n)))

		case OpIndex:
			idx := in.pop()
			in.push(in.index(in.pop(), idx))

		case OpAssignIndex:
			name := in.name()
			v := in.pop()
			idx := in.pop()
			in.assignIndex(name, idx, v)

		// Arithmetic
		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			b := in.pop()
			a := in.pop()
			v, err := Arith(arithOps[op], a, b)
			in.pushChecked(v, err)

		case OpNegate:
			v, err := Negate(in.pop())
			in.pushChecked(v, err)

		// Comparison and logic
		case OpEq, OpNeq, OpLt, OpGt, OpLe, OpGe:
			b := in.pop()
			a := in.pop()
			v, err := Compare(compareOps[op], a, b, in.FloatPrecision)
			in.pushChecked(v, err)

		case OpAnd:
			b := in.pop()
			a := in.pop()
			in.push(Bool(Truthy(a) && Truthy(b)))

		case OpOr:
			b := in.pop()
			a := in.pop()
			in.push(Bool(Truthy(a) || Truthy(b)))

		case OpNot:
			in.push(Bool(!Truthy(in.pop())))

		// Strings
		case OpConcat, OpConcatSpace:
			b := in.pop()
			a := in.pop()
			in.push(Concat(a, b, op == OpConcatSpace, in.FloatPrecision))

		case OpContains, OpStarts, OpEnds:
			b := in.pop()
			a := in.pop()
			in.push(TestString(stringPreds[op], a, b, in.FloatPrecision))

		case OpIntersects, OpWithin:
			b := in.pop()
			a := in.pop()
			ra, rb := in.spriteRect(a), in.spriteRect(b)
			if op == OpIntersects {
				in.push(Bool(ra.overlaps(rb)))
			} else {
				in.push(Bool(ra.inside(rb)))
			}

		// Control flow
		case OpJump:
			off := in.readInt16()
			in.pc += int(off)

		case OpJumpIfFalse:
			off := in.readInt16()
			if !Truthy(in.pop()) {
				in.pc += int(off)
			}

		// Calls
		case OpCall:
			name := in.name()
			argc := int(in.readByte())
			flags := in.readByte()
			in.call(name, in.popN(argc), flags&CallWantResult != 0)

		case OpReturn:
			in.returnFrom(in.pop(), base)
			if handler && len(in.frames) == base {
				return
			}

		case OpReturnVoid:
			in.returnFrom(Void, base)
			if handler && len(in.frames) == base {
				return
			}

		case OpStop:
			if len(in.frames) != base {
				panic(newError(StackDiscipline, "stop inside handler %s", in.frame().Handler.Name))
			}
			return

		// Entity properties
		case OpThePush:
			field := in.name()
			entity := in.readUint16()
			in.push(in.theGet(field, entity))

		case OpTheAssign:
			field := in.name()
			entity := in.readUint16()
			in.theSet(field, entity)

		default:
			panic(newError(StackDiscipline, "unknown opcode 0x%02X at %d", byte(op), in.pc-1))
		}
	}
}

var arithOps = map[Opcode]ArithOp{
	OpAdd: ArithAdd, OpSub: ArithSub, OpMul: ArithMul, OpDiv: ArithDiv, OpMod: ArithMod,
}

var compareOps = map[Opcode]CompareOp{
	OpEq: CmpEq, OpNeq: CmpNeq, OpLt: CmpLt, OpGt: CmpGt, OpLe: CmpLe, OpGe: CmpGe,
}

var stringPreds = map[Opcode]StringPredicate{
	OpContains: PredContains, OpStarts: PredStarts, OpEnds: PredEnds,
}

// pushChecked pushes v, or logs err and pushes Void.
func (in *Interpreter) pushChecked(v Datum, err error) {
	if err != nil {
		var re *RuntimeError
		if !errors.As(err, &re) {
			re = &RuntimeError{Kind: TypeCoercionWarning, Msg: err.Error()}
		}
		in.warn(re)
		v = Void
	}
	in.push(v)
}

func (in *Interpreter) index(arr, idx Datum) Datum {
	if arr.kind != KindArray {
		in.warn(newError(TypeCoercionWarning, "cannot index %s", arr.kind))
		return Void
	}
	i, err := toInt64(idx)
	if err != nil {
		in.warn(err.(*RuntimeError))
		return Void
	}
	if i < 1 || i > int64(len(arr.arr)) {
		panic(newError(IndexOutOfRange, "index %d outside list of %d", i, len(arr.arr)))
	}
	return arr.arr[i-1]
}

func (in *Interpreter) assignIndex(name string, idx, v Datum) {
	arr := in.readVar(name)
	if arr.kind != KindArray {
		in.warn(newError(TypeCoercionWarning, "%s is not a list", name))
		return
	}
	i, err := toInt64(idx)
	if err != nil {
		in.warn(err.(*RuntimeError))
		return
	}
	if i < 1 || i > int64(len(arr.arr)) {
		panic(newError(IndexOutOfRange, "index %d outside list of %d", i, len(arr.arr)))
	}
	arr.arr[i-1] = v.Copy()
	in.writeVar(name, arr)
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (in *Interpreter) readByte() byte {
	code := in.script.Code
	if in.pc >= len(code) {
		panic(newError(StackDiscipline, "truncated instruction"))
	}
	b := code[in.pc]
	in.pc++
	return b
}

func (in *Interpreter) readUint16() uint16 {
	lo := in.readByte()
	hi := in.readByte()
	return uint16(lo) | uint16(hi)<<8
}

func (in *Interpreter) readInt16() int16 {
	return int16(in.readUint16())
}

func (in *Interpreter) readInt32() int32 {
	lo := uint32(in.readUint16())
	hi := uint32(in.readUint16())
	return int32(lo | hi<<16)
}

func (in *Interpreter) readInt64() int64 {
	lo := uint64(uint32(in.readInt32()))
	hi := uint64(uint32(in.readInt32()))
	return int64(lo | hi<<32)
}

func (in *Interpreter) name() string {
	return in.script.Names[in.readUint16()]
}
