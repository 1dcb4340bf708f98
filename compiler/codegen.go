package compiler

import (
	"fmt"
	"math"

	"github.com/chazu/lingo/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// loop holds the jump targets of the innermost enclosing repeat.
type loop struct {
	exit *vm.Label
	next *vm.Label
}

// Codegen emits a vm.Script for one Unit.
type Codegen struct {
	b       *vm.ScriptBuilder
	unit    *Unit
	handler *vm.HandlerInfo // nil while emitting top-level code
	loops   []loop
	errors  ErrorList
}

// codegenError aborts generation; it carries the offending node's position.
type codegenError struct{ err *Error }

// NewCodegen creates a code generator for unit.
func NewCodegen(unit *Unit) *Codegen {
	return &Codegen{b: vm.NewScriptBuilder(unit.Name), unit: unit}
}

func (c *Codegen) errorf(n Node, format string, args ...any) {
	panic(codegenError{&Error{Kind: SyntaxError, Pos: n.Span().Start, Msg: fmt.Sprintf(format, args...)}})
}

// Generate emits the top-level statements followed by OpStop, then each
// handler body.
func (c *Codegen) Generate() (s *vm.Script, err error) {
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(codegenError)
			if !ok {
				// Pool or jump overflow from the builder.
				ce = codegenError{&Error{Kind: SyntaxError, Msg: fmt.Sprint(r)}}
			}
			s, err = nil, ErrorList{ce.err}
		}
	}()

	for _, g := range c.unit.Globals {
		c.b.DeclareGlobal(g)
	}

	c.compileBlock(c.unit.Body)
	c.b.Emit(vm.OpStop)

	for _, h := range c.unit.Handlers {
		c.compileHandler(h)
	}
	return c.b.Build(), nil
}

func (c *Codegen) compileHandler(h *HandlerDecl) {
	c.handler = c.b.BeginHandler(h.Name, foldAll(h.Params), h.NamePos.Line)
	c.b.MarkLine(h.NamePos.Line)
	for _, g := range c.b.Globals() {
		c.b.EmitUint16(vm.OpGlobal, c.b.AddName(g))
	}
	c.compileBlock(h.Body)
	c.b.Emit(vm.OpReturnVoid)
	c.b.EndHandler(c.handler)
	c.handler = nil
}

func foldAll(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = vm.FoldName(n)
	}
	return out
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Codegen) compileBlock(stmts []Stmt) {
	for _, s := range stmts {
		c.compileStmt(s)
	}
}

func (c *Codegen) compileStmt(stmt Stmt) {
	c.b.MarkLine(stmt.Span().Start.Line)

	switch s := stmt.(type) {
	case *AssignStmt:
		if s.Index != nil {
			c.compileExpr(s.Index)
			c.compileExpr(s.Value)
			c.b.EmitUint16(vm.OpAssignIndex, c.b.AddName(s.Name))
			return
		}
		c.compileExpr(s.Value)
		c.b.EmitUint16(vm.OpAssign, c.b.AddName(s.Name))

	case *TheAssignStmt:
		c.compileExpr(s.Value)
		c.emitThe(vm.OpTheAssign, s.Target)

	case *CallStmt:
		c.emitCall(s, s.Name, s.Args, false)

	case *PutStmt:
		c.compilePut(s)

	case *IfStmt:
		elseLabel := c.b.NewLabel()
		c.compileExpr(s.Cond)
		c.b.EmitJump(vm.OpJumpIfFalse, elseLabel)
		c.compileBlock(s.Then)
		if len(s.Else) == 0 {
			c.b.Mark(elseLabel)
			return
		}
		endLabel := c.b.NewLabel()
		c.b.EmitJump(vm.OpJump, endLabel)
		c.b.Mark(elseLabel)
		c.compileBlock(s.Else)
		c.b.Mark(endLabel)

	case *RepeatWhileStmt:
		top := c.b.NewLabel()
		exit := c.b.NewLabel()
		c.b.Mark(top)
		c.compileExpr(s.Cond)
		c.b.EmitJump(vm.OpJumpIfFalse, exit)
		c.compileLoopBody(s.Body, loop{exit: exit, next: top})
		c.b.EmitJump(vm.OpJump, top)
		c.b.Mark(exit)

	case *RepeatWithStmt:
		c.compileRepeatWith(s)

	case *ExitRepeatStmt:
		c.b.EmitJump(vm.OpJump, c.innerLoop(s).exit)

	case *NextRepeatStmt:
		c.b.EmitJump(vm.OpJump, c.innerLoop(s).next)

	case *ExitStmt:
		if c.handler != nil {
			c.b.Emit(vm.OpReturnVoid)
		} else {
			c.b.Emit(vm.OpStop)
		}

	case *ReturnStmt:
		if c.handler == nil {
			c.errorf(s, "return outside of a handler")
		}
		if s.Value == nil {
			c.b.Emit(vm.OpReturnVoid)
			return
		}
		c.handler.ReturnsValue = true
		c.compileExpr(s.Value)
		c.b.Emit(vm.OpReturn)

	case *GlobalStmt:
		for _, name := range s.Names {
			c.b.EmitUint16(vm.OpGlobal, c.b.AddName(name))
		}

	default:
		c.errorf(stmt, "unsupported statement %T", stmt)
	}
}

func (c *Codegen) innerLoop(n Node) loop {
	if len(c.loops) == 0 {
		c.errorf(n, "loop control outside of a repeat loop")
	}
	return c.loops[len(c.loops)-1]
}

func (c *Codegen) compileLoopBody(body []Stmt, l loop) {
	c.loops = append(c.loops, l)
	c.compileBlock(body)
	c.loops = c.loops[:len(c.loops)-1]
}

// compileRepeatWith keeps the evaluated limit on the operand stack for the
// life of the loop:
//
//	start; ASSIGN v; limit
//	top:  DUP; PUSH_VAR v; GE (LE when counting down); JUMP_IF_FALSE exit
//	      body
//	next: PUSH_VAR v; PUSH_INT8 1; ADD (SUB); ASSIGN v; JUMP top
//	exit: POP
func (c *Codegen) compileRepeatWith(s *RepeatWithStmt) {
	v := c.b.AddName(s.Var)
	cmp, step := vm.OpGe, vm.OpAdd
	if s.Down {
		cmp, step = vm.OpLe, vm.OpSub
	}

	c.compileExpr(s.Start)
	c.b.EmitUint16(vm.OpAssign, v)
	c.compileExpr(s.Limit)

	top := c.b.NewLabel()
	next := c.b.NewLabel()
	exit := c.b.NewLabel()

	c.b.Mark(top)
	c.b.Emit(vm.OpDup)
	c.b.EmitUint16(vm.OpPushVar, v)
	c.b.Emit(cmp)
	c.b.EmitJump(vm.OpJumpIfFalse, exit)

	c.compileLoopBody(s.Body, loop{exit: exit, next: next})

	c.b.Mark(next)
	c.b.EmitUint16(vm.OpPushVar, v)
	c.b.EmitInt8(vm.OpPushInt8, 1)
	c.b.Emit(step)
	c.b.EmitUint16(vm.OpAssign, v)
	c.b.EmitJump(vm.OpJump, top)

	c.b.Mark(exit)
	c.b.Emit(vm.OpPop)
}

func (c *Codegen) compilePut(s *PutStmt) {
	switch s.Mode {
	case PutMessage:
		c.emitCall(s, "put", []Expr{s.Value}, false)
		return
	case PutInto:
		c.compileExpr(s.Value)
	case PutAfter:
		c.b.EmitUint16(vm.OpPushVar, c.b.AddName(s.Target))
		c.compileExpr(s.Value)
		c.b.Emit(vm.OpConcat)
	case PutBefore:
		c.compileExpr(s.Value)
		c.b.EmitUint16(vm.OpPushVar, c.b.AddName(s.Target))
		c.b.Emit(vm.OpConcat)
	}
	c.b.EmitUint16(vm.OpAssign, c.b.AddName(s.Target))
}

func (c *Codegen) emitCall(n Node, name string, args []Expr, wantResult bool) {
	if len(args) > math.MaxUint8 {
		c.errorf(n, "too many arguments to %s", name)
	}
	for _, a := range args {
		c.compileExpr(a)
	}
	c.b.EmitCall(c.b.AddName(name), uint8(len(args)), wantResult)
}

// emitThe emits op for "the field [of entity id]", pushing the id first
// when an entity is named.
func (c *Codegen) emitThe(op vm.Opcode, e *TheExpr) {
	field := c.b.AddName(e.Field)
	if e.Entity == "" {
		c.b.EmitThe(op, field, vm.NoEntity)
		return
	}
	c.compileExpr(e.ID)
	c.b.EmitThe(op, field, c.b.AddName(e.Entity))
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[string]vm.Opcode{
	"+": vm.OpAdd, "-": vm.OpSub, "*": vm.OpMul, "/": vm.OpDiv, "mod": vm.OpMod,
	"=": vm.OpEq, "<>": vm.OpNeq, "<": vm.OpLt, ">": vm.OpGt, "<=": vm.OpLe, ">=": vm.OpGe,
	"and": vm.OpAnd, "or": vm.OpOr,
	"&": vm.OpConcat, "&&": vm.OpConcatSpace,
	"contains": vm.OpContains, "starts": vm.OpStarts, "ends": vm.OpEnds,
	"intersects": vm.OpIntersects, "within": vm.OpWithin,
}

func (c *Codegen) compileExpr(expr Expr) {
	switch e := expr.(type) {
	case *IntLiteral:
		c.compileInt(e.Value)

	case *FloatLiteral:
		c.b.EmitUint16(vm.OpPushFloat, c.b.AddFloat(e.Value))

	case *StringLiteral:
		c.b.EmitUint16(vm.OpPushString, c.b.AddString(e.Value))

	case *SymbolLiteral:
		c.b.EmitUint16(vm.OpPushSymbol, c.b.AddString(e.Value))

	case *VoidLiteral:
		c.b.Emit(vm.OpPushVoid)

	case *Variable:
		c.b.EmitUint16(vm.OpPushVar, c.b.AddName(e.Name))

	case *CallExpr:
		c.emitCall(e, e.Name, e.Args, true)

	case *ListExpr:
		if len(e.Elements) > math.MaxUint16 {
			c.errorf(e, "list literal too long")
		}
		for _, el := range e.Elements {
			c.compileExpr(el)
		}
		c.b.EmitUint16(vm.OpMakeArray, uint16(len(e.Elements)))

	case *IndexExpr:
		c.compileExpr(e.Target)
		c.compileExpr(e.Index)
		c.b.Emit(vm.OpIndex)

	case *UnaryExpr:
		c.compileExpr(e.Operand)
		if e.Op == "not" {
			c.b.Emit(vm.OpNot)
		} else {
			c.b.Emit(vm.OpNegate)
		}

	case *BinaryExpr:
		op, ok := binaryOps[e.Op]
		if !ok {
			c.errorf(e, "unknown operator %s", e.Op)
		}
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		c.b.Emit(op)

	case *TheExpr:
		c.emitThe(vm.OpThePush, e)

	default:
		c.errorf(expr, "unsupported expression %T", expr)
	}
}

func (c *Codegen) compileInt(n int64) {
	switch {
	case n >= math.MinInt8 && n <= math.MaxInt8:
		c.b.EmitInt8(vm.OpPushInt8, int8(n))
	case n >= math.MinInt32 && n <= math.MaxInt32:
		c.b.EmitInt32(vm.OpPushInt32, int32(n))
	default:
		c.b.EmitInt64(vm.OpPushInt64, n)
	}
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Compile parses and compiles source as the unit called name.
func Compile(name, source string) (*vm.Script, error) {
	unit, err := Parse(name, source)
	if err != nil {
		return nil, err
	}
	return NewCodegen(unit).Generate()
}

// CompileFunc adapts Compile to vm.WithCompiler.
var CompileFunc vm.CompileFunc = Compile
