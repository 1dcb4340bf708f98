package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
// Multi-byte operands are little-endian.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpPushVoid   Opcode = 0x10 // push Void
	OpPushInt8   Opcode = 0x11 // push 8-bit signed integer
	OpPushInt32  Opcode = 0x12 // push 32-bit signed integer
	OpPushFloat  Opcode = 0x13 // push float from float pool (16-bit index)
	OpPushString Opcode = 0x14 // push string from string pool (16-bit index)
	OpPushSymbol Opcode = 0x15 // push symbol named by string pool entry (16-bit index)
	OpPushInt64  Opcode = 0x16 // push 64-bit signed integer
)

// Variable Operations
const (
	OpPushVar     Opcode = 0x20 // push variable (16-bit name index)
	OpAssign      Opcode = 0x21 // pop value, store into variable (16-bit name index)
	OpGlobal      Opcode = 0x22 // declare name global in current frame (16-bit name index)
	OpMakeArray   Opcode = 0x23 // pop n values, push array (16-bit count)
	OpIndex       Opcode = 0x24 // pop index, pop array, push element
	OpAssignIndex Opcode = 0x25 // pop value, pop index, store into variable element (16-bit name index)
)

// Arithmetic
const (
	OpAdd    Opcode = 0x30
	OpSub    Opcode = 0x31
	OpMul    Opcode = 0x32
	OpDiv    Opcode = 0x33
	OpMod    Opcode = 0x34
	OpNegate Opcode = 0x35
)

// Comparison and logic
const (
	OpEq  Opcode = 0x40
	OpNeq Opcode = 0x41
	OpLt  Opcode = 0x42
	OpGt  Opcode = 0x43
	OpLe  Opcode = 0x44
	OpGe  Opcode = 0x45
	OpAnd Opcode = 0x48 // both operands are always evaluated
	OpOr  Opcode = 0x49
	OpNot Opcode = 0x4A
)

// String operations
const (
	OpConcat      Opcode = 0x50 // a & b
	OpConcatSpace Opcode = 0x51 // a && b
	OpContains    Opcode = 0x52
	OpStarts      Opcode = 0x53
	OpEnds        Opcode = 0x54
)

// Sprite geometry; operands are sprite channel numbers
const (
	OpIntersects Opcode = 0x58 // a's bounding rect overlaps b's
	OpWithin     Opcode = 0x59 // a's bounding rect lies inside b's
)

// Control Flow
const (
	OpJump        Opcode = 0x60 // unconditional jump (16-bit signed offset)
	OpJumpIfFalse Opcode = 0x61 // pop, jump if falsy (16-bit signed offset)
)

// Calls and returns
const (
	OpCall       Opcode = 0x70 // call handler or builtin (16-bit name, 8-bit argc, 8-bit flags)
	OpReturn     Opcode = 0x71 // return top of stack
	OpReturnVoid Opcode = 0x72 // return Void
	OpStop       Opcode = 0x73 // end of top-level code
)

// Entity properties
const (
	OpThePush   Opcode = 0x80 // push the field [of entity id] (16-bit field, 16-bit entity)
	OpTheAssign Opcode = 0x81 // pop value, set the field [of entity id] (16-bit field, 16-bit entity)
)

// CallWantResult is set in the OpCall flags byte when the caller
// consumes the return value.
const CallWantResult byte = 1 << 0

// NoEntity marks an OpThePush/OpTheAssign that targets an
// interpreter-owned field rather than an external entity.
const NoEntity uint16 = 0xFFFF

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
	StackPop     int // -1 = variable
	StackPush    int
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", 0, 0, 0},
	OpPop: {"POP", 0, 1, 0},
	OpDup: {"DUP", 0, 1, 2},

	OpPushVoid:   {"PUSH_VOID", 0, 0, 1},
	OpPushInt8:   {"PUSH_INT8", 1, 0, 1},
	OpPushInt32:  {"PUSH_INT32", 4, 0, 1},
	OpPushFloat:  {"PUSH_FLOAT", 2, 0, 1},
	OpPushString: {"PUSH_STRING", 2, 0, 1},
	OpPushSymbol: {"PUSH_SYMBOL", 2, 0, 1},
	OpPushInt64:  {"PUSH_INT64", 8, 0, 1},

	OpPushVar:     {"PUSH_VAR", 2, 0, 1},
	OpAssign:      {"ASSIGN", 2, 1, 0},
	OpGlobal:      {"GLOBAL", 2, 0, 0},
	OpMakeArray:   {"MAKE_ARRAY", 2, -1, 1},
	OpIndex:       {"INDEX", 0, 2, 1},
	OpAssignIndex: {"ASSIGN_INDEX", 2, 2, 0},

	OpAdd:    {"ADD", 0, 2, 1},
	OpSub:    {"SUB", 0, 2, 1},
	OpMul:    {"MUL", 0, 2, 1},
	OpDiv:    {"DIV", 0, 2, 1},
	OpMod:    {"MOD", 0, 2, 1},
	OpNegate: {"NEGATE", 0, 1, 1},

	OpEq:  {"EQ", 0, 2, 1},
	OpNeq: {"NEQ", 0, 2, 1},
	OpLt:  {"LT", 0, 2, 1},
	OpGt:  {"GT", 0, 2, 1},
	OpLe:  {"LE", 0, 2, 1},
	OpGe:  {"GE", 0, 2, 1},
	OpAnd: {"AND", 0, 2, 1},
	OpOr:  {"OR", 0, 2, 1},
	OpNot: {"NOT", 0, 1, 1},

	OpConcat:      {"CONCAT", 0, 2, 1},
	OpConcatSpace: {"CONCAT_SPACE", 0, 2, 1},
	OpContains:    {"CONTAINS", 0, 2, 1},
	OpStarts:      {"STARTS", 0, 2, 1},
	OpEnds:        {"ENDS", 0, 2, 1},

	OpIntersects: {"INTERSECTS", 0, 2, 1},
	OpWithin:     {"WITHIN", 0, 2, 1},

	OpJump:        {"JUMP", 2, 0, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2, 1, 0},

	OpCall:       {"CALL", 4, -1, -1},
	OpReturn:     {"RETURN", 0, 1, 0},
	OpReturnVoid: {"RETURN_VOID", 0, 0, 0},
	OpStop:       {"STOP", 0, 0, 0},

	OpThePush:   {"THE_PUSH", 4, -1, 1},
	OpTheAssign: {"THE_ASSIGN", 4, -1, 0},
}

// Info returns metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsJump reports whether op carries a relative jump offset.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitInt32 appends an opcode with a 32-bit operand.
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(operand))
}

// EmitInt64 appends an opcode with a 64-bit operand.
func (b *BytecodeBuilder) EmitInt64(op Opcode, operand int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
}

// EmitCall appends a CALL instruction.
func (b *BytecodeBuilder) EmitCall(name uint16, argc uint8, wantResult bool) {
	var flags byte
	if wantResult {
		flags |= CallWantResult
	}
	b.bytes = append(b.bytes, byte(OpCall), byte(name), byte(name>>8), argc, flags)
}

// EmitThe appends a THE_PUSH or THE_ASSIGN instruction.
func (b *BytecodeBuilder) EmitThe(op Opcode, field, entity uint16) {
	b.bytes = append(b.bytes, byte(op), byte(field), byte(field>>8), byte(entity), byte(entity>>8))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target that may not be known yet.
type Label struct {
	resolved bool
	position int   // target once resolved
	refs     []int // operand positions awaiting the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Resolved reports whether the label has been marked.
func (l *Label) Resolved() bool { return l.resolved }

// Mark resolves a label to the current position and patches every
// pending reference.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
}

// EmitJump emits a jump instruction to label. Backward targets are
// encoded immediately, forward targets are patched by Mark.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	pos := len(b.bytes)
	b.bytes = append(b.bytes, 0, 0)
	if label.resolved {
		b.patch(pos, label.position)
	} else {
		label.refs = append(label.refs, pos)
	}
}

func (b *BytecodeBuilder) patch(pos, target int) {
	offset := target - (pos + 2)
	if offset < -32768 || offset > 32767 {
		panic(fmt.Sprintf("jump offset %d out of range", offset))
	}
	b.bytes[pos] = byte(offset)
	b.bytes[pos+1] = byte(offset >> 8)
}

// ---------------------------------------------------------------------------
// Bytecode reader for disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// Seek moves the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadUint8())
}

// ReadUint8 reads a single byte operand.
func (r *BytecodeReader) ReadUint8() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadInt8 reads a signed 8-bit operand.
func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadUint8())
}

// ReadUint16 reads a 16-bit operand.
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed 16-bit operand.
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadInt64 reads a 64-bit operand.
func (r *BytecodeReader) ReadInt64() int64 {
	if r.pos+8 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := int64(binary.LittleEndian.Uint64(r.bytes[r.pos:]))
	r.pos += 8
	return v
}

// ReadInt32 reads a 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := int32(binary.LittleEndian.Uint32(r.bytes[r.pos:]))
	r.pos += 4
	return v
}
