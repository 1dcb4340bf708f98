package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the script.
func (s *Script) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", s.Name))
	if len(s.Globals) > 0 {
		sb.WriteString(fmt.Sprintf("; Globals: %s\n", strings.Join(s.Globals, ", ")))
	}

	if len(s.Strings) > 0 {
		sb.WriteString("; Strings:\n")
		for i, str := range s.Strings {
			display := str
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %q\n", i, display))
		}
	}
	if len(s.Floats) > 0 {
		sb.WriteString("; Floats:\n")
		for i, f := range s.Floats {
			sb.WriteString(fmt.Sprintf(";   [%3d] %g\n", i, f))
		}
	}
	sb.WriteString("\n")

	starts := make(map[int]*HandlerInfo, len(s.Handlers))
	for _, h := range s.Handlers {
		starts[h.Offset] = h
	}

	r := NewBytecodeReader(s.Code)
	for r.HasMore() {
		pos := r.Position()
		if h, ok := starts[pos]; ok {
			sb.WriteString(fmt.Sprintf("\n; on %s %s\n", h.Name, strings.Join(h.Params, ", ")))
		}
		sb.WriteString(s.disassembleInstruction(r))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (s *Script) disassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	line := fmt.Sprintf("%04d  %-14s", pos, op.Name())

	pool := func(names []string, idx uint16) string {
		if int(idx) < len(names) {
			return names[idx]
		}
		return "?"
	}

	switch op {
	case OpPushInt8:
		return line + fmt.Sprintf(" %d", r.ReadInt8())
	case OpPushInt32:
		return line + fmt.Sprintf(" %d", r.ReadInt32())
	case OpPushInt64:
		return line + fmt.Sprintf(" %d", r.ReadInt64())
	case OpPushFloat:
		idx := r.ReadUint16()
		if int(idx) < len(s.Floats) {
			return line + fmt.Sprintf(" [%d] ; %g", idx, s.Floats[idx])
		}
		return line + fmt.Sprintf(" [%d]", idx)
	case OpPushString:
		idx := r.ReadUint16()
		return line + fmt.Sprintf(" [%d] ; %q", idx, pool(s.Strings, idx))
	case OpPushSymbol:
		idx := r.ReadUint16()
		return line + fmt.Sprintf(" [%d] ; #%s", idx, pool(s.Strings, idx))
	case OpPushVar, OpAssign, OpGlobal, OpAssignIndex:
		idx := r.ReadUint16()
		return line + " " + pool(s.Names, idx)
	case OpMakeArray:
		return line + fmt.Sprintf(" %d", r.ReadUint16())
	case OpJump, OpJumpIfFalse:
		off := r.ReadInt16()
		return line + fmt.Sprintf(" %+d ; -> %04d", off, r.Position()+int(off))
	case OpCall:
		name := pool(s.Names, r.ReadUint16())
		argc := r.ReadUint8()
		flags := r.ReadUint8()
		suffix := ""
		if flags&CallWantResult != 0 {
			suffix = " ; value"
		}
		return line + fmt.Sprintf(" %s/%d%s", name, argc, suffix)
	case OpThePush, OpTheAssign:
		field := pool(s.Names, r.ReadUint16())
		entity := r.ReadUint16()
		if entity == NoEntity {
			return line + " the " + field
		}
		return line + fmt.Sprintf(" the %s of %s", field, pool(s.Names, entity))
	}

	// Skip operands of opcodes not decoded above.
	for i := 0; i < op.OperandBytes() && r.HasMore(); i++ {
		r.ReadUint8()
	}
	return line
}
