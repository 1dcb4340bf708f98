package vm

import (
	"math"
	"sort"
)

// ---------------------------------------------------------------------------
// Script: one compiled unit
// ---------------------------------------------------------------------------

// Script is the immutable result of compiling one source unit. Top-level
// statements start at offset 0 and end with OpStop; handler bodies
// follow, each addressed by its recorded offset.
type Script struct {
	Name     string         `cbor:"1,keyasint"`
	Code     []byte         `cbor:"2,keyasint"`
	Strings  []string       `cbor:"3,keyasint"` // string and symbol literal pool
	Floats   []float64      `cbor:"4,keyasint"` // float literal pool
	Names    []string       `cbor:"5,keyasint"` // folded identifiers
	Handlers []*HandlerInfo `cbor:"6,keyasint"`
	Globals  []string       `cbor:"7,keyasint"` // unit-level global declarations
	Lines    []LineEntry    `cbor:"8,keyasint"` // sorted by Offset
}

// HandlerInfo describes one handler entry point.
type HandlerInfo struct {
	Name         string   `cbor:"1,keyasint"`
	Offset       int      `cbor:"2,keyasint"`
	End          int      `cbor:"3,keyasint"`
	Params       []string `cbor:"4,keyasint"`
	Line         int      `cbor:"5,keyasint"`
	ReturnsValue bool     `cbor:"6,keyasint"` // body contains "return expr"
}

// Arity returns the declared parameter count.
func (h *HandlerInfo) Arity() int { return len(h.Params) }

// LineEntry maps a bytecode offset to the source line of the statement
// starting there.
type LineEntry struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
}

// Handler returns the handler called name (case-insensitive).
func (s *Script) Handler(name string) (*HandlerInfo, bool) {
	key := FoldName(name)
	for _, h := range s.Handlers {
		if FoldName(h.Name) == key {
			return h, true
		}
	}
	return nil, false
}

// HandlerAt returns the handler whose body contains pc.
func (s *Script) HandlerAt(pc int) *HandlerInfo {
	for _, h := range s.Handlers {
		if pc >= h.Offset && pc < h.End {
			return h
		}
	}
	return nil
}

// LineAt returns the source line for the statement containing pc, or 0.
func (s *Script) LineAt(pc int) int {
	i := sort.Search(len(s.Lines), func(i int) bool { return s.Lines[i].Offset > pc })
	if i == 0 {
		return 0
	}
	return s.Lines[i-1].Line
}

// ---------------------------------------------------------------------------
// ScriptBuilder: assembles a Script
// ---------------------------------------------------------------------------

// ScriptBuilder accumulates bytecode, literal pools and handler entries.
// Identical literals share one pool slot.
type ScriptBuilder struct {
	*BytecodeBuilder
	name      string
	strings   []string
	stringIdx map[string]uint16
	floats    []float64
	floatIdx  map[uint64]uint16
	names     []string
	nameIdx   map[string]uint16
	handlers  []*HandlerInfo
	globals   []string
	lines     []LineEntry
}

// NewScriptBuilder creates a builder for the unit called name.
func NewScriptBuilder(name string) *ScriptBuilder {
	return &ScriptBuilder{
		BytecodeBuilder: NewBytecodeBuilder(),
		name:            name,
		stringIdx:       make(map[string]uint16),
		floatIdx:        make(map[uint64]uint16),
		nameIdx:         make(map[string]uint16),
	}
}

// AddString interns s in the string pool and returns its index.
func (b *ScriptBuilder) AddString(s string) uint16 {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	if len(b.strings) >= math.MaxUint16 {
		panic("string pool overflow")
	}
	idx := uint16(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIdx[s] = idx
	return idx
}

// AddName interns an identifier in the name pool. Names are stored
// folded so that Foo and foo share a slot.
func (b *ScriptBuilder) AddName(name string) uint16 {
	key := FoldName(name)
	if idx, ok := b.nameIdx[key]; ok {
		return idx
	}
	if len(b.names) >= math.MaxUint16 {
		panic("name pool overflow")
	}
	idx := uint16(len(b.names))
	b.names = append(b.names, key)
	b.nameIdx[key] = idx
	return idx
}

// AddFloat interns f in the float pool and returns its index.
func (b *ScriptBuilder) AddFloat(f float64) uint16 {
	bits := math.Float64bits(f)
	if idx, ok := b.floatIdx[bits]; ok {
		return idx
	}
	if len(b.floats) >= math.MaxUint16 {
		panic("float pool overflow")
	}
	idx := uint16(len(b.floats))
	b.floats = append(b.floats, f)
	b.floatIdx[bits] = idx
	return idx
}

// MarkLine records that the statement starting at the current offset
// comes from source line.
func (b *ScriptBuilder) MarkLine(line int) {
	off := b.Len()
	if n := len(b.lines); n > 0 && b.lines[n-1].Offset == off {
		b.lines[n-1].Line = line
		return
	}
	b.lines = append(b.lines, LineEntry{Offset: off, Line: line})
}

// BeginHandler records a handler entry at the current offset.
func (b *ScriptBuilder) BeginHandler(name string, params []string, line int) *HandlerInfo {
	h := &HandlerInfo{Name: name, Offset: b.Len(), Params: params, Line: line}
	b.handlers = append(b.handlers, h)
	return h
}

// EndHandler closes the body of h at the current offset.
func (b *ScriptBuilder) EndHandler(h *HandlerInfo) {
	h.End = b.Len()
}

// DeclareGlobal records a unit-level global declaration.
func (b *ScriptBuilder) DeclareGlobal(name string) {
	key := FoldName(name)
	for _, g := range b.globals {
		if g == key {
			return
		}
	}
	b.globals = append(b.globals, key)
}

// Globals returns the unit-level global declarations so far.
func (b *ScriptBuilder) Globals() []string { return b.globals }

// Build returns the finished Script.
func (b *ScriptBuilder) Build() *Script {
	return &Script{
		Name:     b.name,
		Code:     b.Bytes(),
		Strings:  b.strings,
		Floats:   b.floats,
		Names:    b.names,
		Handlers: b.handlers,
		Globals:  b.globals,
		Lines:    b.lines,
	}
}
