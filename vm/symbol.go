package vm

import (
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

// FoldName returns the case-insensitive key for a script identifier.
func FoldName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] >= utf8.RuneSelf {
			// cases.Caser carries state and is not safe for concurrent use.
			return cases.Fold().String(name)
		}
	}
	return strings.ToLower(name)
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// SymbolKind says what a symbol binds.
type SymbolKind uint8

const (
	SymVariable SymbolKind = iota
	SymHandler
	SymBuiltin
)

func (k SymbolKind) String() string {
	switch k {
	case SymVariable:
		return "variable"
	case SymHandler:
		return "handler"
	case SymBuiltin:
		return "builtin"
	}
	return "unknown"
}

// Scope says where a symbol lives.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeLocal
)

// HandlerRef locates a compiled handler inside the script that defines it.
type HandlerRef struct {
	Script *Script
	Info   *HandlerInfo
}

// Symbol is one entry of a SymbolTable.
type Symbol struct {
	Name  string // spelling at first definition
	Kind  SymbolKind
	Scope Scope

	Value   Datum       // SymVariable
	Handler *HandlerRef // SymHandler
	Builtin *Builtin    // SymBuiltin

	// Global marks a local entry that aliases the global of the same
	// name, created by a global declaration inside a handler.
	Global bool
}

// ---------------------------------------------------------------------------
// SymbolTable: case-insensitive name -> Symbol
// ---------------------------------------------------------------------------

// SymbolTable maps case-insensitive names to symbols. It is not safe
// for concurrent use; the VM serializes access.
type SymbolTable struct {
	scope   Scope
	entries map[string]*Symbol
}

// NewSymbolTable creates an empty table for the given scope.
func NewSymbolTable(scope Scope) *SymbolTable {
	return &SymbolTable{scope: scope, entries: make(map[string]*Symbol)}
}

// Scope returns the scope of symbols stored in the table.
func (st *SymbolTable) Scope() Scope { return st.scope }

// Lookup returns the symbol bound to name.
func (st *SymbolTable) Lookup(name string) (*Symbol, bool) {
	sym, ok := st.entries[FoldName(name)]
	return sym, ok
}

// Define binds sym under its name, replacing any previous binding.
func (st *SymbolTable) Define(sym *Symbol) *Symbol {
	sym.Scope = st.scope
	st.entries[FoldName(sym.Name)] = sym
	return sym
}

// Get returns the value of a variable, or false if name is unbound or
// not a variable.
func (st *SymbolTable) Get(name string) (Datum, bool) {
	sym, ok := st.Lookup(name)
	if !ok || sym.Kind != SymVariable {
		return Void, false
	}
	return sym.Value.Copy(), true
}

// Set stores a copy of v in the variable name, creating it if needed.
func (st *SymbolTable) Set(name string, v Datum) *Symbol {
	key := FoldName(name)
	sym, ok := st.entries[key]
	if !ok || sym.Kind != SymVariable {
		sym = &Symbol{Name: name, Kind: SymVariable, Scope: st.scope}
		st.entries[key] = sym
	}
	sym.Value = v.Copy()
	return sym
}

// Delete removes name from the table.
func (st *SymbolTable) Delete(name string) {
	delete(st.entries, FoldName(name))
}

// Names returns the spelled names of all entries, sorted by key.
func (st *SymbolTable) Names() []string {
	keys := make([]string, 0, len(st.entries))
	for k := range st.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = st.entries[k].Name
	}
	return names
}

// Len returns the number of entries.
func (st *SymbolTable) Len() int { return len(st.entries) }

// Clear removes every entry.
func (st *SymbolTable) Clear() {
	clear(st.entries)
}
