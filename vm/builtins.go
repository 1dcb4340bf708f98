package vm

import (
	"context"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Arity
// ---------------------------------------------------------------------------

// Arity is the accepted argument count of a builtin. Max < 0 means no
// upper bound.
type Arity struct {
	Min, Max int
}

// Fixed returns an arity of exactly n arguments.
func Fixed(n int) Arity { return Arity{Min: n, Max: n} }

// Variadic returns an arity of at least min arguments.
func Variadic(min int) Arity { return Arity{Min: min, Max: -1} }

// Range returns an arity of min to max arguments.
func Range(min, max int) Arity { return Arity{Min: min, Max: max} }

// Accepts reports whether n arguments satisfy the arity.
func (a Arity) Accepts(n int) bool {
	return n >= a.Min && (a.Max < 0 || n <= a.Max)
}

func (a Arity) String() string {
	switch {
	case a.Max < 0:
		return fmt.Sprintf("at least %d argument(s)", a.Min)
	case a.Min == a.Max:
		return fmt.Sprintf("%d argument(s)", a.Min)
	}
	return fmt.Sprintf("%d to %d arguments", a.Min, a.Max)
}

// ---------------------------------------------------------------------------
// Builtin registry
// ---------------------------------------------------------------------------

// BuiltinFunc implements a builtin. Arguments arrive in source order.
// A returned *RuntimeError of a fatal kind aborts the dispatch cycle;
// any other error is logged and the call yields Void.
type BuiltinFunc func(c *Call, args []Datum) (Datum, error)

// Builtin is a host function callable from scripts.
type Builtin struct {
	Name      string
	Arity     Arity
	Fn        BuiltinFunc
	Procedure bool   // result is always Void
	Doc       string // one-line description
}

// Registry maps case-insensitive names to builtins.
type Registry struct {
	table *SymbolTable
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: NewSymbolTable(ScopeGlobal)}
}

// NewStandardRegistry creates a registry holding the standard builtins.
func NewStandardRegistry() *Registry {
	r := NewRegistry()
	registerMathBuiltins(r)
	registerStringBuiltins(r)
	registerListBuiltins(r)
	registerRuntimeBuiltins(r)
	return r
}

// StandardBuiltinNames returns the names of the standard builtins.
func StandardBuiltinNames() []string {
	return NewStandardRegistry().Names()
}

// Register adds or replaces b.
func (r *Registry) Register(b *Builtin) {
	r.table.Define(&Symbol{Name: b.Name, Kind: SymBuiltin, Builtin: b})
}

// Lookup returns the builtin called name.
func (r *Registry) Lookup(name string) (*Builtin, bool) {
	sym, ok := r.table.Lookup(name)
	if !ok {
		return nil, false
	}
	return sym.Builtin, true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string { return r.table.Names() }

// ---------------------------------------------------------------------------
// Call: context handed to builtins
// ---------------------------------------------------------------------------

// Call gives a builtin access to the VM that invoked it.
type Call struct {
	VM   *VM
	Name string
	in   *Interpreter
}

// Context returns the context of the running invocation.
func (c *Call) Context() context.Context { return c.in.ctx }

// Precision returns the current float precision.
func (c *Call) Precision() int { return c.in.FloatPrecision }

// Output returns the message output writer.
func (c *Call) Output() io.Writer { return c.VM.out }

// Frame returns the calling handler's frame, or nil at top level.
func (c *Call) Frame() *CallFrame { return c.in.frame() }

// ToString converts d using the current float precision.
func (c *Call) ToString(d Datum) string { return CoerceToString(d, c.in.FloatPrecision) }

// Warn logs a non-fatal problem attributed to the builtin.
func (c *Call) Warn(format string, args ...any) {
	c.in.warn(newError(HostError, c.Name+": "+format, args...))
}

// argError is returned by builtins for arguments they cannot use.
func argError(name string, format string, args ...any) error {
	return newError(TypeCoercionWarning, name+": "+format, args...)
}
