package vm

import (
	"strings"
	"testing"
)

func TestFoldName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"mouseUp", "mouseup"},
		{"MOUSEUP", "mouseup"},
		{"x_1", "x_1"},
		{"ÉTÉ", "été"},
	}
	for _, tc := range tests {
		if got := FoldName(tc.in); got != tc.want {
			t.Errorf("FoldName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSymbolTableIsCaseInsensitive(t *testing.T) {
	st := NewSymbolTable(ScopeLocal)
	st.Set("Counter", Int(1))

	for _, name := range []string{"counter", "COUNTER", "Counter"} {
		v, ok := st.Get(name)
		if !ok || !v.Equal(Int(1)) {
			t.Errorf("Get(%q) = %v, %v; want 1, true", name, v, ok)
		}
	}

	st.Set("COUNTER", Int(2))
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
	sym, _ := st.Lookup("counter")
	if sym.Name != "Counter" {
		t.Errorf("Name = %q, want spelling of first definition", sym.Name)
	}
	if sym.Scope != ScopeLocal {
		t.Errorf("Scope = %v, want local", sym.Scope)
	}
	if v, _ := st.Get("counter"); !v.Equal(Int(2)) {
		t.Errorf("Get after overwrite = %v, want 2", v)
	}
}

func TestSymbolTableKinds(t *testing.T) {
	st := NewSymbolTable(ScopeGlobal)
	st.Define(&Symbol{Name: "greet", Kind: SymHandler})

	if _, ok := st.Get("greet"); ok {
		t.Error("Get returned a handler symbol as a variable")
	}

	// Set replaces a non-variable binding.
	st.Set("greet", String("hi"))
	sym, _ := st.Lookup("greet")
	if sym.Kind != SymVariable {
		t.Errorf("Kind = %v, want variable", sym.Kind)
	}

	st.Delete("GREET")
	if _, ok := st.Lookup("greet"); ok {
		t.Error("Delete did not remove the entry")
	}
}

func TestSymbolTableStoresCopies(t *testing.T) {
	st := NewSymbolTable(ScopeGlobal)
	list := Array(Int(1))
	st.Set("l", list)
	list.arr[0] = Int(5)

	got, _ := st.Get("l")
	got.arr[0] = Int(6)

	again, _ := st.Get("l")
	if !again.Equal(Array(Int(1))) {
		t.Errorf("stored list = %v, want [1]", again)
	}
}

func TestSymbolTableNames(t *testing.T) {
	st := NewSymbolTable(ScopeGlobal)
	for _, n := range []string{"zeta", "Alpha", "mid"} {
		st.Set(n, Void)
	}
	if got := strings.Join(st.Names(), ","); got != "Alpha,mid,zeta" {
		t.Errorf("Names = %s, want Alpha,mid,zeta", got)
	}
	st.Clear()
	if st.Len() != 0 {
		t.Errorf("Len after Clear = %d", st.Len())
	}
}

func TestSymbolKindString(t *testing.T) {
	tests := map[SymbolKind]string{
		SymVariable:    "variable",
		SymHandler:     "handler",
		SymBuiltin:     "builtin",
		SymbolKind(42): "unknown",
	}
	for k, want := range tests {
		if k.String() != want {
			t.Errorf("SymbolKind(%d) = %q, want %q", k, k.String(), want)
		}
	}
}
