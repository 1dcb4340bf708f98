package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Lingo
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// SymbolLiteral represents #name.
type SymbolLiteral struct {
	SpanVal Span
	Value   string
}

func (n *SymbolLiteral) Span() Span { return n.SpanVal }
func (n *SymbolLiteral) node()      {}
func (n *SymbolLiteral) expr()      {}

// VoidLiteral represents the VOID constant.
type VoidLiteral struct {
	SpanVal Span
}

func (n *VoidLiteral) Span() Span { return n.SpanVal }
func (n *VoidLiteral) node()      {}
func (n *VoidLiteral) expr()      {}

// Variable represents a variable reference.
type Variable struct {
	SpanVal Span
	Name    string
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) node()      {}
func (n *Variable) expr()      {}

// CallExpr represents name(args) used for its value.
type CallExpr struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// ListExpr represents [a, b, c].
type ListExpr struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListExpr) Span() Span { return n.SpanVal }
func (n *ListExpr) node()      {}
func (n *ListExpr) expr()      {}

// IndexExpr represents target[index] with 1-based index.
type IndexExpr struct {
	SpanVal Span
	Target  Expr
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// UnaryExpr represents -x or not x.
type UnaryExpr struct {
	SpanVal Span
	Op      string
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryExpr represents left op right.
type BinaryExpr struct {
	SpanVal Span
	Op      string // folded operator or keyword
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// TheExpr represents "the field" or "the field of entity id".
type TheExpr struct {
	SpanVal Span
	Field   string
	Entity  string // empty for interpreter fields
	ID      Expr   // nil when Entity is empty
}

func (n *TheExpr) Span() Span { return n.SpanVal }
func (n *TheExpr) node()      {}
func (n *TheExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// AssignStmt represents name = value or name[index] = value.
type AssignStmt struct {
	SpanVal Span
	Name    string
	Index   Expr // nil for whole-variable assignment
	Value   Expr
}

func (n *AssignStmt) Span() Span { return n.SpanVal }
func (n *AssignStmt) node()      {}
func (n *AssignStmt) stmt()      {}

// TheAssignStmt represents set the field [of entity id] to value.
type TheAssignStmt struct {
	SpanVal Span
	Target  *TheExpr
	Value   Expr
}

func (n *TheAssignStmt) Span() Span { return n.SpanVal }
func (n *TheAssignStmt) node()      {}
func (n *TheAssignStmt) stmt()      {}

// CallStmt represents a handler or builtin call whose result is unused.
type CallStmt struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *CallStmt) Span() Span { return n.SpanVal }
func (n *CallStmt) node()      {}
func (n *CallStmt) stmt()      {}

// PutMode selects the form of a put statement.
type PutMode int

const (
	PutMessage PutMode = iota // put x
	PutInto                   // put x into v
	PutAfter                  // put x after v
	PutBefore                 // put x before v
)

// PutStmt represents the put command.
type PutStmt struct {
	SpanVal Span
	Value   Expr
	Mode    PutMode
	Target  string
}

func (n *PutStmt) Span() Span { return n.SpanVal }
func (n *PutStmt) node()      {}
func (n *PutStmt) stmt()      {}

// IfStmt represents if/then/else.
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    []Stmt
	Else    []Stmt
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// RepeatWhileStmt represents repeat while cond ... end repeat.
type RepeatWhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    []Stmt
}

func (n *RepeatWhileStmt) Span() Span { return n.SpanVal }
func (n *RepeatWhileStmt) node()      {}
func (n *RepeatWhileStmt) stmt()      {}

// RepeatWithStmt represents repeat with v = start [down] to limit.
type RepeatWithStmt struct {
	SpanVal Span
	Var     string
	Start   Expr
	Limit   Expr
	Down    bool
	Body    []Stmt
}

func (n *RepeatWithStmt) Span() Span { return n.SpanVal }
func (n *RepeatWithStmt) node()      {}
func (n *RepeatWithStmt) stmt()      {}

// ExitRepeatStmt leaves the innermost loop.
type ExitRepeatStmt struct {
	SpanVal Span
}

func (n *ExitRepeatStmt) Span() Span { return n.SpanVal }
func (n *ExitRepeatStmt) node()      {}
func (n *ExitRepeatStmt) stmt()      {}

// NextRepeatStmt starts the next iteration of the innermost loop.
type NextRepeatStmt struct {
	SpanVal Span
}

func (n *NextRepeatStmt) Span() Span { return n.SpanVal }
func (n *NextRepeatStmt) node()      {}
func (n *NextRepeatStmt) stmt()      {}

// ExitStmt leaves the current handler, or stops top-level code.
type ExitStmt struct {
	SpanVal Span
}

func (n *ExitStmt) Span() Span { return n.SpanVal }
func (n *ExitStmt) node()      {}
func (n *ExitStmt) stmt()      {}

// ReturnStmt returns from a handler, optionally with a value.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr // nil for a bare return
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// GlobalStmt declares names as globals.
type GlobalStmt struct {
	SpanVal Span
	Names   []string
}

func (n *GlobalStmt) Span() Span { return n.SpanVal }
func (n *GlobalStmt) node()      {}
func (n *GlobalStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// HandlerDecl represents on name params ... end.
type HandlerDecl struct {
	SpanVal Span
	NamePos Position
	Name    string
	Params  []string
	Body    []Stmt
}

func (n *HandlerDecl) Span() Span { return n.SpanVal }
func (n *HandlerDecl) node()      {}

// Unit is one parsed script: top-level statements, unit-level global
// declarations and handlers.
type Unit struct {
	Name     string
	Globals  []string
	Body     []Stmt
	Handlers []*HandlerDecl
}
