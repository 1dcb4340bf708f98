package compiler

import (
	"fmt"
	"sort"

	"github.com/chazu/lingo/vm"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: checks that do not block compilation
// ---------------------------------------------------------------------------

// Warning is a non-fatal diagnostic found by the semantic analyzer.
type Warning struct {
	Pos Position
	Msg string
}

func (w Warning) String() string {
	return fmt.Sprintf("%d:%d: warning: %s", w.Pos.Line, w.Pos.Column, w.Msg)
}

// SemanticAnalyzer reports likely mistakes in a parsed unit: reads of
// handler locals that are never assigned first, calls to unknown
// handlers, and unreachable statements.
type SemanticAnalyzer struct {
	warnings []Warning

	// Names that always resolve: built-ins, movie globals.
	known map[string]bool

	// Handlers callable from this unit. Nil disables the call check.
	handlers map[string]bool

	// Per-handler scope
	unitGlobals map[string]bool
	locals      map[string]bool
}

// NewSemanticAnalyzer creates an analyzer that knows the standard
// built-ins.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	s := &SemanticAnalyzer{known: make(map[string]bool)}
	for _, name := range vm.StandardBuiltinNames() {
		s.known[vm.FoldName(name)] = true
	}
	return s
}

// AddKnownName marks name as always defined.
func (s *SemanticAnalyzer) AddKnownName(name string) {
	s.known[vm.FoldName(name)] = true
}

// AddKnownHandler marks a handler defined outside the unit, such as a
// movie handler, and turns on the undefined-call check.
func (s *SemanticAnalyzer) AddKnownHandler(name string) {
	if s.handlers == nil {
		s.handlers = make(map[string]bool)
	}
	s.handlers[vm.FoldName(name)] = true
}

// Warnings returns the accumulated warnings sorted by position.
func (s *SemanticAnalyzer) Warnings() []Warning {
	sort.SliceStable(s.warnings, func(i, j int) bool {
		return s.warnings[i].Pos.Offset < s.warnings[j].Pos.Offset
	})
	return s.warnings
}

func (s *SemanticAnalyzer) warnAt(node Node, format string, args ...any) {
	s.warnings = append(s.warnings, Warning{Pos: node.Span().Start, Msg: fmt.Sprintf(format, args...)})
}

// AnalyzeUnit checks the top-level code and every handler of u.
func (s *SemanticAnalyzer) AnalyzeUnit(u *Unit) {
	if s.handlers != nil {
		for _, h := range u.Handlers {
			s.handlers[vm.FoldName(h.Name)] = true
		}
	}
	s.unitGlobals = make(map[string]bool)
	for _, g := range u.Globals {
		s.unitGlobals[vm.FoldName(g)] = true
	}

	// Top-level code reads and writes globals, which may be set by any
	// script, so only calls and reachability are checked.
	s.locals = nil
	s.analyzeStatements(u.Body)

	for _, h := range u.Handlers {
		s.AnalyzeHandler(h)
	}
}

// AnalyzeHandler checks one handler body.
func (s *SemanticAnalyzer) AnalyzeHandler(h *HandlerDecl) {
	s.locals = make(map[string]bool)
	for _, p := range h.Params {
		s.locals[vm.FoldName(p)] = true
	}
	s.analyzeStatements(h.Body)
}

func (s *SemanticAnalyzer) analyzeStatements(stmts []Stmt) {
	for _, stmt := range stmts {
		s.analyzeStmt(stmt)
	}
	s.checkUnreachableCode(stmts)
}

func (s *SemanticAnalyzer) analyzeStmt(stmt Stmt) {
	switch st := stmt.(type) {
	case *AssignStmt:
		if st.Index != nil {
			s.checkVariableDefined(&Variable{SpanVal: st.SpanVal, Name: st.Name})
			s.analyzeExpr(st.Index)
		}
		s.analyzeExpr(st.Value)
		s.define(st.Name)
	case *TheAssignStmt:
		s.analyzeExpr(st.Value)
		s.analyzeExpr(st.Target)
	case *CallStmt:
		s.checkCall(st, st.Name)
		s.analyzeExprs(st.Args)
	case *PutStmt:
		s.analyzeExpr(st.Value)
		if st.Mode == PutAfter || st.Mode == PutBefore {
			s.checkVariableDefined(&Variable{SpanVal: st.SpanVal, Name: st.Target})
		}
		if st.Mode != PutMessage {
			s.define(st.Target)
		}
	case *IfStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeStatements(st.Then)
		s.analyzeStatements(st.Else)
	case *RepeatWhileStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeStatements(st.Body)
	case *RepeatWithStmt:
		s.analyzeExpr(st.Start)
		s.analyzeExpr(st.Limit)
		s.define(st.Var)
		s.analyzeStatements(st.Body)
	case *ReturnStmt:
		if st.Value != nil {
			s.analyzeExpr(st.Value)
		}
	case *GlobalStmt:
		for _, name := range st.Names {
			s.define(name)
		}
	}
}

func (s *SemanticAnalyzer) analyzeExprs(exprs []Expr) {
	for _, e := range exprs {
		s.analyzeExpr(e)
	}
}

func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	switch e := expr.(type) {
	case *Variable:
		s.checkVariableDefined(e)
	case *CallExpr:
		s.checkCall(e, e.Name)
		s.analyzeExprs(e.Args)
	case *ListExpr:
		s.analyzeExprs(e.Elements)
	case *IndexExpr:
		s.analyzeExpr(e.Target)
		s.analyzeExpr(e.Index)
	case *UnaryExpr:
		s.analyzeExpr(e.Operand)
	case *BinaryExpr:
		s.analyzeExpr(e.Left)
		s.analyzeExpr(e.Right)
	case *TheExpr:
		if e.ID != nil {
			s.analyzeExpr(e.ID)
		}
	}
}

func (s *SemanticAnalyzer) define(name string) {
	if s.locals != nil {
		s.locals[vm.FoldName(name)] = true
	}
}

// checkVariableDefined warns when a handler reads a name that is not a
// parameter, an earlier assignment, a declared global or a built-in.
func (s *SemanticAnalyzer) checkVariableDefined(v *Variable) {
	if s.locals == nil {
		return
	}
	key := vm.FoldName(v.Name)
	if s.locals[key] || s.unitGlobals[key] || s.known[key] {
		return
	}
	s.warnAt(v, "variable %s may be used before it is assigned", v.Name)
}

func (s *SemanticAnalyzer) checkCall(n Node, name string) {
	if s.handlers == nil {
		return
	}
	key := vm.FoldName(name)
	if s.handlers[key] || s.known[key] {
		return
	}
	s.warnAt(n, "handler %s is not defined", name)
}

// checkUnreachableCode warns once about statements that follow a
// return, exit, exit repeat or next repeat in the same block.
func (s *SemanticAnalyzer) checkUnreachableCode(stmts []Stmt) {
	for i, stmt := range stmts {
		switch stmt.(type) {
		case *ReturnStmt, *ExitStmt, *ExitRepeatStmt, *NextRepeatStmt:
			if i < len(stmts)-1 {
				s.warnAt(stmts[i+1], "unreachable code")
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Integration with Compile function
// ---------------------------------------------------------------------------

// Analyze runs semantic analysis on u. Extra names are treated as
// defined.
func Analyze(u *Unit, known ...string) []Warning {
	analyzer := NewSemanticAnalyzer()
	for _, name := range known {
		analyzer.AddKnownName(name)
	}
	analyzer.AnalyzeUnit(u)
	return analyzer.Warnings()
}
