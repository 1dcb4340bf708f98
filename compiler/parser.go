package compiler

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/chazu/lingo/vm"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Lingo
// ---------------------------------------------------------------------------

// maxErrors stops parsing once this many errors have been reported.
const maxErrors = 10

// bailout unwinds the parser to the nearest statement boundary.
type bailout struct{}

// tooManyErrors unwinds the parser to ParseUnit.
type tooManyErrors struct{}

// Parser builds a Unit from a token stream.
type Parser struct {
	toks      []Token
	pos       int
	curToken  Token
	peekToken Token
	prevEnd   Position
	errors    ErrorList

	inHandler bool
	loopDepth int
}

// NewParser creates a parser over tokens, which must end with EOF.
func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		tokens = append(tokens, Token{Type: TokenEOF})
	}
	p := &Parser{toks: tokens}
	p.curToken = p.at(0)
	p.peekToken = p.at(1)
	return p
}

// Parse tokenizes and parses source. The returned unit holds everything
// that parsed; the error, if any, is an ErrorList.
func Parse(name, source string) (*Unit, error) {
	toks, err := Tokenize(source)
	if err != nil {
		return &Unit{Name: name}, ErrorList{err.(*Error)}
	}
	p := NewParser(toks)
	unit := p.ParseUnit(name)
	return unit, p.errors.Err()
}

func (p *Parser) at(i int) Token {
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[i]
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.prevEnd = tokenEnd(p.curToken)
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	p.curToken = p.at(p.pos)
	p.peekToken = p.at(p.pos + 1)
}

func tokenEnd(t Token) Position {
	n := utf8.RuneCountInString(t.Literal)
	switch t.Type {
	case TokenString:
		n += 2
	case TokenSymbol:
		n++
	}
	return Position{Offset: t.Pos.Offset + len(t.Literal), Line: t.Pos.Line, Column: t.Pos.Column + n}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) span(start Position) Span {
	return Span{Start: start, End: p.prevEnd}
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

// errorAt records an error without unwinding.
func (p *Parser) errorAt(pos Position, format string, args ...any) {
	p.errors = append(p.errors, &Error{Kind: SyntaxError, Pos: pos, Msg: fmt.Sprintf(format, args...)})
	if len(p.errors) >= maxErrors {
		panic(tooManyErrors{})
	}
}

// errorf records an error at the current token and unwinds to the
// enclosing statement.
func (p *Parser) errorf(format string, args ...any) {
	p.errorAt(p.curToken.Pos, format, args...)
	panic(bailout{})
}

func (p *Parser) expectKeyword(kw string) {
	if !p.curToken.Is(kw) {
		p.errorf("expected %q, got %s", kw, p.curToken)
	}
	p.nextToken()
}

func (p *Parser) expectOperator(op string) {
	if !p.curToken.Is(op) {
		p.errorf("expected %q, got %s", op, p.curToken)
	}
	p.nextToken()
}

func (p *Parser) expect(t TokenType) Token {
	tok := p.curToken
	if tok.Type != t {
		p.errorf("expected %s, got %s", t, tok)
	}
	p.nextToken()
	return tok
}

func (p *Parser) expectIdentifier(what string) string {
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected %s, got %s", what, p.curToken)
	}
	name := p.curToken.Literal
	p.nextToken()
	return name
}

func (p *Parser) skipNewlines() {
	for p.curTokenIs(TokenNewline) {
		p.nextToken()
	}
}

// syncLine skips to the start of the next line.
func (p *Parser) syncLine() {
	for !p.curTokenIs(TokenNewline) && !p.curTokenIs(TokenEOF) {
		p.nextToken()
	}
	p.skipNewlines()
}

// atStatementEnd reports whether the current token ends a statement.
func (p *Parser) atStatementEnd() bool {
	return p.curTokenIs(TokenNewline) || p.curTokenIs(TokenEOF) || p.curToken.Is("else")
}

func (p *Parser) expectEndOfStatement() {
	switch {
	case p.curTokenIs(TokenNewline):
		p.nextToken()
	case p.curTokenIs(TokenEOF):
	default:
		p.errorf("unexpected %s after statement", p.curToken)
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseUnit parses the whole token stream as the unit called name.
func (p *Parser) ParseUnit(name string) (u *Unit) {
	u = &Unit{Name: name}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(tooManyErrors); !ok {
				panic(r)
			}
		}
	}()

	seen := make(map[string]bool)
	for {
		p.skipNewlines()
		if p.curTokenIs(TokenEOF) {
			return u
		}
		if p.curToken.Is("on") {
			h := p.parseHandlerSafe()
			if h == nil {
				continue
			}
			key := vm.FoldName(h.Name)
			if seen[key] {
				p.errorAt(h.NamePos, "duplicate handler %s", h.Name)
				continue
			}
			seen[key] = true
			u.Handlers = append(u.Handlers, h)
			continue
		}
		if s := p.parseStatementSafe(); s != nil {
			if g, ok := s.(*GlobalStmt); ok {
				u.Globals = append(u.Globals, g.Names...)
			}
			u.Body = append(u.Body, s)
		}
	}
}

func (p *Parser) parseHandlerSafe() (h *HandlerDecl) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			p.inHandler = false
			p.loopDepth = 0
			// Skip the rest of the handler.
			for !p.curTokenIs(TokenEOF) && !p.curToken.Is("end") && !p.curToken.Is("on") {
				p.syncLine()
			}
			if p.curToken.Is("end") {
				p.syncLine()
			}
			h = nil
		}
	}()
	return p.parseHandler()
}

// parseHandler parses: on name [param {, param}] NEWLINE block end [name]
func (p *Parser) parseHandler() *HandlerDecl {
	start := p.curToken.Pos
	p.nextToken() // on

	namePos := p.curToken.Pos
	name := p.expectIdentifier("handler name")

	var params []string
	parens := p.curTokenIs(TokenLParen)
	if parens {
		p.nextToken()
	}
	for p.curTokenIs(TokenIdentifier) {
		params = append(params, p.curToken.Literal)
		p.nextToken()
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if parens {
		p.expect(TokenRParen)
	}
	if !p.curTokenIs(TokenNewline) {
		p.errorf("expected end of line after handler header, got %s", p.curToken)
	}

	p.inHandler = true
	body := p.parseBlock("end")
	p.inHandler = false

	if !p.curToken.Is("end") {
		p.errorf("expected \"end\" for handler %s, got %s", name, p.curToken)
	}
	p.nextToken()
	if p.curTokenIs(TokenIdentifier) {
		p.nextToken()
	}
	decl := &HandlerDecl{SpanVal: p.span(start), NamePos: namePos, Name: name, Params: params, Body: body}
	p.expectEndOfStatement()
	return decl
}

// parseBlock parses statements until one of the terminator keywords
// or EOF, which is left as the current token.
func (p *Parser) parseBlock(terminators ...string) []Stmt {
	var body []Stmt
	for {
		p.skipNewlines()
		if p.curTokenIs(TokenEOF) || p.curToken.Is("on") {
			return body
		}
		for _, t := range terminators {
			if p.curToken.Is(t) {
				return body
			}
		}
		if s := p.parseStatementSafe(); s != nil {
			body = append(body, s)
		}
	}
}

func (p *Parser) parseStatementSafe() (s Stmt) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			p.syncLine()
			s = nil
		}
	}()
	s = p.parseStatement()
	p.expectEndOfStatement()
	return s
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement() Stmt {
	tok := p.curToken
	switch tok.Type {
	case TokenIdentifier:
		return p.parseIdentStatement()
	case TokenKeyword:
		switch tok.Literal {
		case "if":
			return p.parseIf()
		case "repeat":
			return p.parseRepeat()
		case "exit":
			p.nextToken()
			if p.curToken.Is("repeat") {
				if p.loopDepth == 0 {
					p.errorf("exit repeat outside of a repeat loop")
				}
				p.nextToken()
				return &ExitRepeatStmt{SpanVal: p.span(tok.Pos)}
			}
			return &ExitStmt{SpanVal: p.span(tok.Pos)}
		case "next":
			p.nextToken()
			p.expectKeyword("repeat")
			if p.loopDepth == 0 {
				p.errorAt(tok.Pos, "next repeat outside of a repeat loop")
				panic(bailout{})
			}
			return &NextRepeatStmt{SpanVal: p.span(tok.Pos)}
		case "return":
			if !p.inHandler {
				p.errorf("return outside of a handler")
			}
			p.nextToken()
			var value Expr
			if !p.atStatementEnd() {
				value = p.parseExpression()
			}
			return &ReturnStmt{SpanVal: p.span(tok.Pos), Value: value}
		case "global":
			p.nextToken()
			names := []string{p.expectIdentifier("global name")}
			for p.curTokenIs(TokenComma) {
				p.nextToken()
				names = append(names, p.expectIdentifier("global name"))
			}
			return &GlobalStmt{SpanVal: p.span(tok.Pos), Names: names}
		case "put":
			return p.parsePut()
		case "set":
			return p.parseSet()
		case "on":
			p.errorf("handler %s cannot be nested", p.peekToken.Literal)
		}
	}
	p.errorf("unexpected %s", tok)
	return nil
}

// parseIdentStatement parses assignments and calls that start with a name.
func (p *Parser) parseIdentStatement() Stmt {
	start := p.curToken.Pos
	name := p.curToken.Literal
	p.nextToken()

	switch {
	case p.curToken.Is("="):
		p.nextToken()
		value := p.parseExpression()
		return &AssignStmt{SpanVal: p.span(start), Name: name, Value: value}

	case p.curTokenIs(TokenLBracket):
		p.nextToken()
		index := p.parseExpression()
		p.expect(TokenRBracket)
		p.expectOperator("=")
		value := p.parseExpression()
		return &AssignStmt{SpanVal: p.span(start), Name: name, Index: index, Value: value}

	case p.curTokenIs(TokenLParen):
		p.nextToken()
		args := p.parseArgs(TokenRParen)
		p.expect(TokenRParen)
		return &CallStmt{SpanVal: p.span(start), Name: name, Args: args}

	case p.atStatementEnd():
		return &CallStmt{SpanVal: p.span(start), Name: name}
	}

	args := []Expr{p.parseExpression()}
	for p.curTokenIs(TokenComma) {
		p.nextToken()
		args = append(args, p.parseExpression())
	}
	return &CallStmt{SpanVal: p.span(start), Name: name, Args: args}
}

// parseArgs parses a possibly empty comma-separated list ending before
// closer.
func (p *Parser) parseArgs(closer TokenType) []Expr {
	var args []Expr
	if p.curTokenIs(closer) {
		return args
	}
	args = append(args, p.parseExpression())
	for p.curTokenIs(TokenComma) {
		p.nextToken()
		args = append(args, p.parseExpression())
	}
	return args
}

// parseIf parses the block form
//
//	if cond then NEWLINE block [else (if ... | NEWLINE block)] end if
//
// and the single-line form
//
//	if cond then stmt [[NEWLINE] else stmt]
func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // if
	cond := p.parseExpression()
	p.skipNewlines()
	p.expectKeyword("then")

	stmt := &IfStmt{Cond: cond}
	if p.curTokenIs(TokenNewline) {
		stmt.Then = p.parseBlock("end", "else")
		if p.curToken.Is("else") {
			p.nextToken()
			if p.curToken.Is("if") {
				stmt.Else = []Stmt{p.parseIf()}
				stmt.SpanVal = p.span(start)
				return stmt
			}
			if p.curTokenIs(TokenNewline) {
				stmt.Else = p.parseBlock("end")
			} else {
				stmt.Else = []Stmt{p.parseStatement()}
				p.skipNewlines()
			}
		}
		p.expectKeyword("end")
		p.expectKeyword("if")
		stmt.SpanVal = p.span(start)
		return stmt
	}

	stmt.Then = []Stmt{p.parseStatement()}
	// An else on the following line binds here only when a statement
	// follows it on that line; a bare else belongs to an enclosing block.
	if p.curTokenIs(TokenNewline) && p.peekToken.Is("else") {
		after := p.at(p.pos + 2)
		if after.Type != TokenNewline && after.Type != TokenEOF {
			p.nextToken()
		}
	}
	if p.curToken.Is("else") {
		p.nextToken()
		if p.curToken.Is("if") {
			stmt.Else = []Stmt{p.parseIf()}
		} else {
			stmt.Else = []Stmt{p.parseStatement()}
		}
	}
	stmt.SpanVal = p.span(start)
	return stmt
}

// parseRepeat parses repeat while and repeat with loops.
func (p *Parser) parseRepeat() Stmt {
	start := p.curToken.Pos
	p.nextToken() // repeat

	switch {
	case p.curToken.Is("while"):
		p.nextToken()
		cond := p.parseExpression()
		body := p.parseLoopBody()
		return &RepeatWhileStmt{SpanVal: p.span(start), Cond: cond, Body: body}

	case p.curToken.Is("with"):
		p.nextToken()
		v := p.expectIdentifier("loop variable")
		p.expectOperator("=")
		from := p.parseExpression()
		down := false
		if p.curToken.Is("down") {
			down = true
			p.nextToken()
		}
		p.expectKeyword("to")
		limit := p.parseExpression()
		body := p.parseLoopBody()
		return &RepeatWithStmt{SpanVal: p.span(start), Var: v, Start: from, Limit: limit, Down: down, Body: body}
	}
	p.errorf("expected \"while\" or \"with\" after repeat, got %s", p.curToken)
	return nil
}

func (p *Parser) parseLoopBody() []Stmt {
	if !p.curTokenIs(TokenNewline) {
		p.errorf("expected end of line after loop header, got %s", p.curToken)
	}
	p.loopDepth++
	body := p.parseBlock("end")
	p.loopDepth--
	p.expectKeyword("end")
	p.expectKeyword("repeat")
	return body
}

// parsePut parses put expr [(into|after|before) name].
func (p *Parser) parsePut() Stmt {
	start := p.curToken.Pos
	p.nextToken() // put
	value := p.parseExpression()
	stmt := &PutStmt{Value: value, Mode: PutMessage}
	switch {
	case p.curToken.Is("into"):
		stmt.Mode = PutInto
	case p.curToken.Is("after"):
		stmt.Mode = PutAfter
	case p.curToken.Is("before"):
		stmt.Mode = PutBefore
	}
	if stmt.Mode != PutMessage {
		p.nextToken()
		stmt.Target = p.expectIdentifier("variable name")
	}
	stmt.SpanVal = p.span(start)
	return stmt
}

// parseSet parses set (name | the-expr) (= | to) expr.
func (p *Parser) parseSet() Stmt {
	start := p.curToken.Pos
	p.nextToken() // set

	if p.curToken.Is("the") {
		target := p.parseThe()
		p.expectAssignment()
		value := p.parseExpression()
		return &TheAssignStmt{SpanVal: p.span(start), Target: target, Value: value}
	}
	name := p.expectIdentifier("variable name")
	p.expectAssignment()
	value := p.parseExpression()
	return &AssignStmt{SpanVal: p.span(start), Name: name, Value: value}
}

func (p *Parser) expectAssignment() {
	if p.curToken.Is("=") || p.curToken.Is("to") {
		p.nextToken()
		return
	}
	p.errorf("expected \"=\" or \"to\", got %s", p.curToken)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression from the current token.
func (p *Parser) ParseExpression() (e Expr, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch r.(type) {
			case bailout, tooManyErrors:
				e, err = nil, p.errors
			default:
				panic(r)
			}
		}
	}()
	return p.parseExpression(), nil
}

func (p *Parser) parseExpression() Expr {
	return p.parseOr()
}

func (p *Parser) binary(left Expr, op string, right Expr) Expr {
	return &BinaryExpr{
		SpanVal: Span{Start: left.Span().Start, End: p.prevEnd},
		Op:      op,
		Left:    left,
		Right:   right,
	}
}

func (p *Parser) parseOr() Expr {
	left := p.parseAnd()
	for p.curToken.Is("or") {
		p.nextToken()
		left = p.binary(left, "or", p.parseAnd())
	}
	return left
}

func (p *Parser) parseAnd() Expr {
	left := p.parseComparison()
	for p.curToken.Is("and") {
		p.nextToken()
		left = p.binary(left, "and", p.parseComparison())
	}
	return left
}

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true,
	"contains": true, "starts": true, "ends": true,
	"intersects": true, "within": true,
}

func (p *Parser) parseComparison() Expr {
	left := p.parseConcat()
	for (p.curTokenIs(TokenOperator) || p.curTokenIs(TokenKeyword)) && comparisonOps[p.curToken.Literal] {
		op := p.curToken.Literal
		p.nextToken()
		left = p.binary(left, op, p.parseConcat())
	}
	return left
}

func (p *Parser) parseConcat() Expr {
	left := p.parseAdditive()
	for p.curToken.Is("&") || p.curToken.Is("&&") {
		op := p.curToken.Literal
		p.nextToken()
		left = p.binary(left, op, p.parseAdditive())
	}
	return left
}

func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for p.curToken.Is("+") || p.curToken.Is("-") {
		op := p.curToken.Literal
		p.nextToken()
		left = p.binary(left, op, p.parseMultiplicative())
	}
	return left
}

func (p *Parser) parseMultiplicative() Expr {
	left := p.parseUnary()
	for p.curToken.Is("*") || p.curToken.Is("/") || p.curToken.Is("mod") {
		op := p.curToken.Literal
		p.nextToken()
		left = p.binary(left, op, p.parseUnary())
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	start := p.curToken.Pos
	switch {
	case p.curToken.Is("-"):
		p.nextToken()
		operand := p.parseUnary()
		switch lit := operand.(type) {
		case *IntLiteral:
			return &IntLiteral{SpanVal: p.span(start), Value: -lit.Value}
		case *FloatLiteral:
			return &FloatLiteral{SpanVal: p.span(start), Value: -lit.Value}
		}
		return &UnaryExpr{SpanVal: p.span(start), Op: "-", Operand: operand}
	case p.curToken.Is("+"):
		p.nextToken()
		return p.parseUnary()
	case p.curToken.Is("not"):
		p.nextToken()
		operand := p.parseUnary()
		return &UnaryExpr{SpanVal: p.span(start), Op: "not", Operand: operand}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	e := p.parsePrimary()
	for p.curTokenIs(TokenLBracket) {
		p.nextToken()
		index := p.parseExpression()
		p.expect(TokenRBracket)
		e = &IndexExpr{SpanVal: Span{Start: e.Span().Start, End: p.prevEnd}, Target: e, Index: index}
	}
	return e
}

// constants are identifiers with fixed values.
var constants = map[string]func(Span) Expr{
	"true":      func(s Span) Expr { return &IntLiteral{SpanVal: s, Value: 1} },
	"false":     func(s Span) Expr { return &IntLiteral{SpanVal: s, Value: 0} },
	"void":      func(s Span) Expr { return &VoidLiteral{SpanVal: s} },
	"empty":     func(s Span) Expr { return &StringLiteral{SpanVal: s, Value: ""} },
	"space":     func(s Span) Expr { return &StringLiteral{SpanVal: s, Value: " "} },
	"tab":       func(s Span) Expr { return &StringLiteral{SpanVal: s, Value: "\t"} },
	"quote":     func(s Span) Expr { return &StringLiteral{SpanVal: s, Value: "\""} },
	"backspace": func(s Span) Expr { return &StringLiteral{SpanVal: s, Value: "\b"} },
	"enter":     func(s Span) Expr { return &StringLiteral{SpanVal: s, Value: "\x03"} },
}

// IsConstant reports whether name is a predefined constant.
func IsConstant(name string) bool {
	_, ok := constants[vm.FoldName(name)]
	return ok
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	start := tok.Pos

	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		if n, err := strconv.ParseInt(tok.Literal, 10, 64); err == nil {
			return &IntLiteral{SpanVal: p.span(start), Value: n}
		}
		f, _ := strconv.ParseFloat(tok.Literal, 64)
		return &FloatLiteral{SpanVal: p.span(start), Value: f}

	case TokenFloat:
		p.nextToken()
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorAt(start, "invalid number %s", tok.Literal)
			panic(bailout{})
		}
		return &FloatLiteral{SpanVal: p.span(start), Value: f}

	case TokenString:
		p.nextToken()
		return &StringLiteral{SpanVal: p.span(start), Value: tok.Literal}

	case TokenSymbol:
		p.nextToken()
		return &SymbolLiteral{SpanVal: p.span(start), Value: tok.Literal}

	case TokenLParen:
		p.nextToken()
		e := p.parseExpression()
		p.expect(TokenRParen)
		return e

	case TokenLBracket:
		p.nextToken()
		elems := p.parseArgs(TokenRBracket)
		p.expect(TokenRBracket)
		return &ListExpr{SpanVal: p.span(start), Elements: elems}

	case TokenKeyword:
		switch tok.Literal {
		case "the":
			return p.parseThe()
		case "return":
			p.nextToken()
			return &StringLiteral{SpanVal: p.span(start), Value: "\r"}
		}

	case TokenIdentifier:
		p.nextToken()
		if mk, ok := constants[vm.FoldName(tok.Literal)]; ok {
			return mk(p.span(start))
		}
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			args := p.parseArgs(TokenRParen)
			p.expect(TokenRParen)
			return &CallExpr{SpanVal: p.span(start), Name: tok.Literal, Args: args}
		}
		return &Variable{SpanVal: p.span(start), Name: tok.Literal}
	}

	p.errorf("unexpected %s in expression", tok)
	return nil
}

// parseThe parses the field [of entity id].
func (p *Parser) parseThe() *TheExpr {
	start := p.curToken.Pos
	p.nextToken() // the
	field := p.expectIdentifier("property name")
	e := &TheExpr{Field: field}
	if p.curToken.Is("of") {
		p.nextToken()
		e.Entity = p.expectIdentifier("entity name")
		e.ID = p.parseUnary()
	}
	e.SpanVal = p.span(start)
	return e
}
