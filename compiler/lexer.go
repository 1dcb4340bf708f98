package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/lingo/vm"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Lingo source
// ---------------------------------------------------------------------------

// Lexer tokenizes Lingo source code. Comments run from "--" to the end
// of the line. A line ending in "¬" or "\" continues on the next line.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // current line (1-based)
	col       int  // current column (1-based)
	lineStart int  // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	switch {
	case l.atEOF():
		return Token{Type: TokenEOF, Pos: pos}

	case l.ch == '\n':
		l.readChar()
		return Token{Type: TokenNewline, Literal: "\n", Pos: pos}

	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}

	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}

	case l.ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}

	case l.ch == '"':
		return l.readString(pos)

	case l.ch == '#':
		return l.readSymbol(pos)

	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return l.readNumber(pos)

	case isLetter(l.ch):
		return l.readIdentifier(pos)
	}

	return l.readOperator(pos)
}

// skipWhitespaceAndComments skips blanks, comments and line
// continuations. Newlines are tokens and are not skipped.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		case (l.ch == '¬' || l.ch == '\\') && l.continuesLine():
			for l.ch != '\n' {
				l.readChar()
			}
			l.readChar()
		default:
			return
		}
	}
}

// continuesLine reports whether only blanks follow the current
// character up to the end of the line.
func (l *Lexer) continuesLine() bool {
	rest := l.input[l.readPos:]
	i := strings.IndexByte(rest, '\n')
	if i < 0 {
		return false
	}
	return strings.TrimRight(rest[:i], " \t\r") == ""
}

// readString reads a double-quoted string. There are no escape
// sequences; the next quote ends the string.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // opening quote
	start := l.pos
	for !l.atEOF() && l.ch != '"' && l.ch != '\n' {
		l.readChar()
	}
	if l.ch != '"' {
		return Token{Type: TokenError, Literal: "unterminated string literal", Pos: pos}
	}
	lit := l.input[start:l.pos]
	l.readChar() // closing quote
	return Token{Type: TokenString, Literal: lit, Pos: pos}
}

func (l *Lexer) readSymbol(pos Position) Token {
	l.readChar() // #
	if !isLetter(l.ch) {
		return Token{Type: TokenError, Literal: "expected symbol name after #", Pos: pos}
	}
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return Token{Type: TokenSymbol, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	isFloat := false
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	} else if l.ch == '.' && !isLetter(l.peekChar()) {
		// "3." is a float
		isFloat = true
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		rest := l.input[l.readPos:]
		if isDigit(next) || ((next == '+' || next == '-') && len(rest) > 1 && isDigit(rune(rest[1]))) {
			isFloat = true
			l.readChar() // e
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	typ := TokenInteger
	if isFloat {
		typ = TokenFloat
	}
	return Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	word := l.input[start:l.pos]
	if IsKeyword(word) {
		return Token{Type: TokenKeyword, Literal: vm.FoldName(word), Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: word, Pos: pos}
}

func (l *Lexer) readOperator(pos Position) Token {
	ch := l.ch
	l.readChar()
	switch ch {
	case '+', '-', '*', '/', '=':
		return Token{Type: TokenOperator, Literal: string(ch), Pos: pos}
	case '&':
		if l.ch == '&' {
			l.readChar()
			return Token{Type: TokenOperator, Literal: "&&", Pos: pos}
		}
		return Token{Type: TokenOperator, Literal: "&", Pos: pos}
	case '<':
		switch l.ch {
		case '>':
			l.readChar()
			return Token{Type: TokenOperator, Literal: "<>", Pos: pos}
		case '=':
			l.readChar()
			return Token{Type: TokenOperator, Literal: "<=", Pos: pos}
		}
		return Token{Type: TokenOperator, Literal: "<", Pos: pos}
	case '>':
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenOperator, Literal: ">=", Pos: pos}
		}
		return Token{Type: TokenOperator, Literal: ">", Pos: pos}
	}
	return Token{Type: TokenError, Literal: "unexpected character " + string(ch), Pos: pos}
}

func isLetter(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isDigit(ch rune) bool {
	return '0' <= ch && ch <= '9'
}

// Tokenize returns every token of input up to and including EOF. The
// first lexical error stops tokenizing and is returned as a LexError.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenError {
			return toks, &Error{Kind: LexError, Pos: tok.Pos, Msg: tok.Literal}
		}
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks, nil
		}
	}
}
