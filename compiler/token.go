package compiler

import (
	"fmt"
	"maps"
	"slices"

	"github.com/chazu/lingo/vm"
)

// ---------------------------------------------------------------------------
// Token types for the Lingo lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Literals
	TokenInteger    // 42
	TokenFloat      // 3.14, 1.5e10
	TokenString     // "hello"
	TokenSymbol     // #foo
	TokenIdentifier // foo, Bar

	// Reserved words; Literal holds the folded spelling
	TokenKeyword

	// Operators: + - * / & && = <> < > <= >=
	TokenOperator

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNewline:    "NEWLINE",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenSymbol:     "SYMBOL",
	TokenIdentifier: "IDENTIFIER",
	TokenKeyword:    "KEYWORD",
	TokenOperator:   "OPERATOR",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenComma:      ",",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text; folded for keywords
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "end of line"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	case TokenKeyword, TokenOperator, TokenLParen, TokenRParen, TokenLBracket, TokenRBracket, TokenComma:
		return fmt.Sprintf("%q", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Is reports whether t is the keyword or operator lit.
func (t Token) Is(lit string) bool {
	return (t.Type == TokenKeyword || t.Type == TokenOperator) && t.Literal == lit
}

// keywords are matched case-insensitively.
var keywords = map[string]bool{
	"on": true, "end": true, "global": true,
	"if": true, "then": true, "else": true,
	"repeat": true, "while": true, "with": true, "to": true, "down": true,
	"exit": true, "next": true, "return": true,
	"put": true, "into": true, "after": true, "before": true,
	"set": true, "the": true, "of": true,
	"and": true, "or": true, "not": true, "mod": true,
	"contains": true, "starts": true, "ends": true,
	"intersects": true, "within": true,
}

// IsKeyword reports whether word is reserved.
func IsKeyword(word string) bool {
	return keywords[vm.FoldName(word)]
}

// Keywords returns the reserved words, sorted.
func Keywords() []string {
	return slices.Sorted(maps.Keys(keywords))
}
