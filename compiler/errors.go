package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies compile errors.
type ErrorKind int

const (
	// LexError: malformed token such as an unterminated string.
	LexError ErrorKind = iota
	// SyntaxError: unexpected token, misplaced statement or duplicate handler.
	SyntaxError
)

func (k ErrorKind) String() string {
	if k == LexError {
		return "lex error"
	}
	return "syntax error"
}

// Error is one compile error with its source position.
type Error struct {
	Kind ErrorKind
	Pos  Position
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s: %s", e.Pos.Line, e.Pos.Column, e.Kind, e.Msg)
}

// ErrorList collects the errors found in one unit.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (l ErrorList) Unwrap() []error {
	out := make([]error, len(l))
	for i, e := range l {
		out[i] = e
	}
	return out
}

// Err returns l as an error, or nil if it is empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Errors returns the compile errors contained in err.
func Errors(err error) []*Error {
	var list ErrorList
	if errors.As(err, &list) {
		return list
	}
	var e *Error
	if errors.As(err, &e) {
		return []*Error{e}
	}
	return nil
}
