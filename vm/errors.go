package vm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies runtime errors raised while executing scripts.
type ErrorKind int

const (
	// TypeCoercionWarning: an operator received operands it could not
	// coerce. Execution continues with Void substituted for the result.
	TypeCoercionWarning ErrorKind = iota

	// UnboundReference: call to an undefined handler or builtin, or read
	// of a name with no binding.
	UnboundReference

	// ArityError: a builtin was called with the wrong number of arguments.
	ArityError

	// IndexOutOfRange: array element access outside 1..count.
	IndexOutOfRange

	// StackDiscipline: return with no frame, operand stack underflow or
	// malformed bytecode.
	StackDiscipline

	// StepLimit: the configured instruction budget was exhausted.
	StepLimit

	// Canceled: the host canceled the context driving execution.
	Canceled

	// HostError: a builtin reported a failure.
	HostError
)

var errorKindNames = [...]string{
	TypeCoercionWarning: "TypeCoercionWarning",
	UnboundReference:    "UnboundReferenceError",
	ArityError:          "ArityError",
	IndexOutOfRange:     "IndexOutOfRangeError",
	StackDiscipline:     "StackDisciplineError",
	StepLimit:           "StepLimitError",
	Canceled:            "CanceledError",
	HostError:           "HostError",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Fatal reports whether an error of this kind aborts the dispatch cycle.
func (k ErrorKind) Fatal() bool {
	switch k {
	case TypeCoercionWarning, HostError:
		return false
	}
	return true
}

// RuntimeError describes a failure during script execution, with the
// handler and source line active when it was raised.
type RuntimeError struct {
	Kind    ErrorKind
	Msg     string
	Handler string // empty for top-level code
	Line    int    // 0 when unknown
}

func (e *RuntimeError) Error() string {
	where := ""
	switch {
	case e.Handler != "" && e.Line > 0:
		where = fmt.Sprintf(" (in %s, line %d)", e.Handler, e.Line)
	case e.Handler != "":
		where = fmt.Sprintf(" (in %s)", e.Handler)
	case e.Line > 0:
		where = fmt.Sprintf(" (line %d)", e.Line)
	}
	return fmt.Sprintf("%s: %s%s", e.Kind, e.Msg, where)
}

// Fatal reports whether the error aborts the dispatch cycle.
func (e *RuntimeError) Fatal() bool { return e.Kind.Fatal() }

// Is matches another *RuntimeError of the same kind, so callers can
// write errors.Is(err, &RuntimeError{Kind: UnboundReference}).
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Kind == e.Kind && t.Msg == ""
}

func newError(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a runtime error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}
