package vm

import (
	"github.com/tliron/commonlog"
)

// Logger is the sink for runtime warnings and errors. Any
// commonlog.Logger satisfies it.
type Logger interface {
	Critical(message string, keysAndValues ...any)
	Error(message string, keysAndValues ...any)
	Warning(message string, keysAndValues ...any)
	Debug(message string, keysAndValues ...any)
}

// DefaultLogger returns the commonlog logger used when no sink is
// supplied.
func DefaultLogger() Logger {
	return commonlog.GetLogger("lingo.vm")
}

// logRuntimeError writes err to log at a severity matching its kind.
func logRuntimeError(log Logger, err *RuntimeError) {
	kv := []any{"kind", err.Kind.String()}
	if err.Handler != "" {
		kv = append(kv, "handler", err.Handler)
	}
	if err.Line > 0 {
		kv = append(kv, "line", err.Line)
	}
	switch err.Kind {
	case TypeCoercionWarning, HostError:
		log.Warning(err.Msg, kv...)
	case StackDiscipline:
		log.Critical(err.Msg, kv...)
	default:
		log.Error(err.Msg, kv...)
	}
}
