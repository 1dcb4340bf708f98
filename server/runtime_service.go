package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/lingo/compiler"
	"github.com/chazu/lingo/state"
	"github.com/chazu/lingo/vm"
)

// RuntimeServiceName is the fully qualified service name used by both
// the Connect and the gRPC transports.
const RuntimeServiceName = "lingo.v1.RuntimeService"

// Procedure paths of the runtime service.
const (
	CompileProcedure     = "/" + RuntimeServiceName + "/Compile"
	LoadProcedure        = "/" + RuntimeServiceName + "/Load"
	CallProcedure        = "/" + RuntimeServiceName + "/Call"
	DispatchProcedure    = "/" + RuntimeServiceName + "/Dispatch"
	GetGlobalProcedure   = "/" + RuntimeServiceName + "/GetGlobal"
	SetGlobalProcedure   = "/" + RuntimeServiceName + "/SetGlobal"
	ListGlobalsProcedure = "/" + RuntimeServiceName + "/ListGlobals"
	SaveProcedure        = "/" + RuntimeServiceName + "/Save"
	RestoreProcedure     = "/" + RuntimeServiceName + "/Restore"
)

// unaryMethod is the shape shared by every runtime service method.
type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

// RuntimeService exposes a VM to remote hosts. Requests and responses
// are protobuf Structs; errors are *connect.Error values.
type RuntimeService struct {
	worker *VMWorker
	store  *state.Store
}

// NewRuntimeService creates a RuntimeService. store may be nil, in which
// case Save and Restore fail with FailedPrecondition.
func NewRuntimeService(worker *VMWorker, store *state.Store) *RuntimeService {
	return &RuntimeService{worker: worker, store: store}
}

// methods maps each procedure path to its implementation.
func (s *RuntimeService) methods() map[string]unaryMethod {
	return map[string]unaryMethod{
		CompileProcedure:     s.Compile,
		LoadProcedure:        s.Load,
		CallProcedure:        s.Call,
		DispatchProcedure:    s.Dispatch,
		GetGlobalProcedure:   s.GetGlobal,
		SetGlobalProcedure:   s.SetGlobal,
		ListGlobalsProcedure: s.ListGlobals,
		SaveProcedure:        s.Save,
		RestoreProcedure:     s.Restore,
	}
}

// Compile checks source without loading it.
//
// Request: {name, source}. Response: {valid, diagnostics, handlers,
// disassembly}; diagnostics is a list of {line, column, message}.
func (s *RuntimeService) Compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source := stringField(req, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	name := stringField(req, "name")
	if name == "" {
		name = "untitled"
	}

	script, err := doTyped(ctx, s.worker, func(v *vm.VM) (*vm.Script, error) {
		return v.Compile(name, source)
	})
	if err != nil {
		diags := compiler.Errors(err)
		if diags == nil {
			return nil, internalError(err)
		}
		list := make([]*structpb.Value, len(diags))
		for i, d := range diags {
			list[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"line":    structpb.NewNumberValue(float64(d.Pos.Line)),
				"column":  structpb.NewNumberValue(float64(d.Pos.Column)),
				"message": structpb.NewStringValue(d.Msg),
			}})
		}
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"valid":       structpb.NewBoolValue(false),
			"diagnostics": structpb.NewListValue(&structpb.ListValue{Values: list}),
		}}, nil
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"valid":       structpb.NewBoolValue(true),
		"diagnostics": structpb.NewListValue(&structpb.ListValue{}),
		"handlers":    stringList(handlerNames(script)),
		"disassembly": structpb.NewStringValue(script.Disassemble()),
	}}, nil
}

// Load compiles source and loads it for target (0 is the movie).
//
// Request: {name, source, target, run}. With run set the script's
// top-level statements execute after loading. Response: {handlers}.
func (s *RuntimeService) Load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source := stringField(req, "source")
	name := stringField(req, "name")
	if source == "" || name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name and source are required"))
	}
	target := intField(req, "target")
	if target < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("target must not be negative"))
	}
	run := boolField(req, "run")

	script, err := doTyped(ctx, s.worker, func(v *vm.VM) (*vm.Script, error) {
		script, err := v.Compile(name, source)
		if err != nil {
			return nil, err
		}
		v.Load(script, target)
		if run {
			return script, v.Run(ctx, script)
		}
		return script, nil
	})
	if err != nil {
		if compiler.Errors(err) != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, scriptError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"handlers": stringList(handlerNames(script)),
	}}, nil
}

// Call invokes a movie handler or builtin.
//
// Request: {name, args}. Response: {value}.
func (s *RuntimeService) Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	var args []vm.Datum
	if list, ok := valueField(req, "args"); ok {
		for i, a := range list.GetListValue().GetValues() {
			d, err := FromValue(a)
			if err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("argument %d: %w", i+1, err))
			}
			args = append(args, d)
		}
	}

	result, err := doTyped(ctx, s.worker, func(v *vm.VM) (vm.Datum, error) {
		return v.Call(ctx, name, args...)
	})
	if err != nil {
		return nil, scriptError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"value": ToValue(result),
	}}, nil
}

// Dispatch delivers an event.
//
// Request: {event, target, key}. Response: {}.
func (s *RuntimeService) Dispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	kind, err := vm.ParseEventKind(stringField(req, "event"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	ev := vm.Event{Kind: kind, Target: intField(req, "target"), Key: intField(req, "key")}
	if err := s.worker.Dispatch(ctx, ev); err != nil {
		return nil, scriptError(err)
	}
	return &structpb.Struct{}, nil
}

// GetGlobal reads a global variable.
//
// Request: {name}. Response: {value}. A missing global is NotFound.
func (s *RuntimeService) GetGlobal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	type lookup struct {
		value vm.Datum
		ok    bool
	}
	res, err := doTyped(ctx, s.worker, func(v *vm.VM) (lookup, error) {
		d, ok := v.GetGlobal(name)
		return lookup{d, ok}, nil
	})
	if err != nil {
		return nil, internalError(err)
	}
	if !res.ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("global %s is not defined", name))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"value": ToValue(res.value),
	}}, nil
}

// SetGlobal writes a global variable.
//
// Request: {name, value}. Response: {}.
func (s *RuntimeService) SetGlobal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	raw, _ := valueField(req, "value")
	d, err := FromValue(raw)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if _, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		v.SetGlobal(name, d)
		return nil, nil
	}); err != nil {
		return nil, internalError(err)
	}
	return &structpb.Struct{}, nil
}

// ListGlobals returns the global variable names, sorted.
//
// Request: {}. Response: {names}.
func (s *RuntimeService) ListGlobals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	names, err := doTyped(ctx, s.worker, func(v *vm.VM) ([]string, error) {
		return v.GlobalNames(), nil
	})
	if err != nil {
		return nil, internalError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"names": stringList(names),
	}}, nil
}

// Save stores the globals in a save slot.
//
// Request: {slot}. Response: {}.
func (s *RuntimeService) Save(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slot, err := s.slot(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		return nil, s.store.Save(slot, v)
	}); err != nil {
		return nil, internalError(err)
	}
	return &structpb.Struct{}, nil
}

// Restore replaces the globals with a save slot.
//
// Request: {slot}. Response: {}. A missing slot is NotFound.
func (s *RuntimeService) Restore(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slot, err := s.slot(req)
	if err != nil {
		return nil, err
	}
	_, err = s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		return nil, s.store.Restore(slot, v)
	})
	if errors.Is(err, state.ErrSlotNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return nil, internalError(err)
	}
	return &structpb.Struct{}, nil
}

func (s *RuntimeService) slot(req *structpb.Struct) (string, error) {
	if s.store == nil {
		return "", connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no state database configured"))
	}
	slot := stringField(req, "slot")
	if slot == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("slot is required"))
	}
	return slot, nil
}

func handlerNames(s *vm.Script) []string {
	names := make([]string, len(s.Handlers))
	for i, h := range s.Handlers {
		names[i] = h.Name
	}
	return names
}

// scriptError maps a runtime error to a status code: unknown handlers
// are NotFound, cancellation is Canceled, the step limit is
// ResourceExhausted and every other script failure is Aborted.
func scriptError(err error) *connect.Error {
	kind, ok := vm.KindOf(err)
	if !ok {
		return internalError(err)
	}
	switch kind {
	case vm.UnboundReference:
		return connect.NewError(connect.CodeNotFound, err)
	case vm.Canceled:
		return connect.NewError(connect.CodeCanceled, err)
	case vm.StepLimit:
		return connect.NewError(connect.CodeResourceExhausted, err)
	default:
		return connect.NewError(connect.CodeAborted, err)
	}
}

func internalError(err error) *connect.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
