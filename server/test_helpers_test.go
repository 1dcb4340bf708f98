package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/lingo/compiler"
	"github.com/chazu/lingo/state"
	"github.com/chazu/lingo/vm"
)

const scoreScript = `global gScore

on addPoints n
  gScore = gScore + n
  return gScore
end

on mouseUp
  addPoints(5)
end
`

func bg() context.Context { return context.Background() }

// quietLogger drops everything the VM logs.
type quietLogger struct{}

func (quietLogger) Critical(string, ...any) {}
func (quietLogger) Error(string, ...any)    {}
func (quietLogger) Warning(string, ...any)  {}
func (quietLogger) Debug(string, ...any)    {}

func newTestVM() *vm.VM {
	return vm.New(
		vm.WithCompiler(compiler.Compile),
		vm.WithLogger(quietLogger{}),
		vm.WithSeed(1),
	)
}

// newTestServer starts a runtime server with an in-memory state store
// behind an httptest server.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st, err := state.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(newTestVM(), WithStore(st))
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
		st.Close()
	})
	return srv, ts
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct(%v): %v", fields, err)
	}
	return s
}

// callConnect invokes procedure over the Connect protocol.
func callConnect(t *testing.T, ts *httptest.Server, procedure string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	client := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+procedure)
	res, err := client.CallUnary(bg(), connect.NewRequest(mustStruct(t, fields)))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
