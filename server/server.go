// Package server exposes a running VM to other processes: a runtime
// service over Connect and gRPC, and a language server over stdio.
package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/lingo/state"
	"github.com/chazu/lingo/vm"
)

var log = commonlog.GetLogger("lingo.server")

// Server is the runtime server wrapping a VM. It is an http.Handler
// serving the Connect, gRPC and gRPC-Web protocols, and can also be
// registered on a grpc.Server.
type Server struct {
	worker  *VMWorker
	runtime *RuntimeService
	mux     *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store        *state.Store
	interceptors []connect.Interceptor
}

// WithStore enables the Save and Restore methods.
func WithStore(st *state.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithInterceptors adds Connect interceptors to every method.
func WithInterceptors(i ...connect.Interceptor) ServerOption {
	return func(c *serverConfig) { c.interceptors = append(c.interceptors, i...) }
}

// New creates a Server wrapping the given VM. The VM must not be used
// directly afterwards; go through Worker instead.
func New(v *vm.VM, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker(v)
	s := &Server{
		worker:  worker,
		runtime: NewRuntimeService(worker, cfg.store),
		mux:     http.NewServeMux(),
	}

	handlerOpts := []connect.HandlerOption{connect.WithInterceptors(cfg.interceptors...)}
	for procedure, method := range s.runtime.methods() {
		s.mux.Handle(procedure, connect.NewUnaryHandler(procedure, connectUnary(method), handlerOpts...))
	}
	return s
}

func connectUnary(m unaryMethod) func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		res, err := m(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(res), nil
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Worker returns the goroutine that owns the VM.
func (s *Server) Worker() *VMWorker { return s.worker }

// Runtime returns the runtime service.
func (s *Server) Runtime() *RuntimeService { return s.runtime }

// RegisterGRPC registers the runtime service on g.
func (s *Server) RegisterGRPC(g *grpc.Server) {
	g.RegisterService(s.runtime.serviceDesc(), s.runtime)
}

// serviceDesc describes the runtime service to grpc-go without
// generated stubs; messages are structpb.Struct.
func (s *RuntimeService) serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: RuntimeServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "lingo/v1/runtime.proto",
	}
	for procedure, method := range s.methods() {
		name := procedure[len(RuntimeServiceName)+2:]
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    grpcUnary(procedure, method),
		})
	}
	return desc
}

func grpcUnary(procedure string, m unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	call := func(ctx context.Context, req any) (any, error) {
		res, err := m(ctx, req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.Code(connect.CodeOf(err)), connectMessage(err))
		}
		return res, nil
	}
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: nil, FullMethod: procedure}
		return interceptor(ctx, in, info, call)
	}
}

func connectMessage(err error) string {
	if ce, ok := err.(*connect.Error); ok {
		return ce.Message()
	}
	return err.Error()
}

// ListenAndServe serves Connect, gRPC and gRPC-Web on addr. HTTP/2
// without TLS is enabled so that plain gRPC clients can connect.
func (s *Server) ListenAndServe(addr string) error {
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{
		Addr:      addr,
		Handler:   s,
		Protocols: protocols,
	}
	log.Notice("runtime server listening", "address", addr, "service", RuntimeServiceName)
	return srv.ListenAndServe()
}

// Stop shuts down the worker.
func (s *Server) Stop() {
	s.worker.Stop()
}
