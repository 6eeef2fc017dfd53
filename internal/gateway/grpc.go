// ABOUTME: StateService gRPC service carrying JSON messages through the wire codec
// ABOUTME: Hand-written service descriptor; domain errors map to gRPC status codes

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/forgestate/internal/checklist"
	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/service"
	"github.com/2389/forgestate/internal/store"
	"github.com/2389/forgestate/internal/wire"
)

// StateServiceServer is the server API of forgestate.v1.StateService.
type StateServiceServer interface {
	Health(context.Context, *wire.Empty) (*wire.Health, error)
	GetState(context.Context, *wire.Empty) (*projectstate.ProjectState, error)
	ReplaceState(context.Context, *projectstate.ProjectState) (*projectstate.ProjectState, error)
	BatchUpdate(context.Context, *wire.BatchRequest) (*projectstate.ProjectState, error)
	RunSingularity(context.Context, *wire.Empty) (*projectstate.ProjectState, error)
	AddCustomCodexItem(context.Context, *projectstate.CodexItem) (*projectstate.ProjectState, error)
	ListCodex(context.Context, *wire.Empty) ([]projectstate.CodexItem, error)
	GetChecklist(context.Context, *wire.Empty) (*checklist.View, error)
}

// stateServer implements StateServiceServer over the shared Service.
type stateServer struct {
	service *service.Service
	docs    store.DocumentStore
}

func (s *stateServer) Health(ctx context.Context, _ *wire.Empty) (*wire.Health, error) {
	if err := s.docs.Ping(ctx); err != nil {
		return nil, status.Error(codes.Unavailable, "store unavailable")
	}
	return &wire.Health{Status: "ok"}, nil
}

func (s *stateServer) GetState(ctx context.Context, _ *wire.Empty) (*projectstate.ProjectState, error) {
	st, err := s.service.GetState(ctx)
	return st, toStatus(err)
}

func (s *stateServer) ReplaceState(ctx context.Context, next *projectstate.ProjectState) (*projectstate.ProjectState, error) {
	st, err := s.service.ReplaceState(ctx, next)
	return st, toStatus(err)
}

func (s *stateServer) BatchUpdate(ctx context.Context, req *wire.BatchRequest) (*projectstate.ProjectState, error) {
	updates, err := toUpdates(req.Updates)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	st, err := s.service.BatchUpdate(ctx, updates)
	return st, toStatus(err)
}

func (s *stateServer) RunSingularity(ctx context.Context, _ *wire.Empty) (*projectstate.ProjectState, error) {
	st, err := s.service.RunSingularity(ctx)
	return st, toStatus(err)
}

func (s *stateServer) AddCustomCodexItem(ctx context.Context, item *projectstate.CodexItem) (*projectstate.ProjectState, error) {
	st, err := s.service.AddCustomCodexItem(ctx, *item)
	return st, toStatus(err)
}

func (s *stateServer) ListCodex(ctx context.Context, _ *wire.Empty) ([]projectstate.CodexItem, error) {
	return s.service.Codex(ctx), nil
}

func (s *stateServer) GetChecklist(ctx context.Context, _ *wire.Empty) (*checklist.View, error) {
	v, err := s.service.Checklist(ctx)
	return v, toStatus(err)
}

// toStatus maps service errors onto gRPC codes. nil stays nil.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case projectstate.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case projectstate.IsConflict(err):
		return status.Error(codes.Aborted, err.Error())
	case projectstate.IsPersistence(err), errors.Is(err, projectstate.ErrClosed):
		return status.Error(codes.Unavailable, "state store unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}

// unary adapts a typed method to grpc.MethodDesc.
func unary[Req any, Resp any](name string, call func(StateServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StateServiceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.FullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var stateServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*StateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(wire.MethodHealth, StateServiceServer.Health),
		unary(wire.MethodGetState, StateServiceServer.GetState),
		unary(wire.MethodReplaceState, StateServiceServer.ReplaceState),
		unary(wire.MethodBatchUpdate, StateServiceServer.BatchUpdate),
		unary(wire.MethodRunSingularity, StateServiceServer.RunSingularity),
		unary(wire.MethodAddCustomCodexItem, StateServiceServer.AddCustomCodexItem),
		unary(wire.MethodListCodex, StateServiceServer.ListCodex),
		unary(wire.MethodGetChecklist, StateServiceServer.GetChecklist),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forgestate/v1/state.json",
}

func registerStateService(s grpc.ServiceRegistrar, srv StateServiceServer) {
	s.RegisterService(&stateServiceDesc, srv)
}

// requestLogInterceptor logs each call with a request id taken from
// x-request-id metadata or generated.
func requestLogInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("x-request-id"); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = uuid.New().String()
		}
		ctx = context.WithValue(ctx, requestIDKey{}, id)

		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			"method", info.FullMethod,
			"request_id", id,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}
