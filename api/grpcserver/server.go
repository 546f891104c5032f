package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"warden/api/adminpb"
	"warden/domain/reclaim"
	"warden/infra/arena"
	"warden/infra/logging"
	"warden/service"
)

// Server adapts service.Warden to the Admin gRPC service.
type Server struct {
	adminpb.UnimplementedAdminServer
	svc *service.Warden
	log *slog.Logger
}

func NewServer(svc *service.Warden, l *slog.Logger) *Server {
	return &Server{svc: svc, log: logging.Component(l, "grpc")}
}

// Register builds a grpc.Server with the logging interceptor and the
// Admin service registered.
func Register(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryLogger(s.log)))
	g := grpc.NewServer(opts...)
	adminpb.RegisterAdminServer(g, s)
	return g
}

// -------------------- Commands --------------------

func (s *Server) Rotate(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	return wrapperspb.UInt64(s.svc.Rotate()), nil
}

func (s *Server) SetManual(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	s.svc.SetManual(req.GetValue())
	return &emptypb.Empty{}, nil
}

func (s *Server) Track(ctx context.Context, req *wrapperspb.UInt64Value) (*wrapperspb.UInt64Value, error) {
	size := req.GetValue()
	if size == 0 || size > uint64(maxTrack) {
		return nil, status.Errorf(codes.InvalidArgument, "size %d out of range", size)
	}
	b, err := s.svc.Track(int(size))
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.UInt64(uint64(b.Addr())), nil
}

func (s *Server) Release(ctx context.Context, req *wrapperspb.UInt64Value) (*wrapperspb.BoolValue, error) {
	err := s.svc.Release(uintptr(req.GetValue()))
	if errors.Is(err, reclaim.ErrUnknownBlock) {
		return wrapperspb.Bool(false), nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(true), nil
}

// -------------------- Queries --------------------

func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.svc.Stats()
	out, err := structpb.NewStruct(map[string]any{
		"epoch":           st.Epoch,
		"mode":            st.Mode.String(),
		"tracked_blocks":  st.TrackedBlocks,
		"tracked_bytes":   st.TrackedBytes,
		"owners":          st.Owners,
		"live_owners":     st.LiveOwners,
		"mask_capacity":   st.MaskCapacity,
		"pending_retired": st.PendingRetired,
		"allocator":       st.Allocator,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// -------------------- Helpers --------------------

const maxTrack = 1 << 30

func toStatus(err error) error {
	switch {
	case errors.Is(err, arena.ErrInvalidSize):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, reclaim.ErrShutdown):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, reclaim.ErrUnknownBlock):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// UnaryLogger logs every call with its method, duration and status code.
func UnaryLogger(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		l.Log(ctx, level, "rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"took", time.Since(start).String(),
		)
		return resp, err
	}
}
