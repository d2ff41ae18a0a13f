// Package grpcserver exposes the lockout admin API over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/bruteguard/internal/convert"
	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/lockout"
	"github.com/and161185/bruteguard/internal/model"
)

// Guard is the part of lockout.Guard operators reach through the admin API.
type Guard interface {
	GetStatus(ctx context.Context, key string, now time.Time) (model.Status, error)
	Reset(ctx context.Context, key string) (bool, error)
}

var _ Guard = (*lockout.Guard)(nil)

// Server wires the lockout guard into admin handlers.
type Server struct {
	guard   Guard
	signKey []byte
	log     *zap.Logger
	now     func() time.Time
}

var _ LockoutAdminServer = (*Server)(nil)

// New constructs the admin server. signKey verifies bearer tokens.
func New(guard Guard, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{guard: guard, signKey: signKey, log: log, now: time.Now}
}

// GetStatus reports the attempt record of a client key.
func (s *Server) GetStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := s.guard.GetStatus(ctx, req.GetValue(), s.now())
	if err != nil {
		return nil, s.toStatus(ctx, "get status", err)
	}
	out, err := convert.StatusToStruct(st)
	if err != nil {
		return nil, s.toStatus(ctx, "get status", err)
	}
	return out, nil
}

// Reset clears the record of a client key and reports whether one existed.
func (s *Server) Reset(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	existed, err := s.guard.Reset(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, "reset", err)
	}
	sub, _ := SubjectFromCtx(ctx)
	s.log.Info("client key reset by admin",
		zap.String("client_key", req.GetValue()),
		zap.Bool("existed", existed),
		zap.String("admin", sub),
	)
	return wrapperspb.Bool(existed), nil
}

// toStatus maps domain errors to gRPC codes without leaking backend text.
func (s *Server) toStatus(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, "invalid client key")
	case errors.Is(err, errs.ErrStorage):
		s.log.Error(op+" failed", zap.Error(err))
		return status.Error(codes.Unavailable, "store unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	default:
		s.log.Error(op+" failed", zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}
