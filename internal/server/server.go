// Package server exposes the pipeline and the approval queue over gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/ledgerwatch/internal/app"
	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/identity"
	"github.com/ppiankov/ledgerwatch/internal/model"
)

// Server implements LedgerService on top of an App.
type Server struct {
	UnimplementedLedgerServiceServer

	app        *app.App
	logger     *zap.Logger
	grpcServer *grpc.Server
}

// New creates a gRPC server for a.
func New(a *app.App) *Server {
	s := &Server{
		app:        a,
		logger:     a.Logger.Named("grpc"),
		grpcServer: grpc.NewServer(),
	}
	RegisterLedgerServiceServer(s.grpcServer, s)
	return s
}

// Serve listens on addr and serves until stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on an existing listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop waits for in-flight calls, then stops.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Execute runs one request. Pipeline failures are reported in the response
// body, not as gRPC errors.
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	resp, _ := s.app.Pipeline.Execute(ctx, in.AsMap(), p)
	return toStruct(resp)
}

// ListPending returns approvals waiting for an operator.
func (s *Server) ListPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.operator(ctx); err != nil {
		return nil, err
	}
	list, err := s.app.Approvals.List(approval.StatusPending)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list approvals: %v", err)
	}
	if list == nil {
		list = []approval.Approval{}
	}
	return toStruct(map[string]any{"approvals": list})
}

// Approve grants a pending approval. An optional duration keeps it reusable
// until it expires.
func (s *Server) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.operator(ctx)
	if err != nil {
		return nil, err
	}
	key := in.GetFields()["key"].GetStringValue()
	var duration time.Duration
	if d := in.GetFields()["duration"].GetStringValue(); d != "" {
		if duration, err = time.ParseDuration(d); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid duration %q: %v", d, err)
		}
	}
	if err := s.app.Approvals.Approve(key, p.UserID, duration); err != nil {
		return nil, approvalStatus(err)
	}
	s.logger.Info("approval granted", zap.String("key", key), zap.String("operator", p.UserID), zap.Duration("duration", duration))
	return toStruct(map[string]any{"key": key, "status": approval.StatusApproved})
}

// Deny rejects a pending approval.
func (s *Server) Deny(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.operator(ctx)
	if err != nil {
		return nil, err
	}
	key := in.GetFields()["key"].GetStringValue()
	if err := s.app.Approvals.Deny(key, p.UserID); err != nil {
		return nil, approvalStatus(err)
	}
	s.logger.Info("approval denied", zap.String("key", key), zap.String("operator", p.UserID))
	return toStruct(map[string]any{"key": key, "status": approval.StatusDenied})
}

func (s *Server) principal(ctx context.Context) (model.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if v := md.Get("authorization"); len(v) > 0 {
		token = identity.BearerToken(v[0])
	}
	p, err := s.app.Resolver.Resolve(ctx, token)
	if err != nil {
		return model.Principal{}, status.Error(codes.Unauthenticated, "missing or invalid bearer credential")
	}
	return p, nil
}

// operator resolves the caller and requires the admin or operator role.
func (s *Server) operator(ctx context.Context) (model.Principal, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return p, err
	}
	if p.Role != model.RoleAdmin && p.Role != model.RoleOperator {
		return p, status.Errorf(codes.PermissionDenied, "role %q may not manage approvals", p.Role)
	}
	return p, nil
}

func approvalStatus(err error) error {
	if errors.Is(err, approval.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.FailedPrecondition, err.Error())
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
