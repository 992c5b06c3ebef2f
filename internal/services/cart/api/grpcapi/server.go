// Package grpcapi carries cart commands between cluster nodes. A node that
// receives a command for a shard it does not own forwards it to the lease
// holder over this service; the receiving node handles it locally.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
)

const (
	serviceName = "cartstream.cart.v1.CartRouter"
	askMethod   = "/" + serviceName + "/Ask"
)

// CartRouterServer is the server side of the internal router service.
// Payloads are JSON documents wrapped in BytesValue.
type CartRouterServer interface {
	Ask(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// ServiceDesc registers a CartRouterServer on a gRPC server.
var ServiceDesc = gogrpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CartRouterServer)(nil),
	Methods: []gogrpc.MethodDesc{
		{
			MethodName: "Ask",
			Handler:    askHandler,
		},
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "cartstream/cart/v1/router",
}

func askHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CartRouterServer).Ask(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: askMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CartRouterServer).Ask(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// LocalAsker handles commands for shards owned by this node.
type LocalAsker interface {
	AskLocal(ctx context.Context, cartID string, cmd cart.Command) (cart.Confirmation, error)
}

// Server answers forwarded commands from the local router.
type Server struct {
	router LocalAsker
}

// NewServer creates a server over router.
func NewServer(router LocalAsker) (*Server, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	return &Server{router: router}, nil
}

// Ask implements CartRouterServer.
func (s *Server) Ask(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var req askRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidRequestBody, "Malformed ask request", err).ToGRPCStatus()
	}
	cmd, err := req.Command.decode()
	if err != nil {
		return nil, grpcError(err)
	}
	conf, err := s.router.AskLocal(ctx, req.CartID, cmd)
	if err != nil {
		return nil, grpcError(err)
	}
	env, err := encodeConfirmation(conf)
	if err != nil {
		return nil, grpcError(err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, grpcError(fmt.Errorf("encode confirmation: %w", err))
	}
	return wrapperspb.Bytes(payload), nil
}

// grpcError converts err into a status the forwarding node can restore.
func grpcError(err error) error {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return domainErr.ToGRPCStatus()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
