// Package grpc exposes the node's validation operations over gRPC. Messages
// are protobuf well-known wrappers carrying fixed binary layouts, so no
// generated code is needed.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nganji523/packetcrypt-rs/internal/node"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/internal/storage"
)

const serviceName = "packetcrypt.ValidationService"

const stopTimeout = 2 * time.Second

// ValidationServer is the server API of packetcrypt.ValidationService
type ValidationServer interface {
	CheckAnn(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CheckBlockWork(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	SubmitAnnouncement(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	SetParentBlock(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	AnnouncementRoot(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// unaryHandler adapts a ValidationServer method to grpc.MethodDesc.Handler
func unaryHandler[Resp any](method string,
	call func(ValidationServer, context.Context, *wrapperspb.BytesValue) (Resp, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ValidationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ValidationServer), ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ValidationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckAnn", Handler: unaryHandler("CheckAnn", ValidationServer.CheckAnn)},
		{MethodName: "CheckBlockWork", Handler: unaryHandler("CheckBlockWork", ValidationServer.CheckBlockWork)},
		{MethodName: "SubmitAnnouncement", Handler: unaryHandler("SubmitAnnouncement", ValidationServer.SubmitAnnouncement)},
		{MethodName: "SetParentBlock", Handler: unaryHandler("SetParentBlock", ValidationServer.SetParentBlock)},
		{MethodName: "AnnouncementRoot", Handler: unaryHandler("AnnouncementRoot", ValidationServer.AnnouncementRoot)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "packetcrypt/validation.proto",
}

// RegisterValidationServer registers srv on s
func RegisterValidationServer(s grpc.ServiceRegistrar, srv ValidationServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server implements ValidationServer on top of a node
type Server struct {
	node       *node.Node
	logger     *zap.Logger
	grpcServer *grpc.Server
}

var _ ValidationServer = (*Server)(nil)

// NewServer creates a gRPC server for n. logger may be nil.
func NewServer(n *node.Node, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{node: n, logger: logger}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	RegisterValidationServer(s.grpcServer, s)
	return s
}

// Start listens on address and serves until Stop
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// Stop stops the server, waiting briefly for in-flight calls
func (s *Server) Stop() {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		s.logger.Warn("could not stop gRPC server gracefully", zap.Duration("timeout", stopTimeout))
		s.grpcServer.Stop()
	}
}

func (s *Server) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (interface{}, error) {

	started := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("rpc",
		zap.String("method", info.FullMethod),
		zap.Duration("took", time.Since(started)),
		zap.Error(err))
	return resp, err
}

// CheckAnn validates an announcement against the parent hash in the request
func (s *Server) CheckAnn(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	parent, ann, err := decodeCheckAnn(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	hash, err := s.node.CheckAnnouncement(ctx, ann, parent)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(hash[:]), nil
}

// CheckBlockWork validates a block share
func (s *Server) CheckBlockWork(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	r, err := decodeBlockWork(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	hash, err := s.node.CheckShare(ctx, r.header, r.lowNonce, r.shareTarget, r.anns, r.coinbase)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(hash[:]), nil
}

// SubmitAnnouncement validates, stores and relays an announcement
func (s *Server) SubmitAnnouncement(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	hash, err := s.node.SubmitAnnouncement(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(hash[:]), nil
}

// SetParentBlock records a parent-chain block hash
func (s *Server) SetParentBlock(_ context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	height, hash, err := decodeParentBlock(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.node.SetParentBlock(height, hash); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// AnnouncementRoot returns the merkle root and count of the announcements
// stored for a parent height
func (s *Server) AnnouncementRoot(_ context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	height, err := decodeHeight(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	root, count, err := s.node.AnnouncementRoot(height)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(encodeRoot(root, count)), nil
}

// toStatus converts err to a gRPC status. Rule errors carry their numeric
// result code as a UInt32Value detail.
func toStatus(err error) error {
	kind, ok := ruleerrors.KindOf(err)
	if !ok {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return status.FromContextError(err).Err()
		case errors.Is(err, node.ErrUnknownParent), errors.Is(err, storage.ErrNotFound):
			return status.Error(codes.NotFound, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}

	code := codes.InvalidArgument
	switch kind {
	case ruleerrors.KindInsufficientProofOfWork:
		code = codes.FailedPrecondition
	case ruleerrors.KindUnknown:
		code = codes.Internal
	}

	st, detailErr := status.New(code, err.Error()).WithDetails(wrapperspb.UInt32(uint32(int32(kind.Code()))))
	if detailErr != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return st.Err()
}
