package server

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cardarena/arena-server-go/internal/auth"
	"github.com/cardarena/arena-server-go/internal/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AdminPasswordHeader carries the admin password on every admin RPC.
const AdminPasswordHeader = "x-admin-password"

// ChainUnaryInterceptors runs interceptors in order, the first one outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chained := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			next, ic := chained, interceptors[i]
			chained = func(ctx context.Context, req interface{}) (interface{}, error) {
				return ic(ctx, req, info, next)
			}
		}
		return chained(ctx, req)
	}
}

// RecoveryInterceptor turns a panicking handler into an Internal error.
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in gRPC handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its code and duration.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("host", extractHostFromContext(ctx)),
		}
		switch code {
		case codes.OK, codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition:
			logger.Debug("gRPC call", fields...)
		case codes.Internal, codes.DataLoss:
			logger.Error("gRPC call failed", append(fields, zap.Error(err))...)
		default:
			logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// AdminInterceptor requires the admin password on every admin RPC. Health
// checks pass through.
func AdminInterceptor(admin *auth.Admin, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+AdminServiceName+"/") {
			return handler(ctx, req)
		}
		var password string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(AdminPasswordHeader); len(values) > 0 {
				password = values[0]
			}
		}
		if err := admin.Check(password); err != nil {
			if errors.Is(err, auth.ErrAdminDisabled) {
				return nil, status.Error(codes.PermissionDenied, "admin access disabled")
			}
			logger.Warn("admin authentication failed",
				zap.String("method", info.FullMethod),
				zap.String("host", extractHostFromContext(ctx)),
			)
			return nil, status.Error(codes.Unauthenticated, "invalid admin password")
		}
		return handler(ctx, req)
	}
}

// NewGRPCServer builds the admin gRPC server with the interceptor chain,
// keepalive and the health service.
func NewGRPCServer(cfg config.GRPCConfig, srv ArenaAdminServer, admin *auth.Admin, logger *zap.Logger) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(ChainUnaryInterceptors(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
			AdminInterceptor(admin, logger),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	}
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.MaxConcurrentStreams)))
	}
	grpcServer := grpc.NewServer(opts...)

	RegisterArenaAdminServer(grpcServer, srv)
	hs := health.NewServer()
	hs.SetServingStatus(AdminServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return grpcServer
}
