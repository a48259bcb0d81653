package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenDO96/internal/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Authenticator resolves a bearer token; auth.AuthService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token, ipAddress, userAgent string) (*auth.Principal, error)
}

// Server hosts the output service and the standard health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
	port   int
	addr   net.Addr
}

func NewServer(port int, svc OutputServiceServer, authn Authenticator, logger *zap.Logger) *Server {
	interceptor := &authInterceptor{authn: authn, logger: logger}

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptor.unary),
		grpc.ChainStreamInterceptor(interceptor.stream),
	)
	RegisterOutputServiceServer(gs, svc)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: gs, health: hs, logger: logger, port: port}
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	s.addr = lis.Addr()
	go func() {
		s.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", ServiceName))
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
}

// Stop marks the service not serving, then drains in-flight calls. Open
// watch streams end when ctx is done.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("gRPC graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}
}

type authInterceptor struct {
	authn  Authenticator
	logger *zap.Logger
}

// Health checks are public; everything else needs operator rights.
func (a *authInterceptor) authorize(ctx context.Context, method string) error {
	if strings.HasPrefix(method, "/grpc.health.v1.Health/") {
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	scheme, token, ok := strings.Cut(values[0], " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return status.Error(codes.Unauthenticated, "malformed authorization metadata")
	}

	var ip string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ip = p.Addr.String()
	}
	var userAgent string
	if ua := md.Get("user-agent"); len(ua) > 0 {
		userAgent = ua[0]
	}

	principal, err := a.authn.Authenticate(ctx, strings.TrimSpace(token), ip, userAgent)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !slices.Contains(principal.Permissions, auth.PermOperator) {
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	}

	a.logger.Debug("gRPC call authorized",
		zap.String("method", method),
		zap.String("principal", principal.Username))
	return nil
}

func (a *authInterceptor) unary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if err := a.authorize(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (a *authInterceptor) stream(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := a.authorize(ss.Context(), info.FullMethod); err != nil {
		return err
	}
	return handler(srv, ss)
}
