package grpcserver

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	towlv1 "github.com/mezeipetister/towl/api/towl/v1"
	"github.com/mezeipetister/towl/internal/runtime"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
	"github.com/mezeipetister/towl/pkg/log"
)

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt     *runtime.Runtime
	svc    *logsvc.Service
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger log.Logger
}

// New constructs a gRPC server and registers the towl and health services.
// Request id and logging interceptors run before any option supplied ones.
func New(rt *runtime.Runtime, svc *logsvc.Service, opts ...grpc.ServerOption) *Server {
	logger := rt.Logger().WithComponent("grpc")
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryInterceptor(logger)),
		grpc.ChainStreamInterceptor(streamInterceptor(logger)),
	}
	s := &Server{
		rt:     rt,
		svc:    svc,
		grpc:   grpc.NewServer(append(base, opts...)...),
		health: health.NewServer(),
		logger: logger,
	}
	towlv1.RegisterTowlServer(s.grpc, &towlSvc{svc: svc})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.refreshHealth(context.Background())
	return s
}

// refreshHealth publishes the runtime health for the overall server and the
// towl service.
func (s *Server) refreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.rt.CheckHealth(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(towlv1.ServiceName, st)
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("grpc listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
