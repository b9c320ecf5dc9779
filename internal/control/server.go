package control

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
)

// NewGRPCServer builds a gRPC server exposing svc and the standard health
// service. collector may be nil.
func NewGRPCServer(svc BootstrappingServer, collector *observability.ControlCollector, log logging.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	log = logging.OrNoop(log)
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
			ErrorUnaryServerInterceptor(log),
		),
	}
	server := grpc.NewServer(append(base, opts...)...)
	RegisterBootstrappingServer(server, svc)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}
