package grpctransport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the name the order engine reports health under.
const ServiceName = "orderflow.OrderEngine"

// probe reports whether a dependency the service cannot work without is reachable.
type probe func(ctx context.Context) error

// GRPCTransport represents the gRPC transport layer. It serves grpc.health.v1 only.
type GRPCTransport struct {
	server        *grpc.Server
	listener      net.Listener
	health        *health.Server
	probe         probe
	probeInterval time.Duration
}

// NewGRPCTransport creates a new GRPCTransport. A nil probe means always serving.
func NewGRPCTransport(p probe) *GRPCTransport {
	port := viper.GetString("server.grpc.port")
	if port == "" {
		port = "9090"
	}
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		panic(err)
	}

	probeSeconds := viper.GetInt("server.grpc.health.probe_interval_seconds")
	if probeSeconds == 0 {
		probeSeconds = 5
	}

	return &GRPCTransport{
		server:        newGRPCServer(),
		listener:      listener,
		health:        health.NewServer(),
		probe:         p,
		probeInterval: time.Duration(probeSeconds) * time.Second,
	}
}

// Run starts the gRPC server.
func (g *GRPCTransport) Run() error {
	g.RegisterServices()
	slog.Info("Starting gRPC server", "address", g.listener.Addr().String())

	return g.server.Serve(g.listener)
}

// Monitor keeps the reported status in line with the probe until ctx is done.
func (g *GRPCTransport) Monitor(ctx context.Context) {
	g.check(ctx)

	ticker := time.NewTicker(g.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.check(ctx)
		}
	}
}

func (g *GRPCTransport) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if g.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, g.probeInterval)
		err := g.probe(probeCtx)
		cancel()
		if err != nil {
			slog.Warn("Health probe failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Shutdown gracefully shuts down the gRPC server.
func (g *GRPCTransport) Shutdown(ctx context.Context) error {
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.server.Stop()

		return ctx.Err()
	}
}

// RegisterServices registers the gRPC services.
func (g *GRPCTransport) RegisterServices() {
	healthpb.RegisterHealthServer(g.server, g.health)
}

// newGRPCServer creates a new gRPC server with default settings.
func newGRPCServer() *grpc.Server {
	keepaliveParams := keepalive.ServerParameters{
		MaxConnectionIdle: time.Duration(
			viper.GetInt("server.grpc.keepalive.max_connection_idle"),
		) * time.Minute,
		MaxConnectionAge: time.Duration(
			viper.GetInt("server.grpc.keepalive.max_connection_age"),
		) * time.Minute,
		MaxConnectionAgeGrace: time.Duration(
			viper.GetInt("server.grpc.keepalive.max_connection_age_grace"),
		) * time.Second,
		Time: time.Duration(
			viper.GetInt("server.grpc.keepalive.time"),
		) * time.Second,
		Timeout: time.Duration(
			viper.GetInt("server.grpc.keepalive.timeout"),
		) * time.Second,
	}

	keepalivePolicy := keepalive.EnforcementPolicy{
		MinTime: time.Duration(
			viper.GetInt("server.grpc.keepalive.min_time"),
		) * time.Second,
		PermitWithoutStream: viper.GetBool("server.grpc.keepalive.permit_without_stream"),
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepaliveParams),
		grpc.KeepaliveEnforcementPolicy(keepalivePolicy),
	}

	return grpc.NewServer(opts...)
}
