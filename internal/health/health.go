// Package health serves the standard gRPC health protocol for the daemon and probes it.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/hearing-assist/internal/trace"
)

// Service names reported alongside the overall ("") status.
const (
	ServiceAudio       = "hearing.audio"
	ServiceRecognition = "hearing.recognition"
	ServiceTranslation = "hearing.translation"
)

const (
	DefaultCheckInterval = 5 * time.Second
	CheckTimeout         = 2 * time.Second
	KeepaliveTime        = 10 * time.Second
	KeepaliveTimeout     = 3 * time.Second
)

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a health server. Every service starts NOT_SERVING.
func NewServer() *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	for _, svc := range []string{"", ServiceAudio, ServiceRecognition, ServiceTranslation} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &Server{grpc: gs, health: hs}
}

// Set records whether service is serving. The overall status follows ServiceAudio.
func (s *Server) Set(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
	if service == ServiceAudio {
		s.health.SetServingStatus("", st)
	}
}

// Watch polls report every interval and publishes its result until ctx ends.
func (s *Server) Watch(ctx context.Context, interval time.Duration, report func() map[string]bool) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	apply := func() {
		for svc, ok := range report() {
			s.Set(svc, ok)
		}
	}
	apply()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			apply()
		}
	}
}

// Serve blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Probe asks the health service at addr for service's status.
func Probe(ctx context.Context, addr, service string, opts ...grpc.DialOption) (bool, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: KeepaliveTime, Timeout: KeepaliveTimeout}),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
