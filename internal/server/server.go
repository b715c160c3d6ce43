// Package server provides the agent-facing gRPC ingestion server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/security"
)

// Config holds gRPC server configuration.
type Config struct {
	Address string
	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	// TLSClientCAFile additionally requires agent certificates.
	TLSCertFile     string
	TLSKeyFile      string
	TLSClientCAFile string
	MaxRecvMsgSize  int
	ShutdownTimeout time.Duration
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":9443"
	}
	if c.MaxRecvMsgSize == 0 {
		c.MaxRecvMsgSize = 1 << 20
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the gRPC ingestion server.
type Server struct {
	config     *Config
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.SugaredLogger
}

// New creates a gRPC server exposing IngestService and the standard health
// service.
func New(cfg *Config, ingester Ingester, machines MachineResolver, jwt *auth.JWTService, logger *zap.SugaredLogger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if ingester == nil || machines == nil || jwt == nil || logger == nil {
		return nil, errors.New("ingester, machine resolver, JWT service and logger are required")
	}
	cfg.SetDefaults()

	creds := insecure.NewCredentials()
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return nil, errors.New("both TLS certificate and key files are required")
		}
		tlsCreds, err := security.LoadServerTLS(&security.ServerTLSConfig{
			CertFile:     cfg.TLSCertFile,
			KeyFile:      cfg.TLSKeyFile,
			ClientCAFile: cfg.TLSClientCAFile,
		})
		if err != nil {
			return nil, fmt.Errorf("load TLS credentials: %w", err)
		}
		creds = tlsCreds
	}

	authn := &authenticator{jwt: jwt, machines: machines, logger: logger}
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.ChainUnaryInterceptor(observeUnary(logger), authn.unary()),
		grpc.ChainStreamInterceptor(observeStream(logger), authn.stream()),
	)
	RegisterIngestServer(grpcServer, NewHandler(ingester, logger))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &Server{
		config:     cfg,
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger,
	}, nil
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then stops gracefully. Streams
// still open after ShutdownTimeout are cut.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("gRPC server listening", "address", ln.Addr().String())
		errCh <- s.grpcServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Infow("shutting down gRPC server")
	s.Shutdown()
	return nil
}

// Shutdown marks the server not serving and stops it gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warnw("gRPC graceful stop timed out, forcing")
		s.grpcServer.Stop()
	}
}
