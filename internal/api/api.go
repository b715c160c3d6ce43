// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/api/health"
	"github.com/good-yellow-bee/siemlite/internal/api/logs"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address          string
	CORSOrigins      []string
	RateLimitPerIP   int // requests per minute on unauthenticated endpoints
	LockoutThreshold int
	LockoutDuration  time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 30
	}
	if c.LockoutThreshold == 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Deps are the services the API exposes.
type Deps struct {
	Store    storage.Storage
	Events   storage.EventRepository
	Rules    storage.RuleRepository
	Ingester logs.Ingester
	Registry *ingest.Registry
	JWT      *auth.JWTService
	Admin    auth.AdminCredentials
	Logger   *zap.SugaredLogger
}

// Server is the HTTP API server.
type Server struct {
	config *Config
	deps   Deps
	health *health.Handler
	server *http.Server
	logger *zap.SugaredLogger
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("storage is required")
	case deps.Ingester == nil || deps.Registry == nil:
		return nil, errors.New("ingestion service is required")
	case deps.JWT == nil:
		return nil, errors.New("JWT service is required")
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	}
	if deps.Events == nil {
		deps.Events = deps.Store.Events()
	}
	if deps.Rules == nil {
		deps.Rules = deps.Store.Rules()
	}
	cfg.SetDefaults()

	s := &Server{
		config: cfg,
		deps:   deps,
		health: health.NewHandler(),
		logger: deps.Logger,
	}
	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("HTTP API listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Infow("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// RegisterHealthChecker adds a dependency to the readiness probe.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.health.RegisterChecker(c)
}
