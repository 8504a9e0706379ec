package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/api/middleware"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/metrics"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/pipeline"
)

// Version is reported by /ping and /health. It is overridden at build time with -ldflags.
var Version = "v0.1.0"

type (
	// OrderService accepts orders and answers record and report queries.
	// *pipeline.Ingress implements it.
	OrderService interface {
		Submit(ctx context.Context, payload orders.OrderPayload) (pipeline.Receipt, error)
		Records(ctx context.Context, q orders.OrderQuery) ([]orders.StoredOrder, error)
		Report(ctx context.Context, q orders.OrderQuery) (orders.OrderReport, error)
	}

	// HealthChecker reports whether a backing dependency is usable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies are the runtime collaborators of the server. Only Orders is required.
	Dependencies struct {
		Orders      OrderService
		Health      HealthChecker
		Metrics     *metrics.Registry
		RateLimiter middleware.RateLimiter
	}

	// Server is the HTTP API server.
	Server struct {
		httpServer *http.Server
		handler    http.Handler
		logger     *slog.Logger
		config     *ServerConfig
		startTime  time.Time
		deps       Dependencies
	}
)

// NewServer builds the mux and middleware chain. Nothing listens until Start.
func NewServer(cfg *ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	apiKeyHash := []byte(cfg.APIKeyHash)
	if len(apiKeyHash) > 0 {
		logger.Info("API key authentication enabled for order intake")
	} else {
		logger.Warn("API_KEY_HASH not configured - order intake is unauthenticated")
	}

	if deps.RateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	}

	var recorder middleware.RequestRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	// First listed runs first. Metrics must stay innermost to read the mux pattern.
	server.handler = middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithAPIKey(apiKeyHash, isOrderIntake, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.CORS),
		middleware.WithRequestMetrics(recorder),
	)

	server.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           server.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting business-app API server",
			slog.String("address", listener.Addr().String()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}

		close(serverErrors)
	}()

	select {
	case err, ok := <-serverErrors:
		if ok {
			s.logger.Error("Server failed", slog.String("error", err.Error()))

			return err
		}

		return nil
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal", slog.String("reason", context.Cause(ctx).Error()))

		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// InMemoryRateLimiter runs a cleanup goroutine.
	if limiter, ok := s.deps.RateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}

func isOrderIntake(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == orderPath
}
