// Package middleware provides the HTTP middleware stack of the order API.
package middleware

import (
	"log/slog"
	"net/http"
)

type (
	// Option is a function that applies middleware to a handler.
	Option func(http.Handler) http.Handler
)

// Apply applies a chain of middleware options to a base handler.
// The first option becomes the outermost middleware.
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithAPIKey(hash, protected, logger),
//	    middleware.WithRequestLogger(logger),
//	    middleware.WithCORS(policy),
//	    middleware.WithRequestMetrics(registry),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

func passThrough(next http.Handler) http.Handler {
	return next
}

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return CorrelationID()
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithAPIKey returns an option that requires a valid API key on protected requests.
// An empty hash disables the check.
func WithAPIKey(hash []byte, protected func(*http.Request) bool, logger *slog.Logger) Option {
	if len(hash) == 0 {
		return passThrough
	}

	return RequireAPIKey(hash, protected, logger)
}

// WithRateLimit returns an option that adds rate limiting middleware.
// A nil limiter disables it.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return passThrough
	}

	return RateLimit(limiter, logger)
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return RequestLogger(logger)
}

// WithCORS returns an option that adds CORS middleware.
func WithCORS(policy CORSPolicy) Option {
	return CORS(policy)
}

// WithRequestMetrics returns an option that counts requests by route pattern and status.
// It must be the innermost option so the mux's matched pattern is visible to it.
// A nil recorder disables it.
func WithRequestMetrics(recorder RequestRecorder) Option {
	if recorder == nil {
		return passThrough
	}

	return RequestMetrics(recorder)
}
