package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ProblemTypeBase prefixes the "type" URI of every problem response.
const ProblemTypeBase = "https://business-app.dev/problems/"

type (
	// AuthError represents an authentication error with a specific type.
	AuthError struct {
		Type    error
		Message string
	}
)

var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned when the key does not match the configured hash.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// extractAPIKey reads the key from X-Api-Key, falling back to "Authorization: Bearer".
// X-Api-Key takes precedence.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return validateAPIKey(apiKey)
	}

	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return validateAPIKey(token)
	}

	return "", false
}

// validateAPIKey trims key and rejects it when empty or when it contains a line break.
func validateAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// RequireAPIKey checks requests matched by protected against a HashAPIKey hash of the
// shared API key. Other requests pass through untouched. A nil protected guards
// every request.
func RequireAPIKey(hash []byte, protected func(*http.Request) bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if protected != nil && !protected(r) {
				next.ServeHTTP(w, r)

				return
			}

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{Type: ErrMissingAPIKey, Message: "Missing API key"})

				return
			}

			if !matchesAPIKey(hash, apiKey) {
				writeAuthError(w, r, logger, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError logs the failure without the key and writes a 401 problem response.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if err := writeRFC7807Error(w, r, http.StatusUnauthorized, err.Error(), correlationID); err != nil {
		logger.Error("Failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.Any("encode_error", err),
		)
	}
}

// writeRFC7807Error writes a problem response without importing the api package.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	problem := map[string]any{
		"type":          fmt.Sprintf("%s%d", ProblemTypeBase, statusCode),
		"title":         http.StatusText(statusCode),
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
