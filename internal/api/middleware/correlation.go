package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	correlationIDHeader = "X-Correlation-ID"
	correlationIDSize   = 8
	// correlationIDLength is the length in hex characters (8 bytes = 16 hex chars).
	correlationIDLength = 16
	maxCorrelationIDLen = 128
)

type correlationIDKey struct{}

// CorrelationID tags every request with a correlation ID, taken from the
// X-Correlation-ID header when the client sent a usable one.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := strings.TrimSpace(r.Header.Get(correlationIDHeader))
			if correlationID == "" || len(correlationID) > maxCorrelationIDLen ||
				strings.ContainsAny(correlationID, "\r\n") {
				correlationID = generateCorrelationID()
			}

			w.Header().Set(correlationIDHeader, correlationID)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID extracts the correlation ID from ctx.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}

// generateCorrelationID returns 16 hex characters from crypto/rand, or from a random
// UUID if the system source fails.
func generateCorrelationID() string {
	bytes := make([]byte, correlationIDSize)
	if _, err := rand.Read(bytes); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:correlationIDLength]
	}

	return hex.EncodeToString(bytes)
}
