package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestExtractAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		headers map[string]string
		want    string
		found   bool
	}{
		{"x-api-key", map[string]string{"X-Api-Key": "secret"}, "secret", true},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, "secret", true},
		{"x-api-key wins", map[string]string{"X-Api-Key": "a", "Authorization": "Bearer b"}, "a", true},
		{"trimmed", map[string]string{"X-Api-Key": "  secret  "}, "secret", true},
		{"blank", map[string]string{"X-Api-Key": "   "}, "", false},
		{"newline", map[string]string{"X-Api-Key": "sec\nret"}, "", false},
		{"basic auth", map[string]string{"Authorization": "Basic c2VjcmV0"}, "", false},
		{"none", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/order", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			got, found := extractAPIKey(req)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	onlyOrders := func(r *http.Request) bool {
		return r.Method == http.MethodPost && r.URL.Path == "/api/order"
	}

	handler := Apply(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		WithCorrelationID(),
		WithAPIKey(hash, onlyOrders, slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"valid key", http.MethodPost, "/api/order", "s3cret", http.StatusOK},
		{"wrong key", http.MethodPost, "/api/order", "nope", http.StatusUnauthorized},
		{"missing key", http.MethodPost, "/api/order", "", http.StatusUnauthorized},
		{"unprotected route", http.MethodGet, "/api/record", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)

			if tt.want == http.StatusUnauthorized {
				var problem map[string]any
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
				assert.Equal(t, "Unauthorized", problem["title"])
				assert.Equal(t, tt.path, problem["instance"])
				assert.NotEmpty(t, problem["correlationId"])
			}
		})
	}
}

func TestWithAPIKey_EmptyHashDisables(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handler := WithAPIKey(nil, nil, slog.Default())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) }),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/order", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAuthError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	err := &AuthError{Type: ErrInvalidAPIKey, Message: "bad"}

	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.Equal(t, "authentication failed: invalid API key: bad", err.Error())
	assert.Equal(t, "authentication failed: missing API key", (&AuthError{Type: ErrMissingAPIKey}).Error())
}
