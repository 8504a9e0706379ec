package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"time"
)

// The order API only serves GET and POST, so these are not configurable.
const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Api-Key, X-Correlation-ID"
)

// CORSPolicy lists the browser origins allowed to call the API. "*" admits any origin.
// An empty policy emits no CORS headers.
type CORSPolicy struct {
	Origins []string
	MaxAge  time.Duration
}

// CORS tags responses to allowed origins and answers their preflight requests with 204.
// Preflights from other origins fall through to the router.
func CORS(policy CORSPolicy) func(http.Handler) http.Handler {
	wildcard := slices.Contains(policy.Origins, "*")
	maxAge := strconv.Itoa(int(policy.MaxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			if !wildcard && len(policy.Origins) > 0 {
				h.Add("Vary", "Origin")
			}

			if origin == "" || !(wildcard || slices.Contains(policy.Origins, origin)) {
				next.ServeHTTP(w, r)

				return
			}

			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)

				return
			}

			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)

			if policy.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}

			w.WriteHeader(http.StatusNoContent)
		})
	}
}
