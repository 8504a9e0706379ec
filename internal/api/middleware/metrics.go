package middleware

import "net/http"

const unmatchedRoute = "unmatched"

// RequestRecorder counts finished requests.
type RequestRecorder interface {
	IncHTTPRequest(route string, code int)
}

// RequestMetrics records each request under the mux pattern that served it.
func RequestMetrics(recorder RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newStatusRecorder(w)

			next.ServeHTTP(rw, r)

			// ServeMux stores the matched pattern on the request it was handed.
			route := r.Pattern
			if route == "" || route == "/" {
				route = unmatchedRoute
			}

			recorder.IncHTTPRequest(route, rw.statusCode)
		})
	}
}
