// Package requesttime pins "now" at the start of each request so every check
// within it, the daily limit day in particular, observes the same instant.
package requesttime

import (
	"net/http"
	"time"

	"remittance/pkg/requestcontext"
)

// Middleware stores the request start time, in UTC, on the context.
func Middleware(next http.Handler) http.Handler {
	return MiddlewareWithClock(time.Now)(next)
}

// MiddlewareWithClock is Middleware with an injectable clock.
func MiddlewareWithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
