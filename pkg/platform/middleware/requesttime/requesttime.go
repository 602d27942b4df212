// Package requesttime pins one "now" per HTTP request so every timestamp a
// request produces agrees.
package requesttime

import (
	"net/http"
	"time"

	"contramind/pkg/requestcontext"
)

// Middleware stores the request start time (UTC, truncated to microseconds so it
// survives a PostgreSQL round trip) in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		ctx := requestcontext.WithTime(r.Context(), now)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
