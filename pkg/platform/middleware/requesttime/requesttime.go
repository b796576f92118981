// Package requesttime pins one "now" per HTTP request so audit events,
// session timestamps and exports issued while serving it agree.
package requesttime

import (
	"net/http"
	"time"

	"credverify/pkg/requestcontext"
)

// Middleware records the request start time on the context. now may be nil.
func Middleware(now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
