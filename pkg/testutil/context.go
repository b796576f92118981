package testutil

import (
	"net/http"
	"time"

	"credverify/pkg/requestcontext"
)

// WithRequestTime pins the request-scoped clock so handlers render
// deterministic timestamps.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithClient sets the User-Agent header and records the client on the
// context as the metadata middleware would.
func WithClient(req *http.Request, clientIP, userAgent string) *http.Request {
	req.Header.Set("User-Agent", userAgent)
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent))
}
