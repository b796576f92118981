// Package ratelimit bounds how often one client may hit the public
// verification endpoints, which fan out to the ledger, the metadata gateway
// and the alias network on every request.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "credverify/pkg/domain-errors"
	"credverify/pkg/platform/httputil"
	"credverify/pkg/requestcontext"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole seconds until the window admits another request.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// Store admits requests against a sliding window per key.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithRegisterer registers decision metrics against reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Limiter) {
		l.reg = reg
	}
}

// Limiter is HTTP middleware admitting at most limit requests per window
// for each client IP.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	logger *slog.Logger
	reg    prometheus.Registerer

	decisions *prometheus.CounterVec
}

// New builds a Limiter.
func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.reg == nil {
		l.reg = prometheus.NewRegistry()
	}
	l.decisions = promauto.With(l.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "credverify_ratelimit_decisions_total",
		Help: "Rate limit decisions by result",
	}, []string{"result"})
	return l
}

// Middleware enforces the limit. When the store fails the request is let
// through; availability of verification wins over strict limiting.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)

		res, err := l.store.Allow(ctx, "verify:"+ip, l.limit, l.window)
		if err != nil {
			l.decisions.WithLabelValues("error").Inc()
			l.logger.ErrorContext(ctx, "rate limit check failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			l.decisions.WithLabelValues("rejected").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(requestcontext.Now(ctx))))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many verification requests, try again later"))
			return
		}
		l.decisions.WithLabelValues("allowed").Inc()
		next.ServeHTTP(w, r)
	})
}
