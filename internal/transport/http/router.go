package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"credverify/internal/platform/metrics"
	"credverify/internal/platform/middleware"
	"credverify/pkg/platform/httputil"
	"credverify/pkg/platform/middleware/metadata"
	"credverify/pkg/platform/middleware/requesttime"
)

const healthCheckTimeout = 2 * time.Second

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the pieces the router wires together.
type Dependencies struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Modules []Registrar
	// Health checks are run by GET /health; a failing check makes it 503.
	Health map[string]HealthCheck
	// Now pins request time; nil means time.Now.
	Now func() time.Time
	// TrustedProxies may set the client IP through forwarding headers. Empty
	// means the socket peer is the client.
	TrustedProxies []netip.Prefix
}

// NewRouter wires every public endpoint behind the shared middleware chain.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadataBehind(deps.TrustedProxies))
	r.Use(requesttime.Middleware(deps.Now))
	r.Use(middleware.Logger(logger, deps.Metrics))
	r.Use(middleware.Recovery(logger))

	r.Get("/health", healthHandler(deps.Health))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	for _, m := range deps.Modules {
		m.Register(r)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
