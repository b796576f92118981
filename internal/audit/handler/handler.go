// Package handler exposes recent audit events to operators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"credverify/internal/audit"
	dErrors "credverify/pkg/domain-errors"
	"credverify/pkg/platform/httputil"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Lister reads recent events.
type Lister interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Handler serves GET /audit/events.
type Handler struct {
	store       Lister
	logger      *slog.Logger
	middlewares []func(http.Handler) http.Handler
}

// New constructs an audit handler. middlewares wrap the audit routes, e.g.
// the admin token check.
func New(store Lister, logger *slog.Logger, middlewares ...func(http.Handler) http.Handler) *Handler {
	return &Handler{store: store, logger: logger, middlewares: middlewares}
}

// Register mounts the audit routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.middlewares...)
		r.Get("/audit/events", h.HandleList)
	})
}

// EventResponse is one audit event on the wire.
type EventResponse struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// ListResponse wraps the newest-first event list.
type ListResponse struct {
	Events []EventResponse `json:"events"`
}

// HandleList returns up to ?limit= recent events, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.store.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit events failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	resp := ListResponse{Events: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, EventResponse{
			ID:        e.ID.String(),
			Timestamp: e.Timestamp,
			Action:    string(e.Action),
			Subject:   e.Subject,
			Outcome:   string(e.Outcome),
			Reason:    e.Reason,
			RequestID: e.RequestID,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}
