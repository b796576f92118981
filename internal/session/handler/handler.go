package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credverify/internal/session/models"
	"credverify/internal/wallet/provider"
	dErrors "credverify/pkg/domain-errors"
	"credverify/pkg/platform/httputil"
	"credverify/pkg/requestcontext"
)

// Service defines the session operations exposed over HTTP.
type Service interface {
	Session() models.Session
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	Reinitialize(ctx context.Context) error
}

// Handler wires session endpoints to the session manager.
type Handler struct {
	service Service
	logger  *slog.Logger
	pageURL string
}

// New constructs a session handler. pageURL is the public page a mobile
// wallet should open when no provider is injected.
func New(service Service, logger *slog.Logger, pageURL string) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		pageURL: pageURL,
	}
}

// Register mounts session endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/session", h.HandleGet)
	r.Post("/session/connect", h.HandleConnect)
	r.Post("/session/disconnect", h.HandleDisconnect)
	r.Post("/session/reinitialize", h.HandleReinitialize)
}

// Response is the session snapshot returned by every endpoint.
type Response struct {
	Status     models.Status       `json:"status"`
	Account    string              `json:"account,omitempty"`
	ChainID    string              `json:"chain_id,omitempty"`
	Roles      models.Roles        `json:"roles"`
	Error      *httputil.ErrorBody `json:"error,omitempty"`
	Generation uint64              `json:"generation"`
	UpdatedAt  time.Time           `json:"updated_at"`
	MobileLink string              `json:"mobile_link,omitempty"`
}

// FromSession converts a snapshot for the wire.
func FromSession(s models.Session) Response {
	resp := Response{
		Status:     s.Status,
		Roles:      s.Roles,
		Generation: s.Generation,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Account != nil {
		resp.Account = s.Account.Hex()
	}
	if s.ChainID != nil {
		resp.ChainID = s.ChainID.String()
	}
	if s.Error != nil {
		resp.Error = &httputil.ErrorBody{Error: string(s.Error.Code), Description: s.Error.Message}
	}
	return resp
}

// HandleGet handles GET /session.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, FromSession(h.service.Session()))
}

// HandleConnect handles POST /session/connect. Lifecycle failures are part of
// the session state, so the snapshot is returned with the failure's status.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	err := h.service.Connect(ctx)
	resp := FromSession(h.service.Session())
	if err != nil {
		h.logger.WarnContext(ctx, "session connect failed",
			"request_id", requestID,
			"code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		if dErrors.HasCode(err, dErrors.CodeProviderNotFound) && provider.IsMobileUserAgent(requestcontext.UserAgent(ctx)) {
			resp.MobileLink = h.mobileLink(r)
		}
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(dErrors.CodeOf(err)), resp)
		return
	}

	h.logger.InfoContext(ctx, "session connect completed",
		"request_id", requestID,
		"status", string(resp.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleDisconnect handles POST /session/disconnect.
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.service.Disconnect(r.Context())
	httputil.WriteJSON(w, http.StatusOK, FromSession(h.service.Session()))
}

// HandleReinitialize handles POST /session/reinitialize.
func (h *Handler) HandleReinitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Reinitialize(ctx); err != nil {
		h.logger.WarnContext(ctx, "session restore after reinitialize failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(h.service.Session()))
}

// mobileLink prefers the page the caller is on over the configured page.
func (h *Handler) mobileLink(r *http.Request) string {
	for _, page := range []string{r.Header.Get("Referer"), h.pageURL} {
		if page == "" {
			continue
		}
		if link, err := provider.MobileDeepLink(page); err == nil {
			return link
		}
	}
	return ""
}
