package receipt

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credverify/internal/verify/deeplink"
	"credverify/internal/verify/service"
	"credverify/internal/verify/view"
	dErrors "credverify/pkg/domain-errors"
	"credverify/pkg/platform/httputil"
	"credverify/pkg/requestcontext"
)

const maxCheckBody = 8 << 10

// Verifier runs the verification pipeline.
type Verifier interface {
	Verify(ctx context.Context, raw string, opts ...service.VerifyOption) (*view.ViewModel, error)
}

// Handler serves receipt issuance and checking.
type Handler struct {
	verifier    Verifier
	signer      *Signer
	logger      *slog.Logger
	middlewares []func(http.Handler) http.Handler
}

// NewHandler constructs a receipt handler. middlewares wrap issuance only,
// since issuing runs the full pipeline.
func NewHandler(verifier Verifier, signer *Signer, logger *slog.Logger, middlewares ...func(http.Handler) http.Handler) *Handler {
	return &Handler{verifier: verifier, signer: signer, logger: logger, middlewares: middlewares}
}

// Register mounts the receipt routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.middlewares...)
		r.Get("/verify/receipt", h.HandleIssue)
	})
	r.Post("/verify/receipt/check", h.HandleCheck)
}

// IssueResponse carries a freshly signed receipt.
type IssueResponse struct {
	Receipt   string         `json:"receipt"`
	ExpiresAt time.Time      `json:"expires_at"`
	View      view.ViewModel `json:"view"`
}

// CheckRequest is the body of POST /verify/receipt/check.
type CheckRequest struct {
	Receipt string `json:"receipt"`
}

// CheckResponse echoes the attested fields of a valid receipt.
type CheckResponse struct {
	TokenID     string      `json:"token_id"`
	Status      view.Status `json:"status"`
	Owner       string      `json:"owner"`
	MetadataURI string      `json:"metadata_uri,omitempty"`
	Title       string      `json:"title,omitempty"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// HandleIssue handles GET /verify/receipt?tokenId=N.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if !q.Has(deeplink.QueryParam) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "tokenId query parameter is required"))
		return
	}
	vm, err := h.verifier.Verify(ctx, q.Get(deeplink.QueryParam))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	signed, expires, err := h.signer.Issue(*vm, requestcontext.Now(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "issue receipt failed", "token_id", vm.TokenID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, IssueResponse{Receipt: signed, ExpiresAt: expires, View: *vm})
}

// HandleCheck handles POST /verify/receipt/check.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckBody)).Decode(&req); err != nil || req.Receipt == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "body must be {\"receipt\": \"...\"}"))
		return
	}
	claims, err := h.signer.Check(req.Receipt, requestcontext.Now(ctx))
	if err != nil {
		h.logger.InfoContext(ctx, "receipt rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CheckResponse{
		TokenID:     claims.Subject,
		Status:      claims.Status,
		Owner:       claims.Owner,
		MetadataURI: claims.MetadataURI,
		Title:       claims.Title,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	})
}
