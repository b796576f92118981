package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"credverify/internal/verify/deeplink"
	"credverify/internal/verify/export"
	"credverify/internal/verify/service"
	"credverify/internal/verify/view"
	dErrors "credverify/pkg/domain-errors"
	"credverify/pkg/platform/httputil"
	"credverify/pkg/requestcontext"
)

// Service defines the verification operations exposed over HTTP.
type Service interface {
	Verify(ctx context.Context, raw string, opts ...service.VerifyOption) (*view.ViewModel, error)
	VerifyLink(ctx context.Context, link string, opts ...service.VerifyOption) (*view.ViewModel, error)
	Export(ctx context.Context, raw string) (export.Document, error)
}

// Handler wires verification endpoints to the pipeline.
type Handler struct {
	service     Service
	logger      *slog.Logger
	middlewares []func(http.Handler) http.Handler
}

// New constructs a verification handler. middlewares wrap only the
// verification routes, e.g. the per-client rate limit.
func New(service Service, logger *slog.Logger, middlewares ...func(http.Handler) http.Handler) *Handler {
	return &Handler{
		service:     service,
		logger:      logger,
		middlewares: middlewares,
	}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.middlewares...)
		r.Get("/verify", h.HandleVerify)
		r.Get("/verify/stream", h.HandleStream)
		r.Get("/verify/export", h.HandleExport)
	})
}

// HandleVerify handles GET /verify?tokenId=N or GET /verify?link=URL and
// returns the final view model.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vm, err := h.verify(r)
	if err != nil {
		h.logFailure(ctx, "verify", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, vm)
}

// HandleStream handles GET /verify/stream as server-sent events: one "view"
// event per intermediate view model, then "done" with the final one, or a
// single "error" event.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming is not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	seq := 0
	send := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			h.logger.ErrorContext(ctx, "encode stream event failed", "event", event, "error", err)
			return
		}
		seq++
		_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data)
		flusher.Flush()
	}

	vm, err := h.verify(r, service.WithProgress(func(v view.ViewModel) {
		if ctx.Err() == nil {
			send("view", v)
		}
	}))
	if err != nil {
		h.logFailure(ctx, "stream", err)
		send("error", httputil.NewErrorBody(err))
		return
	}
	send("done", vm)
}

// HandleExport handles GET /verify/export?tokenId=N and returns the PDF.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := tokenParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, err := h.service.Export(ctx, raw)
	if err != nil {
		h.logFailure(ctx, "export", err)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func (h *Handler) verify(r *http.Request, opts ...service.VerifyOption) (*view.ViewModel, error) {
	q := r.URL.Query()
	if link := q.Get("link"); link != "" && !q.Has(deeplink.QueryParam) {
		return h.service.VerifyLink(r.Context(), link, opts...)
	}
	raw, err := tokenParam(r)
	if err != nil {
		return nil, err
	}
	return h.service.Verify(r.Context(), raw, opts...)
}

func tokenParam(r *http.Request) (string, error) {
	q := r.URL.Query()
	if !q.Has(deeplink.QueryParam) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tokenId query parameter is required")
	}
	return q.Get(deeplink.QueryParam), nil
}

func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	code := dErrors.CodeOf(err)
	level := slog.LevelInfo
	if dErrors.ToHTTPStatus(code) >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, "verification request failed",
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"code", string(code),
		"error", err,
	)
}
