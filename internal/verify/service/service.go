// Package service runs the credential verification pipeline: parse the
// identifier, read the ledger, assemble a first view, then enrich it with
// metadata and the owner alias concurrently.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"credverify/internal/audit"
	"credverify/internal/ledger"
	"credverify/internal/verify/deeplink"
	"credverify/internal/verify/export"
	"credverify/internal/verify/fetcher"
	"credverify/internal/verify/metrics"
	"credverify/internal/verify/models"
	"credverify/internal/verify/view"
	"credverify/pkg/domain"
	dErrors "credverify/pkg/domain-errors"
)

const tracerName = "credverify/internal/verify/service"

// ReaderSource picks the ledger reader for one verification.
type ReaderSource interface {
	Reader() (ledger.Reader, bool)
}

// Fetcher reads credential records.
type Fetcher interface {
	Fetch(ctx context.Context, r fetcher.Reader, id domain.TokenID) (models.CredentialRecord, error)
}

// MetadataResolver fetches off-chain metadata; nil means unavailable.
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) *models.Metadata
}

// AliasResolver resolves owner names.
type AliasResolver interface {
	Resolve(ctx context.Context, address common.Address) (string, bool)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditor sets the audit emitter.
func WithAuditor(a audit.Emitter) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// WithRenderer replaces the PDF renderer used by Export.
func WithRenderer(r export.Renderer) Option {
	return func(s *Service) {
		s.renderer = r
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// Service is the verification pipeline.
type Service struct {
	readers   ReaderSource
	fetcher   Fetcher
	metadata  MetadataResolver
	alias     AliasResolver
	assembler *view.Assembler
	renderer  export.Renderer

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Emitter
	tracer  trace.Tracer
}

// New builds the pipeline.
func New(readers ReaderSource, f Fetcher, md MetadataResolver, names AliasResolver, assembler *view.Assembler, opts ...Option) (*Service, error) {
	switch {
	case readers == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "reader source is required")
	case f == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "fetcher is required")
	case md == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "metadata resolver is required")
	case names == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "alias resolver is required")
	case assembler == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "assembler is required")
	}
	s := &Service{
		readers:   readers,
		fetcher:   f,
		metadata:  md,
		alias:     names,
		assembler: assembler,
		renderer:  export.NewPDFRenderer(),
		logger:    slog.New(slog.DiscardHandler),
		auditor:   audit.NopEmitter{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// VerifyOption configures one Verify call.
type VerifyOption func(*VerifyConfig)

// VerifyConfig holds per-call settings.
type VerifyConfig struct {
	Progress func(view.ViewModel)
}

// NewVerifyConfig applies opts.
func NewVerifyConfig(opts ...VerifyOption) VerifyConfig {
	var cfg VerifyConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithProgress receives every intermediate view: once after the ledger read
// and again as metadata and the alias arrive. Calls are serialized and each
// view carries at least as much as the one before.
func WithProgress(fn func(view.ViewModel)) VerifyOption {
	return func(c *VerifyConfig) {
		c.Progress = fn
	}
}

// Verify runs the pipeline for a raw identifier. Errors carry
// CodeInvalidInput, CodeCredentialNotFound or CodeTransportFailure; missing
// metadata or alias never fails a verification.
func (s *Service) Verify(ctx context.Context, raw string, opts ...VerifyOption) (*view.ViewModel, error) {
	cfg := NewVerifyConfig(opts...)
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "verify.Verify")
	defer span.End()

	id, err := domain.ParseTokenID(raw)
	if err != nil {
		return nil, s.fail(ctx, span, raw, err, start)
	}
	span.SetAttributes(attribute.String("credential.token_id", id.String()))

	reader, signer := s.readers.Reader()
	span.SetAttributes(attribute.Bool("ledger.signer_bound", signer))

	rec, err := s.fetch(ctx, reader, id)
	if err != nil {
		return nil, s.fail(ctx, span, id.String(), err, start)
	}

	final := s.enrich(ctx, rec, cfg.Progress)

	outcome := string(final.Status)
	span.SetAttributes(attribute.String("credential.status", outcome))
	s.metrics.ObserveVerification(outcome, time.Since(start))
	s.logger.InfoContext(ctx, "credential verified",
		"token_id", id.String(),
		"status", outcome,
		"signer_bound", signer,
		"has_metadata", final.HasMetadata,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.auditor.Emit(ctx, audit.Event{
		Action:  audit.ActionCredentialVerified,
		Subject: id.String(),
		Outcome: audit.OutcomeSuccess,
		Reason:  outcome,
	})
	return &final, nil
}

// VerifyLink verifies the identifier carried by a shared link.
func (s *Service) VerifyLink(ctx context.Context, link string, opts ...VerifyOption) (*view.ViewModel, error) {
	raw, err := deeplink.Parse(link)
	if err != nil {
		return nil, err
	}
	return s.Verify(ctx, raw, opts...)
}

// Export verifies raw and renders the final view.
func (s *Service) Export(ctx context.Context, raw string) (export.Document, error) {
	vm, err := s.Verify(ctx, raw)
	if err != nil {
		return export.Document{}, err
	}

	_, span := s.tracer.Start(ctx, "verify.Export")
	defer span.End()

	doc, err := s.renderer.Render(*vm)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		s.metrics.IncrementExport("failed")
		s.logger.ErrorContext(ctx, "credential export failed",
			"token_id", vm.TokenID,
			"error", err,
		)
		return export.Document{}, err
	}
	s.metrics.IncrementExport("ok")
	s.auditor.Emit(ctx, audit.Event{
		Action:  audit.ActionCredentialExported,
		Subject: vm.TokenID,
		Outcome: audit.OutcomeSuccess,
	})
	return doc, nil
}

func (s *Service) fetch(ctx context.Context, reader ledger.Reader, id domain.TokenID) (models.CredentialRecord, error) {
	ctx, span := s.tracer.Start(ctx, "verify.Fetch")
	defer span.End()
	var r fetcher.Reader
	if reader != nil {
		r = reader
	}
	rec, err := s.fetcher.Fetch(ctx, r, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	return rec, err
}

// enrich reports the ledger-only view, then resolves metadata and alias
// concurrently, reporting a new view as each lands.
func (s *Service) enrich(ctx context.Context, rec models.CredentialRecord, progress func(view.ViewModel)) view.ViewModel {
	var mu sync.Mutex
	in := view.Input{
		Record:           rec,
		MetadataResolved: rec.MetadataURI == "",
	}
	update := func(apply func(*view.Input)) {
		mu.Lock()
		defer mu.Unlock()
		apply(&in)
		if progress != nil {
			progress(s.assembler.Assemble(in))
		}
	}
	update(func(*view.Input) {})

	// Neither branch fails the pipeline; errgroup only scopes the goroutines.
	g, gctx := errgroup.WithContext(ctx)
	if !in.MetadataResolved {
		g.Go(func() error {
			spanCtx, span := s.tracer.Start(gctx, "verify.Metadata")
			md := s.metadata.Resolve(spanCtx, rec.MetadataURI)
			span.SetAttributes(attribute.Bool("metadata.available", md != nil))
			span.End()
			update(func(in *view.Input) {
				in.Metadata = md
				in.MetadataResolved = true
			})
			return nil
		})
	}
	g.Go(func() error {
		spanCtx, span := s.tracer.Start(gctx, "verify.Alias")
		name, ok := s.alias.Resolve(spanCtx, rec.Owner)
		span.SetAttributes(attribute.Bool("alias.found", ok))
		span.End()
		update(func(in *view.Input) {
			in.Alias = name
			in.AliasFound = ok
			in.AliasResolved = true
		})
		return nil
	})
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return s.assembler.Assemble(in)
}

func (s *Service) fail(ctx context.Context, span trace.Span, subject string, err error, start time.Time) error {
	code := dErrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	s.metrics.ObserveVerification(string(code), time.Since(start))

	if code == dErrors.CodeTransportFailure || code == dErrors.CodeInternal {
		s.logger.ErrorContext(ctx, "credential verification failed",
			"token_id", subject,
			"code", string(code),
			"error", err,
		)
	} else {
		s.logger.InfoContext(ctx, "credential verification rejected",
			"token_id", subject,
			"code", string(code),
		)
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:  audit.ActionVerificationFailed,
		Subject: subject,
		Outcome: audit.OutcomeFailure,
		Reason:  string(code),
	})
	return err
}
