// Package metadata fetches and parses the off-chain document a credential
// points at. Metadata is optional: every failure degrades to "no metadata".
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"credverify/internal/verify/metrics"
	"credverify/internal/verify/models"
	dErrors "credverify/pkg/domain-errors"
	"credverify/pkg/platform/circuit"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultProbeTimeout = 2 * time.Second
	defaultMaxBytes     = 1 << 20
)

var (
	errOversize    = errors.New("metadata document exceeds size limit")
	errUnavailable = errors.New("gateway unavailable")
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

// WithFallbackGateway sets the gateway used when the primary fails or its
// circuit is open.
func WithFallbackGateway(gateway string) Option {
	return func(r *Resolver) {
		r.fallback = gateway
	}
}

// WithTimeout bounds one document fetch.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithProbeTimeout bounds primary fetches while its circuit is open.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithMaxDocumentBytes caps the accepted document size.
func WithMaxDocumentBytes(n int64) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithBreaker replaces the primary gateway breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Resolver) {
		r.breaker = b
	}
}

// Resolver fetches metadata documents through IPFS gateways.
type Resolver struct {
	primary      string
	fallback     string
	client       *http.Client
	breaker      *circuit.Breaker
	timeout      time.Duration
	probeTimeout time.Duration
	maxBytes     int64
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewResolver creates a Resolver fetching through primary.
func NewResolver(primary string, opts ...Option) *Resolver {
	r := &Resolver{
		primary:      primary,
		client:       &http.Client{},
		breaker:      circuit.New("metadata-gateway"),
		timeout:      defaultTimeout,
		probeTimeout: defaultProbeTimeout,
		maxBytes:     defaultMaxBytes,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Gateway returns the primary gateway used for display links.
func (r *Resolver) Gateway() string {
	return r.primary
}

// Resolve fetches and parses the document at uri. It returns nil when the
// URI is empty or malformed, the gateways fail, the response is not 2xx,
// the document is too large or it is not a JSON object.
func (r *Resolver) Resolve(ctx context.Context, uri string) *models.Metadata {
	if uri == "" {
		return nil
	}
	body, err := r.fetchDocument(ctx, uri)
	if err != nil {
		r.logger.WarnContext(ctx, "metadata unavailable",
			"code", string(dErrors.CodeMetadataUnavailable),
			"uri", uri,
			"error", err,
		)
		return nil
	}
	md := Parse(body)
	if md == nil {
		r.logger.WarnContext(ctx, "metadata unavailable",
			"code", string(dErrors.CodeMetadataUnavailable),
			"uri", uri,
			"error", "document is not a JSON object",
		)
	}
	return md
}

func (r *Resolver) fetchDocument(ctx context.Context, uri string) ([]byte, error) {
	if !IsContentAddressed(uri) {
		body, err := r.fetch(ctx, uri, r.timeout)
		r.metrics.IncrementMetadataFetch("direct", result(err))
		return body, err
	}

	primaryURL, err := GatewayURL(r.primary, uri)
	if err != nil {
		return nil, err
	}

	timeout := r.timeout
	if r.breaker.IsOpen() {
		timeout = r.probeTimeout
	}
	body, err := r.fetch(ctx, primaryURL, timeout)
	r.metrics.IncrementMetadataFetch("primary", result(err))
	r.record(ctx, err)
	if err == nil || r.fallback == "" || ctx.Err() != nil {
		return body, err
	}

	fallbackURL, ferr := GatewayURL(r.fallback, uri)
	if ferr != nil {
		return nil, err
	}
	body, ferr = r.fetch(ctx, fallbackURL, r.timeout)
	r.metrics.IncrementMetadataFetch("fallback", result(ferr))
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return body, nil
}

// record reports primary gateway health. Missing documents and oversize
// bodies say nothing about the gateway itself.
func (r *Resolver) record(ctx context.Context, err error) {
	var change circuit.StateChange
	switch {
	case err == nil:
		_, change = r.breaker.RecordSuccess()
	case errors.Is(err, errUnavailable):
		_, change = r.breaker.RecordFailure()
	default:
		return
	}
	if change.Opened {
		r.logger.WarnContext(ctx, "metadata gateway circuit opened", "gateway", r.primary)
	}
	if change.Closed {
		r.logger.InfoContext(ctx, "metadata gateway circuit closed", "gateway", r.primary)
	}
	r.metrics.SetGatewayCircuit(r.breaker.IsOpen())
}

func (r *Resolver) fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("metadata fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnavailable, err)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, errOversize
	}
	return body, nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}

// Parse extracts the display fields from a metadata document. Non-string
// scalars are rendered as text; nested values are ignored. It returns nil
// when body is not a JSON object.
func Parse(body []byte) *models.Metadata {
	if !gjson.ValidBytes(body) {
		return nil
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil
	}
	return &models.Metadata{
		Degree:      text(doc, "degree"),
		Name:        text(doc, "name"),
		Institution: text(doc, "institution"),
		StudentName: text(doc, "studentName"),
		Grade:       text(doc, "grade"),
		IssueDate:   text(doc, "issueDate"),
		Description: text(doc, "description"),
		Image:       text(doc, "image"),
	}
}

func text(doc gjson.Result, field string) string {
	v := doc.Get(field)
	switch v.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return v.String()
	default:
		return ""
	}
}
