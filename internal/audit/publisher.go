package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"credverify/pkg/requestcontext"
)

const defaultBufferSize = 256

// Option configures a Publisher.
type Option func(*Publisher)

// WithBufferSize sets the channel capacity.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithLogger sets the logger used when events are dropped.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithRegisterer registers publisher metrics against reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Publisher) {
		p.reg = reg
	}
}

// Publisher enriches events and hands them to a Worker over a bounded
// channel. When the channel is full the event is dropped and counted; audit
// never applies backpressure to session or verification paths.
type Publisher struct {
	size   int
	logger *slog.Logger
	reg    prometheus.Registerer

	events  chan Event
	dropped prometheus.Counter
	emitted prometheus.Counter

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher builds a Publisher.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		size:   defaultBufferSize,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reg == nil {
		p.reg = prometheus.NewRegistry()
	}
	factory := promauto.With(p.reg)
	p.dropped = factory.NewCounter(prometheus.CounterOpts{
		Name: "credverify_audit_events_dropped_total",
		Help: "Audit events dropped because the buffer was full",
	})
	p.emitted = factory.NewCounter(prometheus.CounterOpts{
		Name: "credverify_audit_events_emitted_total",
		Help: "Audit events accepted into the buffer",
	})
	p.events = make(chan Event, p.size)
	return p
}

// Emit implements Emitter. Missing ID, timestamp and request id are filled
// from the context.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx).UTC()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Inc()
		return
	}
	select {
	case p.events <- event:
		p.emitted.Inc()
	default:
		p.dropped.Inc()
		p.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"action", event.Action,
			"subject", event.Subject,
		)
	}
}

// Events is the channel a Worker drains.
func (p *Publisher) Events() <-chan Event {
	return p.events
}

// Close stops accepting events and closes the channel so the Worker can
// drain what is buffered and exit.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
	})
}
