// Package alias resolves human-readable names for ledger addresses.
//
// Lookups are memoized per address, including negative results, so each
// address reaches the upstream at most once per store lifetime. Concurrent
// lookups for one address share a single upstream call.
package alias

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"credverify/internal/verify/metrics"
	dErrors "credverify/pkg/domain-errors"
	"credverify/pkg/platform/sentinel"
)

const defaultTimeout = 3 * time.Second

// Entry is a memoized lookup. Found is false for a negative entry.
// ResolvedAt is when the upstream answer, or its absence, was recorded.
type Entry struct {
	Alias      string    `json:"alias,omitempty"`
	Found      bool      `json:"found"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Upstream performs the slow alias lookup. An empty name with a nil error
// means the address has no alias.
type Upstream interface {
	LookupAlias(ctx context.Context, address common.Address) (string, error)
}

// Store persists entries. PutIfAbsent never overwrites an existing entry.
// Get returns sentinel.ErrNotFound for unknown addresses.
type Store interface {
	Get(ctx context.Context, address common.Address) (Entry, error)
	PutIfAbsent(ctx context.Context, address common.Address, e Entry) error
}

// Option configures a Cache.
type Option func(*Cache)

// WithTimeout bounds one upstream lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock overrides the clock that stamps ResolvedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics sets pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Cache is the name cache.
type Cache struct {
	upstream Upstream
	store    Store
	group    singleflight.Group
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Cache over upstream, memoizing into store.
func New(upstream Upstream, store Store, opts ...Option) *Cache {
	c := &Cache{
		upstream: upstream,
		store:    store,
		timeout:  defaultTimeout,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the alias for address and whether one exists. A caller
// whose ctx ends first gets ("", false) and leaves the cache untouched; the
// shared lookup keeps running for other callers and still memoizes its own
// outcome.
func (c *Cache) Resolve(ctx context.Context, address common.Address) (string, bool) {
	if e, ok := c.cached(ctx, address); ok {
		if e.Found {
			c.metrics.IncrementAliasLookup("hit")
		} else {
			c.metrics.IncrementAliasLookup("negative")
		}
		return e.Alias, e.Found
	}

	// The flight runs detached from any one caller.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(address.Hex(), func() (any, error) {
		if e, ok := c.cached(flightCtx, address); ok {
			return e, nil
		}
		e := c.lookup(flightCtx, address)
		e.ResolvedAt = c.now().UTC()
		if err := c.store.PutIfAbsent(flightCtx, address, e); err != nil {
			c.logger.WarnContext(flightCtx, "alias cache write failed",
				"address", address.Hex(),
				"error", err,
			)
		}
		// Another writer may have won; report what the store holds.
		if stored, ok := c.cached(flightCtx, address); ok {
			return stored, nil
		}
		return e, nil
	})

	select {
	case <-ctx.Done():
		c.metrics.IncrementAliasLookup("canceled")
		return "", false
	case res := <-ch:
		e, _ := res.Val.(Entry)
		if e.Found {
			c.metrics.IncrementAliasLookup("miss")
		}
		return e.Alias, e.Found
	}
}

func (c *Cache) cached(ctx context.Context, address common.Address) (Entry, bool) {
	e, err := c.store.Get(ctx, address)
	if err == nil {
		return e, true
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		c.logger.WarnContext(ctx, "alias cache read failed",
			"address", address.Hex(),
			"error", err,
		)
	}
	return Entry{}, false
}

type lookupResult struct {
	name string
	err  error
}

// lookup races the upstream against the timeout. The upstream context is
// cancelled when the timer wins and a late answer lands in the buffered
// channel unread.
func (c *Cache) lookup(ctx context.Context, address common.Address) Entry {
	c.metrics.IncrementAliasUpstream()

	upstreamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		name, err := c.upstream.LookupAlias(upstreamCtx, address)
		done <- lookupResult{name: name, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		c.metrics.IncrementAliasLookup("timeout")
		c.logger.InfoContext(ctx, "alias lookup timed out",
			"code", string(dErrors.CodeAliasTimeout),
			"address", address.Hex(),
			"timeout", c.timeout.String(),
		)
		return Entry{}
	case res := <-done:
		if res.err != nil {
			c.metrics.IncrementAliasLookup("error")
			c.logger.WarnContext(ctx, "alias lookup failed",
				"address", address.Hex(),
				"error", res.err,
			)
			return Entry{}
		}
		if res.name == "" {
			c.metrics.IncrementAliasLookup("negative")
			return Entry{}
		}
		return Entry{Alias: res.name, Found: true}
	}
}
