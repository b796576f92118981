// Package fetcher reads credential records from the ledger.
package fetcher

import (
	"context"
	"log/slog"
	"sync"

	"credverify/internal/verify/models"
	"credverify/pkg/domain"
	dErrors "credverify/pkg/domain-errors"
)

// Reader is the ledger read the fetcher needs.
type Reader interface {
	VerifyCredential(ctx context.Context, id domain.TokenID) (models.CredentialRecord, error)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// Fetcher reads one credential record per call. It remembers every token it
// has seen revoked so a stale or lagging reader can never report it valid
// again for the lifetime of the process.
type Fetcher struct {
	logger *slog.Logger

	mu      sync.RWMutex
	revoked map[domain.TokenID]struct{}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		logger:  slog.New(slog.DiscardHandler),
		revoked: make(map[domain.TokenID]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch reads id through r. Errors carry either CodeCredentialNotFound or
// CodeTransportFailure and are never merged. A record for any token other
// than id is a transport failure.
func (f *Fetcher) Fetch(ctx context.Context, r Reader, id domain.TokenID) (models.CredentialRecord, error) {
	if r == nil {
		return models.CredentialRecord{}, dErrors.New(dErrors.CodeInternal, "no ledger reader configured")
	}
	rec, err := r.VerifyCredential(ctx, id)
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeCredentialNotFound, dErrors.CodeTransportFailure:
			return models.CredentialRecord{}, err
		default:
			return models.CredentialRecord{}, dErrors.Wrap(err, dErrors.CodeTransportFailure, "could not reach verification service")
		}
	}
	if rec.TokenID != id {
		f.logger.ErrorContext(ctx, "ledger answered for a different token",
			"token_id", id.String(),
			"answered", rec.TokenID.String(),
		)
		return models.CredentialRecord{}, dErrors.New(dErrors.CodeTransportFailure, "verification service answered for a different credential")
	}

	if rec.Revoked {
		f.markRevoked(id)
		return rec, nil
	}
	if f.seenRevoked(id) {
		f.logger.WarnContext(ctx, "ledger reported a revoked credential as valid, keeping revocation",
			"token_id", id.String(),
		)
		rec.Revoked = true
	}
	return rec, nil
}

func (f *Fetcher) markRevoked(id domain.TokenID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[id] = struct{}{}
}

func (f *Fetcher) seenRevoked(id domain.TokenID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.revoked[id]
	return ok
}
