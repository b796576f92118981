// Package provider models the wallet providers a host exposes and the
// request/event protocol spoken with them.
package provider

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"credverify/pkg/domain"
	dErrors "credverify/pkg/domain-errors"
)

// Kind is the wallet identity a provider self-reports.
type Kind string

const (
	KindMetaMask Kind = "metamask"
	KindCoinbase Kind = "coinbase"
)

// Provider is a request/response handle to a wallet plus its live events.
type Provider interface {
	// Is reports whether the provider self-identifies as kind.
	Is(kind Kind) bool
	// Request issues a wallet JSON-RPC method and returns the raw result.
	// Wallet-reported failures are returned as *RPCError.
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	// Subscribe attaches event handlers until the returned token is released.
	Subscribe(h Handlers) Subscription
}

// Handlers receive live provider events. Nil handlers are skipped.
type Handlers struct {
	AccountsChanged func(accounts []common.Address)
	ChainChanged    func(chainID domain.ChainID)
}

// Subscription detaches handlers attached by Subscribe. Unsubscribe is
// idempotent and never blocks on in-progress dispatch.
type Subscription interface {
	Unsubscribe()
}

// Environment is the set of providers injected by the host. Primary is the
// single default handle; Providers is the list a multi-wallet host exposes
// alongside it. Either may be empty.
type Environment struct {
	Primary   Provider
	Providers []Provider
}

// Discover picks the single usable provider: an explicit match for kind wins
// over a generic guess. Discover performs no requests.
func Discover(env Environment, kind Kind) (Provider, error) {
	if env.Primary != nil && env.Primary.Is(kind) {
		return env.Primary, nil
	}
	for _, p := range env.Providers {
		if p != nil && p.Is(kind) {
			return p, nil
		}
	}
	if env.Primary != nil {
		return env.Primary, nil
	}
	for _, p := range env.Providers {
		if p != nil {
			return p, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeProviderNotFound, "no wallet provider is available")
}

// Kinds is a helper for providers that carry a static identity list.
type Kinds []Kind

// Is reports membership.
func (k Kinds) Is(kind Kind) bool {
	for _, have := range k {
		if have == kind {
			return true
		}
	}
	return false
}

// ParseKinds converts configured identity names.
func ParseKinds(names []string) Kinds {
	out := make(Kinds, 0, len(names))
	for _, n := range names {
		out = append(out, Kind(n))
	}
	return out
}
