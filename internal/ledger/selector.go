package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"credverify/internal/wallet/provider"
)

// Binder binds a signer-backed Reader for a connected provider and account.
type Binder func(p provider.Provider, account common.Address) (Reader, error)

// ProviderBinder returns a Binder issuing reads through the wallet.
func ProviderBinder(address common.Address) Binder {
	return func(p provider.Provider, account common.Address) (Reader, error) {
		return NewContract(address, NewProviderCaller(p, account)), nil
	}
}

// SignerSource exposes the signer-bound reader of a connected session.
type SignerSource interface {
	CredentialReader() (Reader, bool)
}

// Selector picks the signer-bound reader when a session is connected and
// the public read-only reader otherwise.
type Selector struct {
	public  Reader
	session SignerSource
}

// NewSelector builds a Selector. session may be nil.
func NewSelector(public Reader, session SignerSource) *Selector {
	return &Selector{public: public, session: session}
}

// Reader returns the reader to use and whether it is signer-bound.
func (s *Selector) Reader() (Reader, bool) {
	if s.session != nil {
		if r, ok := s.session.CredentialReader(); ok && r != nil {
			return r, true
		}
	}
	return s.public, false
}
