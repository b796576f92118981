// Package ledgertest provides an in-memory credential registry that answers
// ABI-encoded contract calls.
package ledgertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"credverify/internal/ledger"
	"credverify/internal/wallet/provider"
	"credverify/internal/wallet/provider/providertest"
)

// Well-known role ids as computed by the registry contract.
var (
	IssuerRole = ledger.RoleID(crypto.Keccak256Hash([]byte("ISSUER_ROLE")))
	AdminRole  = ledger.RoleID{}
)

// Credential is one stored record.
type Credential struct {
	Owner          common.Address
	MetadataURI    string
	IssueTimestamp uint64
	Revoked        bool
}

// RevertError is how a node reports a reverted eth_call.
type RevertError struct {
	Reason string
	Data   string
}

func (e *RevertError) Error() string  { return "execution reverted: " + e.Reason }
func (e *RevertError) ErrorCode() int { return 3 }
func (e *RevertError) ErrorData() any { return e.Data }

// NewRevertError encodes reason as Error(string) revert data.
func NewRevertError(reason string) *RevertError {
	strType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: strType}}.Pack(reason)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return &RevertError{Reason: reason, Data: hexutil.Encode(append(selector, packed...))}
}

// Backend implements bind.ContractCaller over in-memory state.
type Backend struct {
	mu          sync.Mutex
	credentials map[uint64]Credential
	roles       map[ledger.RoleID]map[common.Address]bool
	calls       map[string]int
	failure     error
	noCode      bool
}

// NewBackend returns an empty registry.
func NewBackend() *Backend {
	return &Backend{
		credentials: make(map[uint64]Credential),
		roles:       make(map[ledger.RoleID]map[common.Address]bool),
		calls:       make(map[string]int),
	}
}

// Issue stores a credential under id.
func (b *Backend) Issue(id uint64, c Credential) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credentials[id] = c
	return b
}

// Revoke marks id revoked.
func (b *Backend) Revoke(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.credentials[id]
	c.Revoked = true
	b.credentials[id] = c
}

// Unrevoke clears the revoked flag, which a real registry never does. Tests
// use it to check readers hold revocation sticky.
func (b *Backend) Unrevoke(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.credentials[id]
	c.Revoked = false
	b.credentials[id] = c
}

// Grant gives account role.
func (b *Backend) Grant(role ledger.RoleID, account common.Address) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.roles[role] == nil {
		b.roles[role] = make(map[common.Address]bool)
	}
	b.roles[role][account] = true
	return b
}

// FailWith makes every call fail with err until cleared with nil.
func (b *Backend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = err
}

// Undeploy makes the contract address report no code.
func (b *Backend) Undeploy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noCode = true
}

// Calls returns how many times method was called.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// CodeAt implements bind.ContractCaller.
func (b *Backend) CodeAt(_ context.Context, _ common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.noCode {
		return nil, nil
	}
	return []byte{0x60, 0x80}, nil
}

// CallContract implements bind.ContractCaller.
func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, errors.New("ledgertest: calldata too short")
	}
	contract := ledger.ABI()
	method, err := contract.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[method.Name]++
	if b.failure != nil {
		return nil, b.failure
	}
	if b.noCode {
		return nil, nil
	}

	switch method.Name {
	case "verifyCredential":
		id := args[0].(*big.Int).Uint64()
		c, ok := b.credentials[id]
		if !ok {
			return nil, NewRevertError(ledger.RevertCredentialMissing)
		}
		return method.Outputs.Pack(new(big.Int).SetUint64(id), c.Owner, c.MetadataURI, new(big.Int).SetUint64(c.IssueTimestamp), c.Revoked)
	case "ISSUER_ROLE":
		return method.Outputs.Pack([32]byte(IssuerRole))
	case "DEFAULT_ADMIN_ROLE":
		return method.Outputs.Pack([32]byte(AdminRole))
	case "hasRole":
		role := ledger.RoleID(args[0].([32]byte))
		account := args[1].(common.Address)
		return method.Outputs.Pack(b.roles[role][account])
	default:
		return nil, fmt.Errorf("ledgertest: unhandled method %s", method.Name)
	}
}

// ServeWallet scripts eth_call and eth_getCode on a fake wallet so the
// wallet answers contract reads from this backend.
func (b *Backend) ServeWallet(f *providertest.Fake) *providertest.Fake {
	f.Handle(provider.MethodCall, func(ctx context.Context, params []any) (any, error) {
		arg, err := decodeCallArg(params)
		if err != nil {
			return nil, err
		}
		out, err := b.CallContract(ctx, ethereum.CallMsg{To: arg.To, Data: arg.Data}, nil)
		if err != nil {
			var revert *RevertError
			if errors.As(err, &revert) {
				return nil, &provider.RPCError{Code: revert.ErrorCode(), Message: revert.Error(), Data: revert.Data}
			}
			return nil, err
		}
		return hexutil.Bytes(out), nil
	})
	f.Handle(provider.MethodGetCode, func(ctx context.Context, _ []any) (any, error) {
		code, err := b.CodeAt(ctx, common.Address{}, nil)
		return hexutil.Bytes(code), err
	})
	return f
}

func decodeCallArg(params []any) (ledger.CallArg, error) {
	if len(params) == 0 {
		return ledger.CallArg{}, errors.New("ledgertest: eth_call without transaction object")
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return ledger.CallArg{}, err
	}
	var arg ledger.CallArg
	if err := json.Unmarshal(raw, &arg); err != nil {
		return ledger.CallArg{}, err
	}
	return arg, nil
}
