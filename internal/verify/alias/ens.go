package alias

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// MainnetRegistry is the ENS registry address on every network ENS is
// deployed to.
var MainnetRegistry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

const ensABI = `[
	{"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`

var parsedENS = mustParseABI(ensABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("alias: parse ens abi: %v", err))
	}
	return parsed
}

// ENSABI exposes the registry and resolver surface for test backends.
func ENSABI() abi.ABI {
	return parsedENS
}

// ENSResolver looks up primary names through the ENS reverse registrar on a
// read-only ledger handle. A reverse record only counts when the name
// resolves forward to the same address.
type ENSResolver struct {
	caller   bind.ContractCaller
	registry common.Address
}

// NewENSResolver binds the registry at registry through caller.
func NewENSResolver(caller bind.ContractCaller, registry common.Address) *ENSResolver {
	return &ENSResolver{caller: caller, registry: registry}
}

// LookupAlias implements Upstream.
func (r *ENSResolver) LookupAlias(ctx context.Context, address common.Address) (string, error) {
	reverse := Namehash(strings.ToLower(address.Hex()[2:]) + ".addr.reverse")
	resolver, err := r.resolverOf(ctx, reverse)
	if err != nil || resolver == (common.Address{}) {
		return "", err
	}

	var name string
	if err := r.call(ctx, resolver, &name, "name", reverse); err != nil {
		return "", err
	}
	if name == "" {
		return "", nil
	}

	forward := Namehash(name)
	forwardResolver, err := r.resolverOf(ctx, forward)
	if err != nil || forwardResolver == (common.Address{}) {
		return "", err
	}
	var resolved common.Address
	if err := r.call(ctx, forwardResolver, &resolved, "addr", forward); err != nil {
		return "", err
	}
	if resolved != address {
		return "", nil
	}
	return name, nil
}

func (r *ENSResolver) resolverOf(ctx context.Context, node [32]byte) (common.Address, error) {
	var out common.Address
	err := r.call(ctx, r.registry, &out, "resolver", node)
	return out, err
}

func (r *ENSResolver) call(ctx context.Context, at common.Address, out any, method string, node [32]byte) error {
	contract := bind.NewBoundContract(at, parsedENS, r.caller, nil, nil)
	var results []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &results, method, node); err != nil {
		return fmt.Errorf("ens %s: %w", method, err)
	}
	if len(results) != 1 {
		return fmt.Errorf("ens %s: unexpected output count %d", method, len(results))
	}
	switch dst := out.(type) {
	case *string:
		v, ok := results[0].(string)
		if !ok {
			return fmt.Errorf("ens %s: unexpected output type %T", method, results[0])
		}
		*dst = v
	case *common.Address:
		v, ok := results[0].(common.Address)
		if !ok {
			return fmt.Errorf("ens %s: unexpected output type %T", method, results[0])
		}
		*dst = v
	}
	return nil
}

// Namehash computes the EIP-137 node of a dot-separated name. Labels are
// lowercased; full UTS-46 normalization is not applied.
func Namehash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(strings.ToLower(name), ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := keccak([]byte(labels[i]))
		node = keccakPair(node[:], label[:])
	}
	return node
}

func keccak(b []byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	h.Sum(out[:0])
	return out
}

func keccakPair(a, b []byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(a)
	h.Write(b)
	h.Sum(out[:0])
	return out
}
