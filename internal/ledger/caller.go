package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"credverify/internal/wallet/provider"
)

// ProviderCaller implements bind.ContractCaller through a wallet provider,
// so reads are issued by the wallet on the network the user selected, from
// the connected account.
type ProviderCaller struct {
	p    provider.Provider
	from common.Address
}

var _ bind.ContractCaller = (*ProviderCaller)(nil)

// NewProviderCaller returns a caller issuing eth_call as from.
func NewProviderCaller(p provider.Provider, from common.Address) *ProviderCaller {
	return &ProviderCaller{p: p, from: from}
}

// CodeAt implements bind.ContractCaller.
func (c *ProviderCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	raw, err := c.p.Request(ctx, provider.MethodGetCode, contract, blockTag(blockNumber))
	if err != nil {
		return nil, err
	}
	return decodeBytes(raw, provider.MethodGetCode)
}

// CallContract implements bind.ContractCaller.
func (c *ProviderCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	raw, err := c.p.Request(ctx, provider.MethodCall, c.callArg(call), blockTag(blockNumber))
	if err != nil {
		return nil, err
	}
	return decodeBytes(raw, provider.MethodCall)
}

// CallArg is the eth_call transaction object.
type CallArg struct {
	From *common.Address `json:"from,omitempty"`
	To   *common.Address `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

func (c *ProviderCaller) callArg(call ethereum.CallMsg) CallArg {
	arg := CallArg{To: call.To, Data: call.Data}
	from := call.From
	if from == (common.Address{}) {
		from = c.from
	}
	if from != (common.Address{}) {
		arg.From = &from
	}
	return arg
}

func blockTag(n *big.Int) string {
	if n == nil {
		return "latest"
	}
	return hexutil.EncodeBig(n)
}

func decodeBytes(raw json.RawMessage, method string) ([]byte, error) {
	var out hexutil.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}
