package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"credverify/pkg/domain"
)

// Wallet JSON-RPC methods.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"
	MethodCall            = "eth_call"
	MethodGetCode         = "eth_getCode"
)

// NativeCurrency describes a chain's currency in wallet_addEthereumChain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainDefinition is the wallet_addEthereumChain parameter object.
type ChainDefinition struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// RequiredChain is the network a session must be connected to.
type RequiredChain struct {
	ID         domain.ChainID
	Definition ChainDefinition
}

// NewRequiredChain builds the definition offered when the wallet does not
// know the chain.
func NewRequiredChain(id domain.ChainID, name string, currency NativeCurrency, rpcURLs []string, explorer string) RequiredChain {
	def := ChainDefinition{
		ChainID:        id.Hex(),
		ChainName:      name,
		NativeCurrency: currency,
		RPCURLs:        rpcURLs,
	}
	if explorer != "" {
		def.BlockExplorerURLs = []string{explorer}
	}
	return RequiredChain{ID: id, Definition: def}
}

// Client wraps a Provider with typed wallet calls.
type Client struct {
	p Provider
}

// NewClient wraps p.
func NewClient(p Provider) *Client {
	return &Client{p: p}
}

// Provider returns the wrapped handle.
func (c *Client) Provider() Provider {
	return c.p
}

// RequestAccounts asks the wallet for account access. It may block until the
// user approves or declines in the wallet UI.
func (c *Client) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return c.accounts(ctx, MethodRequestAccounts)
}

// Accounts returns already-authorized accounts without prompting the user.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	return c.accounts(ctx, MethodAccounts)
}

func (c *Client) accounts(ctx context.Context, method string) ([]common.Address, error) {
	raw, err := c.p.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	return DecodeAccounts(raw)
}

// ChainID returns the wallet's active network.
func (c *Client) ChainID(ctx context.Context) (domain.ChainID, error) {
	raw, err := c.p.Request(ctx, MethodChainID)
	if err != nil {
		return 0, err
	}
	return DecodeChainID(raw)
}

// SwitchChain asks the wallet to change its active network.
func (c *Client) SwitchChain(ctx context.Context, id domain.ChainID) error {
	_, err := c.p.Request(ctx, MethodSwitchChain, map[string]string{"chainId": id.Hex()})
	return err
}

// AddChain asks the wallet to learn a network definition.
func (c *Client) AddChain(ctx context.Context, def ChainDefinition) error {
	_, err := c.p.Request(ctx, MethodAddChain, def)
	return err
}

// DecodeAccounts parses an account list result.
func DecodeAccounts(raw json.RawMessage) ([]common.Address, error) {
	var hexes []string
	if err := json.Unmarshal(raw, &hexes); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		if !common.IsHexAddress(h) {
			return nil, fmt.Errorf("decode accounts: malformed address %q", h)
		}
		out = append(out, common.HexToAddress(h))
	}
	return out, nil
}

// DecodeChainID parses a chain id result. Wallets report hex strings; some
// bridges report plain numbers.
func DecodeChainID(raw json.RawMessage) (domain.ChainID, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n uint64
		if numErr := json.Unmarshal(raw, &n); numErr != nil {
			return 0, fmt.Errorf("decode chain id: %w", err)
		}
		return domain.ChainID(n), nil
	}
	id, err := domain.ParseChainID(s)
	if err != nil {
		return 0, fmt.Errorf("decode chain id: %w", err)
	}
	return id, nil
}
