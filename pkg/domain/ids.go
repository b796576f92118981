package domain

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	dErrors "credverify/pkg/domain-errors"
)

// maxTokenIDLength bounds input before numeric parsing; uint64 has at most 20 digits.
const maxTokenIDLength = 20

// TokenID identifies a credential record on the ledger.
type TokenID uint64

// ParseTokenID validates user-supplied credential identifiers at the trust boundary.
// Only unsigned base-10 integers are accepted; surrounding whitespace is ignored.
// Empty, signed, fractional, exponent or overflowing input is rejected with
// CodeInvalidInput so callers never issue a ledger read for it.
func ParseTokenID(raw string) (TokenID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "token id is required")
	}
	if len(s) > maxTokenIDLength {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "token id is too long")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, dErrors.New(dErrors.CodeInvalidInput, "token id must be a non-negative integer")
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "token id is out of range")
	}
	return TokenID(v), nil
}

func (id TokenID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Big returns the id as the uint256 argument expected by contract bindings.
func (id TokenID) Big() *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

// ChainID is the numeric identifier of a ledger network.
type ChainID uint64

// ParseChainID accepts both the 0x-prefixed hex form used by wallet providers
// and plain decimal.
func ParseChainID(raw string) (ChainID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "chain id is required")
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "chain id is malformed")
	}
	return ChainID(v), nil
}

// Hex returns the 0x-prefixed form wallet providers exchange.
func (c ChainID) Hex() string {
	return "0x" + strconv.FormatUint(uint64(c), 16)
}

func (c ChainID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ParseAddress validates a hex account address.
func ParseAddress(raw string) (common.Address, error) {
	s := strings.TrimSpace(raw)
	if !common.IsHexAddress(s) {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidInput, "address is malformed")
	}
	return common.HexToAddress(s), nil
}
