// Package ledger binds the credential registry contract for reads.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"credverify/internal/verify/models"
	"credverify/pkg/domain"
)

// RoleID is a bytes32 role identifier.
type RoleID [32]byte

// Reader is the contract read surface used by sessions and verification.
type Reader interface {
	VerifyCredential(ctx context.Context, id domain.TokenID) (models.CredentialRecord, error)
	IssuerRole(ctx context.Context) (RoleID, error)
	DefaultAdminRole(ctx context.Context) (RoleID, error)
	HasRole(ctx context.Context, role RoleID, account common.Address) (bool, error)
}

// Contract is a Reader over any bind.ContractCaller: an ethclient for the
// public read-only handle or a ProviderCaller for the signer-bound one.
type Contract struct {
	address common.Address
	bound   *bind.BoundContract
}

// NewContract binds the registry at address.
func NewContract(address common.Address, caller bind.ContractCaller) *Contract {
	return &Contract{
		address: address,
		bound:   bind.NewBoundContract(address, parsedABI, caller, nil, nil),
	}
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) call(ctx context.Context, method string, params ...any) ([]any, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx}
	if err := c.bound.Call(opts, &out, method, params...); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyCredential reads one credential record.
func (c *Contract) VerifyCredential(ctx context.Context, id domain.TokenID) (models.CredentialRecord, error) {
	out, err := c.call(ctx, methodVerifyCredential, id.Big())
	if err != nil {
		return models.CredentialRecord{}, mapCallError(err, methodVerifyCredential)
	}
	rec, err := decodeCredential(out)
	if err != nil {
		return models.CredentialRecord{}, mapCallError(err, methodVerifyCredential)
	}
	return rec, nil
}

func decodeCredential(out []any) (models.CredentialRecord, error) {
	if len(out) != 5 {
		return models.CredentialRecord{}, fmt.Errorf("verifyCredential: expected 5 outputs, got %d", len(out))
	}
	tokenID, ok1 := out[0].(*big.Int)
	owner, ok2 := out[1].(common.Address)
	uri, ok3 := out[2].(string)
	issued, ok4 := out[3].(*big.Int)
	revoked, ok5 := out[4].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return models.CredentialRecord{}, fmt.Errorf("verifyCredential: unexpected output types")
	}
	if !tokenID.IsUint64() || !issued.IsUint64() {
		return models.CredentialRecord{}, fmt.Errorf("verifyCredential: numeric output out of range")
	}
	return models.CredentialRecord{
		TokenID:        domain.TokenID(tokenID.Uint64()),
		Owner:          owner,
		MetadataURI:    uri,
		IssueTimestamp: issued.Uint64(),
		Revoked:        revoked,
	}, nil
}

// IssuerRole reads ISSUER_ROLE.
func (c *Contract) IssuerRole(ctx context.Context) (RoleID, error) {
	return c.role(ctx, methodIssuerRole)
}

// DefaultAdminRole reads DEFAULT_ADMIN_ROLE.
func (c *Contract) DefaultAdminRole(ctx context.Context) (RoleID, error) {
	return c.role(ctx, methodDefaultAdminRole)
}

func (c *Contract) role(ctx context.Context, method string) (RoleID, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return RoleID{}, mapCallError(err, method)
	}
	if len(out) != 1 {
		return RoleID{}, mapCallError(fmt.Errorf("%s: expected 1 output, got %d", method, len(out)), method)
	}
	id, ok := out[0].([32]byte)
	if !ok {
		return RoleID{}, mapCallError(fmt.Errorf("%s: unexpected output type %T", method, out[0]), method)
	}
	return RoleID(id), nil
}

// HasRole reports whether account holds role.
func (c *Contract) HasRole(ctx context.Context, role RoleID, account common.Address) (bool, error) {
	out, err := c.call(ctx, methodHasRole, [32]byte(role), account)
	if err != nil {
		return false, mapCallError(err, methodHasRole)
	}
	if len(out) != 1 {
		return false, mapCallError(fmt.Errorf("hasRole: expected 1 output, got %d", len(out)), methodHasRole)
	}
	has, ok := out[0].(bool)
	if !ok {
		return false, mapCallError(fmt.Errorf("hasRole: unexpected output type %T", out[0]), methodHasRole)
	}
	return has, nil
}
