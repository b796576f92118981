// Package roles resolves a connected account's authorization roles.
package roles

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"credverify/internal/ledger"
	"credverify/internal/session/models"
	dErrors "credverify/pkg/domain-errors"
)

// Reader is the subset of the contract surface role resolution needs.
type Reader interface {
	IssuerRole(ctx context.Context) (ledger.RoleID, error)
	DefaultAdminRole(ctx context.Context) (ledger.RoleID, error)
	HasRole(ctx context.Context, role ledger.RoleID, account common.Address) (bool, error)
}

// Resolve reads both role ids and checks account membership in each. The two
// chains run concurrently; any failure fails the whole resolution and no
// partial roles are returned.
func Resolve(ctx context.Context, account common.Address, r Reader) (models.Roles, error) {
	var isIssuer, isAdmin bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		has, err := membership(gctx, r, r.IssuerRole, account)
		isIssuer = has
		return err
	})
	g.Go(func() error {
		has, err := membership(gctx, r, r.DefaultAdminRole, account)
		isAdmin = has
		return err
	})
	if err := g.Wait(); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTransportFailure) {
			return models.Roles{}, err
		}
		return models.Roles{}, dErrors.Wrap(err, dErrors.CodeTransportFailure, "role resolution failed")
	}
	return models.Roles{IsIssuer: isIssuer, IsAdmin: isAdmin}, nil
}

func membership(ctx context.Context, r Reader, roleID func(context.Context) (ledger.RoleID, error), account common.Address) (bool, error) {
	role, err := roleID(ctx)
	if err != nil {
		return false, err
	}
	return r.HasRole(ctx, role, account)
}
