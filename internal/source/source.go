// Package source reads managed accounts and canonical identities from the
// systems of record. All reads are one-way: the engine never writes back to
// a source system.
package source

import (
	"context"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
)

// AccountSource exposes the managed accounts of the connected source systems.
type AccountSource interface {
	// GetAccount returns one account, or a not_found error.
	GetAccount(ctx context.Context, account id.AccountID) (models.SourceAccount, error)
	// ListAccounts returns every account of one source system.
	ListAccounts(ctx context.Context, source id.SourceID) ([]models.SourceAccount, error)
	// ListStaged returns accounts queued for resolution across all sources.
	ListStaged(ctx context.Context) ([]models.SourceAccount, error)
}

// IdentitySource exposes the canonical identity records that accounts
// resolve against.
type IdentitySource interface {
	// GetIdentity returns one identity, or a not_found error.
	GetIdentity(ctx context.Context, identity id.IdentityID) (models.Identity, error)
	// ListIdentities returns every identity, the candidate pool for a pass.
	ListIdentities(ctx context.Context) ([]models.Identity, error)
}
