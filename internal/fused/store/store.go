package store

import (
	"context"
	"time"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
)

// Record is one persisted fused account snapshot, keyed by the subject
// account the resolution pass ran for.
type Record struct {
	Account   id.AccountID         `json:"account"`
	State     models.ExternalState `json:"state"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Store persists externalized fused account state between passes. The engine
// never holds aggregates across passes; this is the only durable surface.
type Store interface {
	// Save upserts the snapshot for one subject account.
	Save(ctx context.Context, account id.AccountID, state models.ExternalState, now time.Time) error
	// Get returns the snapshot for one subject account, or a not_found error.
	Get(ctx context.Context, account id.AccountID) (Record, error)
	// List returns every snapshot, ordered by account id.
	List(ctx context.Context) ([]Record, error)
	// ListPendingReview returns snapshots with active reviews, ordered by
	// account id.
	ListPendingReview(ctx context.Context) ([]Record, error)
	// SweepOrphans deletes orphan snapshots not updated since the cutoff
	// and reports how many were removed.
	SweepOrphans(ctx context.Context, cutoff time.Time) (int, error)
}
