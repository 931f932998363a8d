package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// InMemoryStore keeps snapshots in process memory. Used by tests and by
// deployments running a single pass without durable state.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.AccountID]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.AccountID]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, account id.AccountID, state models.ExternalState, now time.Time) error {
	if account.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "account id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[account] = Record{Account: account, State: state, UpdatedAt: now}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, account id.AccountID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[account]
	if !ok {
		return Record{}, dErrors.Newf(dErrors.CodeNotFound, "no fused record for account %s", account)
	}
	return rec, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(Record) bool { return true }), nil
}

func (s *InMemoryStore) ListPendingReview(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(r Record) bool { return r.State.Status.ActiveReviews }), nil
}

func (s *InMemoryStore) SweepOrphans(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for account, rec := range s.records {
		if rec.State.Status.Orphan && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, account)
			removed++
		}
	}
	return removed, nil
}

// collect requires the caller to hold at least the read lock.
func (s *InMemoryStore) collect(keep func(Record) bool) []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}
