package source

import (
	"context"
	"sort"
	"sync"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// InMemorySource serves accounts and identities from process memory.
// Implements both AccountSource and IdentitySource.
type InMemorySource struct {
	mu         sync.RWMutex
	accounts   map[id.AccountID]models.SourceAccount
	identities map[id.IdentityID]models.Identity
	staged     map[id.AccountID]struct{}
}

func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		accounts:   make(map[id.AccountID]models.SourceAccount),
		identities: make(map[id.IdentityID]models.Identity),
		staged:     make(map[id.AccountID]struct{}),
	}
}

// PutAccount loads an account; staged marks it queued for resolution.
func (s *InMemorySource) PutAccount(account models.SourceAccount, staged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	if staged {
		s.staged[account.ID] = struct{}{}
	} else {
		delete(s.staged, account.ID)
	}
}

// PutIdentity loads an identity record.
func (s *InMemorySource) PutIdentity(identity models.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity.ID] = identity
}

func (s *InMemorySource) GetAccount(_ context.Context, account id.AccountID) (models.SourceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[account]
	if !ok {
		return models.SourceAccount{}, dErrors.Newf(dErrors.CodeNotFound, "account %s not found", account)
	}
	return acct, nil
}

func (s *InMemorySource) ListAccounts(_ context.Context, source id.SourceID) ([]models.SourceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SourceAccount
	for _, acct := range s.accounts {
		if acct.Source == source {
			out = append(out, acct)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (s *InMemorySource) ListStaged(_ context.Context) ([]models.SourceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SourceAccount, 0, len(s.staged))
	for ref := range s.staged {
		out = append(out, s.accounts[ref])
	}
	sortAccounts(out)
	return out, nil
}

func (s *InMemorySource) GetIdentity(_ context.Context, identity id.IdentityID) (models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[identity]
	if !ok {
		return models.Identity{}, dErrors.Newf(dErrors.CodeNotFound, "identity %s not found", identity)
	}
	return ident, nil
}

func (s *InMemorySource) ListIdentities(_ context.Context) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func sortAccounts(accounts []models.SourceAccount) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
}
