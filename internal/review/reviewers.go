package review

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// ReviewerRegistry holds reviewer credentials. Secrets are stored as bcrypt
// hashes only.
type ReviewerRegistry struct {
	mu      sync.RWMutex
	secrets map[id.ReviewerID]string
}

func NewReviewerRegistry() *ReviewerRegistry {
	return &ReviewerRegistry{secrets: make(map[id.ReviewerID]string)}
}

// Register stores a reviewer with a hashed secret, replacing any previous
// credential.
func (r *ReviewerRegistry) Register(reviewer id.ReviewerID, secret string) error {
	if reviewer.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "reviewer id is required")
	}
	if secret == "" {
		return dErrors.New(dErrors.CodeValidation, "reviewer secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return dErrors.New(dErrors.CodeValidation, "reviewer secret is too long")
		}
		return fmt.Errorf("hash reviewer secret: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[reviewer] = string(hashed)
	return nil
}

// Authenticate verifies a reviewer's secret. Unknown reviewers and wrong
// secrets return the same unauthorized error.
func (r *ReviewerRegistry) Authenticate(reviewer id.ReviewerID, secret string) error {
	r.mu.RLock()
	hash, ok := r.secrets[reviewer]
	r.mu.RUnlock()
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "unknown reviewer or invalid secret")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "unknown reviewer or invalid secret")
		}
		return fmt.Errorf("verify reviewer secret: %w", err)
	}
	return nil
}

// Known reports whether a reviewer is registered.
func (r *ReviewerRegistry) Known(reviewer id.ReviewerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.secrets[reviewer]
	return ok
}

// List returns every registered reviewer id.
func (r *ReviewerRegistry) List() []id.ReviewerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]id.ReviewerID, 0, len(r.secrets))
	for reviewer := range r.secrets {
		out = append(out, reviewer)
	}
	return out
}
