// Package domain defines the typed identifiers shared across modules.
// Distinct types prevent accidentally crossing an account id with an
// identity id at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "fuseid/pkg/domain-errors"
)

// AccountID identifies a raw account inside its source system. Source systems
// own the format, so it is an opaque non-empty string.
type AccountID string

// IdentityID identifies a canonical (fused) identity.
type IdentityID string

// SourceID names a managed source system.
type SourceID string

// ReviewerID identifies a registered human reviewer.
type ReviewerID string

func (id AccountID) IsEmpty() bool  { return id == "" }
func (id IdentityID) IsEmpty() bool { return id == "" }
func (id SourceID) IsEmpty() bool   { return id == "" }
func (id ReviewerID) IsEmpty() bool { return id == "" }

// ParseAccountID validates an externally supplied account id.
func ParseAccountID(s string) (AccountID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "account id cannot be empty")
	}
	return AccountID(s), nil
}

// ParseIdentityID validates an externally supplied identity id.
func ParseIdentityID(s string) (IdentityID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity id cannot be empty")
	}
	return IdentityID(s), nil
}

// ReviewID identifies one review request produced by the resolver.
type ReviewID uuid.UUID

// DecisionID identifies one submitted reviewer decision.
type DecisionID uuid.UUID

// PassID identifies one resolution pass.
type PassID uuid.UUID

func NewReviewID() ReviewID     { return ReviewID(uuid.New()) }
func NewDecisionID() DecisionID { return DecisionID(uuid.New()) }
func NewPassID() PassID         { return PassID(uuid.New()) }

func (id ReviewID) String() string   { return uuid.UUID(id).String() }
func (id DecisionID) String() string { return uuid.UUID(id).String() }
func (id PassID) String() string     { return uuid.UUID(id).String() }

func (id ReviewID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DecisionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PassID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// UUID-backed ids serialize as their canonical string form.

func (id ReviewID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id DecisionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id PassID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *ReviewID) UnmarshalText(text []byte) error {
	parsed, err := ParseReviewID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *DecisionID) UnmarshalText(text []byte) error {
	parsed, err := ParseDecisionID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *PassID) UnmarshalText(text []byte) error {
	u, err := parseUUID(string(text))
	if err != nil {
		return err
	}
	*id = PassID(u)
	return nil
}

// ParseReviewID parses and validates a review id from its string form.
func ParseReviewID(s string) (ReviewID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ReviewID{}, err
	}
	return ReviewID(u), nil
}

// ParseDecisionID parses and validates a decision id from its string form.
func ParseDecisionID(s string) (DecisionID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return DecisionID{}, err
	}
	return DecisionID(u), nil
}

// parseUUID enforces the shared invariant: ids must be valid, non-nil UUIDs.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}
