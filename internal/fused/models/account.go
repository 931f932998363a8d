package models

import (
	"time"

	id "fuseid/pkg/domain"
)

// SourceAccount is a raw account observed in one managed source system.
// The source system owns these records; the engine treats them as read-only
// input and never writes them back.
type SourceAccount struct {
	ID           id.AccountID      `json:"id"`
	Source       id.SourceID       `json:"source"`
	Attributes   map[string]string `json:"attributes"`
	IdentityRef  id.IdentityID     `json:"identity_ref,omitempty"`
	Disabled     bool              `json:"disabled"`
	LastModified time.Time         `json:"last_modified"`
}

// Identity is a canonical identity record supplied by the identity source.
type Identity struct {
	ID          id.IdentityID     `json:"id"`
	DisplayName string            `json:"display_name"`
	Attributes  map[string]string `json:"attributes"`
	Baseline    bool              `json:"baseline"`
}
