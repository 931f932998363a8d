package models

import (
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// Decision is a human reviewer's resolution of a pending account: either
// link it to an existing identity or spin up a new one.
type Decision struct {
	ID           id.DecisionID `json:"id"`
	Submitter    id.ReviewerID `json:"submitter"`
	Account      id.AccountID  `json:"account"`
	NewIdentity  bool          `json:"new_identity"`
	IdentityLink id.IdentityID `json:"identity_link,omitempty"`
	Comments     string        `json:"comments,omitempty"`
	Finished     bool          `json:"finished"`
	// Device describes the submitting client, parsed from the User-Agent
	// at the transport layer. Informational only.
	Device string `json:"device,omitempty"`
}

// Validate checks the decision is internally consistent before it reaches an
// aggregate.
func (d Decision) Validate() error {
	if d.Submitter.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "decision requires a submitter")
	}
	if d.Account.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "decision requires a target account")
	}
	if !d.NewIdentity && d.IdentityLink.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "decision must either create a new identity or name an identity link")
	}
	if d.NewIdentity && !d.IdentityLink.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "decision cannot both create a new identity and link an existing one")
	}
	return nil
}
