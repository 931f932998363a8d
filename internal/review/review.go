// Package review manages the human side of identity resolution: pending
// review items, reviewer credentials, review tokens, and outbound
// notifications.
package review

import (
	"context"
	"time"

	"fuseid/internal/matcher"
	id "fuseid/pkg/domain"
)

// Review is one pending review item: a subject account whose candidates
// need a human verdict.
type Review struct {
	ID         id.ReviewID         `json:"id"`
	Account    id.AccountID        `json:"account"`
	Candidates []matcher.Candidate `json:"candidates"`
	Reviewers  []id.ReviewerID     `json:"reviewers"`
	CreatedAt  time.Time           `json:"created_at"`
}

// PassReport summarizes a finished resolution pass for downstream consumers.
type PassReport struct {
	Pass          id.PassID     `json:"pass_id"`
	Total         int           `json:"total"`
	AutoLinked    int           `json:"auto_linked"`
	PendingReview int           `json:"pending_review"`
	NewIdentities int           `json:"new_identities"`
	Failed        int           `json:"failed"`
	Duration      time.Duration `json:"duration"`
}

// Notifier delivers review notifications to the outside world. Delivery is
// best-effort: a pass never fails because a notification could not be sent.
type Notifier interface {
	NotifyReviewRequested(ctx context.Context, review Review) error
	NotifyDecisionApplied(ctx context.Context, account id.AccountID, decision id.DecisionID, newIdentity bool) error
	NotifyPassFinished(ctx context.Context, report PassReport) error
}
