package resolver

import (
	"context"
	"fmt"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// ApplyDecisionRequest carries a reviewer's verdict on a pending review.
type ApplyDecisionRequest struct {
	Token          string        `json:"token"`
	ReviewerSecret string        `json:"reviewer_secret"`
	NewIdentity    bool          `json:"new_identity"`
	IdentityLink   id.IdentityID `json:"identity_link,omitempty"`
	Comments       string        `json:"comments,omitempty"`
	// Device is filled at the transport layer from the User-Agent.
	Device string `json:"-"`
}

// DecisionResult reports the applied decision.
type DecisionResult struct {
	DecisionID  id.DecisionID `json:"decision_id"`
	Account     id.AccountID  `json:"account"`
	NewIdentity bool          `json:"new_identity"`
	Ignored     bool          `json:"ignored,omitempty"`
}

// ApplyDecision validates the review token and reviewer credentials, applies
// the verdict to the fused record, and closes the review.
//
// A decision whose target account is no longer a member of the fused record
// is logged and ignored rather than failed: the account was removed from the
// source between the review opening and the verdict arriving, and there is
// nothing left to resolve.
func (s *Service) ApplyDecision(ctx context.Context, req ApplyDecisionRequest) (DecisionResult, error) {
	if s.tokens == nil {
		return DecisionResult{}, dErrors.New(dErrors.CodeInternal, "review tokens are not configured")
	}
	reviewID, reviewer, err := s.tokens.Validate(req.Token)
	if err != nil {
		return DecisionResult{}, err
	}
	if s.reviewers != nil {
		if err := s.reviewers.Authenticate(reviewer, req.ReviewerSecret); err != nil {
			return DecisionResult{}, err
		}
	}

	s.mu.RLock()
	item, ok := s.reviews[reviewID]
	s.mu.RUnlock()
	if !ok {
		return DecisionResult{}, dErrors.Newf(dErrors.CodeNotFound, "review %s not found", reviewID)
	}

	decision := models.Decision{
		ID:           id.NewDecisionID(),
		Submitter:    reviewer,
		Account:      item.Account,
		NewIdentity:  req.NewIdentity,
		IdentityLink: req.IdentityLink,
		Comments:     req.Comments,
		Finished:     true,
		Device:       req.Device,
	}
	if err := decision.Validate(); err != nil {
		return DecisionResult{}, err
	}

	now := s.clock()
	cfg := s.modelConfig()
	var f *models.FusedAccount
	rec, err := s.fused.Get(ctx, item.Account)
	switch {
	case err == nil:
		f = models.NewFromSnapshot(rec.State, cfg, now)
		if err := f.SkipIdentityLayer(); err != nil {
			return DecisionResult{}, err
		}
		if err := f.ApplyAccountLayer(nil, now); err != nil {
			return DecisionResult{}, err
		}
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		// The snapshot vanished between the review opening and the verdict
		// arriving (orphan sweep, store reset). The decision itself is the
		// remaining construction source: rebuild a decision-derived
		// aggregate around the still-present source account.
		acct, aerr := s.accounts.GetAccount(ctx, item.Account)
		if dErrors.HasCode(aerr, dErrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "decision targets an account with no snapshot and no source record, ignoring",
				"review_id", reviewID.String(), "account", item.Account)
			s.closeReview(reviewID)
			return DecisionResult{DecisionID: decision.ID, Account: item.Account, Ignored: true}, nil
		}
		if aerr != nil {
			return DecisionResult{}, fmt.Errorf("load source account: %w", aerr)
		}
		f = models.NewFromDecision(decision, cfg, now)
		if err := f.SkipIdentityLayer(); err != nil {
			return DecisionResult{}, err
		}
		if err := f.ApplyAccountLayer([]models.SourceAccount{acct}, now); err != nil {
			return DecisionResult{}, err
		}
	default:
		return DecisionResult{}, fmt.Errorf("load fused record: %w", err)
	}

	if !f.HasAccountRef(item.Account) {
		s.logger.WarnContext(ctx, "decision targets an account no longer in the fused record, ignoring",
			"review_id", reviewID.String(), "account", item.Account)
		s.closeReview(reviewID)
		return DecisionResult{DecisionID: decision.ID, Account: item.Account, Ignored: true}, nil
	}

	if err := f.ApplyDecision(decision, now); err != nil {
		return DecisionResult{}, err
	}
	if err := s.fused.Save(ctx, item.Account, f.Externalize(), now); err != nil {
		return DecisionResult{}, fmt.Errorf("save fused record: %w", err)
	}
	s.closeReview(reviewID)

	if inv, ok := s.identities.(identityInvalidator); ok {
		inv.Invalidate(ctx, decision.IdentityLink)
	}
	kind := "link"
	if decision.NewIdentity {
		kind = "new-identity"
	}
	s.metrics.IncrementDecision(kind)
	if err := s.notifier.NotifyDecisionApplied(ctx, item.Account, decision.ID, decision.NewIdentity); err != nil {
		s.logger.WarnContext(ctx, "decision notification failed",
			"decision_id", decision.ID.String(), "error", err)
	}

	s.logger.InfoContext(ctx, "decision applied",
		"decision_id", decision.ID.String(),
		"account", item.Account,
		"submitter", reviewer,
		"new_identity", decision.NewIdentity,
	)
	return DecisionResult{
		DecisionID:  decision.ID,
		Account:     item.Account,
		NewIdentity: decision.NewIdentity,
	}, nil
}

func (s *Service) closeReview(reviewID id.ReviewID) {
	s.mu.Lock()
	delete(s.reviews, reviewID)
	n := len(s.reviews)
	s.mu.Unlock()
	s.metrics.SetPendingReviews(n)
}
