package review

import (
	"context"
	"log/slog"

	id "fuseid/pkg/domain"
)

// LogNotifier writes notifications to the structured log. Used when no
// broker is configured and as the fallback sink in tests.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReviewRequested(_ context.Context, review Review) error {
	n.logger.Info("review requested",
		"review_id", review.ID.String(),
		"account", review.Account,
		"candidates", len(review.Candidates),
		"reviewers", len(review.Reviewers))
	return nil
}

func (n *LogNotifier) NotifyDecisionApplied(_ context.Context, account id.AccountID, decision id.DecisionID, newIdentity bool) error {
	n.logger.Info("decision applied",
		"account", account,
		"decision_id", decision.String(),
		"new_identity", newIdentity)
	return nil
}

func (n *LogNotifier) NotifyPassFinished(_ context.Context, report PassReport) error {
	n.logger.Info("pass finished",
		"pass_id", report.Pass.String(),
		"total", report.Total,
		"auto_linked", report.AutoLinked,
		"pending_review", report.PendingReview,
		"new_identities", report.NewIdentities,
		"failed", report.Failed,
		"duration", report.Duration)
	return nil
}
