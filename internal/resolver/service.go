// Package resolver orchestrates resolution passes: it pulls staged accounts
// from the sources, scores them against the identity pool, decides each
// account's outcome, and externalizes the resulting fused state.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fuseid/internal/fused/models"
	"fuseid/internal/fused/store"
	"fuseid/internal/matcher"
	"fuseid/internal/resolver/metrics"
	"fuseid/internal/review"
	"fuseid/internal/source"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// DefaultParallelism bounds concurrent account resolutions in one pass.
const DefaultParallelism = 8

// identityInvalidator is implemented by cached identity sources.
type identityInvalidator interface {
	Invalidate(ctx context.Context, identity id.IdentityID)
}

// Service runs resolution passes and applies reviewer decisions.
type Service struct {
	fused      store.Store
	accounts   source.AccountSource
	identities source.IdentitySource
	matcher    *matcher.Matcher
	policies   []matcher.MatchingPolicy

	notifier  review.Notifier
	tokens    *review.TokenService
	reviewers *review.ReviewerRegistry

	parallelism int
	auditMax    int
	mergeRules  map[string]models.AttributeMergeRule

	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   func() time.Time

	mu      sync.RWMutex
	reviews map[id.ReviewID]review.Review
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithNotifier(notifier review.Notifier) ServiceOption {
	return func(s *Service) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

func WithTokenService(tokens *review.TokenService) ServiceOption {
	return func(s *Service) {
		s.tokens = tokens
	}
}

func WithReviewerRegistry(reviewers *review.ReviewerRegistry) ServiceOption {
	return func(s *Service) {
		s.reviewers = reviewers
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithParallelism(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

func WithAuditHistoryMax(n int) ServiceOption {
	return func(s *Service) {
		s.auditMax = n
	}
}

// WithMergeRules sets per-attribute merge strategies applied when source
// contributions fold into the fused attribute view.
func WithMergeRules(rules map[string]models.AttributeMergeRule) ServiceOption {
	return func(s *Service) {
		s.mergeRules = rules
	}
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService builds a resolver for the given matching policies.
func NewService(
	fused store.Store,
	accounts source.AccountSource,
	identities source.IdentitySource,
	policies []matcher.MatchingPolicy,
	opts ...ServiceOption,
) (*Service, error) {
	m, err := matcher.New(policies)
	if err != nil {
		return nil, err
	}
	s := &Service{
		fused:       fused,
		accounts:    accounts,
		identities:  identities,
		matcher:     m,
		policies:    policies,
		notifier:    review.NewLogNotifier(nil),
		parallelism: DefaultParallelism,
		auditMax:    models.DefaultAuditHistoryMax,
		logger:      slog.Default(),
		tracer:      otel.Tracer("fuseid/resolver"),
		clock:       time.Now,
		reviews:     make(map[id.ReviewID]review.Review),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.restoreReviews(context.Background()); err != nil {
		return nil, fmt.Errorf("restore pending reviews: %w", err)
	}
	return s, nil
}

// restoreReviews rebuilds the open review list from persisted snapshots so
// reviews opened before a restart stay visible. Restored items carry fresh
// review ids; clients rediscover them through ListReviews before requesting
// tokens.
func (s *Service) restoreReviews(ctx context.Context) error {
	records, err := s.fused.ListPendingReview(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		item := review.Review{
			ID:         id.NewReviewID(),
			Account:    rec.Account,
			Candidates: rec.State.Matches,
			Reviewers:  reviewersFromFlags(rec.State.ActionFlags),
			CreatedAt:  rec.UpdatedAt,
		}
		s.reviews[item.ID] = item
	}
	if len(records) > 0 {
		s.logger.Info("pending reviews restored", "count", len(records))
	}
	return nil
}

func (s *Service) modelConfig() models.Config {
	return models.Config{AuditHistoryMax: s.auditMax, MergeRules: s.mergeRules}
}

// reviewersFromFlags recovers the required reviewer set from the action flags
// stamped by MarkPendingReview.
func reviewersFromFlags(flags []string) []id.ReviewerID {
	var out []id.ReviewerID
	for _, flag := range flags {
		if name, ok := strings.CutPrefix(flag, models.ActionReviewerPrefix); ok {
			out = append(out, id.ReviewerID(name))
		}
	}
	return out
}

// PassSummary reports what one resolution pass did.
type PassSummary struct {
	PassID        id.PassID `json:"pass_id"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
	Total         int       `json:"total"`
	AutoLinked    int       `json:"auto_linked"`
	PendingReview int       `json:"pending_review"`
	NewIdentities int       `json:"new_identities"`
	Failed        int       `json:"failed"`
}

// RunPass resolves every staged account. One account failing is counted and
// logged, never fatal to the rest of the pass; the pass itself fails only
// when the sources are unreachable or the context is cancelled.
func (s *Service) RunPass(ctx context.Context) (PassSummary, error) {
	ctx, span := s.tracer.Start(ctx, "resolver.pass")
	defer span.End()

	start := s.clock()
	summary := PassSummary{PassID: id.NewPassID(), Started: start}

	staged, err := s.accounts.ListStaged(ctx)
	if err != nil {
		return summary, fmt.Errorf("list staged accounts: %w", err)
	}
	pool, err := s.candidatePool(ctx)
	if err != nil {
		return summary, err
	}
	summary.Total = len(staged)
	span.SetAttributes(
		attribute.String("pass.id", summary.PassID.String()),
		attribute.Int("pass.staged", len(staged)),
		attribute.Int("pass.pool", len(pool)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	var mu sync.Mutex

	for _, acct := range staged {
		g.Go(func() error {
			outcome, err := s.resolveAccount(gctx, acct, pool)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				s.logger.ErrorContext(gctx, "account resolution failed",
					"account", acct.ID, "source", acct.Source, "error", err)
				return nil
			}
			switch outcome {
			case OutcomeAutoLink:
				summary.AutoLinked++
			case OutcomePendingReview:
				summary.PendingReview++
			case OutcomeNewIdentity:
				summary.NewIdentities++
			}
			s.metrics.IncrementOutcome(string(outcome))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	summary.Finished = s.clock()
	s.metrics.ObservePassLatency(summary.Finished.Sub(start))
	s.metrics.SetPendingReviews(s.pendingCount())
	s.logger.InfoContext(ctx, "resolution pass finished",
		"pass_id", summary.PassID.String(),
		"total", summary.Total,
		"auto_linked", summary.AutoLinked,
		"pending_review", summary.PendingReview,
		"new_identities", summary.NewIdentities,
		"failed", summary.Failed,
	)
	if err := s.notifier.NotifyPassFinished(ctx, review.PassReport{
		Pass:          summary.PassID,
		Total:         summary.Total,
		AutoLinked:    summary.AutoLinked,
		PendingReview: summary.PendingReview,
		NewIdentities: summary.NewIdentities,
		Failed:        summary.Failed,
		Duration:      summary.Finished.Sub(start),
	}); err != nil {
		s.logger.WarnContext(ctx, "pass summary notification failed",
			"pass_id", summary.PassID.String(), "error", err)
	}
	return summary, nil
}

// candidatePool converts the identity pool into matcher candidates once per
// pass; every account scores against the same pool.
func (s *Service) candidatePool(ctx context.Context) ([]matcher.Candidate, error) {
	identities, err := s.identities.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	pool := make([]matcher.Candidate, 0, len(identities))
	for _, ident := range identities {
		pool = append(pool, matcher.Candidate{
			ID:          ident.ID,
			DisplayName: ident.DisplayName,
			Attributes:  ident.Attributes,
		})
	}
	return pool, nil
}

func (s *Service) resolveAccount(ctx context.Context, acct models.SourceAccount, pool []matcher.Candidate) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "resolver.resolve_account",
		trace.WithAttributes(attribute.String("account.id", string(acct.ID))))
	defer span.End()

	start := s.clock()
	defer func() { s.metrics.ObserveResolveLatency(s.clock().Sub(start)) }()

	now := s.clock()
	f, err := s.buildAggregate(ctx, acct, now)
	if err != nil {
		return "", err
	}

	state := StateNew
	attrs := f.Attributes.CurrentStrings()

	candidates := s.matcher.Evaluate(attrs, pool)
	f.RecordMatches(len(candidates), viable(candidates), now)
	s.metrics.ObserveCandidates(len(candidates))
	if !state.CanTransitionTo(StateScored) {
		return "", dErrors.Newf(dErrors.CodeInvariantViolation, "cannot score account in state %s", state)
	}
	state = StateScored

	res := decideOutcome(candidates, attrs, s.policies)
	next := map[Outcome]AccountState{
		OutcomeAutoLink:      StateAutoLinked,
		OutcomePendingReview: StatePendingReview,
		OutcomeNewIdentity:   StateNewIdentity,
	}[res.Outcome]
	if !state.CanTransitionTo(next) {
		return "", dErrors.Newf(dErrors.CodeInvariantViolation, "cannot move account from %s to %s", state, next)
	}
	state = next

	switch res.Outcome {
	case OutcomeAutoLink:
		s.applyAutoLink(f, acct, *res.Winner, now)
	case OutcomePendingReview:
		s.openReview(ctx, f, acct, now)
	case OutcomeNewIdentity:
		f.MarkUnmatched(now)
	}

	if err := f.DrainPending(ctx, s.clock()); err != nil {
		return "", err
	}
	if !state.CanTransitionTo(StateFinalized) {
		return "", dErrors.Newf(dErrors.CodeInvariantViolation, "cannot finalize account in state %s", state)
	}
	if err := s.fused.Save(ctx, acct.ID, f.Externalize(), s.clock()); err != nil {
		return "", fmt.Errorf("save fused record: %w", err)
	}
	return res.Outcome, nil
}

// buildAggregate picks the construction source for the subject account and
// applies the identity and account layers.
func (s *Service) buildAggregate(ctx context.Context, acct models.SourceAccount, now time.Time) (*models.FusedAccount, error) {
	cfg := s.modelConfig()

	var f *models.FusedAccount
	rec, err := s.fused.Get(ctx, acct.ID)
	switch {
	case err == nil:
		f = models.NewFromSnapshot(rec.State, cfg, now)
		f.Attributes.Snapshot()
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		if !acct.IdentityRef.IsEmpty() {
			ident, err := s.identities.GetIdentity(ctx, acct.IdentityRef)
			if err != nil {
				return nil, fmt.Errorf("load identity %s: %w", acct.IdentityRef, err)
			}
			f = models.NewFromIdentity(ident, cfg, now)
		} else {
			f = models.NewFromManagedAccount(acct, cfg, now)
		}
	default:
		return nil, fmt.Errorf("load fused record: %w", err)
	}

	if !acct.IdentityRef.IsEmpty() {
		ident, err := s.identities.GetIdentity(ctx, acct.IdentityRef)
		if err != nil {
			return nil, fmt.Errorf("load identity %s: %w", acct.IdentityRef, err)
		}
		if err := f.ApplyIdentityLayer(ident, now); err != nil {
			return nil, err
		}
	} else if err := f.SkipIdentityLayer(); err != nil {
		return nil, err
	}
	if err := f.ApplyAccountLayer([]models.SourceAccount{acct}, now); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) applyAutoLink(f *models.FusedAccount, acct models.SourceAccount, winner matcher.Candidate, now time.Time) {
	f.IdentityLink = winner.ID
	if err := f.ConfirmCorrelated(acct.ID, now); err != nil {
		// The subject account is always a member by construction.
		s.logger.Warn("auto-link confirmation failed", "account", acct.ID, "error", err)
	}
	f.SetActionFlag(models.ActionCorrelated)
	f.History.Append(now, fmt.Sprintf("auto-linked to identity %s (score %.1f)", winner.ID, winner.MeanScore()))
}

// openReview registers a pending review and notifies asynchronously; the
// notification result is collected at the aggregate's join point.
func (s *Service) openReview(ctx context.Context, f *models.FusedAccount, acct models.SourceAccount, now time.Time) {
	var reviewers []id.ReviewerID
	if s.reviewers != nil {
		reviewers = s.reviewers.List()
	}
	item := review.Review{
		ID:         id.NewReviewID(),
		Account:    acct.ID,
		Candidates: f.Matches,
		Reviewers:  reviewers,
		CreatedAt:  now,
	}

	s.mu.Lock()
	s.reviews[item.ID] = item
	s.mu.Unlock()

	f.MarkPendingReview(reviewers, now)

	op := models.NewOperation("notify-review")
	f.Enqueue(op)
	go func() {
		if err := s.notifier.NotifyReviewRequested(ctx, item); err != nil {
			op.Fail(err)
			return
		}
		op.Complete(nil)
	}()
}

// viable drops disqualified candidates from what gets recorded and shown to
// reviewers.
func viable(candidates []matcher.Candidate) []matcher.Candidate {
	out := make([]matcher.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Classification != matcher.ClassDisqualified {
			out = append(out, c)
		}
	}
	return out
}

// ListReviews returns the pending review items, newest first.
func (s *Service) ListReviews(_ context.Context) ([]review.Review, error) {
	s.mu.RLock()
	out := make([]review.Review, 0, len(s.reviews))
	for _, item := range s.reviews {
		out = append(out, item)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Account < out[j].Account
	})
	s.metrics.SetPendingReviews(len(out))
	return out, nil
}

// IssueReviewToken creates a token for one reviewer on one pending review.
func (s *Service) IssueReviewToken(reviewID id.ReviewID, reviewer id.ReviewerID) (string, error) {
	if s.tokens == nil {
		return "", dErrors.New(dErrors.CodeInternal, "review tokens are not configured")
	}
	s.mu.RLock()
	_, ok := s.reviews[reviewID]
	s.mu.RUnlock()
	if !ok {
		return "", dErrors.Newf(dErrors.CodeNotFound, "review %s not found", reviewID)
	}
	if s.reviewers != nil && !s.reviewers.Known(reviewer) {
		return "", dErrors.Newf(dErrors.CodeNotFound, "reviewer %s not registered", reviewer)
	}
	return s.tokens.Issue(reviewID, reviewer)
}

// SweepOrphans removes orphan fused records older than maxAge.
func (s *Service) SweepOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := s.fused.SweepOrphans(ctx, s.clock().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("sweep orphans: %w", err)
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "orphan fused records removed", "count", removed)
	}
	return removed, nil
}

func (s *Service) pendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reviews)
}
