package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuseid/internal/fused/models"
	"fuseid/internal/fused/store"
	"fuseid/internal/review"
	"fuseid/internal/source"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

var passTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	service *Service
	fused   *store.InMemoryStore
	source  *source.InMemorySource
	tokens  *review.TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	src := source.NewInMemorySource()
	src.PutIdentity(models.Identity{
		ID: "identity-john", DisplayName: "John Smith",
		Attributes: map[string]string{"name": "John Smith", "email": "john@example.com"},
	})
	src.PutIdentity(models.Identity{
		ID: "identity-jane", DisplayName: "Jane Doe",
		Attributes: map[string]string{"name": "Jane Doe", "email": "jane@example.com"},
	})

	fused := store.NewInMemoryStore()

	reviewers := review.NewReviewerRegistry()
	require.NoError(t, reviewers.Register("alice", "alice-secret"))

	tokens := review.NewTokenService("test-key", time.Hour)

	svc, err := NewService(fused, src, src, outcomePolicies,
		WithTokenService(tokens),
		WithReviewerRegistry(reviewers),
		WithParallelism(2),
		WithClock(func() time.Time { return passTime }),
	)
	require.NoError(t, err)

	return &fixture{service: svc, fused: fused, source: src, tokens: tokens}
}

func historyEntry(history []string, fragment string) bool {
	for _, entry := range history {
		if strings.Contains(entry, fragment) {
			return true
		}
	}
	return false
}

func TestRunPass_AutoLink(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "hr-1", Source: "hr",
		Attributes:   map[string]string{"name": "John A. Smith", "email": "john@example.com"},
		LastModified: passTime,
	}, true)

	summary, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.AutoLinked)
	assert.Zero(t, summary.PendingReview)
	assert.Zero(t, summary.Failed)

	rec, err := fx.fused.Get(context.Background(), "hr-1")
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID("identity-john"), rec.State.IdentityLink)
	assert.Contains(t, rec.State.ActionFlags, models.ActionCorrelated)
	assert.False(t, rec.State.Status.ActiveReviews)
	assert.NotEmpty(t, rec.State.History)
	assert.True(t, historyEntry(rec.State.History, "scored 2 candidates, 1 viable"),
		"audit history should record the scoring round")
}

func TestRunPass_AmbiguityGoesToReview(t *testing.T) {
	fx := newFixture(t)
	// Name matches John exactly, but the email differs: the candidate is
	// ambiguous and a human decides.
	fx.source.PutAccount(models.SourceAccount{
		ID: "crm-1", Source: "crm",
		Attributes:   map[string]string{"name": "John Smith", "email": "j.smith@other.com"},
		LastModified: passTime,
	}, true)

	summary, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PendingReview)

	rec, err := fx.fused.Get(context.Background(), "crm-1")
	require.NoError(t, err)
	assert.True(t, rec.State.Status.ActiveReviews)
	assert.True(t, rec.State.IdentityLink.IsEmpty())
	assert.Contains(t, rec.State.ActionFlags, models.ActionReviewerPrefix+"alice")

	reviews, err := fx.service.ListReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, id.AccountID("crm-1"), reviews[0].Account)
	assert.NotEmpty(t, reviews[0].Candidates)
}

func TestRunPass_NoPersonDataCreatesIdentity(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "svc-1", Source: "crm",
		Attributes:   map[string]string{"email": "service-account@example.com"},
		LastModified: passTime,
	}, true)

	summary, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NewIdentities)

	rec, err := fx.fused.Get(context.Background(), "svc-1")
	require.NoError(t, err)
	assert.True(t, rec.State.Status.Unmatched)
	assert.True(t, rec.State.IdentityLink.IsEmpty())
}

func TestRunPass_PlausiblePersonWithoutMatchGoesToReview(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "hr-9", Source: "hr",
		Attributes:   map[string]string{"name": "Zebra Xylophone"},
		LastModified: passTime,
	}, true)

	summary, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PendingReview)
	assert.Zero(t, summary.NewIdentities)
}

func TestRunPass_MixedBatch(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "hr-1", Source: "hr",
		Attributes:   map[string]string{"name": "John A. Smith", "email": "john@example.com"},
		LastModified: passTime,
	}, true)
	fx.source.PutAccount(models.SourceAccount{
		ID: "crm-1", Source: "crm",
		Attributes:   map[string]string{"name": "John Smith", "email": "j.smith@other.com"},
		LastModified: passTime,
	}, true)
	fx.source.PutAccount(models.SourceAccount{
		ID: "svc-1", Source: "crm",
		Attributes:   map[string]string{"email": "robot@example.com"},
		LastModified: passTime,
	}, true)

	summary, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.AutoLinked)
	assert.Equal(t, 1, summary.PendingReview)
	assert.Equal(t, 1, summary.NewIdentities)
	assert.Zero(t, summary.Failed)
}

func TestRunPass_ExistingIdentityRefConfirms(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "hr-2", Source: "hr",
		Attributes:   map[string]string{"name": "Jane Doe", "email": "jane@example.com"},
		IdentityRef:  "identity-jane",
		LastModified: passTime,
	}, true)

	_, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)

	rec, err := fx.fused.Get(context.Background(), "hr-2")
	require.NoError(t, err)
	assert.False(t, rec.State.Status.Uncorrelated)
	assert.Empty(t, rec.State.MissingRefs)
}

func TestRunPass_MergeRulesShapeFusedAttributes(t *testing.T) {
	src := source.NewInMemorySource()
	src.PutIdentity(models.Identity{
		ID: "identity-john", DisplayName: "John Smith",
		Attributes: map[string]string{"name": "John Smith", "email": "john@example.com"},
	})
	src.PutAccount(models.SourceAccount{
		ID: "hr-1", Source: "hr",
		Attributes:   map[string]string{"name": "John A. Smith", "email": "john@example.com"},
		LastModified: passTime,
	}, true)
	fused := store.NewInMemoryStore()

	svc, err := NewService(fused, src, src, outcomePolicies,
		WithMergeRules(map[string]models.AttributeMergeRule{
			"email": {Strategy: models.MergeList},
		}),
		WithClock(func() time.Time { return passTime }),
	)
	require.NoError(t, err)

	summary, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AutoLinked)

	rec, err := fused.Get(context.Background(), "hr-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindList, rec.State.Attributes["email"].Kind)
	assert.Equal(t, []string{"john@example.com"}, rec.State.Attributes["email"].List)
	// Attributes without a rule keep the plain first-contribution value.
	assert.Equal(t, models.KindString, rec.State.Attributes["name"].Kind)
	assert.Equal(t, "John A. Smith", rec.State.Attributes["name"].AsString())
}

func TestApplyDecision_LinkFlow(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "crm-1", Source: "crm",
		Attributes:   map[string]string{"name": "John Smith", "email": "j.smith@other.com"},
		LastModified: passTime,
	}, true)

	_, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)

	reviews, err := fx.service.ListReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	token, err := fx.service.IssueReviewToken(reviews[0].ID, "alice")
	require.NoError(t, err)

	result, err := fx.service.ApplyDecision(context.Background(), ApplyDecisionRequest{
		Token:          token,
		ReviewerSecret: "alice-secret",
		IdentityLink:   "identity-john",
		Comments:       "same person, work email",
	})
	require.NoError(t, err)
	assert.Equal(t, id.AccountID("crm-1"), result.Account)
	assert.False(t, result.NewIdentity)
	assert.False(t, result.Ignored)

	rec, err := fx.fused.Get(context.Background(), "crm-1")
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID("identity-john"), rec.State.IdentityLink)
	assert.True(t, rec.State.Status.Authorized)
	assert.False(t, rec.State.Status.ActiveReviews)

	// The review is consumed.
	remaining, err := fx.service.ListReviews(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// And the token cannot be replayed.
	_, err = fx.service.ApplyDecision(context.Background(), ApplyDecisionRequest{
		Token:          token,
		ReviewerSecret: "alice-secret",
		IdentityLink:   "identity-john",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestNewService_RestoresPendingReviews(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "crm-1", Source: "crm",
		Attributes:   map[string]string{"name": "John Smith", "email": "j.smith@other.com"},
		LastModified: passTime,
	}, true)

	_, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)

	// A fresh service over the same store stands in for a restarted process.
	reviewers := review.NewReviewerRegistry()
	require.NoError(t, reviewers.Register("alice", "alice-secret"))
	restarted, err := NewService(fx.fused, fx.source, fx.source, outcomePolicies,
		WithTokenService(review.NewTokenService("test-key", time.Hour)),
		WithReviewerRegistry(reviewers),
		WithClock(func() time.Time { return passTime }),
	)
	require.NoError(t, err)

	reviews, err := restarted.ListReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, id.AccountID("crm-1"), reviews[0].Account)
	assert.Equal(t, []id.ReviewerID{"alice"}, reviews[0].Reviewers)
	assert.NotEmpty(t, reviews[0].Candidates)

	// The restored review is decidable end to end.
	token, err := restarted.IssueReviewToken(reviews[0].ID, "alice")
	require.NoError(t, err)
	result, err := restarted.ApplyDecision(context.Background(), ApplyDecisionRequest{
		Token:          token,
		ReviewerSecret: "alice-secret",
		IdentityLink:   "identity-john",
	})
	require.NoError(t, err)
	assert.Equal(t, id.AccountID("crm-1"), result.Account)

	rec, err := fx.fused.Get(context.Background(), "crm-1")
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID("identity-john"), rec.State.IdentityLink)
	assert.False(t, rec.State.Status.ActiveReviews)
}

// vanishingStore hides selected fused records to simulate a snapshot lost
// between a review opening and the verdict arriving.
type vanishingStore struct {
	store.Store
	gone map[id.AccountID]bool
}

func (s *vanishingStore) Get(ctx context.Context, account id.AccountID) (store.Record, error) {
	if s.gone[account] {
		return store.Record{}, dErrors.Newf(dErrors.CodeNotFound, "fused record for account %s not found", account)
	}
	return s.Store.Get(ctx, account)
}

func TestApplyDecision_RebuildsAggregateWhenSnapshotMissing(t *testing.T) {
	src := source.NewInMemorySource()
	src.PutIdentity(models.Identity{
		ID: "identity-john", DisplayName: "John Smith",
		Attributes: map[string]string{"name": "John Smith", "email": "john@example.com"},
	})
	src.PutAccount(models.SourceAccount{
		ID: "crm-1", Source: "crm",
		Attributes:   map[string]string{"name": "John Smith", "email": "j.smith@other.com"},
		LastModified: passTime,
	}, true)

	mem := store.NewInMemoryStore()
	vanishing := &vanishingStore{Store: mem, gone: map[id.AccountID]bool{}}

	reviewers := review.NewReviewerRegistry()
	require.NoError(t, reviewers.Register("alice", "alice-secret"))

	svc, err := NewService(vanishing, src, src, outcomePolicies,
		WithTokenService(review.NewTokenService("test-key", time.Hour)),
		WithReviewerRegistry(reviewers),
		WithClock(func() time.Time { return passTime }),
	)
	require.NoError(t, err)

	_, err = svc.RunPass(context.Background())
	require.NoError(t, err)
	reviews, err := svc.ListReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	token, err := svc.IssueReviewToken(reviews[0].ID, "alice")
	require.NoError(t, err)

	// The snapshot disappears before the verdict lands.
	vanishing.gone["crm-1"] = true

	result, err := svc.ApplyDecision(context.Background(), ApplyDecisionRequest{
		Token:          token,
		ReviewerSecret: "alice-secret",
		IdentityLink:   "identity-john",
	})
	require.NoError(t, err)
	assert.False(t, result.Ignored)

	// The decision-derived aggregate was rebuilt and persisted.
	rec, err := mem.Get(context.Background(), "crm-1")
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID("identity-john"), rec.State.IdentityLink)
	assert.True(t, rec.State.Status.Authorized)
	assert.Contains(t, rec.State.AccountRefs, id.AccountID("crm-1"))
	assert.True(t, historyEntry(rec.State.History, "aggregate created from decision"),
		"history should record the decision-derived construction source")
}

func TestApplyDecision_NewIdentityFlow(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "crm-1", Source: "crm",
		Attributes:   map[string]string{"name": "John Smith", "email": "j.smith@other.com"},
		LastModified: passTime,
	}, true)

	_, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)
	reviews, err := fx.service.ListReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	token, err := fx.service.IssueReviewToken(reviews[0].ID, "alice")
	require.NoError(t, err)

	result, err := fx.service.ApplyDecision(context.Background(), ApplyDecisionRequest{
		Token:          token,
		ReviewerSecret: "alice-secret",
		NewIdentity:    true,
	})
	require.NoError(t, err)
	assert.True(t, result.NewIdentity)

	rec, err := fx.fused.Get(context.Background(), "crm-1")
	require.NoError(t, err)
	assert.True(t, rec.State.Status.Manual)
	assert.False(t, rec.State.Status.ActiveReviews)
}

func TestApplyDecision_Rejections(t *testing.T) {
	fx := newFixture(t)
	fx.source.PutAccount(models.SourceAccount{
		ID: "crm-1", Source: "crm",
		Attributes:   map[string]string{"name": "John Smith", "email": "j.smith@other.com"},
		LastModified: passTime,
	}, true)
	_, err := fx.service.RunPass(context.Background())
	require.NoError(t, err)
	reviews, err := fx.service.ListReviews(context.Background())
	require.NoError(t, err)
	token, err := fx.service.IssueReviewToken(reviews[0].ID, "alice")
	require.NoError(t, err)

	t.Run("bad token", func(t *testing.T) {
		_, err := fx.service.ApplyDecision(context.Background(), ApplyDecisionRequest{
			Token: "garbage", ReviewerSecret: "alice-secret", IdentityLink: "identity-john",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := fx.service.ApplyDecision(context.Background(), ApplyDecisionRequest{
			Token: token, ReviewerSecret: "wrong", IdentityLink: "identity-john",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("no verdict", func(t *testing.T) {
		_, err := fx.service.ApplyDecision(context.Background(), ApplyDecisionRequest{
			Token: token, ReviewerSecret: "alice-secret",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("both verdicts", func(t *testing.T) {
		_, err := fx.service.ApplyDecision(context.Background(), ApplyDecisionRequest{
			Token: token, ReviewerSecret: "alice-secret",
			NewIdentity: true, IdentityLink: "identity-john",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestIssueReviewToken_Rejections(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.IssueReviewToken(id.NewReviewID(), "alice")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestSweepOrphans(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	orphan := models.ExternalState{
		AccountRefs: []id.AccountID{},
		MissingRefs: []id.AccountID{},
		Status:      models.StatusFlags{Orphan: true},
	}
	require.NoError(t, fx.fused.Save(ctx, "gone-1", orphan, passTime.Add(-72*time.Hour)))
	require.NoError(t, fx.fused.Save(ctx, "gone-2", orphan, passTime))

	removed, err := fx.service.SweepOrphans(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
