//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fuseid/internal/fused/models"
	"fuseid/internal/fused/store"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
	"fuseid/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Schema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "fused_accounts"))
}

func (s *PostgresStoreSuite) snapshot(identity string, pendingReview, orphan bool) models.ExternalState {
	return models.ExternalState{
		IdentityLink: id.IdentityID(identity),
		AccountRefs:  []id.AccountID{"a1", "a2"},
		MissingRefs:  []id.AccountID{"a2"},
		Status: models.StatusFlags{
			Uncorrelated:  true,
			ActiveReviews: pendingReview,
			Orphan:        orphan,
		},
		ActionFlags: []string{"correlated"},
		Attributes:  map[string]models.Value{"name": models.StringValue("John Smith")},
		History:     []string{"2024-05-01T12:00:00Z aggregate created"},
	}
}

func (s *PostgresStoreSuite) TestSaveGetRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	state := s.snapshot("identity-1", true, false)
	s.Require().NoError(s.store.Save(ctx, "acct-1", state, now))

	rec, err := s.store.Get(ctx, "acct-1")
	s.Require().NoError(err)
	s.Equal(id.AccountID("acct-1"), rec.Account)
	s.Equal(state.IdentityLink, rec.State.IdentityLink)
	s.Equal(state.AccountRefs, rec.State.AccountRefs)
	s.Equal(state.MissingRefs, rec.State.MissingRefs)
	s.Equal(state.Status, rec.State.Status)
	s.Equal(state.Attributes, rec.State.Attributes)
	s.Equal(state.History, rec.State.History)
	s.WithinDuration(now, rec.UpdatedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestSaveUpserts() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.Require().NoError(s.store.Save(ctx, "acct-1", s.snapshot("identity-1", false, false), now))
	s.Require().NoError(s.store.Save(ctx, "acct-1", s.snapshot("identity-2", true, false), now.Add(time.Minute)))

	rec, err := s.store.Get(ctx, "acct-1")
	s.Require().NoError(err)
	s.Equal(id.IdentityID("identity-2"), rec.State.IdentityLink)

	all, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *PostgresStoreSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "nope")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestListPendingReview() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.Require().NoError(s.store.Save(ctx, "acct-b", s.snapshot("i1", true, false), now))
	s.Require().NoError(s.store.Save(ctx, "acct-a", s.snapshot("i2", false, false), now))
	s.Require().NoError(s.store.Save(ctx, "acct-c", s.snapshot("i3", true, false), now))

	pending, err := s.store.ListPendingReview(ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(id.AccountID("acct-b"), pending[0].Account)
	s.Equal(id.AccountID("acct-c"), pending[1].Account)
}

func (s *PostgresStoreSuite) TestSweepOrphans() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.Require().NoError(s.store.Save(ctx, "old-orphan", s.snapshot("", false, true), now.Add(-48*time.Hour)))
	s.Require().NoError(s.store.Save(ctx, "new-orphan", s.snapshot("", false, true), now))
	s.Require().NoError(s.store.Save(ctx, "kept", s.snapshot("i1", false, false), now.Add(-48*time.Hour)))

	removed, err := s.store.SweepOrphans(ctx, now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, err = s.store.Get(ctx, "old-orphan")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.store.Get(ctx, "new-orphan")
	s.NoError(err)
	_, err = s.store.Get(ctx, "kept")
	s.NoError(err)
}
