package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService("test-signing-key", time.Hour)
	reviewID := id.NewReviewID()

	token, err := svc.Issue(reviewID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	gotReview, gotReviewer, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, reviewID, gotReview)
	assert.Equal(t, id.ReviewerID("alice"), gotReviewer)
}

func TestTokenService_Issue_Validation(t *testing.T) {
	svc := NewTokenService("test-signing-key", time.Hour)

	_, err := svc.Issue(id.ReviewID{}, "alice")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.Issue(id.NewReviewID(), "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestTokenService_Validate_Rejections(t *testing.T) {
	svc := NewTokenService("test-signing-key", time.Hour)

	t.Run("garbage token", func(t *testing.T) {
		_, _, err := svc.Validate("not-a-token")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewTokenService("different-key", time.Hour)
		token, err := other.Issue(id.NewReviewID(), "alice")
		require.NoError(t, err)

		_, _, err = svc.Validate(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired token", func(t *testing.T) {
		expired := NewTokenService("test-signing-key", -time.Minute)
		token, err := expired.Issue(id.NewReviewID(), "alice")
		require.NoError(t, err)

		_, _, err = svc.Validate(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})
}

func TestReviewerRegistry(t *testing.T) {
	reg := NewReviewerRegistry()
	require.NoError(t, reg.Register("alice", "correct horse battery staple"))

	t.Run("authenticates with the right secret", func(t *testing.T) {
		assert.NoError(t, reg.Authenticate("alice", "correct horse battery staple"))
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		err := reg.Authenticate("alice", "wrong")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects unknown reviewer with the same error", func(t *testing.T) {
		err := reg.Authenticate("mallory", "anything")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("re-registration replaces the secret", func(t *testing.T) {
		require.NoError(t, reg.Register("alice", "new secret"))
		assert.Error(t, reg.Authenticate("alice", "correct horse battery staple"))
		assert.NoError(t, reg.Authenticate("alice", "new secret"))
	})

	t.Run("validation", func(t *testing.T) {
		assert.True(t, dErrors.HasCode(reg.Register("", "secret"), dErrors.CodeValidation))
		assert.True(t, dErrors.HasCode(reg.Register("bob", ""), dErrors.CodeValidation))
	})

	t.Run("known and list", func(t *testing.T) {
		assert.True(t, reg.Known("alice"))
		assert.False(t, reg.Known("mallory"))
		assert.Len(t, reg.List(), 1)
	})
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	review := Review{ID: id.NewReviewID(), Account: "acct-1", CreatedAt: time.Now()}

	assert.NoError(t, n.NotifyReviewRequested(context.Background(), review))
	assert.NoError(t, n.NotifyDecisionApplied(context.Background(), "acct-1", id.NewDecisionID(), false))
	assert.NoError(t, n.NotifyPassFinished(context.Background(), PassReport{Pass: id.NewPassID(), Total: 3, AutoLinked: 1}))
}
