package matcher

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuseid/internal/similarity"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

func testPolicies() []MatchingPolicy {
	return []MatchingPolicy{
		{Attribute: "name", Algorithm: similarity.AlgorithmLIG3, Threshold: 80},
		{Attribute: "email", Algorithm: similarity.AlgorithmExact, Threshold: 100, Mandatory: true},
	}
}

func TestNew_Validation(t *testing.T) {
	t.Run("no policies is a pass-level configuration error", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("threshold outside range rejected", func(t *testing.T) {
		_, err := New([]MatchingPolicy{{Attribute: "name", Algorithm: "exact", Threshold: 130}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("duplicate attribute rejected", func(t *testing.T) {
		_, err := New([]MatchingPolicy{
			{Attribute: "name", Algorithm: "exact", Threshold: 100},
			{Attribute: "name", Algorithm: "lig3", Threshold: 80},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestEvaluate_Classification(t *testing.T) {
	m, err := New(testPolicies())
	require.NoError(t, err)

	account := map[string]string{"name": "John A. Smith", "email": "john@x.com"}

	t.Run("all attributes pass yields matching", func(t *testing.T) {
		got := m.Evaluate(account, []Candidate{{
			ID:         "idm-1",
			Attributes: map[string]string{"name": "John Smith", "email": "john@x.com"},
		}})
		require.Len(t, got, 1)
		assert.Equal(t, ClassMatching, got[0].Classification)
	})

	t.Run("mandatory failure disqualifies regardless of other scores", func(t *testing.T) {
		got := m.Evaluate(account, []Candidate{{
			ID:         "idm-2",
			Attributes: map[string]string{"name": "John A. Smith", "email": "other@x.com"},
		}})
		require.Len(t, got, 1)
		assert.Equal(t, ClassDisqualified, got[0].Classification)
	})

	t.Run("non-mandatory failure yields ambiguous", func(t *testing.T) {
		got := m.Evaluate(account, []Candidate{{
			ID:         "idm-3",
			Attributes: map[string]string{"name": "Maria Garcia", "email": "john@x.com"},
		}})
		require.Len(t, got, 1)
		assert.Equal(t, ClassAmbiguous, got[0].Classification)
		nameScore := got[0].Scores[0]
		assert.Equal(t, "name", nameScore.Attribute)
		assert.False(t, nameScore.IsMatch)
	})

	t.Run("unknown algorithm scores zero with comment, never aborts", func(t *testing.T) {
		broken, err := New([]MatchingPolicy{
			{Attribute: "name", Algorithm: "nope", Threshold: 50},
			{Attribute: "email", Algorithm: similarity.AlgorithmExact, Threshold: 100, Mandatory: true},
		})
		require.NoError(t, err)

		got := broken.Evaluate(account, []Candidate{{
			ID:         "idm-4",
			Attributes: map[string]string{"name": "John Smith", "email": "john@x.com"},
		}})
		require.Len(t, got, 1)
		assert.Equal(t, ClassAmbiguous, got[0].Classification)
		assert.Equal(t, 0.0, got[0].Scores[0].Value)
		assert.Contains(t, got[0].Scores[0].Comment, "scoring failed")
	})
}

func TestEvaluate_Ranking(t *testing.T) {
	m, err := New(testPolicies())
	require.NoError(t, err)

	account := map[string]string{"name": "John Smith", "email": "john@x.com"}
	candidates := []Candidate{
		{ID: "idm-b", Attributes: map[string]string{"name": "John Smith", "email": "john@x.com"}},
		{ID: "idm-a", Attributes: map[string]string{"name": "John Smith", "email": "john@x.com"}},
		{ID: "idm-c", Attributes: map[string]string{"name": "Jon Smyth", "email": "john@x.com"}},
	}

	t.Run("mean score then lexicographic id", func(t *testing.T) {
		got := m.Evaluate(account, candidates)
		require.Len(t, got, 3)
		assert.Equal(t, id.IdentityID("idm-a"), got[0].ID)
		assert.Equal(t, id.IdentityID("idm-b"), got[1].ID)
		assert.Equal(t, id.IdentityID("idm-c"), got[2].ID)
	})

	t.Run("ordering is reproducible", func(t *testing.T) {
		first := m.Evaluate(account, candidates)
		for range 5 {
			again := m.Evaluate(account, candidates)
			require.Equal(t, first, again)
		}
	})
}

func TestEvaluate_RandomizedAccounts(t *testing.T) {
	gofakeit.Seed(42)

	m, err := New(testPolicies())
	require.NoError(t, err)

	// A candidate sharing the exact email and name must always classify
	// matching, whatever the name looks like.
	for range 50 {
		name := gofakeit.Name()
		email := gofakeit.Email()
		account := map[string]string{"name": name, "email": email}
		got := m.Evaluate(account, []Candidate{{
			ID:         "idm-self",
			Attributes: map[string]string{"name": name, "email": email},
		}})
		require.Len(t, got, 1)
		assert.Equal(t, ClassMatching, got[0].Classification, "self-match failed for %q / %q", name, email)
	}
}
