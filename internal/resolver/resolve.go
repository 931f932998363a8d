package resolver

import (
	"fuseid/internal/matcher"
)

// Outcome is the verdict of a resolution pass for one subject account.
type Outcome string

const (
	// OutcomeAutoLink links the account to the single matching candidate.
	OutcomeAutoLink Outcome = "auto-link"
	// OutcomePendingReview defers the verdict to a human reviewer.
	OutcomePendingReview Outcome = "pending-review"
	// OutcomeNewIdentity creates a fresh identity for the account.
	OutcomeNewIdentity Outcome = "new-identity"
)

// Resolution is the decided outcome plus the winning candidate when one
// exists.
type Resolution struct {
	Outcome Outcome
	Winner  *matcher.Candidate
}

// decideOutcome applies the outcome rules to classified candidates:
//
//   - exactly one matching candidate and no ambiguity: auto-link
//   - several matching candidates, or any ambiguous one: pending review
//   - nothing viable: new identity if the account does not plausibly
//     describe a known person, otherwise pending review
//
// An account plausibly describes a known person when it carries a non-empty
// value for at least one attribute a mandatory policy scores on; creating a
// fresh identity for such an account risks a duplicate, so a human confirms.
func decideOutcome(candidates []matcher.Candidate, attributes map[string]string, policies []matcher.MatchingPolicy) Resolution {
	var (
		matching  []matcher.Candidate
		ambiguous int
	)
	for _, c := range candidates {
		switch c.Classification {
		case matcher.ClassMatching:
			matching = append(matching, c)
		case matcher.ClassAmbiguous:
			ambiguous++
		}
	}

	switch {
	case len(matching) == 1 && ambiguous == 0:
		winner := matching[0]
		return Resolution{Outcome: OutcomeAutoLink, Winner: &winner}
	case len(matching) > 0 || ambiguous > 0:
		return Resolution{Outcome: OutcomePendingReview}
	case plausiblePerson(attributes, policies):
		return Resolution{Outcome: OutcomePendingReview}
	default:
		return Resolution{Outcome: OutcomeNewIdentity}
	}
}

func plausiblePerson(attributes map[string]string, policies []matcher.MatchingPolicy) bool {
	for _, p := range policies {
		if !p.Mandatory {
			continue
		}
		if attributes[p.Attribute] != "" {
			return true
		}
	}
	return false
}
