// Package matcher scores an unresolved account against existing candidate
// identities under a per-attribute matching policy and classifies each
// candidate for the resolver. It is pure domain logic: no I/O, no side
// effects, deterministic output ordering.
package matcher

import (
	"sort"

	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// MatchingPolicy configures how one attribute is compared.
//
// Invariants:
//   - Algorithm names a registered similarity algorithm
//   - Threshold is within [0,100]
//   - A failing mandatory attribute disqualifies the candidate outright
type MatchingPolicy struct {
	Attribute string  `json:"attribute"`
	Algorithm string  `json:"algorithm"`
	Threshold float64 `json:"threshold"`
	Mandatory bool    `json:"mandatory"`
}

// Validate reports configuration errors in the policy itself.
func (p MatchingPolicy) Validate() error {
	if p.Attribute == "" {
		return dErrors.New(dErrors.CodeValidation, "matching policy requires an attribute name")
	}
	if p.Algorithm == "" {
		return dErrors.Newf(dErrors.CodeValidation, "matching policy for %q requires an algorithm", p.Attribute)
	}
	if p.Threshold < 0 || p.Threshold > 100 {
		return dErrors.Newf(dErrors.CodeValidation, "matching policy for %q has threshold %.1f outside [0,100]", p.Attribute, p.Threshold)
	}
	return nil
}

// ScoreResult records the outcome of scoring one attribute against one
// candidate.
type ScoreResult struct {
	Attribute string  `json:"attribute"`
	Algorithm string  `json:"algorithm"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Mandatory bool    `json:"mandatory"`
	IsMatch   bool    `json:"is_match"`
	Comment   string  `json:"comment,omitempty"`
}

// Classification is the per-candidate verdict derived from its score results.
type Classification string

const (
	// ClassMatching passes every configured attribute.
	ClassMatching Classification = "matching"
	// ClassAmbiguous is not disqualified but fails at least one
	// non-mandatory attribute; it goes to human review.
	ClassAmbiguous Classification = "ambiguous"
	// ClassDisqualified failed a mandatory attribute and is discarded.
	ClassDisqualified Classification = "disqualified"
)

// Candidate is an existing identity evaluated against an unresolved account.
type Candidate struct {
	ID             id.IdentityID     `json:"id"`
	DisplayName    string            `json:"display_name"`
	Attributes     map[string]string `json:"attributes"`
	Scores         []ScoreResult     `json:"scores"`
	Classification Classification    `json:"classification"`
}

// MeanScore averages the candidate's attribute scores. Candidates with no
// scored attributes rank last.
func (c Candidate) MeanScore() float64 {
	if len(c.Scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range c.Scores {
		sum += s.Value
	}
	return sum / float64(len(c.Scores))
}

// rank orders candidates for presentation: higher mean score first, then
// lexicographic identity id, so output is reproducible for identical inputs.
func rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		mi, mj := candidates[i].MeanScore(), candidates[j].MeanScore()
		if mi != mj {
			return mi > mj
		}
		return candidates[i].ID < candidates[j].ID
	})
}
