package matcher

import (
	"log/slog"

	"fuseid/internal/similarity"
	dErrors "fuseid/pkg/domain-errors"
)

// Scorer is the slice of the similarity registry the matcher needs.
type Scorer interface {
	Score(algorithm, a, b string) (float64, error)
}

// Matcher evaluates candidates under a fixed set of matching policies.
// Construct one per resolution pass; policies do not change mid-pass.
type Matcher struct {
	policies []MatchingPolicy
	scorer   Scorer
	logger   *slog.Logger
}

type Option func(*Matcher)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

func WithScorer(scorer Scorer) Option {
	return func(m *Matcher) {
		m.scorer = scorer
	}
}

// New validates the policies and builds a matcher. At least one policy is
// required: with none configured, every account would score as a stranger to
// every identity and the whole pass would be meaningless.
func New(policies []MatchingPolicy, opts ...Option) (*Matcher, error) {
	if len(policies) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one matching policy is required")
	}
	seen := make(map[string]bool, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Attribute] {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate matching policy for attribute %q", p.Attribute)
		}
		seen[p.Attribute] = true
	}

	m := &Matcher{policies: policies}
	for _, opt := range opts {
		opt(m)
	}
	if m.scorer == nil {
		m.scorer = similarity.NewRegistry()
	}
	return m, nil
}

// Policies returns the configured policies in evaluation order.
func (m *Matcher) Policies() []MatchingPolicy {
	return m.policies
}

// Evaluate scores every candidate against the account's attributes and
// returns the candidates classified and ranked. A scoring failure on one
// attribute never aborts the candidate: the attribute scores 0 with a
// comment and evaluation continues.
func (m *Matcher) Evaluate(accountAttrs map[string]string, candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, cand := range candidates {
		out[i] = m.evaluateOne(accountAttrs, cand)
	}
	rank(out)
	return out
}

func (m *Matcher) evaluateOne(accountAttrs map[string]string, cand Candidate) Candidate {
	cand.Scores = make([]ScoreResult, 0, len(m.policies))

	disqualified := false
	softFailure := false
	for _, policy := range m.policies {
		result := m.scoreAttribute(policy, accountAttrs[policy.Attribute], cand.Attributes[policy.Attribute])
		cand.Scores = append(cand.Scores, result)

		if result.IsMatch {
			continue
		}
		if policy.Mandatory {
			disqualified = true
		} else {
			softFailure = true
		}
	}

	switch {
	case disqualified:
		cand.Classification = ClassDisqualified
	case softFailure:
		cand.Classification = ClassAmbiguous
	default:
		cand.Classification = ClassMatching
	}
	return cand
}

func (m *Matcher) scoreAttribute(policy MatchingPolicy, accountValue, candidateValue string) ScoreResult {
	result := ScoreResult{
		Attribute: policy.Attribute,
		Algorithm: policy.Algorithm,
		Threshold: policy.Threshold,
		Mandatory: policy.Mandatory,
	}

	value, err := m.scorer.Score(policy.Algorithm, accountValue, candidateValue)
	if err != nil {
		// Worst-case score plus a comment; the candidate still gets
		// judged on its other attributes.
		result.Value = 0
		result.Comment = "scoring failed: " + err.Error()
		if m.logger != nil {
			m.logger.Warn("attribute scoring failed",
				"attribute", policy.Attribute,
				"algorithm", policy.Algorithm,
				"error", err,
			)
		}
		return result
	}

	result.Value = value
	result.IsMatch = value >= policy.Threshold
	return result
}
