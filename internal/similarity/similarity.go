// Package similarity implements the attribute scoring algorithms used by the
// candidate matcher. Every algorithm maps two strings to a score in [0,100];
// all are pure, deterministic, and symmetric over normalized inputs.
package similarity

import (
	"math"

	dErrors "fuseid/pkg/domain-errors"
)

// Algorithm names accepted in matching policies.
const (
	AlgorithmExact       = "exact"
	AlgorithmLevenshtein = "levenshtein"
	AlgorithmJaroWinkler = "jaro-winkler"
	AlgorithmDice        = "dice"
	AlgorithmMetaphone   = "metaphone"
	AlgorithmName        = "name"
	AlgorithmLIG3        = "lig3"
)

// Algorithm scores the similarity of two already-normalized values.
type Algorithm interface {
	Name() string
	Score(a, b string) (float64, error)
}

// Registry holds the named algorithms available to matching policies.
type Registry struct {
	algorithms map[string]Algorithm
}

// NewRegistry returns a registry with all built-in algorithms installed.
func NewRegistry() *Registry {
	r := &Registry{algorithms: make(map[string]Algorithm)}
	for _, a := range []Algorithm{
		exact{},
		levenshtein{},
		jaroWinkler{},
		dice{},
		metaphone{},
		nameMatcher{},
		lig3{},
	} {
		r.algorithms[a.Name()] = a
	}
	return r
}

// Register installs or replaces an algorithm. Exposed so callers can plug in
// source-specific scorers without forking the registry.
func (r *Registry) Register(a Algorithm) {
	r.algorithms[a.Name()] = a
}

// Get returns the named algorithm. A missing algorithm is a configuration
// error for the policy that references it.
func (r *Registry) Get(name string) (Algorithm, error) {
	a, ok := r.algorithms[name]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown similarity algorithm %q", name)
	}
	return a, nil
}

// Score normalizes both values and runs the named algorithm.
func (r *Registry) Score(name, a, b string) (float64, error) {
	alg, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	score, err := alg.Score(Normalize(a), Normalize(b))
	if err != nil {
		return 0, err
	}
	return clamp(score), nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// exact scores 100 on normalized equality, 0 otherwise.
type exact struct{}

func (exact) Name() string { return AlgorithmExact }

func (exact) Score(a, b string) (float64, error) {
	if a == b {
		return 100, nil
	}
	return 0, nil
}
