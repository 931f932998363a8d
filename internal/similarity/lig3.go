package similarity

import (
	"math"
	"strings"
)

// lig3 is the composite similarity used for free-form person names. It blends
// three signals:
//
//   - a weighted Damerau-Levenshtein distance where gaps cost less than
//     substitutions and adjacent transpositions cost least, normalized
//     against the longer input;
//   - a token overlap bonus that forgives word order and missing middle
//     tokens;
//   - a shared-prefix bonus over the first five characters.
//
// Final score = 0.7*base + 0.2*token + 0.1*prefix, rounded to the nearest
// integer. The operation costs are tunable; the defaults are calibrated so
// "John A. Smith" vs "John Smith" lands at 83 and a single transposed pair
// ("Jonh"/"John") stays well above a plain substitution-only distance.
type lig3 struct{}

func (lig3) Name() string { return AlgorithmLIG3 }

const (
	lig3GapCost       = 0.8
	lig3TransposeCost = 0.5

	lig3BaseWeight   = 0.7
	lig3TokenWeight  = 0.2
	lig3PrefixWeight = 0.1

	lig3PrefixWindow = 5
)

func (lig3) Score(a, b string) (float64, error) {
	if a == b {
		return 100, nil
	}
	base := lig3Base(a, b)
	token := lig3TokenBonus(a, b)
	prefix := lig3PrefixBonus(a, b)

	score := lig3BaseWeight*base + lig3TokenWeight*token + lig3PrefixWeight*prefix
	return math.Round(score), nil
}

// lig3Base converts the weighted edit distance into [0,100], anchored so a
// zero-cost alignment scores 100 and an alignment replacing every character
// of the longer input approaches 0.
func lig3Base(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 100
	}
	d := weightedEditDistance(ra, rb)
	base := 100 * (1 - d/float64(maxLen))
	if base < 0 {
		return 0
	}
	return base
}

// weightedEditDistance runs the (|a|+1)x(|b|+1) dynamic program with
// substitution cost 1, gap cost lig3GapCost, and adjacent-transposition cost
// lig3TransposeCost. O(n*m) time, O(3m) space: the transposition check only
// ever reaches two rows back.
func weightedEditDistance(a, b []rune) float64 {
	if len(a) == 0 {
		return float64(len(b)) * lig3GapCost
	}
	if len(b) == 0 {
		return float64(len(a)) * lig3GapCost
	}

	prev2 := make([]float64, len(b)+1)
	prev := make([]float64, len(b)+1)
	curr := make([]float64, len(b)+1)
	for j := range prev {
		prev[j] = float64(j) * lig3GapCost
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = float64(i) * lig3GapCost
		for j := 1; j <= len(b); j++ {
			cost := 1.0
			if a[i-1] == b[j-1] {
				cost = 0
			}
			best := math.Min(prev[j-1]+cost, math.Min(prev[j]+lig3GapCost, curr[j-1]+lig3GapCost))
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] && a[i-1] != a[i-2] {
				best = math.Min(best, prev2[j-2]+lig3TransposeCost)
			}
			curr[j] = best
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(b)]
}

// lig3TokenBonus rewards shared whitespace-delimited tokens independent of
// order and count, so a missing middle name costs little.
func lig3TokenBonus(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 100
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	setB := make(map[string]int, len(tb))
	for _, t := range tb {
		setB[t]++
	}
	shared := 0
	for _, t := range ta {
		if setB[t] > 0 {
			setB[t]--
			shared++
		}
	}
	return 100 * 2 * float64(shared) / float64(len(ta)+len(tb))
}

// lig3PrefixBonus scales with the shared leading run, maxing out at
// lig3PrefixWindow characters.
func lig3PrefixBonus(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	shared := 0
	for shared < len(ra) && shared < len(rb) && shared < lig3PrefixWindow {
		if ra[shared] != rb[shared] {
			break
		}
		shared++
	}
	return 100 * float64(shared) / lig3PrefixWindow
}
