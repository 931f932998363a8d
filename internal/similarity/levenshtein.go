package similarity

// levenshtein scores on plain edit distance normalized against the longer
// input. All operations cost 1; use lig3 when transpositions and token order
// should be forgiven.
type levenshtein struct{}

func (levenshtein) Name() string { return AlgorithmLevenshtein }

func (levenshtein) Score(a, b string) (float64, error) {
	if a == b {
		return 100, nil
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 100, nil
	}
	d := levenshteinDistance(ra, rb)
	return 100 * (1 - float64(d)/float64(maxLen)), nil
}

func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Two-row rolling table keeps this O(min memory) for long attribute
	// values like descriptions.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
