package similarity

// nameMatcher compares person names the way they actually vary across
// systems: token order differs ("Smith, John" vs "John Smith"), middle names
// appear and disappear, and initials stand in for full given names. Tokens
// are paired greedily by best Jaro-Winkler score; an initial pairs with any
// token sharing its first letter. Extra unpaired tokens shave the score
// instead of sinking it.
type nameMatcher struct{}

func (nameMatcher) Name() string { return AlgorithmName }

const initialPairScore = 90

func (nameMatcher) Score(a, b string) (float64, error) {
	ta := splitTokens(a)
	tb := splitTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 100, nil
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0, nil
	}

	short, long := ta, tb
	if len(tb) < len(ta) {
		short, long = tb, ta
	}

	used := make([]bool, len(long))
	total := 0.0
	for _, tok := range short {
		bestIdx, bestScore := -1, 0.0
		for j, cand := range long {
			if used[j] {
				continue
			}
			s := tokenPairScore(tok, cand)
			if s > bestScore {
				bestIdx, bestScore = j, s
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			total += bestScore
		}
	}

	mean := total / float64(len(short))
	// Unpaired extra tokens (middle names, suffixes) halve their weight
	// rather than counting as outright mismatches.
	coverage := (1 + float64(len(short))/float64(len(long))) / 2
	return mean * coverage, nil
}

func tokenPairScore(a, b string) float64 {
	if a == b {
		return 100
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 1 || len(rb) == 1 {
		if ra[0] == rb[0] {
			return initialPairScore
		}
		return 0
	}
	return jaroWinklerSim(ra, rb) * 100
}
