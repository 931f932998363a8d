package similarity

// jaroWinkler implements the standard Jaro-Winkler similarity with the usual
// prefix scale of 0.1 over at most four leading characters.
type jaroWinkler struct{}

func (jaroWinkler) Name() string { return AlgorithmJaroWinkler }

func (jaroWinkler) Score(a, b string) (float64, error) {
	return jaroWinklerSim([]rune(a), []rune(b)) * 100, nil
}

const (
	winklerPrefixScale = 0.1
	winklerPrefixMax   = 4
)

func jaroWinklerSim(a, b []rune) float64 {
	jaro := jaroSim(a, b)
	if jaro == 0 {
		return 0
	}
	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < winklerPrefixMax; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*winklerPrefixScale*(1-jaro)
}

func jaroSim(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0
	for i := range a {
		lo := max(0, i-window)
		hi := min(len(b)-1, i+window)
		for j := lo; j <= hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	// Count transpositions among matched characters in order.
	transpositions := 0
	j := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}
