package similarity

// dice implements the Sørensen–Dice coefficient over character bigrams.
// Whitespace is excluded from bigrams so token boundaries don't inflate
// overlap between unrelated multi-word values.
type dice struct{}

func (dice) Name() string { return AlgorithmDice }

func (dice) Score(a, b string) (float64, error) {
	if a == b {
		return 100, nil
	}
	ga := bigrams(a)
	gb := bigrams(b)
	if len(ga) == 0 && len(gb) == 0 {
		return 100, nil
	}
	if len(ga) == 0 || len(gb) == 0 {
		return 0, nil
	}

	intersection := 0
	for gram, count := range ga {
		if other, ok := gb[gram]; ok {
			intersection += min(count, other)
		}
	}
	total := 0
	for _, c := range ga {
		total += c
	}
	for _, c := range gb {
		total += c
	}
	return 100 * 2 * float64(intersection) / float64(total), nil
}

func bigrams(s string) map[string]int {
	grams := make(map[string]int)
	for _, word := range splitTokens(s) {
		runes := []rune(word)
		if len(runes) == 1 {
			grams[word]++
			continue
		}
		for i := 0; i+2 <= len(runes); i++ {
			grams[string(runes[i:i+2])]++
		}
	}
	return grams
}
