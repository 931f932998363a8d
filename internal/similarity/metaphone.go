package similarity

import "strings"

// metaphone scores names by phonetic code. Each input is encoded into a
// primary and an alternate code; matching codes score high even when the
// spellings differ ("Catherine"/"Katherine"). When no code matches, the
// score degrades to the edit distance between primary codes, so near-misses
// still rank above unrelated names.
type metaphone struct{}

func (metaphone) Name() string { return AlgorithmMetaphone }

func (metaphone) Score(a, b string) (float64, error) {
	if a == b {
		return 100, nil
	}
	pa, aa := metaphoneCodes(a)
	pb, ab := metaphoneCodes(b)
	if pa == "" || pb == "" {
		return 0, nil
	}
	switch {
	case pa == pb:
		return 100, nil
	case pa == ab || aa == pb || (aa != "" && aa == ab):
		return 90, nil
	}
	d := levenshteinDistance([]rune(pa), []rune(pb))
	maxLen := max(len(pa), len(pb))
	return 100 * (1 - float64(d)/float64(maxLen)), nil
}

// metaphoneCodes encodes every token of the value and concatenates the codes
// with spaces so multi-word names compare token-wise.
func metaphoneCodes(s string) (primary, alternate string) {
	var ps, as []string
	for _, tok := range splitTokens(s) {
		p, a := encodeMetaphone(tok)
		ps = append(ps, p)
		as = append(as, a)
	}
	primary = strings.Join(ps, " ")
	alternate = strings.Join(as, " ")
	if alternate == primary {
		alternate = ""
	}
	return primary, alternate
}

// encodeMetaphone produces primary and alternate phonetic codes for one
// token. Rules cover the ambiguous Latin-alphabet consonants; letters with a
// single stable sound map directly.
func encodeMetaphone(word string) (string, string) {
	r := []rune(strings.ToUpper(word))
	if len(r) == 0 {
		return "", ""
	}

	var p, a strings.Builder
	add := func(prim, alt string) {
		p.WriteString(prim)
		a.WriteString(alt)
	}

	i := 0
	// Silent leading clusters.
	if len(r) >= 2 {
		switch string(r[:2]) {
		case "KN", "GN", "PN", "WR", "PS":
			i = 1
		}
	}
	if r[0] == 'X' {
		add("S", "S")
		i = 1
	}

	for ; i < len(r); i++ {
		c := r[i]
		var next, prev rune
		if i+1 < len(r) {
			next = r[i+1]
		}
		if i > 0 {
			prev = r[i-1]
		}

		// Collapse doubled consonants.
		if c == prev && c != 'C' {
			continue
		}

		switch c {
		case 'A', 'E', 'I', 'O', 'U', 'Y':
			// Vowels encode only word-initially.
			if i == 0 {
				add("A", "A")
			}
		case 'B':
			// Final MB is silent (lamb, comb).
			if !(i == len(r)-1 && prev == 'M') {
				add("P", "P")
			}
		case 'C':
			switch {
			case next == 'I' || next == 'E' || next == 'Y':
				add("S", "S")
			case next == 'H':
				add("X", "K") // church vs chemist
				i++
			case next == 'K':
				add("K", "K")
				i++
			default:
				add("K", "K")
			}
		case 'D':
			if next == 'G' {
				add("J", "J") // edge
				i++
			} else {
				add("T", "T")
			}
		case 'F':
			add("F", "F")
		case 'G':
			switch {
			case next == 'H':
				add("K", "F") // ghost vs laugh
				i++
			case next == 'N':
				add("N", "KN")
				i++
			case next == 'I' || next == 'E' || next == 'Y':
				add("J", "K") // giant vs giggle
			default:
				add("K", "K")
			}
		case 'H':
			// H is audible only between vowel and non-vowel.
			if isVowel(prev) && !isVowel(next) {
				continue
			}
			if isVowel(next) {
				add("H", "H")
			}
		case 'J':
			add("J", "H") // john vs jose
		case 'K':
			if prev != 'C' {
				add("K", "K")
			}
		case 'L':
			add("L", "L")
		case 'M':
			add("M", "M")
		case 'N':
			add("N", "N")
		case 'P':
			if next == 'H' {
				add("F", "F")
				i++
			} else {
				add("P", "P")
			}
		case 'Q':
			add("K", "K")
		case 'R':
			add("R", "R")
		case 'S':
			switch {
			case next == 'H':
				add("X", "X")
				i++
			case next == 'C' && i+2 < len(r) && r[i+2] == 'H':
				add("SK", "X") // school vs schiller
				i += 2
			default:
				add("S", "S")
			}
		case 'T':
			if next == 'H' {
				add("0", "T") // thin; alternate for hard th borrowings
				i++
			} else if next == 'I' && i+2 < len(r) && (r[i+2] == 'O' || r[i+2] == 'A') {
				add("X", "X") // nation
			} else {
				add("T", "T")
			}
		case 'V':
			add("F", "F")
		case 'W':
			if isVowel(next) {
				add("W", "F") // wagner alternate
			}
		case 'X':
			add("KS", "KS")
		case 'Z':
			add("S", "TS") // zeta alternate for germanic names
		}
	}

	return p.String(), a.String()
}

func isVowel(c rune) bool {
	switch c {
	case 'A', 'E', 'I', 'O', 'U', 'Y':
		return true
	}
	return false
}
