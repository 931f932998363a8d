package similarity

import (
	"strings"
	"unicode"
)

// splitTokens breaks a normalized value into letter/digit runs, dropping
// punctuation. "a. smith-jones" yields ["a", "smith", "jones"].
func splitTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
