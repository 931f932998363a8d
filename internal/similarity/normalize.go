package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, drops combining marks, and recomposes, so
// "José" and "Jose" normalize identically.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize prepares a value for scoring: diacritics transliterated to base
// Latin characters, case folded, internal whitespace collapsed to single
// spaces, leading and trailing whitespace trimmed. Every algorithm sees its
// inputs through this function, which makes scores deterministic across
// source systems with different capitalization and encoding habits.
func Normalize(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the raw
		// value rather than refusing to score.
		out = s
	}
	out = strings.ToLower(out)
	return strings.Join(strings.Fields(out), " ")
}
