package parser

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	titleCaser  = cases.Title(language.English)
	accentStrip = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize lowercases, folds accents, and collapses a raw name to a
// canonical comparison key. It is the single normalization used for
// clustering and dedup grouping, so it must stay stable.
func Normalize(s string) string {
	s = foldAccents(strings.TrimSpace(s))
	s = strings.ToLower(s)

	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case r == '-' || r == ',' || r == '.' || r == '\'':
			// Significant in chemical names, kept.
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Clean trims a raw display string without lowercasing: collapses
// whitespace, strips wrapping quotes and trailing separators.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, " ,;:-")
}

// Title renders a normalized term for display: first letter of each
// word upper, rest lower, Unicode-aware.
func Title(s string) string {
	return titleCaser.String(strings.ToLower(s))
}

// BinomialTitle renders a botanical binomial: genus capitalized,
// species epithet lower.
func BinomialTitle(genus, species string) string {
	g := strings.ToLower(genus)
	if g == "" {
		return ""
	}
	g = strings.ToUpper(g[:1]) + g[1:]
	return g + " " + strings.ToLower(species)
}

func foldAccents(s string) string {
	out, _, err := transform.String(accentStrip, s)
	if err != nil {
		return s
	}
	return out
}
