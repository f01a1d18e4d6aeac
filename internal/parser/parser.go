// Package parser derives (term, variation, physical form) and lineage
// tags from raw ingredient listings. Parsing is pure and deterministic:
// no I/O, no clock, same input always yields the same output.
package parser

import (
	"regexp"
	"strings"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

// Identifiers carries the optional structured identifiers that arrive
// with a raw listing.
type Identifiers struct {
	RegistryNumbers  []string
	StandardizedName string
}

// Parsed is the result of parsing one raw listing.
type Parsed struct {
	Term       string
	Variation  string
	Form       string
	PlantParts []string
	Lineage    model.Lineage
	Status     model.ParseStatus
	Reason     string
}

var parenRe = regexp.MustCompile(`\(([^)]*)\)`)

// Parse derives the base term, variation, and physical form from a raw
// listing. Priority order: chemical-like names are kept verbatim,
// botanical binomials become the term (or their vetted common name),
// keep-suffix terms are retained whole, then form suffixes are stripped
// from the tail. If nothing confident remains the cleaned raw string is
// used unchanged.
func Parse(raw string, ids Identifiers) Parsed {
	cleaned := Clean(raw)
	if cleaned == "" {
		return Parsed{
			Status: model.ParseOrphan,
			Reason: "empty name",
			Lineage: model.Lineage{
				Origin:     model.OriginUnknown,
				Refinement: model.RefinementUnknown,
			},
		}
	}

	// Pull parenthetical content aside before tokenizing; it may carry a
	// common name for a binomial.
	paren := ""
	working := cleaned
	if m := parenRe.FindStringSubmatch(working); m != nil {
		paren = strings.TrimSpace(m[1])
		working = Clean(parenRe.ReplaceAllString(working, " "))
	}

	normalized := Normalize(working)

	// Chemical-like names are never stripped: the whole cleaned string is
	// the term.
	if isChemicalLike(normalized) {
		p := Parsed{
			Term:   working,
			Status: model.ParseOK,
		}
		p.Lineage = inferLineage(normalized, ids, false, nil, "")
		return p
	}

	variation, normalized := extractVariation(normalized)
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return orphan(cleaned, variation, "no tokens after variation extraction")
	}

	if genus, species, ok := matchBinomial(tokens); ok {
		return parseBinomial(genus, species, tokens[2:], paren, variation, ids)
	}

	// Keep-suffix terms stay whole: "rice flour" is not rice in a flour
	// form.
	last := tokens[len(tokens)-1]
	if keepSuffixes[last] && len(tokens) > 1 {
		p := Parsed{
			Term:      Title(strings.Join(tokens, " ")),
			Variation: variation,
			Status:    model.ParseOK,
		}
		p.Lineage = inferLineage(normalized, ids, false, nil, "")
		return p
	}

	form, parts, remaining := stripForms(tokens)
	if len(remaining) == 0 {
		if form != "" && len(tokens) <= 2 {
			// The whole name was a bare form ("Powder", "Shea Butter"
			// keeps "Shea"); nothing confident left.
			return orphan(cleaned, variation, "name is only a physical form")
		}
		// Fallback: cleaned raw string unchanged.
		p := Parsed{
			Term:      cleaned,
			Variation: variation,
			Form:      form,
			Status:    model.ParseOK,
			Reason:    "fallback raw term",
		}
		p.Lineage = inferLineage(normalized, ids, false, parts, form)
		return p
	}

	p := Parsed{
		Term:       Title(strings.Join(remaining, " ")),
		Variation:  variation,
		Form:       form,
		PlantParts: parts,
		Status:     model.ParseOK,
	}
	p.Lineage = inferLineage(normalized, ids, false, parts, form)
	return p
}

func orphan(cleaned, variation, reason string) Parsed {
	return Parsed{
		Term:      cleaned,
		Variation: variation,
		Status:    model.ParseOrphan,
		Reason:    reason,
		Lineage: model.Lineage{
			Origin:     model.OriginUnknown,
			Refinement: model.RefinementUnknown,
		},
	}
}

func parseBinomial(genus, species string, rest []string, paren, variation string, ids Identifiers) Parsed {
	binomial := BinomialTitle(genus, species)
	form, parts, leftover := stripForms(rest)

	// Tokens the form pass could not claim are qualifiers of this
	// listing, not part of the identity. Keep them on the variation so
	// distinct listings stay distinct.
	if len(leftover) > 0 {
		qualifier := Title(strings.Join(leftover, " "))
		if variation == "" {
			variation = qualifier
		} else {
			variation = variation + " " + qualifier
		}
	}

	term := binomial
	if common := vetCommonName(paren); common != "" {
		term = common
		if len(parts) > 0 {
			if repl, ok := commonNameExceptions[strings.ToLower(common)+"|"+parts[0]]; ok {
				term = repl
			}
		}
	}

	p := Parsed{
		Term:       term,
		Variation:  variation,
		Form:       form,
		PlantParts: parts,
		Status:     model.ParseOK,
	}
	p.Lineage = inferLineage(Normalize(binomial+" "+strings.Join(rest, " ")), ids, true, parts, form)
	return p
}

// stripForms repeatedly strips trailing form-vocabulary tokens, and
// after each stripped form one trailing plant-part token. The outermost
// form token names the physical form. Returns the form, the stripped
// parts in name order, and the remaining tokens.
func stripForms(tokens []string) (form string, parts []string, remaining []string) {
	remaining = tokens
	for len(remaining) > 0 {
		last := remaining[len(remaining)-1]
		if !formTokens[last] || keepSuffixes[last] {
			break
		}
		if form == "" {
			form = Title(last)
		}
		remaining = remaining[:len(remaining)-1]

		if len(remaining) > 0 && plantPartTokens[remaining[len(remaining)-1]] {
			parts = append([]string{remaining[len(remaining)-1]}, parts...)
			remaining = remaining[:len(remaining)-1]
		}
	}
	return form, parts, remaining
}

// matchBinomial reports whether the leading two tokens form a plausible
// "Genus species" pair, filtered through the non-botanical denylist.
func matchBinomial(tokens []string) (genus, species string, ok bool) {
	if len(tokens) < 2 {
		return "", "", false
	}
	g, s := tokens[0], tokens[1]
	if !isBotanicalWord(g) || !isBotanicalWord(s) {
		return "", "", false
	}
	if binomialDenylist[g] || binomialDenylist[s] {
		return "", "", false
	}
	if chemicalNouns[g] || chemicalNouns[s] {
		return "", "", false
	}
	if formTokens[s] || plantPartTokens[s] || keepSuffixes[s] {
		return "", "", false
	}
	if !isLatinEpithet(s) {
		return "", "", false
	}
	return g, s, true
}

func isBotanicalWord(w string) bool {
	if len(w) < 3 {
		return false
	}
	for _, r := range w {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// isLatinEpithet requires the species token to carry a typical Latin
// epithet ending, which filters out most English noun pairs that
// otherwise look like "Genus species".
func isLatinEpithet(s string) bool {
	if len(s) < 4 {
		return false
	}
	switch s[len(s)-1] {
	case 'a', 'e', 'i', 'm', 's':
		return true
	default:
		return false
	}
}

// vetCommonName accepts a parenthetical as a common name only when it
// is short and free of noise markers (blend notation, grades, codes).
func vetCommonName(paren string) string {
	if paren == "" {
		return ""
	}
	lower := strings.ToLower(paren)
	if strings.ContainsAny(lower, "0123456789") {
		return ""
	}
	for _, noise := range parentheticalNoise {
		if noise == "and" || noise == "type" || noise == "grade" || noise == "mix" {
			for _, w := range strings.Fields(lower) {
				if w == noise {
					return ""
				}
			}
			continue
		}
		if strings.Contains(lower, noise) {
			return ""
		}
	}
	if len(strings.Fields(lower)) > 3 {
		return ""
	}
	return Title(Normalize(paren))
}

// extractVariation removes processing-style qualifier phrases from a
// normalized name and returns them, joined in vocabulary order, as the
// variation.
func extractVariation(normalized string) (string, string) {
	var found []string
	padded := " " + normalized + " "
	for _, phrase := range variationPhrases {
		probe := " " + phrase + " "
		if strings.Contains(padded, probe) {
			found = append(found, Title(phrase))
			padded = strings.Replace(padded, probe, " ", 1)
		}
	}
	rest := strings.Join(strings.Fields(padded), " ")
	return strings.Join(found, " "), rest
}

// isChemicalLike detects numeric-leading and polymer/chain names that
// must be kept verbatim.
func isChemicalLike(normalized string) bool {
	if normalized == "" {
		return false
	}
	if normalized[0] >= '0' && normalized[0] <= '9' {
		return true
	}

	digits, hyphens := 0, 0
	for _, r := range normalized {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-':
			hyphens++
		}
	}
	if digits >= 3 && hyphens >= 1 {
		return true
	}

	for _, affix := range chemicalAffixes {
		if strings.Contains(normalized, affix) {
			return true
		}
	}
	return false
}

// BinomialKey extracts a normalized "genus species" key from a parsed
// term, or "" when the term is not a binomial. Used by the clustering
// engine as the second-strongest identity signal.
func BinomialKey(term string) string {
	tokens := strings.Fields(Normalize(term))
	if genus, species, ok := matchBinomial(tokens); ok {
		return genus + " " + species
	}
	return ""
}
