package parser

import (
	"strings"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

// Lineage categories derived from origin.
const (
	CategoryBotanical = "botanical"
	CategoryAnimal    = "animal-derived"
	CategoryMineral   = "mineral"
	CategoryMarine    = "marine"
	CategorySynthetic = "synthetic"
	CategoryBiotech   = "biotech"
	CategoryOther     = "other"
)

// inferLineage deduces origin, category, and refinement from ordered
// marker-set matching. The "unknown/other" bucket is always preferred
// over a wrong guess: plant origin is only assumed with botanical
// evidence (a binomial or a plant part).
func inferLineage(haystack string, ids Identifiers, botanical bool, parts []string, form string) model.Lineage {
	if ids.StandardizedName != "" {
		haystack = haystack + " " + Normalize(ids.StandardizedName)
	}

	origin := model.OriginUnknown
	switch {
	case isChemicalLike(haystack) || hasMarker(haystack, syntheticMarkers):
		origin = model.OriginSynthetic
	case hasMarker(haystack, fermentationMarkers):
		origin = model.OriginFermentation
	case hasMarker(haystack, marineMarkers):
		origin = model.OriginMarine
	case hasMarker(haystack, mineralMarkers):
		origin = model.OriginMineral
	case hasMarker(haystack, animalMarkers):
		origin = model.OriginAnimal
	case botanical || len(parts) > 0:
		origin = model.OriginPlant
	}

	return model.Lineage{
		Origin:     origin,
		Category:   categoryFor(origin),
		Refinement: refinementFor(origin, form),
	}
}

func categoryFor(origin string) string {
	switch origin {
	case model.OriginPlant:
		return CategoryBotanical
	case model.OriginAnimal:
		return CategoryAnimal
	case model.OriginMineral:
		return CategoryMineral
	case model.OriginMarine:
		return CategoryMarine
	case model.OriginSynthetic:
		return CategorySynthetic
	case model.OriginFermentation:
		return CategoryBiotech
	default:
		return CategoryOther
	}
}

func refinementFor(origin, form string) string {
	switch strings.ToLower(form) {
	case "extract", "isolate", "concentrate", "absolute", "tincture", "distillate":
		return model.RefinementIsolate
	case "":
		if origin == model.OriginSynthetic || origin == model.OriginFermentation {
			return model.RefinementProcessed
		}
		return model.RefinementUnknown
	default:
		return model.RefinementProcessed
	}
}

func hasMarker(haystack string, markers []string) bool {
	padded := " " + haystack + " "
	for _, m := range markers {
		if strings.Contains(padded, " "+m) {
			return true
		}
	}
	return false
}
