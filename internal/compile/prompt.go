package compile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

const termSystemPrompt = `You are an ingredient knowledge compiler for a formulary
catalog. Given a resolved ingredient term with its observed source listings and
any registry data, produce one JSON object with these fields:
  term         (string, required) the canonical display name
  description  (string, required) one factual paragraph
  origin       (string) one of: plant, animal, mineral, marine, synthetic, fermentation, unknown
  category     (string) a short category label
  refinement   (string) one of: raw, processed, isolate, unknown
  functions    (array of strings) what the ingredient is used for
Respond with the JSON object only.`

const itemSystemPrompt = `You are an ingredient knowledge compiler for a formulary
catalog. Given one purchasable item form of an ingredient, produce one JSON object:
  form_id          (number, required) echoed from the input
  display_name     (string, required) a buyer-facing name for this form
  attribute_groups (object of string arrays) grouped descriptive attributes
Respond with the JSON object only.`

const taxonomySystemPrompt = `Given a compiled ingredient record, produce one JSON
object with a single field:
  taxonomy (array of strings) ordered broad-to-narrow classification tags
Respond with the JSON object only.`

// termContext is the evidence bundle for one term-stage request.
type termContext struct {
	Term             string           `json:"term"`
	RegistryNumber   string           `json:"registry_number,omitempty"`
	StandardizedName string           `json:"standardized_name,omitempty"`
	BotanicalName    string           `json:"botanical_name,omitempty"`
	ObservedForms    []string         `json:"observed_forms,omitempty"`
	RegistryBundle   model.Attributes `json:"registry_bundle,omitempty"`
}

// itemContext is the evidence bundle for one item-stage request.
type itemContext struct {
	FormID         int64            `json:"form_id"`
	Term           string           `json:"term"`
	Variation      string           `json:"variation,omitempty"`
	Form           string           `json:"form,omitempty"`
	PlantParts     []string         `json:"plant_parts,omitempty"`
	SourcePresence []string         `json:"sources,omitempty"`
	Attributes     model.Attributes `json:"attributes,omitempty"`
}

func buildTermContext(term *model.CanonicalTerm, forms []model.MergedItemForm, bundle model.Attributes) termContext {
	tc := termContext{
		Term:             term.Term,
		RegistryNumber:   term.RegistryNumber,
		StandardizedName: term.StandardizedName,
		BotanicalName:    term.BotanicalName,
		RegistryBundle:   bundle,
	}
	for _, f := range forms {
		tc.ObservedForms = append(tc.ObservedForms, formLabel(f))
	}
	return tc
}

func buildItemContext(term *model.CanonicalTerm, form *model.MergedItemForm) itemContext {
	ic := itemContext{
		FormID:     form.ID,
		Term:       term.Term,
		Variation:  form.Variation,
		Form:       form.Form,
		PlantParts: form.PlantParts,
		Attributes: form.Attributes,
	}
	for label := range form.SourcePresence {
		ic.SourcePresence = append(ic.SourcePresence, label)
	}
	sort.Strings(ic.SourcePresence)
	return ic
}

func formLabel(f model.MergedItemForm) string {
	parts := []string{f.Term}
	if f.Variation != "" {
		parts = append(parts, f.Variation)
	}
	if f.Form != "" {
		parts = append(parts, f.Form)
	}
	return strings.Join(parts, " / ")
}

func contextMessage(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "compile: marshal context")
	}
	return string(body), nil
}

func validateTermResult(res model.TermResult) error {
	if strings.TrimSpace(res.Term) == "" {
		return fmt.Errorf("term is required")
	}
	if strings.TrimSpace(res.Description) == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

func validateItemResult(res model.ItemResult) error {
	if res.FormID == 0 {
		return fmt.Errorf("form_id is required")
	}
	if strings.TrimSpace(res.DisplayName) == "" {
		return fmt.Errorf("display_name is required")
	}
	return nil
}

// normalizeLineage collapses unrecognized origins and refinements to
// unknown so the compiled record only carries controlled values.
func normalizeLineage(res model.TermResult) model.Lineage {
	origin := strings.ToLower(strings.TrimSpace(res.Origin))
	switch origin {
	case model.OriginPlant, model.OriginAnimal, model.OriginMineral,
		model.OriginMarine, model.OriginSynthetic, model.OriginFermentation:
	default:
		origin = model.OriginUnknown
	}

	refinement := strings.ToLower(strings.TrimSpace(res.Refinement))
	switch refinement {
	case model.RefinementRaw, model.RefinementProcessed, model.RefinementIsolate:
	default:
		refinement = model.RefinementUnknown
	}

	return model.Lineage{
		Origin:     origin,
		Category:   strings.TrimSpace(res.Category),
		Refinement: refinement,
	}
}
