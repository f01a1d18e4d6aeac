// Package dedupe collapses parsed source records into one merged item
// form per (term, variation, physical form) triple, preserving every
// disagreeing attribute value instead of picking a winner.
package dedupe

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/parser"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

// Config tunes the merge pass.
type Config struct {
	// SourcePriority lists source labels most-authoritative first.
	// Display fields are taken from the highest-priority source present
	// in a group. Unlisted sources rank below listed ones.
	SourcePriority []string `yaml:"source_priority" mapstructure:"source_priority"`
}

// Merger rebuilds the merged item-form layer from the corpus.
type Merger struct {
	store    store.Store
	priority map[string]int
}

// New creates a merger.
func New(st store.Store, cfg Config) *Merger {
	priority := make(map[string]int, len(cfg.SourcePriority))
	for i, label := range cfg.SourcePriority {
		priority[label] = i
	}
	return &Merger{store: st, priority: priority}
}

// Stats summarizes one merge run.
type Stats struct {
	Records  int
	Forms    int
	Skipped  int
	Conflict int
}

type tripleKey struct {
	term, variation, form string
}

// Rebuild groups non-orphan records by normalized triple and replaces
// the merged-form layer transactionally, relinking every member record.
func (m *Merger) Rebuild(ctx context.Context) (*Stats, error) {
	records, err := m.store.ListSourceRecords(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: load corpus")
	}

	stats := &Stats{Records: len(records)}
	groups := make(map[tripleKey][]*model.SourceRecord)
	order := make([]tripleKey, 0)

	for i := range records {
		rec := &records[i]
		if rec.ParseStatus != model.ParseOK || rec.Term == "" {
			stats.Skipped++
			continue
		}
		key := tripleKey{
			term:      parser.Normalize(rec.Term),
			variation: parser.Normalize(rec.Variation),
			form:      parser.Normalize(rec.Form),
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	sort.Slice(order, func(a, b int) bool {
		if order[a].term != order[b].term {
			return order[a].term < order[b].term
		}
		if order[a].variation != order[b].variation {
			return order[a].variation < order[b].variation
		}
		return order[a].form < order[b].form
	})

	forms := make([]model.MergedItemForm, 0, len(groups))
	for _, key := range order {
		merged := m.mergeGroup(groups[key])
		for _, v := range merged.Attributes {
			if _, isList := v.([]any); isList {
				stats.Conflict++
				break
			}
		}
		forms = append(forms, merged)
	}

	if err := m.store.ReplaceMergedForms(ctx, forms); err != nil {
		return nil, eris.Wrap(err, "dedupe: replace")
	}
	stats.Forms = len(forms)

	zap.L().Info("dedupe: rebuild complete",
		zap.Int("records", stats.Records),
		zap.Int("forms", stats.Forms),
		zap.Int("skipped", stats.Skipped),
		zap.Int("with_conflicts", stats.Conflict),
	)
	return stats, nil
}

// mergeGroup folds one triple group into a merged form. Records are
// visited authoritative-source-first so display fields come from the
// most trusted feed; attributes union across all members.
func (m *Merger) mergeGroup(members []*model.SourceRecord) model.MergedItemForm {
	sorted := make([]*model.SourceRecord, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(a, b int) bool {
		ra, rb := m.rank(sorted[a].SourceLabel), m.rank(sorted[b].SourceLabel)
		if ra != rb {
			return ra < rb
		}
		return sorted[a].ID < sorted[b].ID
	})

	lead := sorted[0]
	merged := model.MergedItemForm{
		Term:           lead.Term,
		Variation:      lead.Variation,
		Form:           lead.Form,
		SourcePresence: make(map[string]bool, len(sorted)),
		Attributes:     make(model.Attributes),
	}

	seenNums := make(map[string]bool)
	seenParts := make(map[string]bool)
	for _, rec := range sorted {
		merged.SourcePresence[rec.SourceLabel] = true
		merged.MemberIDs = append(merged.MemberIDs, rec.ID)

		for _, num := range rec.RegistryNumbers {
			if num != "" && !seenNums[num] {
				seenNums[num] = true
				merged.RegistryNumbers = append(merged.RegistryNumbers, num)
			}
		}
		for _, part := range rec.PlantParts {
			norm := strings.ToLower(part)
			if part != "" && !seenParts[norm] {
				seenParts[norm] = true
				merged.PlantParts = append(merged.PlantParts, part)
			}
		}
		merged.Attributes = MergeAttributes(merged.Attributes, rec.Attributes)
	}

	sort.Strings(merged.RegistryNumbers)
	sort.Strings(merged.PlantParts)
	sort.Slice(merged.MemberIDs, func(a, b int) bool { return merged.MemberIDs[a] < merged.MemberIDs[b] })
	merged.MemberCount = len(sorted)
	return merged
}

// rank orders source labels: configured sources by position, unknown
// sources after them alphabetically-stable via a large constant.
func (m *Merger) rank(label string) int {
	if r, ok := m.priority[label]; ok {
		return r
	}
	return len(m.priority) + 1
}

// MergeAttributes unions src into dst. Matching values collapse, empty
// values never overwrite, and disagreeing scalars accumulate into an
// ordered distinct-value list. Returns dst for chaining.
func MergeAttributes(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	a := model.Attributes(dst)
	for _, key := range model.Attributes(src).SortedKeys() {
		a.Add(key, src[key])
	}
	return dst
}
