package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

// ApplyStats summarizes one apply run.
type ApplyStats struct {
	Matched   int
	Applied   int
	Unchanged int
	NoBundle  int
}

// Applier folds cached registry bundles into merged-form attributes.
// The merge is fill-only: an existing value is never overwritten, so
// re-applying the same bundle is a no-op. Term matches carry no
// attribute map of their own; their cached bundles feed the compile
// context instead.
type Applier struct {
	store store.Store
}

// NewApplier creates an applier over the given store.
func NewApplier(st store.Store) *Applier {
	return &Applier{store: st}
}

// Run applies cached bundles to every matched merged form.
func (a *Applier) Run(ctx context.Context) (*ApplyStats, error) {
	matches, err := a.store.ListMatches(ctx, model.TargetForm, model.MatchMatched)
	if err != nil {
		return nil, err
	}

	stats := &ApplyStats{Matched: len(matches)}
	for _, m := range matches {
		entry, err := a.store.GetCacheEntry(ctx, m.ExternalID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			stats.NoBundle++
			continue
		}

		form, err := a.store.GetMergedForm(ctx, m.TargetID)
		if err != nil {
			return nil, err
		}

		attrs := form.Attributes.Clone()
		if attrs == nil {
			attrs = model.Attributes{}
		}

		added := attrs.FillFrom(entry.Bundle)
		added += attrs.FillFrom(model.Attributes{
			model.ProvenanceExternalID: m.ExternalID,
			model.ProvenanceMethod:     m.Method,
			model.ProvenanceConfidence: fmt.Sprintf("%.2f", m.Confidence),
		})
		if added == 0 {
			stats.Unchanged++
			continue
		}

		if err := a.store.UpdateFormAttributes(ctx, form.ID, attrs); err != nil {
			return nil, err
		}
		stats.Applied++
	}

	zap.L().Info("enrichment apply complete",
		zap.Int("matched", stats.Matched),
		zap.Int("applied", stats.Applied),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("no_bundle", stats.NoBundle),
	)
	return stats, nil
}
