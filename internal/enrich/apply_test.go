package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

func TestApplier_FillOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	form := seedForm(t, st, model.MergedItemForm{
		Term: "Lavender",
		Form: "Oil",
		Attributes: model.Attributes{
			"color":       "pale yellow",
			"description": "",
		},
	})

	require.NoError(t, st.UpsertMatch(ctx, &model.EnrichmentMatch{
		TargetType: model.TargetForm, TargetID: form.ID,
		ExternalID: "EXT-1", Status: model.MatchMatched,
		Method: MethodRegistryNumber, Confidence: 0.98,
	}))
	require.NoError(t, st.PutCacheEntry(ctx, &model.EnrichmentCacheEntry{
		ExternalID: "EXT-1",
		Bundle: model.Attributes{
			"color":       "colorless",
			"description": "steam-distilled flower oil",
			"iupac_name":  "linalool",
		},
	}))

	stats, err := NewApplier(st).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)

	got, err := st.GetMergedForm(ctx, form.ID)
	require.NoError(t, err)
	// Existing values survive; empty and absent keys are filled.
	assert.Equal(t, "pale yellow", got.Attributes["color"])
	assert.Equal(t, "steam-distilled flower oil", got.Attributes["description"])
	assert.Equal(t, "linalool", got.Attributes["iupac_name"])
	assert.Equal(t, "EXT-1", got.Attributes[model.ProvenanceExternalID])
	assert.Equal(t, MethodRegistryNumber, got.Attributes[model.ProvenanceMethod])
	assert.Equal(t, "0.98", got.Attributes[model.ProvenanceConfidence])
}

func TestApplier_SecondRunIsNoOp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	form := seedForm(t, st, model.MergedItemForm{Term: "Lavender", Form: "Oil"})

	require.NoError(t, st.UpsertMatch(ctx, &model.EnrichmentMatch{
		TargetType: model.TargetForm, TargetID: form.ID,
		ExternalID: "EXT-1", Status: model.MatchMatched,
		Method: MethodTerm, Confidence: 0.70,
	}))
	require.NoError(t, st.PutCacheEntry(ctx, &model.EnrichmentCacheEntry{
		ExternalID: "EXT-1",
		Bundle:     model.Attributes{"iupac_name": "linalool"},
	}))

	applier := NewApplier(st)

	first, err := applier.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Applied)

	second, err := applier.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Applied)
	assert.Equal(t, 1, second.Unchanged)
}

func TestApplier_UnfetchedBundleSkipped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	form := seedForm(t, st, model.MergedItemForm{Term: "Rose", Form: "Water"})

	require.NoError(t, st.UpsertMatch(ctx, &model.EnrichmentMatch{
		TargetType: model.TargetForm, TargetID: form.ID,
		ExternalID: "EXT-404", Status: model.MatchMatched,
	}))

	stats, err := NewApplier(st).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NoBundle)
	assert.Zero(t, stats.Applied)
}
