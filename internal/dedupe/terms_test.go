package dedupe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

func seedClusteredCorpus(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	a := seed(t, st, model.SourceRecord{
		SourceLabel:      "supplier-a",
		RawName:          "Lavandula Angustifolia (Lavender) Oil",
		Term:             "Lavandula angustifolia",
		Form:             "Oil",
		RegistryNumbers:  []string{"8000-28-0"},
		StandardizedName: "Lavandula Angustifolia Oil",
		Lineage:          model.Lineage{Origin: model.OriginPlant, Refinement: model.RefinementProcessed},
	})
	b := seed(t, st, model.SourceRecord{
		SourceLabel:     "supplier-b",
		RawName:         "Lavender Essential Oil",
		Term:            "Lavandula angustifolia",
		Form:            "Oil",
		RegistryNumbers: []string{"8000-28-0"},
		Lineage:         model.Lineage{Origin: model.OriginPlant, Refinement: model.RefinementProcessed},
	})
	c := seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a",
		RawName:     "Peppermint Leaf Powder",
		Term:        "Mentha piperita",
		Form:        "Powder",
		Lineage:     model.Lineage{Origin: model.OriginPlant},
	})

	require.NoError(t, st.ReplaceClusters(ctx, []store.ClusterGroup{
		{
			Cluster: model.IdentityCluster{
				Key:           "registry:8000-28-0",
				Signal:        model.SignalRegistryNumber,
				Confidence:    0.99,
				CanonicalTerm: "Lavandula angustifolia",
				MemberCount:   2,
			},
			MemberIDs: []int64{a, b},
		},
		{
			Cluster: model.IdentityCluster{
				Key:           "binomial:mentha piperita",
				Signal:        model.SignalBinomial,
				Confidence:    0.85,
				CanonicalTerm: "Mentha piperita",
				MemberCount:   1,
			},
			MemberIDs: []int64{c},
		},
	}))
}

func TestTermsRebuild_OneTermPerCluster(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedClusteredCorpus(t, st)

	_, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)

	stats, err := NewTermBuilder(st).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Clusters)
	assert.Equal(t, 2, stats.Terms)
	assert.Equal(t, 2, stats.Linked)
	assert.Equal(t, 0, stats.Unlinked)

	terms, err := st.ListCanonicalTerms(ctx)
	require.NoError(t, err)
	require.Len(t, terms, 2)

	byTerm := make(map[string]model.CanonicalTerm)
	for _, ct := range terms {
		byTerm[ct.Term] = ct
	}

	lavender := byTerm["Lavandula angustifolia"]
	assert.Equal(t, "8000-28-0", lavender.RegistryNumber)
	assert.Equal(t, "Lavandula Angustifolia Oil", lavender.StandardizedName)
	assert.Equal(t, "Lavandula angustifolia", lavender.BotanicalName)
	assert.Equal(t, model.OriginPlant, lavender.Lineage.Origin)
	assert.Equal(t, model.RefinementProcessed, lavender.Lineage.Refinement)

	mint := byTerm["Mentha piperita"]
	assert.Equal(t, "Mentha piperita", mint.BotanicalName)
	assert.Empty(t, mint.RegistryNumber)
	assert.Equal(t, model.RefinementUnknown, mint.Lineage.Refinement)

	forms, err := st.ListMergedForms(ctx)
	require.NoError(t, err)
	for _, f := range forms {
		require.NotNil(t, f.TermID, "form %q should be linked", f.Term)
	}
}

func TestTermsRebuild_RelinksAfterMergeRebuild(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedClusteredCorpus(t, st)

	merger := New(st, Config{})
	_, err := merger.Rebuild(ctx)
	require.NoError(t, err)
	_, err = NewTermBuilder(st).Rebuild(ctx)
	require.NoError(t, err)

	// A merge rebuild replaces every form row, dropping term links.
	_, err = merger.Rebuild(ctx)
	require.NoError(t, err)

	forms, err := st.ListMergedForms(ctx)
	require.NoError(t, err)
	for _, f := range forms {
		require.Nil(t, f.TermID)
	}

	stats, err := NewTermBuilder(st).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Linked)

	terms, err := st.ListCanonicalTerms(ctx)
	require.NoError(t, err)
	assert.Len(t, terms, 2, "term upserts stay keyed by display term")

	forms, err = st.ListMergedForms(ctx)
	require.NoError(t, err)
	for _, f := range forms {
		require.NotNil(t, f.TermID)
	}
}

func TestTermsRebuild_UnclusteredFormStaysUnlinked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a",
		RawName:     "Jojoba Oil",
		Term:        "Jojoba",
		Form:        "Oil",
	})

	_, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)

	stats, err := NewTermBuilder(st).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Terms)
	assert.Equal(t, 0, stats.Linked)
	assert.Equal(t, 1, stats.Unlinked)
}

func TestMostFrequent(t *testing.T) {
	assert.Equal(t, "", mostFrequent(nil))
	assert.Equal(t, "a", mostFrequent([]string{"b", "a", "a"}))
	assert.Equal(t, "a", mostFrequent([]string{"b", "a"}), "ties break to the smaller string")
}
