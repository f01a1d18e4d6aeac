package cluster

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cluster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st store.Store, rec model.SourceRecord) int64 {
	t.Helper()
	if rec.ParseStatus == "" {
		rec.ParseStatus = model.ParseOK
	}
	require.NoError(t, st.UpsertSourceRecord(context.Background(), &rec))
	return rec.ID
}

func clustersByKey(t *testing.T, st store.Store) map[string]model.IdentityCluster {
	t.Helper()
	clusters, err := st.ListClusters(context.Background())
	require.NoError(t, err)
	out := make(map[string]model.IdentityCluster, len(clusters))
	for _, c := range clusters {
		out[c.Key] = c
	}
	return out
}

func TestRebuild_RegistryNumberWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Lavender Oil",
		Term: "Lavender", RegistryNumbers: []string{"8000-28-0"},
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-b", RawName: "Lavandula Angustifolia Oil",
		Term: "Lavandula angustifolia", RegistryNumbers: []string{"8000-28-0"},
		StandardizedName: "LAVANDULA ANGUSTIFOLIA OIL",
	})

	stats, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Clusters)

	byKey := clustersByKey(t, st)
	c, ok := byKey["registry:8000-28-0"]
	require.True(t, ok)
	assert.Equal(t, model.SignalRegistryNumber, c.Signal)
	assert.Equal(t, 2, c.MemberCount)
	// One member carries a standardized name, so confidence is boosted.
	assert.InDelta(t, confRegistryBoosted, c.Confidence, 0.001)
}

func TestRebuild_FamilyNumberExcluded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// A cellulose-family number shared by many distinct terms.
	terms := []string{
		"Microcrystalline Cellulose", "Cellulose Gum", "Cellulose Powder",
		"Oxidized Cellulose", "Regenerated Cellulose", "Cellulose Acetate",
	}
	for i, term := range terms {
		seed(t, st, model.SourceRecord{
			SourceLabel: "feed-a", RawName: fmt.Sprintf("listing %d", i),
			Term: term, RegistryNumbers: []string{"9004-34-6"},
		})
	}

	stats, err := New(st, Config{FamilyThreshold: 5}).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FamilyNumbers)

	byKey := clustersByKey(t, st)
	_, keyed := byKey["registry:9004-34-6"]
	assert.False(t, keyed, "family number must not key a cluster")
	// Every record fell through to term-fallback keying.
	assert.Equal(t, len(terms), stats.Clusters)
	for _, c := range byKey {
		assert.Equal(t, model.SignalTerm, c.Signal)
		assert.Contains(t, c.Reason, "family identifier")
	}
}

func TestRebuild_BinomialBeforeStandardizedName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Lavandula Angustifolia Oil",
		Term: "Lavandula angustifolia", StandardizedName: "LAVANDULA ANGUSTIFOLIA OIL",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-b", RawName: "Lavandula Angustifolia Flower Water",
		Term: "Lavandula angustifolia",
	})

	_, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)

	byKey := clustersByKey(t, st)
	c, ok := byKey["binomial:lavandula angustifolia"]
	require.True(t, ok)
	assert.Equal(t, model.SignalBinomial, c.Signal)
	assert.Equal(t, 2, c.MemberCount)
}

func TestRebuild_CompositeAlwaysSingleton(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Herbal Blend",
		Term: "Herbal Blend", RegistryNumbers: []string{"1234-56-7"},
		Composite: true,
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-b", RawName: "Herb Mix",
		Term: "Herbal Blend", RegistryNumbers: []string{"1234-56-7"},
		Composite: true,
	})

	stats, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Clusters)
	assert.Equal(t, 2, stats.Singletons)

	clusters, err := st.ListClusters(ctx)
	require.NoError(t, err)
	for _, c := range clusters {
		assert.Equal(t, model.SignalSingleton, c.Signal)
	}
}

func TestRebuild_OrphansUnassigned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Lavender Oil", Term: "Lavender",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "???",
		ParseStatus: model.ParseOrphan, ParseReason: "no term derivable",
	})

	stats, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Clusters)
	assert.Equal(t, 1, stats.Skipped)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	for _, rec := range records {
		if rec.ParseStatus == model.ParseOrphan {
			assert.Nil(t, rec.ClusterID)
		} else {
			assert.NotNil(t, rec.ClusterID)
		}
	}
}

func TestRebuild_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Lavender Oil",
		Term: "Lavender", RegistryNumbers: []string{"8000-28-0"},
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Rosemary Extract", Term: "Rosemary",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-b", RawName: "Jojoba Seed Oil",
		Term: "Simmondsia chinensis",
	})

	engine := New(st, Config{})
	first, err := engine.Rebuild(ctx)
	require.NoError(t, err)
	firstClusters := clustersByKey(t, st)

	second, err := engine.Rebuild(ctx)
	require.NoError(t, err)
	secondClusters := clustersByKey(t, st)

	assert.Equal(t, first.Clusters, second.Clusters)
	require.Len(t, secondClusters, len(firstClusters))
	for key, c := range firstClusters {
		got, ok := secondClusters[key]
		require.True(t, ok, "key %s missing after second rebuild", key)
		assert.Equal(t, c.Signal, got.Signal)
		assert.Equal(t, c.CanonicalTerm, got.CanonicalTerm)
		assert.Equal(t, c.MemberCount, got.MemberCount)
	}
}

func TestCanonicalTerm_TieBreaks(t *testing.T) {
	recs := []*model.SourceRecord{
		{Term: "Lavender"},
		{Term: "Lavender"},
		{Term: "Lavandula angustifolia"},
	}
	assert.Equal(t, "Lavender", canonicalTerm(recs))

	// Equal frequency: shortest wins.
	recs = []*model.SourceRecord{
		{Term: "Lavandula angustifolia"},
		{Term: "Lavender"},
	}
	assert.Equal(t, "Lavender", canonicalTerm(recs))

	// Equal frequency and length: lexicographic.
	recs = []*model.SourceRecord{
		{Term: "Basil"},
		{Term: "Apple"},
	}
	assert.Equal(t, "Apple", canonicalTerm(recs))
}

func TestRebuild_DisplayTermCollisionQualified(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Two distinct botanical identities whose display term collides.
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Mentha Piperita Leaf", Term: "Mentha piperita",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-a", RawName: "Mentha Piperita Oil", Term: "Mentha piperita",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "feed-b", RawName: "Mentha Piperita", Term: "Mentha piperita",
		RegistryNumbers: []string{"8006-90-4"},
	})

	_, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)

	clusters, err := st.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	terms := make(map[string]bool)
	for _, c := range clusters {
		assert.False(t, terms[c.CanonicalTerm], "canonical terms must be distinct")
		terms[c.CanonicalTerm] = true
	}
	assert.True(t, terms["Mentha piperita"], "larger cluster keeps the bare term")
}

func TestRebuildUnioned_SharedSignalsMerge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// a shares a registry number with b; b shares a standardized name
	// with c. All three union into one cluster.
	seed(t, st, model.SourceRecord{
		SourceLabel: "cat-1", RawName: "Tocopherol",
		Term: "Tocopherol", RegistryNumbers: []string{"59-02-9"},
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "cat-2", RawName: "Vitamin E",
		Term: "Vitamin E", RegistryNumbers: []string{"59-02-9"},
		StandardizedName: "TOCOPHEROL",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "cat-3", RawName: "d-alpha Tocopherol",
		Term: "Alpha Tocopherol", StandardizedName: "TOCOPHEROL",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "cat-1", RawName: "Rosemary Extract", Term: "Rosemary",
	})

	stats, err := New(st, Config{}).RebuildUnioned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Clusters)

	byKey := clustersByKey(t, st)
	c, ok := byKey["union:registry:59-02-9"]
	require.True(t, ok)
	assert.Equal(t, model.SignalUnion, c.Signal)
	assert.Equal(t, 3, c.MemberCount)
}
