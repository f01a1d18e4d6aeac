package compile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/cluster"
	"github.com/formulary-group/ingredient-cli/internal/dedupe"
	"github.com/formulary-group/ingredient-cli/internal/feed"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

// rawFeed delivers in-memory records under a fixed source label.
type rawFeed struct {
	label   string
	records []feed.RawRecord
}

func (f *rawFeed) Label() string { return f.label }

func (f *rawFeed) Records(context.Context) ([]feed.RawRecord, error) {
	return f.records, nil
}

// Seeding must produce units from a corpus that went through the real
// rebuild chain, not just hand-planted terms: ingest, cluster, merge,
// then term derivation, with nothing linked by hand.
func TestSeed_AfterFullRebuildChain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	feeds := []*rawFeed{
		{
			label: "supplier-a",
			records: []feed.RawRecord{
				{
					RawName:          "LAVANDULA ANGUSTIFOLIA OIL",
					RegistryNumbers:  []string{"8000-28-0"},
					StandardizedName: "Lavandula Angustifolia Oil",
				},
				{RawName: "Simmondsia chinensis (Jojoba) Seed Oil"},
			},
		},
		{
			label: "supplier-b",
			records: []feed.RawRecord{
				{
					RawName:         "Lavandula Angustifolia Oil",
					RegistryNumbers: []string{"8000-28-0"},
				},
			},
		},
	}
	for _, f := range feeds {
		_, err := feed.Ingest(ctx, st, f)
		require.NoError(t, err)
	}

	_, err := cluster.New(st, cluster.Config{}).Rebuild(ctx)
	require.NoError(t, err)
	_, err = dedupe.New(st, dedupe.Config{}).Rebuild(ctx)
	require.NoError(t, err)

	termStats, err := dedupe.NewTermBuilder(st).Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, termStats.Terms)
	require.Zero(t, termStats.Unlinked)

	seedStats, err := New(st, &fakeClient{}, Config{}).Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, seedStats.Units)
	assert.Equal(t, 2, seedStats.Items)

	units, err := st.ListUnits(ctx, store.UnitFilter{})
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.NotEmpty(t, u.Items, "unit %d has no item rows", u.ID)
	}

	terms, err := st.ListCanonicalTerms(ctx)
	require.NoError(t, err)
	names := make(map[int64]string, len(terms))
	for _, ct := range terms {
		names[ct.ID] = ct.Term
	}

	// The registry-keyed cluster spans two sources, so its unit
	// outranks the singleton.
	assert.Equal(t, "Lavandula angustifolia", names[units[0].TermID])
	assert.Equal(t, 2, units[0].Priority)
}
