package dedupe

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dedupe.db"))
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

func TestRebuild_TwoFeedsOneForm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := seed(t, st, model.SourceRecord{
		SourceLabel:     "supplier-a",
		RawName:         "Lavandula Angustifolia (Lavender) Oil",
		Term:            "Lavandula angustifolia",
		Form:            "Oil",
		RegistryNumbers: []string{"8000-28-0"},
		Attributes:      model.Attributes{"color": "pale yellow", "grade": "therapeutic"},
	})
	b := seed(t, st, model.SourceRecord{
		SourceLabel:     "supplier-b",
		RawName:         "Lavender Essential Oil",
		Term:            "Lavandula Angustifolia",
		Form:            "oil",
		RegistryNumbers: []string{"8000-28-0", "90063-37-9"},
		PlantParts:      []string{"Flower"},
		Attributes:      model.Attributes{"color": "colorless", "origin_country": "France"},
	})

	merger := New(st, Config{SourcePriority: []string{"supplier-a", "supplier-b"}})
	stats, err := merger.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Forms)
	assert.Equal(t, 1, stats.Conflict)

	forms, err := st.ListMergedForms(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 1)
	f := forms[0]

	// Display fields follow the authoritative source.
	assert.Equal(t, "Lavandula angustifolia", f.Term)
	assert.Equal(t, "Oil", f.Form)

	assert.Equal(t, []string{"8000-28-0", "90063-37-9"}, f.RegistryNumbers)
	assert.Equal(t, []string{"Flower"}, f.PlantParts)
	assert.True(t, f.SourcePresence["supplier-a"])
	assert.True(t, f.SourcePresence["supplier-b"])
	assert.ElementsMatch(t, []int64{a, b}, f.MemberIDs)

	// Agreement on key, disagreement on value: ordered distinct list.
	colors, isList := f.Attributes["color"].([]any)
	require.True(t, isList)
	assert.Equal(t, []any{"pale yellow", "colorless"}, colors)
	assert.Equal(t, "therapeutic", f.Attributes["grade"])
	assert.Equal(t, "France", f.Attributes["origin_country"])
}

func TestRebuild_DistinctTriplesStaySeparate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a", RawName: "Lavender Oil",
		Term: "Lavender", Form: "Oil",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a", RawName: "Lavender Powder",
		Term: "Lavender", Form: "Powder",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a", RawName: "Organic Lavender Oil",
		Term: "Lavender", Variation: "Organic", Form: "Oil",
	})

	stats, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Forms)
}

func TestRebuild_OrphansSkipped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a", RawName: "Lavender Oil",
		Term: "Lavender", Form: "Oil",
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a", RawName: "Oil",
		ParseStatus: model.ParseOrphan, ParseReason: "bare form token",
	})

	stats, err := New(st, Config{}).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Forms)
	assert.Equal(t, 1, stats.Skipped)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	for _, rec := range records {
		if rec.ParseStatus == model.ParseOrphan {
			assert.Nil(t, rec.MergedFormID)
		} else {
			assert.NotNil(t, rec.MergedFormID)
		}
	}
}

func TestRebuild_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-a", RawName: "Lavender Oil",
		Term: "Lavender", Form: "Oil",
		Attributes: model.Attributes{"color": "pale yellow"},
	})
	seed(t, st, model.SourceRecord{
		SourceLabel: "supplier-b", RawName: "Lavender Oil Bulk",
		Term: "Lavender", Form: "Oil",
		Attributes: model.Attributes{"color": "colorless"},
	})

	merger := New(st, Config{SourcePriority: []string{"supplier-a"}})
	_, err := merger.Rebuild(ctx)
	require.NoError(t, err)
	first, err := st.ListMergedForms(ctx)
	require.NoError(t, err)

	_, err = merger.Rebuild(ctx)
	require.NoError(t, err)
	second, err := st.ListMergedForms(ctx)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Term, second[i].Term)
		assert.Equal(t, first[i].Attributes, second[i].Attributes)
		assert.Equal(t, first[i].MemberIDs, second[i].MemberIDs)
	}
}

func TestMergeAttributes(t *testing.T) {
	dst := map[string]any{"color": "amber", "odor": "herbal"}
	src := map[string]any{"color": "golden", "odor": "herbal", "viscosity": "low", "empty": ""}

	out := MergeAttributes(dst, src)

	colors, isList := out["color"].([]any)
	require.True(t, isList)
	assert.Equal(t, []any{"amber", "golden"}, colors)
	assert.Equal(t, "herbal", out["odor"])
	assert.Equal(t, "low", out["viscosity"])
	_, hasEmpty := out["empty"]
	assert.False(t, hasEmpty)

	// Nil destination allocates.
	out = MergeAttributes(nil, map[string]any{"a": 1})
	assert.Equal(t, 1, out["a"])
}

func TestMergeAttributes_ThirdValueAppends(t *testing.T) {
	dst := map[string]any{"color": []any{"amber", "golden"}}
	out := MergeAttributes(dst, map[string]any{"color": "pale"})

	colors := out["color"].([]any)
	assert.Equal(t, []any{"amber", "golden", "pale"}, colors)
}
