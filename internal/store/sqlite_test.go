package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedRecord(t *testing.T, st *SQLiteStore, source, raw, term, variation, form string) *model.SourceRecord {
	t.Helper()
	rec := &model.SourceRecord{
		SourceLabel: source,
		RawName:     raw,
		Term:        term,
		Variation:   variation,
		Form:        form,
		ParseStatus: model.ParseOK,
	}
	require.NoError(t, st.UpsertSourceRecord(context.Background(), rec))
	require.NotZero(t, rec.ID)
	return rec
}

// --- Source records ---

func TestSQLite_UpsertSourceRecord_Insert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &model.SourceRecord{
		SourceLabel:     "feed-a",
		RawName:         "Lavandula Angustifolia (Lavender) Oil",
		RegistryNumbers: []string{"8000-28-0"},
		Term:            "Lavandula angustifolia",
		Form:            "Oil",
		ParseStatus:     model.ParseOK,
		Attributes:      model.Attributes{"grade": "therapeutic"},
	}
	require.NoError(t, st.UpsertSourceRecord(ctx, rec))
	require.NotZero(t, rec.ID)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Lavandula angustifolia", records[0].Term)
	assert.Equal(t, []string{"8000-28-0"}, records[0].RegistryNumbers)
	assert.Equal(t, "therapeutic", records[0].Attributes["grade"])
}

func TestSQLite_UpsertSourceRecord_ConflictKeepsID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := seedRecord(t, st, "feed-a", "Rosemary Extract", "Rosemary", "", "Extract")

	again := &model.SourceRecord{
		SourceLabel: "feed-a",
		RawName:     "Rosemary Extract",
		Term:        "Rosemary",
		Form:        "Extract",
		ParseStatus: model.ParseOK,
	}
	require.NoError(t, st.UpsertSourceRecord(ctx, again))
	assert.Equal(t, first.ID, again.ID)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// --- Clusters ---

func TestSQLite_ReplaceClusters_AssignsMembers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedRecord(t, st, "feed-a", "Lavender Oil", "Lavender", "", "Oil")
	b := seedRecord(t, st, "feed-b", "Lavandula Oil", "Lavender", "", "Oil")

	groups := []ClusterGroup{{
		Cluster: model.IdentityCluster{
			Key:           "registry:8000-28-0",
			Signal:        model.SignalRegistryNumber,
			CanonicalTerm: "Lavender",
		},
		MemberIDs: []int64{a.ID, b.ID},
	}}
	require.NoError(t, st.ReplaceClusters(ctx, groups))

	clusters, err := st.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 2, clusters[0].MemberCount)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	for _, rec := range records {
		require.NotNil(t, rec.ClusterID)
		assert.Equal(t, clusters[0].ID, *rec.ClusterID)
	}
}

func TestSQLite_ReplaceClusters_FullReplace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedRecord(t, st, "feed-a", "Lavender Oil", "Lavender", "", "Oil")

	group := []ClusterGroup{{
		Cluster:   model.IdentityCluster{Key: "term:lavender", Signal: model.SignalTerm},
		MemberIDs: []int64{a.ID},
	}}
	require.NoError(t, st.ReplaceClusters(ctx, group))
	require.NoError(t, st.ReplaceClusters(ctx, group))

	clusters, err := st.ListClusters(ctx)
	require.NoError(t, err)
	assert.Len(t, clusters, 1)
}

// --- Merged forms ---

func TestSQLite_ReplaceMergedForms_RelinksRecords(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedRecord(t, st, "feed-a", "Lavender Oil", "Lavender", "", "Oil")
	b := seedRecord(t, st, "feed-b", "Lavandula Oil", "Lavender", "", "Oil")

	forms := []model.MergedItemForm{{
		Term:           "Lavender",
		Form:           "Oil",
		SourcePresence: map[string]bool{"feed-a": true, "feed-b": true},
		MemberIDs:      []int64{a.ID, b.ID},
		MemberCount:    2,
		Attributes:     model.Attributes{"color": "pale yellow"},
	}}
	require.NoError(t, st.ReplaceMergedForms(ctx, forms))
	require.NotZero(t, forms[0].ID)

	got, err := st.GetMergedForm(ctx, forms[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.SourcePresence["feed-a"])
	assert.Equal(t, []int64{a.ID, b.ID}, got.MemberIDs)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	for _, rec := range records {
		require.NotNil(t, rec.MergedFormID)
		assert.Equal(t, forms[0].ID, *rec.MergedFormID)
	}
}

func TestSQLite_GetMergedForm_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetMergedForm(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_UpdateFormAttributes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedRecord(t, st, "feed-a", "Lavender Oil", "Lavender", "", "Oil")
	forms := []model.MergedItemForm{{
		Term: "Lavender", Form: "Oil",
		MemberIDs: []int64{a.ID}, MemberCount: 1,
	}}
	require.NoError(t, st.ReplaceMergedForms(ctx, forms))

	attrs := model.Attributes{"scent": "floral"}
	require.NoError(t, st.UpdateFormAttributes(ctx, forms[0].ID, attrs))

	got, err := st.GetMergedForm(ctx, forms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "floral", got.Attributes["scent"])
}

// --- Canonical terms ---

func TestSQLite_UpsertCanonicalTerm_StableID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term := &model.CanonicalTerm{
		Term:           "Lavender",
		RegistryNumber: "8000-28-0",
		BotanicalName:  "Lavandula angustifolia",
		Lineage:        model.Lineage{Origin: model.OriginPlant},
	}
	require.NoError(t, st.UpsertCanonicalTerm(ctx, term))
	firstID := term.ID
	require.NotZero(t, firstID)

	term.RegistryNumber = "8000-28-0"
	require.NoError(t, st.UpsertCanonicalTerm(ctx, term))
	assert.Equal(t, firstID, term.ID)

	terms, err := st.ListCanonicalTerms(ctx)
	require.NoError(t, err)
	assert.Len(t, terms, 1)
}

// --- Compilation units and items ---

func seedTerm(t *testing.T, st *SQLiteStore, name string) *model.CanonicalTerm {
	t.Helper()
	term := &model.CanonicalTerm{Term: name}
	require.NoError(t, st.UpsertCanonicalTerm(context.Background(), term))
	return term
}

func TestSQLite_CreateUnit_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term := seedTerm(t, st, "Lavender")

	first, err := st.CreateUnit(ctx, term.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, model.StagePending, first.TermStatus)

	second, err := st.CreateUnit(ctx, term.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSQLite_UnitLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term := seedTerm(t, st, "Lavender")
	unit, err := st.CreateUnit(ctx, term.ID, 0)
	require.NoError(t, err)

	require.NoError(t, st.UpdateUnitStatus(ctx, unit.ID, model.StageProcessing, ""))
	require.NoError(t, st.UpdateUnitBatch(ctx, unit.ID, "batch-123"))
	require.NoError(t, st.UpdateUnitStatus(ctx, unit.ID, model.StageDone, ""))

	got, err := st.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageDone, got.TermStatus)
	assert.Equal(t, "batch-123", got.BatchID)
}

func TestSQLite_SetUnitRank_Once(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term := seedTerm(t, st, "Lavender")
	unit, err := st.CreateUnit(ctx, term.ID, 0)
	require.NoError(t, err)

	require.NoError(t, st.SetUnitRank(ctx, unit.ID, 1))
	err = st.SetUnitRank(ctx, unit.ID, 2)
	require.Error(t, err)

	got, err := st.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Rank)
	assert.Equal(t, int64(1), *got.Rank)
}

func TestSQLite_MaxRank(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	max, err := st.MaxRank(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	termA := seedTerm(t, st, "Lavender")
	termB := seedTerm(t, st, "Rosemary")
	unitA, err := st.CreateUnit(ctx, termA.ID, 0)
	require.NoError(t, err)
	unitB, err := st.CreateUnit(ctx, termB.ID, 0)
	require.NoError(t, err)

	require.NoError(t, st.SetUnitRank(ctx, unitA.ID, 1))
	require.NoError(t, st.SetUnitRank(ctx, unitB.ID, 2))

	max, err = st.MaxRank(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), max)
}

func TestSQLite_ListUnits_StatusFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	termA := seedTerm(t, st, "Lavender")
	termB := seedTerm(t, st, "Rosemary")
	unitA, err := st.CreateUnit(ctx, termA.ID, 0)
	require.NoError(t, err)
	_, err = st.CreateUnit(ctx, termB.ID, 0)
	require.NoError(t, err)

	require.NoError(t, st.UpdateUnitStatus(ctx, unitA.ID, model.StageDone, ""))

	pending, err := st.ListUnits(ctx, UnitFilter{TermStatus: model.StagePending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, termB.ID, pending[0].TermID)
}

func TestSQLite_ItemsAttachToUnit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term := seedTerm(t, st, "Lavender")
	unit, err := st.CreateUnit(ctx, term.ID, 0)
	require.NoError(t, err)

	itemA, err := st.CreateItem(ctx, unit.ID, 101)
	require.NoError(t, err)
	_, err = st.CreateItem(ctx, unit.ID, 102)
	require.NoError(t, err)

	require.NoError(t, st.UpdateItemStatus(ctx, itemA.ID, model.StageDone, ""))

	got, err := st.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.False(t, got.AllItemsDone())
	assert.Len(t, got.UndoneItems(), 1)
}

// --- Compiled ingredients ---

func TestSQLite_UpsertCompiled_FindBySignals(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term := &model.CanonicalTerm{
		Term:             "Lavender",
		RegistryNumber:   "8000-28-0",
		StandardizedName: "LAVANDULA ANGUSTIFOLIA OIL",
	}
	require.NoError(t, st.UpsertCanonicalTerm(ctx, term))

	ing := &model.CompiledIngredient{
		TermID:      term.ID,
		Term:        "Lavender",
		Description: "Aromatic flowering plant in the mint family.",
		Lineage:     model.Lineage{Origin: model.OriginPlant},
		Functions:   []string{"fragrance"},
	}
	require.NoError(t, st.UpsertCompiled(ctx, ing))
	require.NotZero(t, ing.ID)

	byReg, err := st.FindCompiled(ctx, ByRegistryNumber, "8000-28-0")
	require.NoError(t, err)
	require.NotNil(t, byReg)
	assert.Equal(t, "Lavender", byReg.Term)

	byName, err := st.FindCompiled(ctx, ByStandardizedName, "LAVANDULA ANGUSTIFOLIA OIL")
	require.NoError(t, err)
	require.NotNil(t, byName)

	byTerm, err := st.FindCompiled(ctx, ByTerm, "Lavender")
	require.NoError(t, err)
	require.NotNil(t, byTerm)

	missing, err := st.FindCompiled(ctx, ByRegistryNumber, "0000-00-0")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := st.FindCompiled(ctx, ByRegistryNumber, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestSQLite_UpsertCompiled_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	term := seedTerm(t, st, "Lavender")
	ing := &model.CompiledIngredient{TermID: term.ID, Term: "Lavender", Description: "v1"}
	require.NoError(t, st.UpsertCompiled(ctx, ing))
	firstID := ing.ID

	ing.Description = "v2"
	require.NoError(t, st.UpsertCompiled(ctx, ing))
	assert.Equal(t, firstID, ing.ID)

	got, err := st.GetCompiledByTermID(ctx, term.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Description)
}

// --- Vocabulary ---

func TestSQLite_Vocabulary_Dedupe(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddVocabulary(ctx, model.VocabForm, []string{"Oil", "Powder", "Oil", ""}))
	require.NoError(t, st.AddVocabulary(ctx, model.VocabForm, []string{"Powder", "Extract"}))

	forms, err := st.ListVocabulary(ctx, model.VocabForm)
	require.NoError(t, err)
	assert.Equal(t, []string{"Extract", "Oil", "Powder"}, forms)

	variations, err := st.ListVocabulary(ctx, model.VocabVariation)
	require.NoError(t, err)
	assert.Empty(t, variations)
}

// --- Enrichment ---

func TestSQLite_UpsertMatch_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m := &model.EnrichmentMatch{
		TargetType: model.TargetForm,
		TargetID:   42,
		Status:     model.MatchError,
		ErrorText:  "service unavailable",
	}
	require.NoError(t, st.UpsertMatch(ctx, m))
	firstID := m.ID

	m.Status = model.MatchMatched
	m.ExternalID = "ext-7"
	m.ErrorText = ""
	require.NoError(t, st.UpsertMatch(ctx, m))
	assert.Equal(t, firstID, m.ID)

	matched, err := st.ListMatches(ctx, model.TargetForm, model.MatchMatched)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "ext-7", matched[0].ExternalID)

	errored, err := st.ListMatches(ctx, "", model.MatchError)
	require.NoError(t, err)
	assert.Empty(t, errored)
}

func TestSQLite_CacheEntry_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	missing, err := st.GetCacheEntry(ctx, "ext-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	entry := &model.EnrichmentCacheEntry{
		ExternalID: "ext-1",
		Bundle:     model.Attributes{"functions": []any{"emollient"}},
	}
	require.NoError(t, st.PutCacheEntry(ctx, entry))

	got, err := st.GetCacheEntry(ctx, "ext-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEmpty(t, got.Bundle)
	assert.False(t, got.FetchedAt.IsZero())
}

// --- Counts ---

func TestSQLite_Counts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedRecord(t, st, "feed-a", "Lavender Oil", "Lavender", "", "Oil")
	term := seedTerm(t, st, "Lavender")
	unit, err := st.CreateUnit(ctx, term.ID, 0)
	require.NoError(t, err)
	require.NoError(t, st.UpdateUnitStatus(ctx, unit.ID, model.StageDone, ""))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.SourceRecords)
	assert.Equal(t, 1, counts.CanonicalTerms)
	assert.Equal(t, 1, counts.UnitsTotal)
	assert.Equal(t, 1, counts.UnitsDone)
	assert.Equal(t, 0, counts.Orphans)
}
