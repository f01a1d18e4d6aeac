package feed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// memFeed feeds records straight from memory, for Ingest tests.
type memFeed struct {
	label   string
	records []RawRecord
}

func (m *memFeed) Label() string { return m.label }

func (m *memFeed) Records(context.Context) ([]RawRecord, error) {
	return m.records, nil
}

func TestRowToRecord_MapsAliasedColumns(t *testing.T) {
	headers := []string{"Ingredient Name", "CAS Numbers", "EC Number", "INCI", "Composite", "Color"}
	cells := []string{"Lavender Oil", "8000-28-0; 90063-37-9", "289-995-2", "Lavandula Angustifolia Oil", "yes", "pale yellow"}

	rec := rowToRecord(headers, cells)

	assert.Equal(t, "Lavender Oil", rec.RawName)
	assert.Equal(t, []string{"8000-28-0", "90063-37-9"}, rec.RegistryNumbers)
	assert.Equal(t, "289-995-2", rec.SecondaryNumber)
	assert.Equal(t, "Lavandula Angustifolia Oil", rec.StandardizedName)
	assert.True(t, rec.Composite)
	assert.Equal(t, "pale yellow", rec.Attributes["color"])
}

func TestRowToRecord_ShortRowAndBlankCells(t *testing.T) {
	headers := []string{"Name", "CAS", "INCI"}
	rec := rowToRecord(headers, []string{"Rose Water", ""})

	assert.Equal(t, "Rose Water", rec.RawName)
	assert.Empty(t, rec.RegistryNumbers)
	assert.Empty(t, rec.StandardizedName)
	assert.Nil(t, rec.Attributes)
}

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Name":            "raw_name",
		" ingredient ":    "raw_name",
		"CAS-Number":      "registry_numbers",
		"Registry Number": "registry_numbers",
		"INCI Name":       "standardized_name",
		"Mixture":         "composite",
		"Color":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeHeader(in), in)
	}
}

func TestSplitMulti(t *testing.T) {
	assert.Equal(t, []string{"8000-28-0", "90063-37-9"}, splitMulti("8000-28-0;90063-37-9"))
	assert.Equal(t, []string{"8000-28-0", "90063-37-9"}, splitMulti(" 8000-28-0 | 90063-37-9 "))
	assert.Nil(t, splitMulti(" ; "))
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "TRUE", "Yes", "y", "x"} {
		assert.True(t, isTruthy(v), v)
	}
	for _, v := range []string{"", "0", "no", "false", "n/a"} {
		assert.False(t, isTruthy(v), v)
	}
}

func TestIngest_ParsesAndStoresRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := &memFeed{
		label: "acme",
		records: []RawRecord{
			{
				RawName:          "Lavandula angustifolia (Lavender) Oil",
				RegistryNumbers:  []string{"8000-28-0"},
				StandardizedName: "Lavandula Angustifolia Oil",
			},
			{RawName: "Powder"},
			{RawName: "   "},
		},
	}

	stats, err := Ingest(ctx, st, f)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 1, stats.Parsed)
	assert.Equal(t, 1, stats.Orphans)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "acme", records[0].SourceLabel)
	assert.Equal(t, []string{"8000-28-0"}, records[0].RegistryNumbers)
	assert.NotEmpty(t, records[0].Term)
}

func TestIngest_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := &memFeed{
		label: "acme",
		records: []RawRecord{
			{RawName: "Jojoba Oil"},
		},
	}

	_, err := Ingest(ctx, st, f)
	require.NoError(t, err)
	_, err = Ingest(ctx, st, f)
	require.NoError(t, err)

	records, err := st.ListSourceRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
