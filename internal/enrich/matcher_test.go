package enrich

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/resilience"
	"github.com/formulary-group/ingredient-cli/internal/store"
	"github.com/formulary-group/ingredient-cli/pkg/registry"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// fakeRegistry maps identifier strings to resolution results and serves
// bundles from a fixed map, recording every call.
type fakeRegistry struct {
	mu       sync.Mutex
	resolves map[string][]string
	errs     map[string]error
	bundles  map[string]registry.Bundle
	calls    []string
	fetches  int
}

func (f *fakeRegistry) Resolve(_ context.Context, identifier string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, identifier)
	if err := f.errs[identifier]; err != nil {
		return nil, err
	}
	return f.resolves[identifier], nil
}

func (f *fakeRegistry) FetchBundle(ctx context.Context, id string) (registry.Bundle, error) {
	bundles, err := f.FetchBundles(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	b, ok := bundles[id]
	if !ok {
		return nil, resilience.ErrNotFound
	}
	return b, nil
}

func (f *fakeRegistry) FetchBundles(_ context.Context, ids []string) (map[string]registry.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	out := map[string]registry.Bundle{}
	for _, id := range ids {
		if b, ok := f.bundles[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func seedForm(t *testing.T, st store.Store, form model.MergedItemForm) model.MergedItemForm {
	t.Helper()
	ctx := context.Background()
	existing, err := st.ListMergedForms(ctx)
	require.NoError(t, err)
	require.NoError(t, st.ReplaceMergedForms(ctx, append(existing, form)))

	all, err := st.ListMergedForms(ctx)
	require.NoError(t, err)
	for _, f := range all {
		if f.Term == form.Term && f.Variation == form.Variation && f.Form == form.Form {
			return f
		}
	}
	t.Fatalf("seeded form %q not found", form.Term)
	return model.MergedItemForm{}
}

func seedTerm(t *testing.T, st store.Store, term model.CanonicalTerm) model.CanonicalTerm {
	t.Helper()
	require.NoError(t, st.UpsertCanonicalTerm(context.Background(), &term))
	return term
}

func TestMatcher_RegistryNumberMatches(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	form := seedForm(t, st, model.MergedItemForm{
		Term:            "Lavender",
		Form:            "Oil",
		RegistryNumbers: []string{"8000-28-0"},
	})

	reg := &fakeRegistry{resolves: map[string][]string{"8000-28-0": {"EXT-100"}}}
	matcher := NewMatcher(st, reg, Config{})

	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)

	matches, err := st.ListMatches(ctx, model.TargetForm, model.MatchMatched)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, form.ID, matches[0].TargetID)
	assert.Equal(t, "EXT-100", matches[0].ExternalID)
	assert.Equal(t, MethodRegistryNumber, matches[0].Method)
	assert.InDelta(t, 0.98, matches[0].Confidence, 0.001)
}

func TestMatcher_FallsThroughToWeakerIdentifier(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedTerm(t, st, model.CanonicalTerm{
		Term:             "Lavender",
		RegistryNumber:   "8000-28-0",
		StandardizedName: "Lavandula Angustifolia Oil",
	})

	// The registry number misses; the standardized name resolves.
	reg := &fakeRegistry{resolves: map[string][]string{
		"Lavandula Angustifolia Oil": {"EXT-200"},
	}}
	matcher := NewMatcher(st, reg, Config{})

	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, []string{"8000-28-0", "Lavandula Angustifolia Oil"}, reg.calls)

	matches, err := st.ListMatches(ctx, model.TargetTerm, model.MatchMatched)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, MethodStandardizedName, matches[0].Method)
}

func TestMatcher_MultipleCandidatesAmbiguous(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedTerm(t, st, model.CanonicalTerm{Term: "Cellulose"})

	reg := &fakeRegistry{resolves: map[string][]string{
		"Cellulose": {"EXT-1", "EXT-2", "EXT-3"},
	}}
	matcher := NewMatcher(st, reg, Config{})

	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Ambiguous)
	assert.Zero(t, stats.Matched)

	matches, err := st.ListMatches(ctx, model.TargetTerm, model.MatchAmbiguous)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Empty(t, matches[0].ExternalID)
	assert.Equal(t, []string{"EXT-1", "EXT-2", "EXT-3"}, matches[0].Candidates)
}

func TestMatcher_NoCandidatesNoMatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedTerm(t, st, model.CanonicalTerm{Term: "Unobtainium"})

	matcher := NewMatcher(st, &fakeRegistry{}, Config{})
	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NoMatch)
}

func TestMatcher_TransientFailureIsErrorNotNoMatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedTerm(t, st, model.CanonicalTerm{Term: "Lavender"})

	reg := &fakeRegistry{errs: map[string]error{
		"Lavender": errors.New("registry: unexpected status 400"),
	}}
	matcher := NewMatcher(st, reg, Config{})

	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, stats.NoMatch)

	matches, err := st.ListMatches(ctx, model.TargetTerm, model.MatchError)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].ErrorText, "Lavender")
}

func TestMatcher_SecondRunSkipsSettledTargets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedTerm(t, st, model.CanonicalTerm{Term: "Lavender"})

	reg := &fakeRegistry{resolves: map[string][]string{"Lavender": {"EXT-1"}}}
	matcher := NewMatcher(st, reg, Config{})

	_, err := matcher.Run(ctx)
	require.NoError(t, err)

	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Attempted)
	assert.Len(t, reg.calls, 1)
}

func TestMatcher_ErrorRowsRetriedNextRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedTerm(t, st, model.CanonicalTerm{Term: "Lavender"})

	reg := &fakeRegistry{errs: map[string]error{
		"Lavender": errors.New("registry: unexpected status 500"),
	}}
	matcher := NewMatcher(st, reg, Config{})

	_, err := matcher.Run(ctx)
	require.NoError(t, err)

	// The outage clears; the errored target is attempted again.
	reg.mu.Lock()
	reg.errs = nil
	reg.resolves = map[string][]string{"Lavender": {"EXT-1"}}
	reg.mu.Unlock()

	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Attempted)
	assert.Equal(t, 1, stats.Matched)
}

func TestMatcher_FormBotanicalNameBeforeTerm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	form := seedForm(t, st, model.MergedItemForm{
		Term:            "Lavandula Angustifolia",
		Form:            "Oil",
		RegistryNumbers: []string{"8000-28-0"},
	})

	// The number misses; the botanical name derived from the display
	// term resolves before the raw term is tried.
	reg := &fakeRegistry{resolves: map[string][]string{
		"Lavandula angustifolia": {"EXT-300"},
	}}
	matcher := NewMatcher(st, reg, Config{})

	stats, err := matcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, []string{"8000-28-0", "Lavandula angustifolia"}, reg.calls)

	matches, err := st.ListMatches(ctx, model.TargetForm, model.MatchMatched)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, form.ID, matches[0].TargetID)
	assert.Equal(t, MethodBotanicalName, matches[0].Method)
	assert.InDelta(t, 0.85, matches[0].Confidence, 0.001)
}

func TestMatcher_NonBotanicalFormSkipsBotanicalIdentifier(t *testing.T) {
	ids := formIdentifiers(model.MergedItemForm{Term: "Shea Butter"})
	require.Len(t, ids, 1)
	assert.Equal(t, MethodTerm, ids[0].method)
}
