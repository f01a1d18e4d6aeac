// Package compile drives the two-stage compilation state machine: a
// term stage that produces the compiled ingredient record for one
// canonical term, and an item stage per linked merged form. Progress is
// persisted per stage, so an interrupted run resumes where it stopped.
package compile

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/store"
	"github.com/formulary-group/ingredient-cli/pkg/completion"
)

const (
	defaultModel         = "claude-haiku-4-5-20251001"
	defaultMaxTokens     = 2048
	defaultItemBatchSize = 10
)

// Config controls a compilation run.
type Config struct {
	// Model names the completion model.
	Model string

	// MaxTokens bounds each completion response.
	MaxTokens int64

	// Workers bounds concurrent units in flight. Default 1 (serial).
	Workers int

	// Limit caps how many candidate units one run processes. 0 = all.
	Limit int

	// ItemBatchSize bounds how many undone items one pass processes per
	// unit.
	ItemBatchSize int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ItemBatchSize <= 0 {
		c.ItemBatchSize = defaultItemBatchSize
	}
	return c
}

// Compiler orchestrates compilation units against the completion service.
type Compiler struct {
	store  store.Store
	client completion.Client
	cfg    Config
}

// New creates a compiler.
func New(st store.Store, client completion.Client, cfg Config) *Compiler {
	return &Compiler{store: st, client: client, cfg: cfg.withDefaults()}
}

// SeedStats summarizes unit creation.
type SeedStats struct {
	Units int
	Items int
}

// Seed creates one compilation unit per canonical term and one item row
// per linked merged form. Creation is idempotent: re-seeding after new
// terms appear only adds the missing rows.
func (c *Compiler) Seed(ctx context.Context) (*SeedStats, error) {
	terms, err := c.store.ListCanonicalTerms(ctx)
	if err != nil {
		return nil, err
	}
	forms, err := c.store.ListMergedForms(ctx)
	if err != nil {
		return nil, err
	}

	byTerm := map[int64][]model.MergedItemForm{}
	for _, f := range forms {
		if f.TermID != nil {
			byTerm[*f.TermID] = append(byTerm[*f.TermID], f)
		}
	}

	stats := &SeedStats{}
	for _, t := range terms {
		linked := byTerm[t.ID]
		priority := 0
		for _, f := range linked {
			priority += f.MemberCount
		}

		unit, err := c.store.CreateUnit(ctx, t.ID, priority)
		if err != nil {
			return nil, err
		}
		stats.Units++

		for _, f := range linked {
			if _, err := c.store.CreateItem(ctx, unit.ID, f.ID); err != nil {
				return nil, err
			}
			stats.Items++
		}
	}

	zap.L().Info("compilation units seeded",
		zap.Int("units", stats.Units),
		zap.Int("items", stats.Items),
	)
	return stats, nil
}

// RunStats summarizes one sync compilation run.
type RunStats struct {
	Selected      int
	TermsCompiled int
	TermsResumed  int
	ItemsCompiled int
	Finalized     int
	UnitErrors    int
	ItemErrors    int
}

// Run processes candidate units with a bounded worker pool. The
// candidate list is computed once before dispatch; a unit failure is
// recorded on the unit and does not stop the run.
func (c *Compiler) Run(ctx context.Context) (*RunStats, error) {
	runID := uuid.NewString()

	maxRank, err := c.store.MaxRank(ctx)
	if err != nil {
		return nil, err
	}
	ranks := NewRankCounter(maxRank)

	candidates, err := c.selectCandidates(ctx)
	if err != nil {
		return nil, err
	}
	formsByID, err := c.formIndex(ctx)
	if err != nil {
		return nil, err
	}
	bundles, err := c.termBundles(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		stats RunStats
	)
	stats.Selected = len(candidates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, unit := range candidates {
		unit := unit
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			local, err := c.processUnit(gctx, unit, ranks, formsByID, bundles)
			mu.Lock()
			stats.TermsCompiled += local.TermsCompiled
			stats.TermsResumed += local.TermsResumed
			stats.ItemsCompiled += local.ItemsCompiled
			stats.Finalized += local.Finalized
			stats.UnitErrors += local.UnitErrors
			stats.ItemErrors += local.ItemErrors
			mu.Unlock()
			if err != nil {
				zap.L().Warn("unit failed",
					zap.String("run_id", runID),
					zap.Int64("unit_id", unit.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("compilation run complete",
		zap.String("run_id", runID),
		zap.Int("selected", stats.Selected),
		zap.Int("terms_compiled", stats.TermsCompiled),
		zap.Int("terms_resumed", stats.TermsResumed),
		zap.Int("items_compiled", stats.ItemsCompiled),
		zap.Int("finalized", stats.Finalized),
		zap.Int("unit_errors", stats.UnitErrors),
		zap.Int("item_errors", stats.ItemErrors),
	)
	return &stats, nil
}

// selectCandidates returns the units this run will touch, in priority
// order: units whose term stage is unfinished, plus finished units that
// still have undone items. Units parked in a batch are excluded.
func (c *Compiler) selectCandidates(ctx context.Context) ([]model.CompilationUnit, error) {
	units, err := c.store.ListUnits(ctx, store.UnitFilter{})
	if err != nil {
		return nil, err
	}

	var out []model.CompilationUnit
	for _, u := range units {
		if c.cfg.Limit > 0 && len(out) >= c.cfg.Limit {
			break
		}
		switch u.TermStatus {
		case model.StageBatchPending:
			continue
		case model.StageDone:
			if len(syncUndoneItems(&u)) > 0 {
				out = append(out, u)
			}
		default:
			out = append(out, u)
		}
	}
	return out, nil
}

// syncUndoneItems returns the unit's unfinished items that are not
// parked in a batch.
func syncUndoneItems(u *model.CompilationUnit) []model.CompilationItem {
	var out []model.CompilationItem
	for _, it := range u.UndoneItems() {
		if it.Status != model.StageBatchPending {
			out = append(out, it)
		}
	}
	return out
}

// processUnit runs the term stage if needed, then a bounded batch of
// item stages, then finalization when everything is done.
func (c *Compiler) processUnit(
	ctx context.Context,
	unit model.CompilationUnit,
	ranks *RankCounter,
	formsByID map[int64]model.MergedItemForm,
	bundles map[int64]model.Attributes,
) (RunStats, error) {
	var stats RunStats

	term, err := c.store.GetCanonicalTerm(ctx, unit.TermID)
	if err != nil {
		return stats, err
	}

	if unit.TermStatus != model.StageDone {
		resumed, err := c.runTermStage(ctx, &unit, term, formsByID, bundles[term.ID], ranks)
		if err != nil {
			stats.UnitErrors++
			if serr := c.store.UpdateUnitStatus(ctx, unit.ID, model.StageError, err.Error()); serr != nil {
				return stats, serr
			}
			return stats, err
		}
		if resumed {
			stats.TermsResumed++
		} else {
			stats.TermsCompiled++
		}
	}

	// Refresh to pick up current item statuses before the item pass.
	fresh, err := c.store.GetUnit(ctx, unit.ID)
	if err != nil {
		return stats, err
	}

	undone := syncUndoneItems(fresh)
	if len(undone) > c.cfg.ItemBatchSize {
		undone = undone[:c.cfg.ItemBatchSize]
	}
	for _, item := range undone {
		form, ok := formsByID[item.FormID]
		if !ok {
			stats.ItemErrors++
			if serr := c.store.UpdateItemStatus(ctx, item.ID, model.StageError, fmt.Sprintf("merged form %d missing", item.FormID)); serr != nil {
				return stats, serr
			}
			continue
		}
		if err := c.runItemStage(ctx, term, item, &form); err != nil {
			stats.ItemErrors++
			if serr := c.store.UpdateItemStatus(ctx, item.ID, model.StageError, err.Error()); serr != nil {
				return stats, serr
			}
			continue
		}
		stats.ItemsCompiled++
	}

	// Finalization gate: every item stage must be done.
	fresh, err = c.store.GetUnit(ctx, unit.ID)
	if err != nil {
		return stats, err
	}
	if fresh.TermStatus == model.StageDone && fresh.AllItemsDone() {
		if err := c.finalizeUnit(ctx, term, fresh, formsByID); err != nil {
			// Mark the unit errored so the next run re-picks it. The
			// compiled record already exists, so the retried term stage
			// resumes from the store and only finalization reruns.
			stats.UnitErrors++
			if serr := c.store.UpdateUnitStatus(ctx, unit.ID, model.StageError, err.Error()); serr != nil {
				return stats, serr
			}
			return stats, err
		}
		stats.Finalized++
	}

	return stats, nil
}

// runTermStage produces the compiled record for the unit's term. A
// compiled record matching one of the term's identity signals lets the
// unit resume without a service call. Rank is assigned exactly once, on
// success.
func (c *Compiler) runTermStage(
	ctx context.Context,
	unit *model.CompilationUnit,
	term *model.CanonicalTerm,
	formsByID map[int64]model.MergedItemForm,
	bundle model.Attributes,
	ranks *RankCounter,
) (resumed bool, err error) {
	if err := c.store.UpdateUnitStatus(ctx, unit.ID, model.StageProcessing, ""); err != nil {
		return false, err
	}

	compiled, err := c.findExistingCompiled(ctx, term)
	if err != nil {
		return false, err
	}

	if compiled != nil {
		if compiled.TermID != term.ID {
			// Same identity under a new term id after re-clustering:
			// carry the compiled payload over.
			compiled.ID = 0
			compiled.TermID = term.ID
			if err := c.store.UpsertCompiled(ctx, compiled); err != nil {
				return false, err
			}
		}
		resumed = true
	} else {
		res, err := c.completeTerm(ctx, unit, term, formsByID, bundle)
		if err != nil {
			return false, err
		}
		compiled = &model.CompiledIngredient{
			TermID:      term.ID,
			Term:        res.Term,
			Description: res.Description,
			Lineage:     normalizeLineage(res),
			Functions:   res.Functions,
		}
		if err := c.store.UpsertCompiled(ctx, compiled); err != nil {
			return false, err
		}
	}

	if err := c.store.UpdateUnitStatus(ctx, unit.ID, model.StageDone, ""); err != nil {
		return false, err
	}
	if unit.Rank == nil {
		if err := c.store.SetUnitRank(ctx, unit.ID, ranks.Next()); err != nil {
			return false, err
		}
	}
	return resumed, nil
}

// findExistingCompiled tries the term's identity signals strongest
// first against already-compiled records.
func (c *Compiler) findExistingCompiled(ctx context.Context, term *model.CanonicalTerm) (*model.CompiledIngredient, error) {
	lookups := []struct {
		signal store.CompiledSignal
		value  string
	}{
		{store.ByRegistryNumber, term.RegistryNumber},
		{store.ByStandardizedName, term.StandardizedName},
		{store.ByTerm, term.Term},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		compiled, err := c.store.FindCompiled(ctx, l.signal, l.value)
		if err != nil {
			return nil, err
		}
		if compiled != nil {
			return compiled, nil
		}
	}
	return nil, nil
}

func (c *Compiler) completeTerm(
	ctx context.Context,
	unit *model.CompilationUnit,
	term *model.CanonicalTerm,
	formsByID map[int64]model.MergedItemForm,
	bundle model.Attributes,
) (model.TermResult, error) {
	req, err := c.termRequest(unit, term, formsByID, bundle)
	if err != nil {
		return model.TermResult{}, err
	}

	resp, err := c.client.CreateMessage(ctx, req)
	if err != nil {
		return model.TermResult{}, err
	}
	resp.Usage.LogCost(c.cfg.Model, "term")

	return completion.ParseJSON(resp, validateTermResult)
}

func (c *Compiler) runItemStage(
	ctx context.Context,
	term *model.CanonicalTerm,
	item model.CompilationItem,
	form *model.MergedItemForm,
) error {
	if err := c.store.UpdateItemStatus(ctx, item.ID, model.StageProcessing, ""); err != nil {
		return err
	}

	req, err := c.itemRequest(term, form)
	if err != nil {
		return err
	}

	resp, err := c.client.CreateMessage(ctx, req)
	if err != nil {
		return err
	}
	resp.Usage.LogCost(c.cfg.Model, "item")

	res, err := completion.ParseJSON(resp, validateItemResult)
	if err != nil {
		return err
	}
	if res.FormID != form.ID {
		return eris.Errorf("compile: response form id %d does not match %d", res.FormID, form.ID)
	}

	if err := c.storeItemResult(ctx, term.ID, form, res); err != nil {
		return err
	}
	return c.store.UpdateItemStatus(ctx, item.ID, model.StageDone, "")
}

// storeItemResult folds one item result into the compiled record,
// replacing any previous result for the same form.
func (c *Compiler) storeItemResult(ctx context.Context, termID int64, form *model.MergedItemForm, res model.ItemResult) error {
	compiled, err := c.store.GetCompiledByTermID(ctx, termID)
	if err != nil {
		return err
	}
	if compiled == nil {
		return eris.Errorf("compile: no compiled record for term %d", termID)
	}

	entry := model.CompiledItem{
		FormID:          form.ID,
		DisplayName:     res.DisplayName,
		Variation:       form.Variation,
		Form:            form.Form,
		AttributeGroups: res.AttributeGroups,
	}

	replaced := false
	for i, it := range compiled.Items {
		if it.FormID == form.ID {
			compiled.Items[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		compiled.Items = append(compiled.Items, entry)
	}

	return c.store.UpsertCompiled(ctx, compiled)
}

// finalizeUnit runs once every stage of the unit is done: a best-effort
// taxonomy call, then the shared vocabulary update. Both are idempotent.
func (c *Compiler) finalizeUnit(
	ctx context.Context,
	term *model.CanonicalTerm,
	unit *model.CompilationUnit,
	formsByID map[int64]model.MergedItemForm,
) error {
	compiled, err := c.store.GetCompiledByTermID(ctx, term.ID)
	if err != nil {
		return err
	}
	if compiled == nil {
		return eris.Errorf("compile: finalize without compiled record for term %d", term.ID)
	}

	if len(compiled.Taxonomy) == 0 {
		if tags, err := c.completeTaxonomy(ctx, compiled); err != nil {
			// Taxonomy is supplementary; an empty list is acceptable.
			zap.L().Warn("taxonomy call failed",
				zap.String("term", compiled.Term),
				zap.Error(err),
			)
		} else if len(tags) > 0 {
			compiled.Taxonomy = tags
			if err := c.store.UpsertCompiled(ctx, compiled); err != nil {
				return err
			}
		}
	}

	var forms, variations []string
	for _, it := range unit.Items {
		if f, ok := formsByID[it.FormID]; ok {
			forms = append(forms, f.Form)
			variations = append(variations, f.Variation)
		}
	}
	if err := c.store.AddVocabulary(ctx, model.VocabForm, forms); err != nil {
		return err
	}
	if err := c.store.AddVocabulary(ctx, model.VocabVariation, variations); err != nil {
		return err
	}
	return c.store.AddVocabulary(ctx, model.VocabTaxonomy, compiled.Taxonomy)
}

type taxonomyResult struct {
	Taxonomy []string `json:"taxonomy"`
}

func (c *Compiler) completeTaxonomy(ctx context.Context, compiled *model.CompiledIngredient) ([]string, error) {
	body, err := contextMessage(compiled)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateMessage(ctx, completion.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    completion.CachedSystem(taxonomySystemPrompt),
		Messages:  []completion.Message{{Role: "user", Content: body}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(c.cfg.Model, "taxonomy")

	res, err := completion.ParseJSON[taxonomyResult](resp, nil)
	if err != nil {
		return nil, err
	}
	return res.Taxonomy, nil
}

func (c *Compiler) termRequest(
	unit *model.CompilationUnit,
	term *model.CanonicalTerm,
	formsByID map[int64]model.MergedItemForm,
	bundle model.Attributes,
) (completion.MessageRequest, error) {
	var forms []model.MergedItemForm
	for _, it := range unit.Items {
		if f, ok := formsByID[it.FormID]; ok {
			forms = append(forms, f)
		}
	}

	body, err := contextMessage(buildTermContext(term, forms, bundle))
	if err != nil {
		return completion.MessageRequest{}, err
	}
	return completion.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    completion.CachedSystem(termSystemPrompt),
		Messages:  []completion.Message{{Role: "user", Content: body}},
	}, nil
}

func (c *Compiler) itemRequest(term *model.CanonicalTerm, form *model.MergedItemForm) (completion.MessageRequest, error) {
	body, err := contextMessage(buildItemContext(term, form))
	if err != nil {
		return completion.MessageRequest{}, err
	}
	return completion.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    completion.CachedSystem(itemSystemPrompt),
		Messages:  []completion.Message{{Role: "user", Content: body}},
	}, nil
}

// formIndex loads every merged form keyed by id.
func (c *Compiler) formIndex(ctx context.Context) (map[int64]model.MergedItemForm, error) {
	forms, err := c.store.ListMergedForms(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]model.MergedItemForm, len(forms))
	for _, f := range forms {
		out[f.ID] = f
	}
	return out, nil
}

// termBundles loads cached enrichment bundles for matched terms, keyed
// by canonical term id.
func (c *Compiler) termBundles(ctx context.Context) (map[int64]model.Attributes, error) {
	matches, err := c.store.ListMatches(ctx, model.TargetTerm, model.MatchMatched)
	if err != nil {
		return nil, err
	}

	out := map[int64]model.Attributes{}
	for _, m := range matches {
		entry, err := c.store.GetCacheEntry(ctx, m.ExternalID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out[m.TargetID] = entry.Bundle
		}
	}
	return out, nil
}
