package compile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/store"
	"github.com/formulary-group/ingredient-cli/pkg/completion"
)

// Correlation key prefixes for batch custom ids.
const (
	unitKeyPrefix = "unit:"
	itemKeyPrefix = "item:"
)

// BatchStats summarizes a batch submission.
type BatchStats struct {
	BatchID  string
	Units    int
	Items    int
	Requests int
}

// batchLine is one exported jsonl request.
type batchLine struct {
	CustomID string                    `json:"custom_id"`
	Params   completion.MessageRequest `json:"params"`
}

// SubmitBatch exports the current candidate set as one completion
// batch: term-stage requests for unfinished units, item-stage requests
// for finished units with undone items. Everything submitted is marked
// batch_pending so sync runs skip it until the batch is collected. When
// exportPath is non-empty the request set is also written as jsonl.
func (c *Compiler) SubmitBatch(ctx context.Context, exportPath string) (*BatchStats, error) {
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

	stats := &BatchStats{}
	var lines []batchLine
	var unitIDs, itemIDs []int64

	for _, unit := range candidates {
		unit := unit
		term, err := c.store.GetCanonicalTerm(ctx, unit.TermID)
		if err != nil {
			return nil, err
		}

		if unit.TermStatus != model.StageDone {
			req, err := c.termRequest(&unit, term, formsByID, bundles[term.ID])
			if err != nil {
				return nil, err
			}
			lines = append(lines, batchLine{CustomID: unitKey(unit.ID), Params: req})
			unitIDs = append(unitIDs, unit.ID)
			stats.Units++
			continue
		}

		for _, item := range syncUndoneItems(&unit) {
			form, ok := formsByID[item.FormID]
			if !ok {
				continue
			}
			req, err := c.itemRequest(term, &form)
			if err != nil {
				return nil, err
			}
			lines = append(lines, batchLine{CustomID: itemKey(item.ID), Params: req})
			itemIDs = append(itemIDs, item.ID)
			stats.Items++
		}
	}

	stats.Requests = len(lines)
	if stats.Requests == 0 {
		zap.L().Info("no batch candidates")
		return stats, nil
	}

	if exportPath != "" {
		if err := writeBatchExport(exportPath, lines); err != nil {
			return nil, err
		}
	}

	req := completion.BatchRequest{Requests: make([]completion.BatchRequestItem, len(lines))}
	for i, l := range lines {
		req.Requests[i] = completion.BatchRequestItem{CustomID: l.CustomID, Params: l.Params}
	}
	batch, err := c.client.CreateBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	stats.BatchID = batch.ID

	for _, id := range unitIDs {
		if err := c.store.UpdateUnitBatch(ctx, id, batch.ID); err != nil {
			return nil, err
		}
		if err := c.store.UpdateUnitStatus(ctx, id, model.StageBatchPending, ""); err != nil {
			return nil, err
		}
	}
	for _, id := range itemIDs {
		if err := c.store.UpdateItemBatch(ctx, id, batch.ID); err != nil {
			return nil, err
		}
		if err := c.store.UpdateItemStatus(ctx, id, model.StageBatchPending, ""); err != nil {
			return nil, err
		}
	}

	zap.L().Info("batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("units", stats.Units),
		zap.Int("items", stats.Items),
	)
	return stats, nil
}

// PollBatch waits for the batch to end.
func (c *Compiler) PollBatch(ctx context.Context, batchID string) (*completion.BatchResponse, error) {
	return completion.PollBatch(ctx, c.client, batchID)
}

// CollectStats summarizes applying one batch's results.
type CollectStats struct {
	TermsCompiled int
	ItemsCompiled int
	Finalized     int
	UnitErrors    int
	ItemErrors    int
}

// CollectBatch streams the batch's results and applies them through the
// same transition path as the sync run. Failed or missing requests land
// in error status; finalization runs for every unit the batch touched
// whose stages are now all done.
func (c *Compiler) CollectBatch(ctx context.Context, batchID string) (*CollectStats, error) {
	iter, err := c.client.GetBatchResults(ctx, batchID)
	if err != nil {
		return nil, err
	}
	collected, err := completion.CollectBatchResults(iter)
	if err != nil {
		return nil, err
	}

	maxRank, err := c.store.MaxRank(ctx)
	if err != nil {
		return nil, err
	}
	ranks := NewRankCounter(maxRank)

	formsByID, err := c.formIndex(ctx)
	if err != nil {
		return nil, err
	}

	stats := &CollectStats{}
	touched := map[int64]bool{}

	// Pending rows for this batch, whether or not the service returned a
	// result for them: a missing result is a failure too. Units carrying
	// only item requests keep their own batch id empty, so scan all
	// units and match per row.
	units, err := c.store.ListUnits(ctx, store.UnitFilter{})
	if err != nil {
		return nil, err
	}
	for _, unit := range units {
		unit := unit
		if unit.TermStatus == model.StageBatchPending && unit.BatchID == batchID {
			touched[unit.ID] = true
			if err := c.applyUnitResult(ctx, &unit, collected.Succeeded[unitKey(unit.ID)], ranks); err != nil {
				stats.UnitErrors++
				if serr := c.store.UpdateUnitStatus(ctx, unit.ID, model.StageError, err.Error()); serr != nil {
					return nil, serr
				}
				continue
			}
			stats.TermsCompiled++
		}

		for _, item := range unit.Items {
			if item.Status != model.StageBatchPending || item.BatchID != batchID {
				continue
			}
			touched[unit.ID] = true
			term, err := c.store.GetCanonicalTerm(ctx, unit.TermID)
			if err != nil {
				return nil, err
			}
			form, ok := formsByID[item.FormID]
			if !ok {
				stats.ItemErrors++
				if serr := c.store.UpdateItemStatus(ctx, item.ID, model.StageError, fmt.Sprintf("merged form %d missing", item.FormID)); serr != nil {
					return nil, serr
				}
				continue
			}
			if err := c.applyItemResult(ctx, term, item, &form, collected.Succeeded[itemKey(item.ID)]); err != nil {
				stats.ItemErrors++
				if serr := c.store.UpdateItemStatus(ctx, item.ID, model.StageError, err.Error()); serr != nil {
					return nil, serr
				}
				continue
			}
			stats.ItemsCompiled++
		}
	}

	// Finalize every touched unit whose stages are now all done.
	for unitID := range touched {
		fresh, err := c.store.GetUnit(ctx, unitID)
		if err != nil {
			return nil, err
		}
		if fresh.TermStatus != model.StageDone || !fresh.AllItemsDone() {
			continue
		}
		term, err := c.store.GetCanonicalTerm(ctx, fresh.TermID)
		if err != nil {
			return nil, err
		}
		if err := c.finalizeUnit(ctx, term, fresh, formsByID); err != nil {
			// One unit's finalization failure must not strand the rest
			// of the batch. The errored unit is re-picked by the next
			// sync run and resumes from its stored compiled record.
			stats.UnitErrors++
			if serr := c.store.UpdateUnitStatus(ctx, fresh.ID, model.StageError, err.Error()); serr != nil {
				return nil, serr
			}
			continue
		}
		stats.Finalized++
	}

	zap.L().Info("batch collected",
		zap.String("batch_id", batchID),
		zap.Int("terms_compiled", stats.TermsCompiled),
		zap.Int("items_compiled", stats.ItemsCompiled),
		zap.Int("finalized", stats.Finalized),
		zap.Int("unit_errors", stats.UnitErrors),
		zap.Int("item_errors", stats.ItemErrors),
	)
	return stats, nil
}

// applyUnitResult parses one term-stage batch result and persists it
// through the same path as the sync term stage.
func (c *Compiler) applyUnitResult(ctx context.Context, unit *model.CompilationUnit, resp *completion.MessageResponse, ranks *RankCounter) error {
	if resp == nil {
		return eris.New("compile: batch result missing")
	}

	res, err := completion.ParseJSON(resp, validateTermResult)
	if err != nil {
		return err
	}

	compiled := &model.CompiledIngredient{
		TermID:      unit.TermID,
		Term:        res.Term,
		Description: res.Description,
		Lineage:     normalizeLineage(res),
		Functions:   res.Functions,
	}
	if err := c.store.UpsertCompiled(ctx, compiled); err != nil {
		return err
	}
	if err := c.store.UpdateUnitStatus(ctx, unit.ID, model.StageDone, ""); err != nil {
		return err
	}
	if unit.Rank == nil {
		return c.store.SetUnitRank(ctx, unit.ID, ranks.Next())
	}
	return nil
}

// applyItemResult parses one item-stage batch result and persists it.
func (c *Compiler) applyItemResult(ctx context.Context, term *model.CanonicalTerm, item model.CompilationItem, form *model.MergedItemForm, resp *completion.MessageResponse) error {
	if resp == nil {
		return eris.New("compile: batch result missing")
	}

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

func writeBatchExport(path string, lines []batchLine) error {
	var sb strings.Builder
	for _, l := range lines {
		body, err := json.Marshal(l)
		if err != nil {
			return eris.Wrap(err, "compile: marshal batch line")
		}
		sb.Write(body)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return eris.Wrap(err, "compile: write batch export")
	}
	return nil
}

func unitKey(id int64) string {
	return unitKeyPrefix + strconv.FormatInt(id, 10)
}

func itemKey(id int64) string {
	return itemKeyPrefix + strconv.FormatInt(id, 10)
}
