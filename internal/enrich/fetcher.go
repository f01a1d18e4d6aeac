package enrich

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/resilience"
	"github.com/formulary-group/ingredient-cli/internal/store"
	"github.com/formulary-group/ingredient-cli/pkg/registry"
)

// FetchStats summarizes one bundle-fetch run.
type FetchStats struct {
	MatchedIDs int
	Cached     int
	Fetched    int
}

// Fetcher pulls attribute bundles for matched external ids into the
// enrichment cache. Each unique id is fetched at most once per run;
// ids already cached are skipped entirely.
type Fetcher struct {
	store    store.Store
	registry registry.Client
	cfg      Config
}

// NewFetcher creates a fetcher over the given store and registry client.
func NewFetcher(st store.Store, reg registry.Client, cfg Config) *Fetcher {
	return &Fetcher{store: st, registry: reg, cfg: cfg}
}

// Run fetches bundles for every matched external id not yet cached,
// using the registry's batched multi-id endpoint.
func (f *Fetcher) Run(ctx context.Context) (*FetchStats, error) {
	ids, err := f.uniqueMatchedIDs(ctx)
	if err != nil {
		return nil, err
	}

	stats := &FetchStats{MatchedIDs: len(ids)}

	var missing []string
	for _, id := range ids {
		entry, err := f.store.GetCacheEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			stats.Cached++
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		zap.L().Info("enrichment fetch complete",
			zap.Int("matched_ids", stats.MatchedIDs),
			zap.Int("cached", stats.Cached),
			zap.Int("fetched", 0),
		)
		return stats, nil
	}

	bundles, err := resilience.DoVal(ctx, f.cfg.Retry, func(ctx context.Context) (map[string]registry.Bundle, error) {
		return f.registry.FetchBundles(ctx, missing)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, id := range missing {
		bundle, ok := bundles[id]
		if !ok {
			// The registry no longer knows this id; leave it uncached so
			// a later run can observe a restored record.
			zap.L().Warn("matched id missing from registry", zap.String("external_id", id))
			continue
		}
		entry := &model.EnrichmentCacheEntry{
			ExternalID: id,
			Bundle:     model.Attributes(bundle),
			FetchedAt:  now,
		}
		if err := f.store.PutCacheEntry(ctx, entry); err != nil {
			return nil, err
		}
		stats.Fetched++
	}

	zap.L().Info("enrichment fetch complete",
		zap.Int("matched_ids", stats.MatchedIDs),
		zap.Int("cached", stats.Cached),
		zap.Int("fetched", stats.Fetched),
	)
	return stats, nil
}

// uniqueMatchedIDs returns the sorted distinct external ids across all
// matched rows for both target types.
func (f *Fetcher) uniqueMatchedIDs(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	for _, targetType := range []string{model.TargetForm, model.TargetTerm} {
		rows, err := f.store.ListMatches(ctx, targetType, model.MatchMatched)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if r.ExternalID != "" {
				seen[r.ExternalID] = true
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
