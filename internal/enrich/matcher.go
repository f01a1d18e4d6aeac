// Package enrich resolves merged item forms and canonical terms against
// the external identity registry and applies fetched attribute bundles
// via fill-only merge. Matching is strict: a target is matched only when
// exactly one external id resolved for it.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/parser"
	"github.com/formulary-group/ingredient-cli/internal/resilience"
	"github.com/formulary-group/ingredient-cli/internal/store"
	"github.com/formulary-group/ingredient-cli/pkg/registry"
)

// Matching methods, strongest identifier first.
const (
	MethodRegistryNumber   = "registry_number"
	MethodStandardizedName = "standardized_name"
	MethodBotanicalName    = "botanical_name"
	MethodTerm             = "term"
)

// methodConfidence scores how trustworthy each identifier kind is.
var methodConfidence = map[string]float64{
	MethodRegistryNumber:   0.98,
	MethodStandardizedName: 0.90,
	MethodBotanicalName:    0.85,
	MethodTerm:             0.70,
}

// Config controls the enrichment run.
type Config struct {
	// Workers bounds concurrent registry lookups. Default 1.
	Workers int

	// Retry governs transient-failure retries per registry call.
	Retry resilience.RetryConfig
}

// MatchStats summarizes one matching run.
type MatchStats struct {
	Attempted int
	Matched   int
	NoMatch   int
	Ambiguous int
	Errors    int
}

// Matcher resolves targets to external registry ids.
type Matcher struct {
	store    store.Store
	registry registry.Client
	cfg      Config
}

// NewMatcher creates a matcher over the given store and registry client.
func NewMatcher(st store.Store, reg registry.Client, cfg Config) *Matcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Matcher{store: st, registry: reg, cfg: cfg}
}

// target is one entity to match, with its identifier candidates in
// priority order.
type target struct {
	targetType  string
	targetID    int64
	identifiers []identifier
}

type identifier struct {
	method string
	value  string
}

// Run matches every merged form and canonical term that has no match row
// yet. The target list is computed once before dispatch; each worker
// owns one target per iteration.
func (m *Matcher) Run(ctx context.Context) (*MatchStats, error) {
	targets, err := m.collectTargets(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		stats MatchStats
	)
	stats.Attempted = len(targets)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			match := m.matchOne(gctx, t)
			if err := m.store.UpsertMatch(gctx, match); err != nil {
				return err
			}
			mu.Lock()
			switch match.Status {
			case model.MatchMatched:
				stats.Matched++
			case model.MatchNoMatch:
				stats.NoMatch++
			case model.MatchAmbiguous:
				stats.Ambiguous++
			case model.MatchError:
				stats.Errors++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("enrichment matching complete",
		zap.Int("attempted", stats.Attempted),
		zap.Int("matched", stats.Matched),
		zap.Int("no_match", stats.NoMatch),
		zap.Int("ambiguous", stats.Ambiguous),
		zap.Int("errors", stats.Errors),
	)
	return &stats, nil
}

// matchOne tries each identifier in priority order. The first identifier
// that resolves decides the outcome: one candidate is a match, several
// are ambiguous. A transient registry failure after bounded retries is
// recorded as an error status, never as a negative result.
func (m *Matcher) matchOne(ctx context.Context, t target) *model.EnrichmentMatch {
	match := &model.EnrichmentMatch{
		TargetType: t.targetType,
		TargetID:   t.targetID,
		Status:     model.MatchNoMatch,
	}

	for _, id := range t.identifiers {
		ids, err := resilience.DoVal(ctx, m.cfg.Retry, func(ctx context.Context) ([]string, error) {
			return m.registry.Resolve(ctx, id.value)
		})
		if err != nil {
			match.Status = model.MatchError
			match.ErrorText = fmt.Sprintf("resolve %s %q: %v", id.method, id.value, err)
			return match
		}

		switch len(ids) {
		case 0:
			continue
		case 1:
			match.Status = model.MatchMatched
			match.ExternalID = ids[0]
			match.Method = id.method
			match.Confidence = methodConfidence[id.method]
			return match
		default:
			match.Status = model.MatchAmbiguous
			match.Method = id.method
			match.Candidates = ids
			return match
		}
	}
	return match
}

// collectTargets builds the candidate list: all merged forms and
// canonical terms without an existing match row, ordered by id for a
// deterministic dispatch order.
func (m *Matcher) collectTargets(ctx context.Context) ([]target, error) {
	done, err := m.matchedIDs(ctx)
	if err != nil {
		return nil, err
	}

	var targets []target

	forms, err := m.store.ListMergedForms(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range forms {
		if done[model.TargetForm][f.ID] {
			continue
		}
		targets = append(targets, target{
			targetType:  model.TargetForm,
			targetID:    f.ID,
			identifiers: formIdentifiers(f),
		})
	}

	terms, err := m.store.ListCanonicalTerms(ctx)
	if err != nil {
		return nil, err
	}
	for _, ct := range terms {
		if done[model.TargetTerm][ct.ID] {
			continue
		}
		targets = append(targets, target{
			targetType:  model.TargetTerm,
			targetID:    ct.ID,
			identifiers: termIdentifiers(ct),
		})
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].targetType != targets[j].targetType {
			return targets[i].targetType < targets[j].targetType
		}
		return targets[i].targetID < targets[j].targetID
	})
	return targets, nil
}

// matchedIDs returns target ids that already have a terminal match row.
// Error rows are excluded so failed targets are re-attempted next run.
func (m *Matcher) matchedIDs(ctx context.Context) (map[string]map[int64]bool, error) {
	out := map[string]map[int64]bool{
		model.TargetForm: {},
		model.TargetTerm: {},
	}
	for _, targetType := range []string{model.TargetForm, model.TargetTerm} {
		for _, status := range []model.MatchStatus{model.MatchMatched, model.MatchNoMatch, model.MatchAmbiguous} {
			rows, err := m.store.ListMatches(ctx, targetType, status)
			if err != nil {
				return nil, err
			}
			for _, r := range rows {
				out[targetType][r.TargetID] = true
			}
		}
	}
	return out, nil
}

func formIdentifiers(f model.MergedItemForm) []identifier {
	var out []identifier
	for _, num := range f.RegistryNumbers {
		out = append(out, identifier{method: MethodRegistryNumber, value: num})
	}
	if key := parser.BinomialKey(f.Term); key != "" {
		parts := strings.Fields(key)
		out = append(out, identifier{
			method: MethodBotanicalName,
			value:  parser.BinomialTitle(parts[0], parts[1]),
		})
	}
	if f.Term != "" {
		out = append(out, identifier{method: MethodTerm, value: f.Term})
	}
	return out
}

func termIdentifiers(ct model.CanonicalTerm) []identifier {
	var out []identifier
	if ct.RegistryNumber != "" {
		out = append(out, identifier{method: MethodRegistryNumber, value: ct.RegistryNumber})
	}
	if ct.StandardizedName != "" {
		out = append(out, identifier{method: MethodStandardizedName, value: ct.StandardizedName})
	}
	if ct.BotanicalName != "" {
		out = append(out, identifier{method: MethodBotanicalName, value: ct.BotanicalName})
	}
	if ct.Term != "" {
		out = append(out, identifier{method: MethodTerm, value: ct.Term})
	}
	return out
}
