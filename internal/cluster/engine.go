// Package cluster resolves which source records refer to the same
// real-world substance. Clusters are rebuilt from scratch on every run
// so the same corpus always yields the same assignments.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/parser"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

// DefaultFamilyThreshold is the distinct-term count at which a registry
// number is treated as a family identifier and excluded from keying.
const DefaultFamilyThreshold = 5

// Config tunes the clustering passes.
type Config struct {
	FamilyThreshold int `yaml:"family_threshold" mapstructure:"family_threshold"`
}

// Engine builds identity clusters over the ingested corpus.
type Engine struct {
	store store.Store
	cfg   Config
}

// New creates a clustering engine.
func New(st store.Store, cfg Config) *Engine {
	if cfg.FamilyThreshold <= 0 {
		cfg.FamilyThreshold = DefaultFamilyThreshold
	}
	return &Engine{store: st, cfg: cfg}
}

// Stats summarizes one clustering run.
type Stats struct {
	Records       int
	Clusters      int
	Singletons    int
	FamilyNumbers int
	Skipped       int
}

// Signal confidences, strongest first. A registry-number key with a
// corroborating standardized name gets the boosted score.
const (
	confRegistryBoosted = 0.99
	confRegistry        = 0.95
	confBinomial        = 0.85
	confStandardized    = 0.70
	confTerm            = 0.50
	confSingleton       = 0.60
)

type grouped struct {
	cluster model.IdentityCluster
	members []*model.SourceRecord
}

// Rebuild recomputes all identity clusters from the current corpus and
// swaps them in transactionally. Orphaned records are left unassigned.
func (e *Engine) Rebuild(ctx context.Context) (*Stats, error) {
	records, err := e.store.ListSourceRecords(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "cluster: load corpus")
	}

	family := familyNumbers(records, e.cfg.FamilyThreshold)
	if len(family) > 0 {
		zap.L().Info("cluster: family registry numbers excluded",
			zap.Int("count", len(family)),
		)
	}

	stats := &Stats{Records: len(records), FamilyNumbers: len(family)}
	groups := make(map[string]*grouped)

	for i := range records {
		rec := &records[i]
		if rec.ParseStatus != model.ParseOK {
			stats.Skipped++
			continue
		}

		key, signal, conf, reason := e.keyFor(rec, family)
		g, ok := groups[key]
		if !ok {
			g = &grouped{cluster: model.IdentityCluster{
				Key:        key,
				Signal:     signal,
				Confidence: conf,
				Reason:     reason,
			}}
			groups[key] = g
		}
		if conf > g.cluster.Confidence {
			g.cluster.Confidence = conf
		}
		g.members = append(g.members, rec)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]store.ClusterGroup, 0, len(groups))
	for _, k := range keys {
		g := groups[k]
		g.cluster.CanonicalTerm = canonicalTerm(g.members)
		g.cluster.SampleKeys = sampleKeys(g.members, 5)
		g.cluster.MemberCount = len(g.members)
		if len(g.members) == 1 {
			stats.Singletons++
		}

		memberIDs := make([]int64, 0, len(g.members))
		for _, m := range g.members {
			memberIDs = append(memberIDs, m.ID)
		}
		out = append(out, store.ClusterGroup{Cluster: g.cluster, MemberIDs: memberIDs})
	}

	disambiguate(out)

	if err := e.store.ReplaceClusters(ctx, out); err != nil {
		return nil, eris.Wrap(err, "cluster: replace")
	}
	stats.Clusters = len(out)

	zap.L().Info("cluster: rebuild complete",
		zap.Int("records", stats.Records),
		zap.Int("clusters", stats.Clusters),
		zap.Int("singletons", stats.Singletons),
		zap.Int("family_numbers", stats.FamilyNumbers),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// keyFor picks the cluster key for one record. First hit wins:
// single non-family registry number, botanical binomial, standardized
// name, normalized term. Composite listings never merge.
func (e *Engine) keyFor(rec *model.SourceRecord, family map[string]bool) (string, model.SignalType, float64, string) {
	if rec.Composite {
		return fmt.Sprintf("singleton:%d", rec.ID), model.SignalSingleton,
			confSingleton, "composite listing kept as singleton"
	}

	familyHit := ""
	if len(rec.RegistryNumbers) == 1 {
		num := rec.RegistryNumbers[0]
		if !family[num] {
			conf := confRegistry
			if rec.StandardizedName != "" {
				conf = confRegistryBoosted
			}
			return "registry:" + num, model.SignalRegistryNumber, conf, ""
		}
		familyHit = num
	}

	if key := parser.BinomialKey(rec.Term); key != "" {
		return "binomial:" + key, model.SignalBinomial, confBinomial,
			familyReason(familyHit)
	}

	if rec.StandardizedName != "" {
		name := strings.ToUpper(strings.Join(strings.Fields(rec.StandardizedName), " "))
		return "name:" + name, model.SignalStandardizedName, confStandardized,
			familyReason(familyHit)
	}

	return "term:" + parser.Normalize(rec.Term), model.SignalTerm, confTerm,
		familyReason(familyHit)
}

func familyReason(num string) string {
	if num == "" {
		return ""
	}
	return fmt.Sprintf("registry number %s is a family identifier, fell back to weaker signal", num)
}

// familyNumbers counts distinct normalized terms per registry number
// across the whole corpus. Numbers reaching the threshold identify
// substance families (polymer grades, cellulose derivatives) and must
// not key clusters.
func familyNumbers(records []model.SourceRecord, threshold int) map[string]bool {
	terms := make(map[string]map[string]bool)
	for i := range records {
		rec := &records[i]
		if rec.ParseStatus != model.ParseOK {
			continue
		}
		norm := parser.Normalize(rec.Term)
		for _, num := range rec.RegistryNumbers {
			if terms[num] == nil {
				terms[num] = make(map[string]bool)
			}
			terms[num][norm] = true
		}
	}

	family := make(map[string]bool)
	for num, set := range terms {
		if len(set) >= threshold {
			family[num] = true
		}
	}
	return family
}

// canonicalTerm picks the most frequent member display term, breaking
// ties by shortest string then lexicographic order.
func canonicalTerm(members []*model.SourceRecord) string {
	freq := make(map[string]int)
	for _, m := range members {
		if m.Term != "" {
			freq[m.Term]++
		}
	}
	best := ""
	bestCount := 0
	for term, count := range freq {
		if best == "" || count > bestCount ||
			(count == bestCount && (len(term) < len(best) ||
				(len(term) == len(best) && term < best))) {
			best = term
			bestCount = count
		}
	}
	return best
}

func sampleKeys(members []*model.SourceRecord, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range members {
		if len(out) >= limit {
			break
		}
		if m.RawName != "" && !seen[m.RawName] {
			seen[m.RawName] = true
			out = append(out, m.RawName)
		}
	}
	return out
}

// disambiguate resolves display-term collisions between clusters with
// different underlying identities: the larger cluster keeps the bare
// term, the others get a parenthesized qualifier from their key.
func disambiguate(groups []store.ClusterGroup) {
	byTerm := make(map[string][]int)
	for i := range groups {
		term := groups[i].Cluster.CanonicalTerm
		if term != "" {
			byTerm[term] = append(byTerm[term], i)
		}
	}

	for _, idxs := range byTerm {
		if len(idxs) < 2 {
			continue
		}
		sort.Slice(idxs, func(a, b int) bool {
			ga, gb := groups[idxs[a]], groups[idxs[b]]
			if ga.Cluster.MemberCount != gb.Cluster.MemberCount {
				return ga.Cluster.MemberCount > gb.Cluster.MemberCount
			}
			return ga.Cluster.Key < gb.Cluster.Key
		})
		for _, idx := range idxs[1:] {
			c := &groups[idx].Cluster
			c.CanonicalTerm = fmt.Sprintf("%s (%s)", c.CanonicalTerm, qualifier(c.Key))
		}
	}
}

// qualifier extracts a short human identity hint from a cluster key.
func qualifier(key string) string {
	_, value, found := strings.Cut(key, ":")
	if !found {
		return key
	}
	return parser.Title(value)
}
