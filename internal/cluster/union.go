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

// RebuildUnioned recomputes clusters by unioning records that share ANY
// of: registry number, secondary number, standardized name, botanical
// key. Used when cross-referencing catalogs that carry several
// identifier types per record; the priority cascade in Rebuild is too
// conservative there.
func (e *Engine) RebuildUnioned(ctx context.Context) (*Stats, error) {
	records, err := e.store.ListSourceRecords(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "cluster: load corpus")
	}

	stats := &Stats{Records: len(records)}
	uf := newUnionFind(len(records))
	owner := make(map[string]int)

	for i := range records {
		rec := &records[i]
		if rec.ParseStatus != model.ParseOK {
			stats.Skipped++
			continue
		}
		if rec.Composite {
			continue
		}
		for _, sig := range unionSignals(rec) {
			if prev, ok := owner[sig]; ok {
				uf.union(prev, i)
			} else {
				owner[sig] = i
			}
		}
	}

	groups := make(map[int]*grouped)
	for i := range records {
		rec := &records[i]
		if rec.ParseStatus != model.ParseOK {
			continue
		}
		root := uf.find(i)
		g, ok := groups[root]
		if !ok {
			g = &grouped{cluster: model.IdentityCluster{
				Signal:     model.SignalUnion,
				Confidence: confBinomial,
			}}
			groups[root] = g
		}
		g.members = append(g.members, rec)
	}

	roots := make([]int, 0, len(groups))
	for r := range groups {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	out := make([]store.ClusterGroup, 0, len(groups))
	for _, r := range roots {
		g := groups[r]
		if len(g.members) == 1 && g.members[0].Composite {
			g.cluster.Signal = model.SignalSingleton
			g.cluster.Confidence = confSingleton
			g.cluster.Reason = "composite listing kept as singleton"
		}
		g.cluster.CanonicalTerm = canonicalTerm(g.members)
		g.cluster.SampleKeys = sampleKeys(g.members, 5)
		g.cluster.MemberCount = len(g.members)
		g.cluster.Key = unionKey(g.members)
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

	zap.L().Info("cluster: unioned rebuild complete",
		zap.Int("records", stats.Records),
		zap.Int("clusters", stats.Clusters),
		zap.Int("singletons", stats.Singletons),
	)
	return stats, nil
}

// unionSignals enumerates the identity edges one record contributes.
func unionSignals(rec *model.SourceRecord) []string {
	var out []string
	for _, num := range rec.RegistryNumbers {
		out = append(out, "registry:"+num)
	}
	if rec.SecondaryNumber != "" {
		out = append(out, "secondary:"+rec.SecondaryNumber)
	}
	if rec.StandardizedName != "" {
		name := strings.ToUpper(strings.Join(strings.Fields(rec.StandardizedName), " "))
		out = append(out, "name:"+name)
	}
	if key := parser.BinomialKey(rec.Term); key != "" {
		out = append(out, "binomial:"+key)
	}
	return out
}

// unionKey derives a stable cluster key: the strongest signal among
// members, falling back to the lowest member id.
func unionKey(members []*model.SourceRecord) string {
	var nums, names, binomials []string
	for _, m := range members {
		nums = append(nums, m.RegistryNumbers...)
		if m.StandardizedName != "" {
			names = append(names, strings.ToUpper(strings.Join(strings.Fields(m.StandardizedName), " ")))
		}
		if key := parser.BinomialKey(m.Term); key != "" {
			binomials = append(binomials, key)
		}
	}
	if len(nums) > 0 {
		sort.Strings(nums)
		return "union:registry:" + nums[0]
	}
	if len(binomials) > 0 {
		sort.Strings(binomials)
		return "union:binomial:" + binomials[0]
	}
	if len(names) > 0 {
		sort.Strings(names)
		return "union:name:" + names[0]
	}
	return fmt.Sprintf("union:record:%d", members[0].ID)
}

type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
