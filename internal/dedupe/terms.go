package dedupe

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/parser"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

// TermStats summarizes one canonical-term rebuild.
type TermStats struct {
	Clusters int
	Terms    int
	Linked   int
	Unlinked int
}

// TermBuilder derives one canonical term per identity cluster and links
// every merged form to the term owning its member records. It runs
// after each merge rebuild: the form replace wipes term links, so the
// link pass always follows it.
type TermBuilder struct {
	store store.Store
}

// NewTermBuilder creates a term builder.
func NewTermBuilder(st store.Store) *TermBuilder {
	return &TermBuilder{store: st}
}

// Rebuild upserts a CanonicalTerm per cluster (keyed by the cluster's
// display term, so re-runs update in place) and relinks merged forms.
func (b *TermBuilder) Rebuild(ctx context.Context) (*TermStats, error) {
	records, err := b.store.ListSourceRecords(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: load corpus")
	}
	clusters, err := b.store.ListClusters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: load clusters")
	}
	forms, err := b.store.ListMergedForms(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: load merged forms")
	}

	clusterByRecord := make(map[int64]int64, len(records))
	membersByCluster := make(map[int64][]*model.SourceRecord)
	for i := range records {
		rec := &records[i]
		if rec.ClusterID == nil {
			continue
		}
		clusterByRecord[rec.ID] = *rec.ClusterID
		membersByCluster[*rec.ClusterID] = append(membersByCluster[*rec.ClusterID], rec)
	}

	stats := &TermStats{Clusters: len(clusters)}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })

	termByCluster := make(map[int64]int64, len(clusters))
	seen := make(map[string]bool)
	for i := range clusters {
		c := &clusters[i]
		if c.CanonicalTerm == "" {
			continue
		}
		ct := deriveTerm(c, membersByCluster[c.ID])
		if err := b.store.UpsertCanonicalTerm(ctx, ct); err != nil {
			return nil, eris.Wrapf(err, "dedupe: upsert term %q", ct.Term)
		}
		termByCluster[c.ID] = ct.ID
		if !seen[ct.Term] {
			seen[ct.Term] = true
			stats.Terms++
		}
	}

	for i := range forms {
		f := &forms[i]
		termID, ok := formTerm(f, clusterByRecord, termByCluster)
		if !ok {
			stats.Unlinked++
			continue
		}
		if err := b.store.LinkFormToTerm(ctx, f.ID, termID); err != nil {
			return nil, eris.Wrapf(err, "dedupe: link form %d", f.ID)
		}
		stats.Linked++
	}

	zap.L().Info("dedupe: terms rebuilt",
		zap.Int("clusters", stats.Clusters),
		zap.Int("terms", stats.Terms),
		zap.Int("forms_linked", stats.Linked),
		zap.Int("forms_unlinked", stats.Unlinked),
	)
	return stats, nil
}

// deriveTerm builds the canonical-term row for one cluster from its
// display term and its members' identity fields.
func deriveTerm(c *model.IdentityCluster, members []*model.SourceRecord) *model.CanonicalTerm {
	ct := &model.CanonicalTerm{
		Term:    c.CanonicalTerm,
		Lineage: majorityLineage(members),
	}

	nums := make(map[string]bool)
	var names []string
	for _, m := range members {
		for _, n := range m.RegistryNumbers {
			nums[n] = true
		}
		if m.StandardizedName != "" {
			names = append(names, m.StandardizedName)
		}
	}
	// A single distinct number across the cluster is authoritative;
	// several distinct numbers mean none is.
	if len(nums) == 1 {
		for n := range nums {
			ct.RegistryNumber = n
		}
	}
	ct.StandardizedName = mostFrequent(names)

	if key := parser.BinomialKey(c.CanonicalTerm); key != "" {
		parts := strings.Fields(key)
		ct.BotanicalName = parser.BinomialTitle(parts[0], parts[1])
	}
	return ct
}

// majorityLineage votes each lineage field independently; empty values
// abstain, and origin/refinement fall back to unknown.
func majorityLineage(members []*model.SourceRecord) model.Lineage {
	var origins, categories, refinements []string
	for _, m := range members {
		if m.Lineage.Origin != "" && m.Lineage.Origin != model.OriginUnknown {
			origins = append(origins, m.Lineage.Origin)
		}
		if m.Lineage.Category != "" {
			categories = append(categories, m.Lineage.Category)
		}
		if m.Lineage.Refinement != "" && m.Lineage.Refinement != model.RefinementUnknown {
			refinements = append(refinements, m.Lineage.Refinement)
		}
	}

	lin := model.Lineage{
		Origin:     mostFrequent(origins),
		Category:   mostFrequent(categories),
		Refinement: mostFrequent(refinements),
	}
	if lin.Origin == "" {
		lin.Origin = model.OriginUnknown
	}
	if lin.Refinement == "" {
		lin.Refinement = model.RefinementUnknown
	}
	return lin
}

// formTerm picks the term owning the majority of a form's member
// records, breaking ties by smaller term id.
func formTerm(f *model.MergedItemForm, clusterByRecord, termByCluster map[int64]int64) (int64, bool) {
	votes := make(map[int64]int)
	for _, recID := range f.MemberIDs {
		cid, ok := clusterByRecord[recID]
		if !ok {
			continue
		}
		tid, ok := termByCluster[cid]
		if !ok {
			continue
		}
		votes[tid]++
	}

	var best int64
	bestCount := 0
	for tid, count := range votes {
		if count > bestCount || (count == bestCount && bestCount > 0 && tid < best) {
			best = tid
			bestCount = count
		}
	}
	return best, bestCount > 0
}

// mostFrequent returns the most common value, breaking ties by the
// shorter then lexicographically smaller string. Empty input yields "".
func mostFrequent(values []string) string {
	freq := make(map[string]int)
	for _, v := range values {
		freq[v]++
	}
	best := ""
	bestCount := 0
	for v, count := range freq {
		if best == "" || count > bestCount ||
			(count == bestCount && (len(v) < len(best) ||
				(len(v) == len(best) && v < best))) {
			best = v
			bestCount = count
		}
	}
	return best
}
