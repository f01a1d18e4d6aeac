// Package store provides the persistence layer for the compilation
// pipeline. Two backends implement the same interface: sqlite (default)
// and postgres.
package store

import (
	"context"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

// ClusterGroup pairs a rebuilt cluster with the ids of its member
// source records.
type ClusterGroup struct {
	Cluster   model.IdentityCluster
	MemberIDs []int64
}

// UnitFilter selects compilation units.
type UnitFilter struct {
	TermStatus model.StageStatus
	BatchID    string
	Limit      int
}

// CompiledSignal selects the identity signal for a compiled-record
// lookup, in the priority order the state machine tries them.
type CompiledSignal string

// Compiled lookup signals.
const (
	ByRegistryNumber   CompiledSignal = "registry_number"
	ByStandardizedName CompiledSignal = "standardized_name"
	ByTerm             CompiledSignal = "term"
)

// StageCounts aggregates per-stage progress for operator output.
type StageCounts struct {
	SourceRecords  int `json:"source_records"`
	Orphans        int `json:"orphans"`
	Clusters       int `json:"clusters"`
	MergedForms    int `json:"merged_forms"`
	CanonicalTerms int `json:"canonical_terms"`
	UnitsTotal     int `json:"units_total"`
	UnitsDone      int `json:"units_done"`
	UnitsError     int `json:"units_error"`
	UnitsBatch     int `json:"units_batch_pending"`
	ItemsTotal     int `json:"items_total"`
	ItemsDone      int `json:"items_done"`
	Compiled       int `json:"compiled"`
	MatchesMatched int `json:"matches_matched"`
	MatchesNoMatch int `json:"matches_no_match"`
	MatchesAmbig   int `json:"matches_ambiguous"`
	MatchesError   int `json:"matches_error"`
	CacheEntries   int `json:"cache_entries"`
	VocabularySize int `json:"vocabulary_size"`
}

// Store defines the persistence interface for the compilation pipeline.
// All writes are idempotent upserts or transactional replaces; no
// method holds a transaction across a network call.
type Store interface {
	// Source records (immutable provenance; only cluster and merged-form
	// linkage are ever updated, via the Replace* operations).
	UpsertSourceRecord(ctx context.Context, rec *model.SourceRecord) error
	ListSourceRecords(ctx context.Context) ([]model.SourceRecord, error)

	// Identity clusters: full transactional replace, never patched.
	ReplaceClusters(ctx context.Context, groups []ClusterGroup) error
	ListClusters(ctx context.Context) ([]model.IdentityCluster, error)

	// Merged item forms: full transactional replace plus record relink.
	ReplaceMergedForms(ctx context.Context, forms []model.MergedItemForm) error
	ListMergedForms(ctx context.Context) ([]model.MergedItemForm, error)
	GetMergedForm(ctx context.Context, id int64) (*model.MergedItemForm, error)
	LinkFormToTerm(ctx context.Context, formID, termID int64) error
	UpdateFormAttributes(ctx context.Context, formID int64, attrs model.Attributes) error

	// Canonical terms.
	UpsertCanonicalTerm(ctx context.Context, term *model.CanonicalTerm) error
	ListCanonicalTerms(ctx context.Context) ([]model.CanonicalTerm, error)
	GetCanonicalTerm(ctx context.Context, id int64) (*model.CanonicalTerm, error)

	// Compilation units and item rows.
	CreateUnit(ctx context.Context, termID int64, priority int) (*model.CompilationUnit, error)
	CreateItem(ctx context.Context, unitID, formID int64) (*model.CompilationItem, error)
	ListUnits(ctx context.Context, filter UnitFilter) ([]model.CompilationUnit, error)
	GetUnit(ctx context.Context, id int64) (*model.CompilationUnit, error)
	UpdateUnitStatus(ctx context.Context, unitID int64, status model.StageStatus, errText string) error
	UpdateUnitBatch(ctx context.Context, unitID int64, batchID string) error
	SetUnitRank(ctx context.Context, unitID int64, rank int64) error
	UpdateItemStatus(ctx context.Context, itemID int64, status model.StageStatus, errText string) error
	UpdateItemBatch(ctx context.Context, itemID int64, batchID string) error
	MaxRank(ctx context.Context) (int64, error)

	// Compiled ingredients.
	UpsertCompiled(ctx context.Context, ing *model.CompiledIngredient) error
	FindCompiled(ctx context.Context, signal CompiledSignal, value string) (*model.CompiledIngredient, error)
	GetCompiledByTermID(ctx context.Context, termID int64) (*model.CompiledIngredient, error)

	// Shared controlled vocabulary.
	AddVocabulary(ctx context.Context, kind string, values []string) error
	ListVocabulary(ctx context.Context, kind string) ([]string, error)

	// Enrichment matches and cache.
	UpsertMatch(ctx context.Context, m *model.EnrichmentMatch) error
	ListMatches(ctx context.Context, targetType string, status model.MatchStatus) ([]model.EnrichmentMatch, error)
	GetCacheEntry(ctx context.Context, externalID string) (*model.EnrichmentCacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *model.EnrichmentCacheEntry) error

	// Operator-facing aggregates.
	Counts(ctx context.Context) (*StageCounts, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
