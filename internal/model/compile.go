package model

import (
	"time"
)

// StageStatus is the lifecycle state of a compilation stage (the term
// stage or one item stage).
type StageStatus string

// Stage statuses.
const (
	StagePending      StageStatus = "pending"
	StageProcessing   StageStatus = "processing"
	StageDone         StageStatus = "done"
	StageError        StageStatus = "error"
	StageBatchPending StageStatus = "batch_pending"
)

// CompilationUnit tracks the compile lifecycle of one canonical term.
// Rank is assigned exactly once, on successful term-stage completion.
type CompilationUnit struct {
	ID         int64       `json:"id" db:"id"`
	TermID     int64       `json:"term_id" db:"term_id"`
	TermStatus StageStatus `json:"term_status" db:"term_status"`
	Priority   int         `json:"priority" db:"priority"`
	Rank       *int64      `json:"rank,omitempty" db:"rank"`
	BatchID    string      `json:"batch_id,omitempty" db:"batch_id"`
	ErrorText  string      `json:"error_text,omitempty" db:"error_text"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`

	Items []CompilationItem `json:"items,omitempty" db:"-"`
}

// CompilationItem tracks the item stage for one linked merged form.
type CompilationItem struct {
	ID        int64       `json:"id" db:"id"`
	UnitID    int64       `json:"unit_id" db:"unit_id"`
	FormID    int64       `json:"form_id" db:"form_id"`
	Status    StageStatus `json:"status" db:"status"`
	BatchID   string      `json:"batch_id,omitempty" db:"batch_id"`
	ErrorText string      `json:"error_text,omitempty" db:"error_text"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// AllItemsDone reports whether every linked item stage has completed.
// Finalization is only permitted when this holds.
func (u *CompilationUnit) AllItemsDone() bool {
	if len(u.Items) == 0 {
		return true
	}
	for _, it := range u.Items {
		if it.Status != StageDone {
			return false
		}
	}
	return true
}

// UndoneItems returns the items whose stage has not completed.
func (u *CompilationUnit) UndoneItems() []CompilationItem {
	var out []CompilationItem
	for _, it := range u.Items {
		if it.Status != StageDone {
			out = append(out, it)
		}
	}
	return out
}

// TermResult is the structured payload the completion service returns
// for a term-stage request.
type TermResult struct {
	Term        string   `json:"term"`
	Description string   `json:"description"`
	Origin      string   `json:"origin"`
	Category    string   `json:"category"`
	Refinement  string   `json:"refinement"`
	Functions   []string `json:"functions,omitempty"`
}

// ItemResult is the structured payload for one item-stage request.
type ItemResult struct {
	FormID          int64               `json:"form_id"`
	DisplayName     string              `json:"display_name"`
	AttributeGroups map[string][]string `json:"attribute_groups,omitempty"`
}

// CompiledIngredient is the authoritative compiled record for one term.
type CompiledIngredient struct {
	ID          int64          `json:"id" db:"id"`
	TermID      int64          `json:"term_id" db:"term_id"`
	Term        string         `json:"term" db:"term"`
	Description string         `json:"description,omitempty" db:"description"`
	Lineage     Lineage        `json:"lineage" db:"lineage"`
	Functions   []string       `json:"functions,omitempty" db:"functions"`
	Taxonomy    []string       `json:"taxonomy,omitempty" db:"taxonomy"`
	Items       []CompiledItem `json:"items,omitempty" db:"items"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// CompiledItem is one purchasable item form inside a compiled ingredient.
type CompiledItem struct {
	FormID          int64               `json:"form_id"`
	DisplayName     string              `json:"display_name"`
	Variation       string              `json:"variation,omitempty"`
	Form            string              `json:"form,omitempty"`
	AttributeGroups map[string][]string `json:"attribute_groups,omitempty"`
}

// Vocabulary kinds tracked in the shared controlled vocabulary.
const (
	VocabForm      = "form"
	VocabVariation = "variation"
	VocabTaxonomy  = "taxonomy"
)
