// Package model defines the persisted domain types for the ingredient
// compilation pipeline.
package model

import (
	"time"
)

// ParseStatus classifies the outcome of parsing a raw listing.
type ParseStatus string

// Parse statuses.
const (
	ParseOK     ParseStatus = "ok"
	ParseOrphan ParseStatus = "orphan"
)

// Lineage describes the deduced provenance of an ingredient.
type Lineage struct {
	Origin     string `json:"origin,omitempty" db:"origin"`
	Category   string `json:"category,omitempty" db:"category"`
	Refinement string `json:"refinement,omitempty" db:"refinement"`
}

// Lineage origins.
const (
	OriginPlant        = "plant"
	OriginAnimal       = "animal"
	OriginMineral      = "mineral"
	OriginMarine       = "marine"
	OriginSynthetic    = "synthetic"
	OriginFermentation = "fermentation"
	OriginUnknown      = "unknown"
)

// Lineage refinement levels.
const (
	RefinementRaw       = "raw"
	RefinementProcessed = "processed"
	RefinementIsolate   = "isolate"
	RefinementUnknown   = "unknown"
)

// SourceRecord is one raw listing from a labeled source feed. Records are
// immutable provenance: after ingest only the cluster assignment and the
// merged-form linkage are ever updated.
type SourceRecord struct {
	ID               int64       `json:"id" db:"id"`
	SourceLabel      string      `json:"source_label" db:"source_label"`
	RawName          string      `json:"raw_name" db:"raw_name"`
	RegistryNumbers  []string    `json:"registry_numbers,omitempty" db:"registry_numbers"`
	SecondaryNumber  string      `json:"secondary_number,omitempty" db:"secondary_number"`
	StandardizedName string      `json:"standardized_name,omitempty" db:"standardized_name"`
	Composite        bool        `json:"composite" db:"composite"`
	Term             string      `json:"term,omitempty" db:"term"`
	Variation        string      `json:"variation,omitempty" db:"variation"`
	Form             string      `json:"form,omitempty" db:"form"`
	PlantParts       []string    `json:"plant_parts,omitempty" db:"plant_parts"`
	Lineage          Lineage     `json:"lineage" db:"lineage"`
	ParseStatus      ParseStatus `json:"parse_status" db:"parse_status"`
	ParseReason      string      `json:"parse_reason,omitempty" db:"parse_reason"`
	Attributes       Attributes  `json:"attributes,omitempty" db:"attributes"`
	ClusterID        *int64      `json:"cluster_id,omitempty" db:"cluster_id"`
	MergedFormID     *int64      `json:"merged_form_id,omitempty" db:"merged_form_id"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// SignalType names the identity signal that keyed a cluster.
type SignalType string

// Signal types, strongest first.
const (
	SignalRegistryNumber   SignalType = "registry_number"
	SignalBinomial         SignalType = "binomial"
	SignalStandardizedName SignalType = "standardized_name"
	SignalTerm             SignalType = "term"
	SignalSingleton        SignalType = "singleton"
	SignalUnion            SignalType = "union"
)

// IdentityCluster is one resolved real-world-substance grouping. Clusters
// are fully rebuilt on each clustering run, never patched in place.
type IdentityCluster struct {
	ID            int64      `json:"id" db:"id"`
	Key           string     `json:"key" db:"key"`
	Signal        SignalType `json:"signal" db:"signal"`
	Confidence    float64    `json:"confidence" db:"confidence"`
	Reason        string     `json:"reason,omitempty" db:"reason"`
	CanonicalTerm string     `json:"canonical_term" db:"canonical_term"`
	SampleKeys    []string   `json:"sample_keys,omitempty" db:"sample_keys"`
	MemberCount   int        `json:"member_count" db:"member_count"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// MergedItemForm is the deduplicated identity for one
// (term, variation, physical form) triple.
type MergedItemForm struct {
	ID              int64           `json:"id" db:"id"`
	Term            string          `json:"term" db:"term"`
	Variation       string          `json:"variation,omitempty" db:"variation"`
	Form            string          `json:"form,omitempty" db:"form"`
	RegistryNumbers []string        `json:"registry_numbers,omitempty" db:"registry_numbers"`
	PlantParts      []string        `json:"plant_parts,omitempty" db:"plant_parts"`
	SourcePresence  map[string]bool `json:"source_presence,omitempty" db:"source_presence"`
	Attributes      Attributes      `json:"attributes,omitempty" db:"attributes"`
	MemberIDs       []int64         `json:"member_ids,omitempty" db:"member_ids"`
	MemberCount     int             `json:"member_count" db:"member_count"`
	TermID          *int64          `json:"term_id,omitempty" db:"term_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// CanonicalTerm is a deduced base-ingredient identity, the unit of
// compilation work. One term may own many merged item forms.
type CanonicalTerm struct {
	ID               int64     `json:"id" db:"id"`
	Term             string    `json:"term" db:"term"`
	Lineage          Lineage   `json:"lineage" db:"lineage"`
	RegistryNumber   string    `json:"registry_number,omitempty" db:"registry_number"`
	StandardizedName string    `json:"standardized_name,omitempty" db:"standardized_name"`
	BotanicalName    string    `json:"botanical_name,omitempty" db:"botanical_name"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
