package model

import (
	"time"
)

// MatchStatus is the terminal state of an enrichment match attempt.
type MatchStatus string

// Match statuses. Error is distinct from NoMatch so a transient service
// failure is never recorded as a real negative result.
const (
	MatchMatched   MatchStatus = "matched"
	MatchNoMatch   MatchStatus = "no_match"
	MatchAmbiguous MatchStatus = "ambiguous"
	MatchError     MatchStatus = "error"
)

// Enrichment target types.
const (
	TargetForm = "form"
	TargetTerm = "term"
)

// EnrichmentMatch maps one merged form or canonical term to at most one
// external registry identifier. Matched is only ever recorded when
// exactly one candidate resolved.
type EnrichmentMatch struct {
	ID         int64       `json:"id" db:"id"`
	TargetType string      `json:"target_type" db:"target_type"`
	TargetID   int64       `json:"target_id" db:"target_id"`
	ExternalID string      `json:"external_id,omitempty" db:"external_id"`
	Status     MatchStatus `json:"status" db:"status"`
	Method     string      `json:"method,omitempty" db:"method"`
	Candidates []string    `json:"candidates,omitempty" db:"candidates"`
	Confidence float64     `json:"confidence,omitempty" db:"confidence"`
	ErrorText  string      `json:"error_text,omitempty" db:"error_text"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// EnrichmentCacheEntry is an attribute bundle fetched from the external
// registry, keyed by external identifier and shared by every entity
// matched to that identifier.
type EnrichmentCacheEntry struct {
	ExternalID string     `json:"external_id" db:"external_id"`
	Bundle     Attributes `json:"bundle" db:"bundle"`
	FetchedAt  time.Time  `json:"fetched_at" db:"fetched_at"`
}

// Enrichment provenance attribute keys, recorded fill-only alongside
// applied bundle values.
const (
	ProvenanceExternalID = "_enrichment_external_id"
	ProvenanceMethod     = "_enrichment_method"
	ProvenanceConfidence = "_enrichment_confidence"
)
