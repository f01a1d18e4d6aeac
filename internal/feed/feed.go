// Package feed ingests raw ingredient listings from labeled source
// feeds. A feed only has to produce RawRecords; the pipeline does not
// care whether they came from a file export, a scrape, or a manual
// seed list.
package feed

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/model"
	"github.com/formulary-group/ingredient-cli/internal/parser"
	"github.com/formulary-group/ingredient-cli/internal/store"
)

// RawRecord is one listing as a feed delivers it, before parsing.
type RawRecord struct {
	SourceLabel      string
	RawName          string
	RegistryNumbers  []string
	SecondaryNumber  string
	StandardizedName string
	Composite        bool
	Attributes       model.Attributes
}

// Feed produces a labeled sequence of raw records.
type Feed interface {
	Label() string
	Records(ctx context.Context) ([]RawRecord, error)
}

// IngestStats summarizes one feed ingestion.
type IngestStats struct {
	Records int
	Parsed  int
	Orphans int
}

// Ingest reads every record from the feed, parses it, and upserts the
// source record. Ingestion is idempotent per (source, raw name).
func Ingest(ctx context.Context, st store.Store, f Feed) (*IngestStats, error) {
	records, err := f.Records(ctx)
	if err != nil {
		return nil, err
	}

	stats := &IngestStats{}
	for _, raw := range records {
		if strings.TrimSpace(raw.RawName) == "" {
			continue
		}
		stats.Records++

		parsed := parser.Parse(raw.RawName, parser.Identifiers{
			RegistryNumbers:  raw.RegistryNumbers,
			StandardizedName: raw.StandardizedName,
		})
		if parsed.Status == model.ParseOrphan {
			stats.Orphans++
		} else {
			stats.Parsed++
		}

		rec := &model.SourceRecord{
			SourceLabel:      f.Label(),
			RawName:          raw.RawName,
			RegistryNumbers:  raw.RegistryNumbers,
			SecondaryNumber:  raw.SecondaryNumber,
			StandardizedName: raw.StandardizedName,
			Composite:        raw.Composite,
			Term:             parsed.Term,
			Variation:        parsed.Variation,
			Form:             parsed.Form,
			PlantParts:       parsed.PlantParts,
			Lineage:          parsed.Lineage,
			ParseStatus:      parsed.Status,
			ParseReason:      parsed.Reason,
			Attributes:       raw.Attributes,
		}
		if err := st.UpsertSourceRecord(ctx, rec); err != nil {
			return nil, err
		}
	}

	zap.L().Info("feed ingested",
		zap.String("source", f.Label()),
		zap.Int("records", stats.Records),
		zap.Int("parsed", stats.Parsed),
		zap.Int("orphans", stats.Orphans),
	)
	return stats, nil
}

// Recognized column names, normalized to lower snake case. Unrecognized
// columns land in the record's attribute map.
var columnAliases = map[string]string{
	"name":              "raw_name",
	"raw_name":          "raw_name",
	"ingredient":        "raw_name",
	"ingredient_name":   "raw_name",
	"cas":               "registry_numbers",
	"cas_number":        "registry_numbers",
	"cas_numbers":       "registry_numbers",
	"registry_number":   "registry_numbers",
	"registry_numbers":  "registry_numbers",
	"ec_number":         "secondary_number",
	"secondary_number":  "secondary_number",
	"inci":              "standardized_name",
	"inci_name":         "standardized_name",
	"standardized_name": "standardized_name",
	"composite":         "composite",
	"mixture":           "composite",
	"blend":             "composite",
}

// normalizeHeader maps a raw column header to its canonical field name,
// or "" when the column should be kept as a free attribute.
func normalizeHeader(h string) string {
	key := strings.ToLower(strings.TrimSpace(h))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return columnAliases[key]
}

// attributeKey normalizes an unrecognized header for use as an
// attribute key.
func attributeKey(h string) string {
	key := strings.ToLower(strings.TrimSpace(h))
	key = strings.ReplaceAll(key, " ", "_")
	return strings.ReplaceAll(key, "-", "_")
}

// rowToRecord maps one row of cells onto a RawRecord using the
// header layout. Registry number cells may carry several values split
// on ';' or '|'.
func rowToRecord(headers, cells []string) RawRecord {
	rec := RawRecord{}
	for i, h := range headers {
		if i >= len(cells) {
			break
		}
		value := strings.TrimSpace(cells[i])
		if value == "" {
			continue
		}

		switch normalizeHeader(h) {
		case "raw_name":
			rec.RawName = value
		case "registry_numbers":
			rec.RegistryNumbers = append(rec.RegistryNumbers, splitMulti(value)...)
		case "secondary_number":
			rec.SecondaryNumber = value
		case "standardized_name":
			rec.StandardizedName = value
		case "composite":
			rec.Composite = isTruthy(value)
		default:
			if rec.Attributes == nil {
				rec.Attributes = model.Attributes{}
			}
			rec.Attributes[attributeKey(h)] = value
		}
	}
	return rec
}

func splitMulti(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ';' || r == '|'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "x":
		return true
	default:
		return false
	}
}
