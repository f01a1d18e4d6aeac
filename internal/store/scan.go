package store

import (
	"database/sql"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

// Row scanning and JSON-column helpers shared by both backends. pgx
// rows satisfy scannable and scan into database/sql null types, so the
// same helpers serve sqlite and postgres.

type scannable interface {
	Scan(dest ...any) error
}

// isNoRows matches the no-row sentinel from either driver.
func isNoRows(err error) bool {
	return err == sql.ErrNoRows || err == pgx.ErrNoRows
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalJSON encodes a collection for a JSON column, storing NULL for
// empty collections so absent and empty read back the same way.
func marshalJSON(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		if len(t) == 0 {
			return nil
		}
	case []int64:
		if len(t) == 0 {
			return nil
		}
	case []model.CompiledItem:
		if len(t) == 0 {
			return nil
		}
	case map[string]bool:
		if len(t) == 0 {
			return nil
		}
	case model.Attributes:
		if len(t) == 0 {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalJSON(ns sql.NullString, dst any) {
	if !ns.Valid || ns.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(ns.String), dst)
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

func scanSourceRecord(row scannable) (*model.SourceRecord, error) {
	var rec model.SourceRecord
	var registryNumbers, plantParts, attributes sql.NullString
	var composite int
	var parseStatus string
	var clusterID, formID sql.NullInt64

	err := row.Scan(&rec.ID, &rec.SourceLabel, &rec.RawName, &registryNumbers,
		&rec.SecondaryNumber, &rec.StandardizedName, &composite, &rec.Term,
		&rec.Variation, &rec.Form, &plantParts, &rec.Lineage.Origin,
		&rec.Lineage.Category, &rec.Lineage.Refinement, &parseStatus,
		&rec.ParseReason, &attributes, &clusterID, &formID,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan source record")
	}

	rec.Composite = composite != 0
	rec.ParseStatus = model.ParseStatus(parseStatus)
	unmarshalJSON(registryNumbers, &rec.RegistryNumbers)
	unmarshalJSON(plantParts, &rec.PlantParts)
	unmarshalJSON(attributes, &rec.Attributes)
	if clusterID.Valid {
		rec.ClusterID = &clusterID.Int64
	}
	if formID.Valid {
		rec.MergedFormID = &formID.Int64
	}
	return &rec, nil
}

func scanMergedForm(row scannable) (*model.MergedItemForm, error) {
	var f model.MergedItemForm
	var registryNumbers, plantParts, presence, attributes, memberIDs sql.NullString
	var termID sql.NullInt64

	err := row.Scan(&f.ID, &f.Term, &f.Variation, &f.Form, &registryNumbers,
		&plantParts, &presence, &attributes, &memberIDs, &f.MemberCount,
		&termID, &f.CreatedAt, &f.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan merged form")
	}

	unmarshalJSON(registryNumbers, &f.RegistryNumbers)
	unmarshalJSON(plantParts, &f.PlantParts)
	unmarshalJSON(presence, &f.SourcePresence)
	unmarshalJSON(attributes, &f.Attributes)
	unmarshalJSON(memberIDs, &f.MemberIDs)
	if termID.Valid {
		f.TermID = &termID.Int64
	}
	return &f, nil
}

func scanCanonicalTerm(row scannable) (*model.CanonicalTerm, error) {
	var t model.CanonicalTerm
	err := row.Scan(&t.ID, &t.Term, &t.Lineage.Origin, &t.Lineage.Category,
		&t.Lineage.Refinement, &t.RegistryNumber, &t.StandardizedName,
		&t.BotanicalName, &t.CreatedAt, &t.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan canonical term")
	}
	return &t, nil
}

func scanUnit(row scannable) (*model.CompilationUnit, error) {
	var u model.CompilationUnit
	var status string
	var rank sql.NullInt64
	err := row.Scan(&u.ID, &u.TermID, &status, &u.Priority, &rank,
		&u.BatchID, &u.ErrorText, &u.CreatedAt, &u.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan unit")
	}
	u.TermStatus = model.StageStatus(status)
	if rank.Valid {
		u.Rank = &rank.Int64
	}
	return &u, nil
}

func scanItem(row scannable) (*model.CompilationItem, error) {
	var it model.CompilationItem
	var status string
	err := row.Scan(&it.ID, &it.UnitID, &it.FormID, &status,
		&it.BatchID, &it.ErrorText, &it.CreatedAt, &it.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan item")
	}
	it.Status = model.StageStatus(status)
	return &it, nil
}

func scanCompiled(row scannable) (*model.CompiledIngredient, error) {
	var ing model.CompiledIngredient
	var functions, taxonomy, items sql.NullString
	err := row.Scan(&ing.ID, &ing.TermID, &ing.Term, &ing.Description,
		&ing.Lineage.Origin, &ing.Lineage.Category, &ing.Lineage.Refinement,
		&functions, &taxonomy, &items, &ing.CreatedAt, &ing.UpdatedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan compiled")
	}
	unmarshalJSON(functions, &ing.Functions)
	unmarshalJSON(taxonomy, &ing.Taxonomy)
	unmarshalJSON(items, &ing.Items)
	return &ing, nil
}
