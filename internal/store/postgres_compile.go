package store

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/formulary-group/ingredient-cli/internal/db"
	"github.com/formulary-group/ingredient-cli/internal/model"
)

func (s *PostgresStore) CreateUnit(ctx context.Context, termID int64, priority int) (*model.CompilationUnit, error) {
	now := time.Now().UTC()
	// DO UPDATE on the conflict key is a no-op write so RETURNING always
	// yields the row, new or pre-existing.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO compilation_units (term_id, term_status, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (term_id) DO UPDATE SET term_id = EXCLUDED.term_id
		RETURNING `+unitColumns,
		termID, string(model.StagePending), priority, now, now,
	)
	u, err := scanUnit(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create unit for term %d", termID)
	}
	return u, nil
}

func (s *PostgresStore) CreateItem(ctx context.Context, unitID, formID int64) (*model.CompilationItem, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO compilation_items (unit_id, form_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (form_id) DO UPDATE SET form_id = EXCLUDED.form_id
		RETURNING `+itemColumns,
		unitID, formID, string(model.StagePending), now, now,
	)
	it, err := scanItem(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create item for form %d", formID)
	}
	return it, nil
}

func (s *PostgresStore) ListUnits(ctx context.Context, filter UnitFilter) ([]model.CompilationUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM compilation_units WHERE 1=1`
	var args []any
	if filter.TermStatus != "" {
		args = append(args, string(filter.TermStatus))
		query += ` AND term_status = $1`
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		query += ` AND batch_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY priority DESC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list units")
	}
	defer rows.Close()

	var out []model.CompilationUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list units iterate")
	}

	for i := range out {
		items, err := s.listItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (s *PostgresStore) GetUnit(ctx context.Context, id int64) (*model.CompilationUnit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM compilation_units WHERE id = $1`, id)
	u, err := scanUnit(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Items, err = s.listItems(ctx, u.ID)
	return u, err
}

func (s *PostgresStore) listItems(ctx context.Context, unitID int64) ([]model.CompilationItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM compilation_items WHERE unit_id = $1 ORDER BY id`, unitID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items for unit %d", unitID)
	}
	defer rows.Close()

	var out []model.CompilationItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) UpdateUnitStatus(ctx context.Context, unitID int64, status model.StageStatus, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compilation_units SET term_status = $1, error_text = $2, updated_at = $3 WHERE id = $4`,
		string(status), errText, time.Now().UTC(), unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update unit %d status", unitID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("unit not found: %d", unitID)
	}
	return nil
}

func (s *PostgresStore) UpdateUnitBatch(ctx context.Context, unitID int64, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compilation_units SET batch_id = $1, updated_at = $2 WHERE id = $3`,
		batchID, time.Now().UTC(), unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update unit %d batch", unitID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("unit not found: %d", unitID)
	}
	return nil
}

func (s *PostgresStore) SetUnitRank(ctx context.Context, unitID int64, rank int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compilation_units SET rank = $1, updated_at = $2 WHERE id = $3 AND rank IS NULL`,
		rank, time.Now().UTC(), unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set unit %d rank", unitID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("unit %d already has a rank or does not exist", unitID)
	}
	return nil
}

func (s *PostgresStore) UpdateItemStatus(ctx context.Context, itemID int64, status model.StageStatus, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compilation_items SET status = $1, error_text = $2, updated_at = $3 WHERE id = $4`,
		string(status), errText, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item %d status", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("item not found: %d", itemID)
	}
	return nil
}

func (s *PostgresStore) UpdateItemBatch(ctx context.Context, itemID int64, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE compilation_items SET batch_id = $1, updated_at = $2 WHERE id = $3`,
		batchID, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item %d batch", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("item not found: %d", itemID)
	}
	return nil
}

func (s *PostgresStore) MaxRank(ctx context.Context) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(rank), 0) FROM compilation_units`).Scan(&max)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: max rank")
	}
	return max, nil
}

func (s *PostgresStore) UpsertCompiled(ctx context.Context, ing *model.CompiledIngredient) error {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO compiled_ingredients (term_id, term, description, origin, category, refinement, functions, taxonomy, items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (term_id) DO UPDATE SET
			term = EXCLUDED.term,
			description = EXCLUDED.description,
			origin = EXCLUDED.origin,
			category = EXCLUDED.category,
			refinement = EXCLUDED.refinement,
			functions = EXCLUDED.functions,
			taxonomy = EXCLUDED.taxonomy,
			items = EXCLUDED.items,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		ing.TermID, ing.Term, ing.Description, ing.Lineage.Origin,
		ing.Lineage.Category, ing.Lineage.Refinement,
		marshalJSON(ing.Functions), marshalJSON(ing.Taxonomy),
		marshalJSON(ing.Items), now, now,
	)
	return eris.Wrapf(row.Scan(&ing.ID), "postgres: upsert compiled %q", ing.Term)
}

func (s *PostgresStore) FindCompiled(ctx context.Context, signal CompiledSignal, value string) (*model.CompiledIngredient, error) {
	if value == "" {
		return nil, nil
	}
	var query string
	switch signal {
	case ByRegistryNumber:
		query = `SELECT ` + compiledColumns + ` FROM compiled_ingredients c
			JOIN canonical_terms t ON t.id = c.term_id WHERE t.registry_number = $1`
	case ByStandardizedName:
		query = `SELECT ` + compiledColumns + ` FROM compiled_ingredients c
			JOIN canonical_terms t ON t.id = c.term_id WHERE t.standardized_name = $1`
	case ByTerm:
		query = `SELECT ` + compiledColumns + ` FROM compiled_ingredients c WHERE c.term = $1`
	default:
		return nil, eris.Errorf("postgres: unknown compiled signal %q", signal)
	}

	row := s.pool.QueryRow(ctx, query+` LIMIT 1`, value)
	ing, err := scanCompiled(row)
	if isNoRows(err) {
		return nil, nil
	}
	return ing, err
}

func (s *PostgresStore) GetCompiledByTermID(ctx context.Context, termID int64) (*model.CompiledIngredient, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+compiledColumns+` FROM compiled_ingredients c WHERE c.term_id = $1`, termID)
	ing, err := scanCompiled(row)
	if isNoRows(err) {
		return nil, nil
	}
	return ing, err
}

func (s *PostgresStore) AddVocabulary(ctx context.Context, kind string, values []string) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		rows = append(rows, []any{kind, v, now})
	}

	// The no-op update keeps existing rows' created_at intact.
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "vocabulary",
		Columns:      []string{"kind", "value", "created_at"},
		ConflictKeys: []string{"kind", "value"},
		UpdateCols:   []string{"value"},
	}, rows)
	return eris.Wrapf(err, "postgres: add vocabulary %s", kind)
}

func (s *PostgresStore) ListVocabulary(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT value FROM vocabulary WHERE kind = $1 ORDER BY value`, kind)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list vocabulary %s", kind)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vocabulary")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list vocabulary iterate")
}
