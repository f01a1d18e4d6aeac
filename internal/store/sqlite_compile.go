package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

func (s *SQLiteStore) CreateUnit(ctx context.Context, termID int64, priority int) (*model.CompilationUnit, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO compilation_units (term_id, term_status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(term_id) DO NOTHING`,
		termID, string(model.StagePending), priority, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create unit for term %d", termID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Unit already exists for this term; idempotent.
		row := s.db.QueryRowContext(ctx,
			`SELECT `+unitColumns+` FROM compilation_units WHERE term_id = ?`, termID)
		return scanUnit(row)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unit id")
	}
	return &model.CompilationUnit{
		ID:         id,
		TermID:     termID,
		TermStatus: model.StagePending,
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) CreateItem(ctx context.Context, unitID, formID int64) (*model.CompilationItem, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO compilation_items (unit_id, form_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(form_id) DO NOTHING`,
		unitID, formID, string(model.StagePending), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create item for form %d", formID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM compilation_items WHERE form_id = ?`, formID)
		return scanItem(row)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: item id")
	}
	return &model.CompilationItem{
		ID:        id,
		UnitID:    unitID,
		FormID:    formID,
		Status:    model.StagePending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const unitColumns = `id, term_id, term_status, priority, rank, batch_id, error_text, created_at, updated_at`
const itemColumns = `id, unit_id, form_id, status, batch_id, error_text, created_at, updated_at`

func (s *SQLiteStore) ListUnits(ctx context.Context, filter UnitFilter) ([]model.CompilationUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM compilation_units WHERE 1=1`
	var args []any
	if filter.TermStatus != "" {
		query += ` AND term_status = ?`
		args = append(args, string(filter.TermStatus))
	}
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	query += ` ORDER BY priority DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list units")
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
		return nil, eris.Wrap(err, "sqlite: list units iterate")
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

func (s *SQLiteStore) GetUnit(ctx context.Context, id int64) (*model.CompilationUnit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM compilation_units WHERE id = ?`, id)
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

func (s *SQLiteStore) listItems(ctx context.Context, unitID int64) ([]model.CompilationItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM compilation_items WHERE unit_id = ? ORDER BY id`, unitID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items for unit %d", unitID)
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
	return out, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) UpdateUnitStatus(ctx context.Context, unitID int64, status model.StageStatus, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compilation_units SET term_status = ?, error_text = ?, updated_at = ? WHERE id = ?`,
		string(status), errText, time.Now().UTC(), unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update unit %d status", unitID)
	}
	return checkRowsAffected(res, "unit", unitID)
}

func (s *SQLiteStore) UpdateUnitBatch(ctx context.Context, unitID int64, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compilation_units SET batch_id = ?, updated_at = ? WHERE id = ?`,
		batchID, time.Now().UTC(), unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update unit %d batch", unitID)
	}
	return checkRowsAffected(res, "unit", unitID)
}

func (s *SQLiteStore) SetUnitRank(ctx context.Context, unitID int64, rank int64) error {
	// Rank is assigned exactly once; a second assignment is a bug.
	res, err := s.db.ExecContext(ctx,
		`UPDATE compilation_units SET rank = ?, updated_at = ? WHERE id = ? AND rank IS NULL`,
		rank, time.Now().UTC(), unitID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set unit %d rank", unitID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("unit %d already has a rank or does not exist", unitID)
	}
	return nil
}

func (s *SQLiteStore) UpdateItemStatus(ctx context.Context, itemID int64, status model.StageStatus, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compilation_items SET status = ?, error_text = ?, updated_at = ? WHERE id = ?`,
		string(status), errText, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item %d status", itemID)
	}
	return checkRowsAffected(res, "item", itemID)
}

func (s *SQLiteStore) UpdateItemBatch(ctx context.Context, itemID int64, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compilation_items SET batch_id = ?, updated_at = ? WHERE id = ?`,
		batchID, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item %d batch", itemID)
	}
	return checkRowsAffected(res, "item", itemID)
}

func (s *SQLiteStore) MaxRank(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(rank), 0) FROM compilation_units`)
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, eris.Wrap(err, "sqlite: max rank")
	}
	return max, nil
}

func (s *SQLiteStore) UpsertCompiled(ctx context.Context, ing *model.CompiledIngredient) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compiled_ingredients (term_id, term, description, origin, category, refinement, functions, taxonomy, items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(term_id) DO UPDATE SET
			term = excluded.term,
			description = excluded.description,
			origin = excluded.origin,
			category = excluded.category,
			refinement = excluded.refinement,
			functions = excluded.functions,
			taxonomy = excluded.taxonomy,
			items = excluded.items,
			updated_at = excluded.updated_at`,
		ing.TermID, ing.Term, ing.Description, ing.Lineage.Origin,
		ing.Lineage.Category, ing.Lineage.Refinement,
		marshalJSON(ing.Functions), marshalJSON(ing.Taxonomy),
		marshalJSON(ing.Items), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert compiled %q", ing.Term)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM compiled_ingredients WHERE term_id = ?`, ing.TermID)
	return eris.Wrap(row.Scan(&ing.ID), "sqlite: resolve compiled id")
}

const compiledColumns = `c.id, c.term_id, c.term, c.description, c.origin,
	c.category, c.refinement, c.functions, c.taxonomy, c.items, c.created_at, c.updated_at`

func (s *SQLiteStore) FindCompiled(ctx context.Context, signal CompiledSignal, value string) (*model.CompiledIngredient, error) {
	if value == "" {
		return nil, nil
	}
	var query string
	switch signal {
	case ByRegistryNumber:
		query = `SELECT ` + compiledColumns + ` FROM compiled_ingredients c
			JOIN canonical_terms t ON t.id = c.term_id WHERE t.registry_number = ?`
	case ByStandardizedName:
		query = `SELECT ` + compiledColumns + ` FROM compiled_ingredients c
			JOIN canonical_terms t ON t.id = c.term_id WHERE t.standardized_name = ?`
	case ByTerm:
		query = `SELECT ` + compiledColumns + ` FROM compiled_ingredients c WHERE c.term = ?`
	default:
		return nil, eris.Errorf("sqlite: unknown compiled signal %q", signal)
	}

	row := s.db.QueryRowContext(ctx, query+` LIMIT 1`, value)
	ing, err := scanCompiled(row)
	if isNoRows(err) {
		return nil, nil
	}
	return ing, err
}

func (s *SQLiteStore) GetCompiledByTermID(ctx context.Context, termID int64) (*model.CompiledIngredient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+compiledColumns+` FROM compiled_ingredients c WHERE c.term_id = ?`, termID)
	ing, err := scanCompiled(row)
	if isNoRows(err) {
		return nil, nil
	}
	return ing, err
}

func (s *SQLiteStore) AddVocabulary(ctx context.Context, kind string, values []string) error {
	now := time.Now().UTC()
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO vocabulary (kind, value, created_at) VALUES (?, ?, ?)
			ON CONFLICT(kind, value) DO NOTHING`,
			kind, v, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: add vocabulary %s/%s", kind, v)
		}
	}
	return nil
}

func (s *SQLiteStore) ListVocabulary(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM vocabulary WHERE kind = ? ORDER BY value`, kind)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list vocabulary %s", kind)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vocabulary")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list vocabulary iterate")
}
