package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

func (s *SQLiteStore) UpsertMatch(ctx context.Context, m *model.EnrichmentMatch) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_matches (target_type, target_id, external_id, status, method, candidates, confidence, error_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_type, target_id) DO UPDATE SET
			external_id = excluded.external_id,
			status = excluded.status,
			method = excluded.method,
			candidates = excluded.candidates,
			confidence = excluded.confidence,
			error_text = excluded.error_text,
			updated_at = excluded.updated_at`,
		m.TargetType, m.TargetID, m.ExternalID, string(m.Status), m.Method,
		marshalJSON(m.Candidates), m.Confidence, m.ErrorText, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert match %s/%d", m.TargetType, m.TargetID)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM enrichment_matches WHERE target_type = ? AND target_id = ?`,
		m.TargetType, m.TargetID)
	return eris.Wrap(row.Scan(&m.ID), "sqlite: resolve match id")
}

func (s *SQLiteStore) ListMatches(ctx context.Context, targetType string, status model.MatchStatus) ([]model.EnrichmentMatch, error) {
	query := `SELECT id, target_type, target_id, external_id, status, method, candidates, confidence, error_text, created_at, updated_at
		FROM enrichment_matches WHERE 1=1`
	var args []any
	if targetType != "" {
		query += ` AND target_type = ?`
		args = append(args, targetType)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list matches")
	}
	defer rows.Close()

	var out []model.EnrichmentMatch
	for rows.Next() {
		var m model.EnrichmentMatch
		var st string
		var candidates sql.NullString
		if err := rows.Scan(&m.ID, &m.TargetType, &m.TargetID, &m.ExternalID,
			&st, &m.Method, &candidates, &m.Confidence, &m.ErrorText,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match")
		}
		m.Status = model.MatchStatus(st)
		unmarshalJSON(candidates, &m.Candidates)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list matches iterate")
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, externalID string) (*model.EnrichmentCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT external_id, bundle, fetched_at FROM enrichment_cache WHERE external_id = ?`,
		externalID)
	var e model.EnrichmentCacheEntry
	var bundle sql.NullString
	err := row.Scan(&e.ExternalID, &bundle, &e.FetchedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache entry %s", externalID)
	}
	unmarshalJSON(bundle, &e.Bundle)
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e *model.EnrichmentCacheEntry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_cache (external_id, bundle, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			bundle = excluded.bundle,
			fetched_at = excluded.fetched_at`,
		e.ExternalID, marshalJSON(e.Bundle), e.FetchedAt,
	)
	return eris.Wrapf(err, "sqlite: put cache entry %s", e.ExternalID)
}

func (s *SQLiteStore) Counts(ctx context.Context) (*StageCounts, error) {
	var c StageCounts
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM source_records`, &c.SourceRecords},
		{`SELECT COUNT(*) FROM source_records WHERE parse_status = 'orphan'`, &c.Orphans},
		{`SELECT COUNT(*) FROM identity_clusters`, &c.Clusters},
		{`SELECT COUNT(*) FROM merged_forms`, &c.MergedForms},
		{`SELECT COUNT(*) FROM canonical_terms`, &c.CanonicalTerms},
		{`SELECT COUNT(*) FROM compilation_units`, &c.UnitsTotal},
		{`SELECT COUNT(*) FROM compilation_units WHERE term_status = 'done'`, &c.UnitsDone},
		{`SELECT COUNT(*) FROM compilation_units WHERE term_status = 'error'`, &c.UnitsError},
		{`SELECT COUNT(*) FROM compilation_units WHERE term_status = 'batch_pending'`, &c.UnitsBatch},
		{`SELECT COUNT(*) FROM compilation_items`, &c.ItemsTotal},
		{`SELECT COUNT(*) FROM compilation_items WHERE status = 'done'`, &c.ItemsDone},
		{`SELECT COUNT(*) FROM compiled_ingredients`, &c.Compiled},
		{`SELECT COUNT(*) FROM enrichment_matches WHERE status = 'matched'`, &c.MatchesMatched},
		{`SELECT COUNT(*) FROM enrichment_matches WHERE status = 'no_match'`, &c.MatchesNoMatch},
		{`SELECT COUNT(*) FROM enrichment_matches WHERE status = 'ambiguous'`, &c.MatchesAmbig},
		{`SELECT COUNT(*) FROM enrichment_matches WHERE status = 'error'`, &c.MatchesError},
		{`SELECT COUNT(*) FROM enrichment_cache`, &c.CacheEntries},
		{`SELECT COUNT(*) FROM vocabulary`, &c.VocabularySize},
	}
	for _, q := range counts {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: counts")
		}
	}
	return &c, nil
}
