package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

func (s *PostgresStore) UpsertMatch(ctx context.Context, m *model.EnrichmentMatch) error {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO enrichment_matches (target_type, target_id, external_id, status, method, candidates, confidence, error_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (target_type, target_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			status = EXCLUDED.status,
			method = EXCLUDED.method,
			candidates = EXCLUDED.candidates,
			confidence = EXCLUDED.confidence,
			error_text = EXCLUDED.error_text,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		m.TargetType, m.TargetID, m.ExternalID, string(m.Status), m.Method,
		marshalJSON(m.Candidates), m.Confidence, m.ErrorText, now, now,
	)
	return eris.Wrapf(row.Scan(&m.ID), "postgres: upsert match %s/%d", m.TargetType, m.TargetID)
}

func (s *PostgresStore) ListMatches(ctx context.Context, targetType string, status model.MatchStatus) ([]model.EnrichmentMatch, error) {
	query := `SELECT id, target_type, target_id, external_id, status, method, candidates, confidence, error_text, created_at, updated_at
		FROM enrichment_matches WHERE 1=1`
	var args []any
	if targetType != "" {
		args = append(args, targetType)
		query += ` AND target_type = $` + strconv.Itoa(len(args))
	}
	if status != "" {
		args = append(args, string(status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list matches")
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
			return nil, eris.Wrap(err, "postgres: scan match")
		}
		m.Status = model.MatchStatus(st)
		unmarshalJSON(candidates, &m.Candidates)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list matches iterate")
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, externalID string) (*model.EnrichmentCacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT external_id, bundle, fetched_at FROM enrichment_cache WHERE external_id = $1`,
		externalID)
	var e model.EnrichmentCacheEntry
	var bundle sql.NullString
	err := row.Scan(&e.ExternalID, &bundle, &e.FetchedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache entry %s", externalID)
	}
	unmarshalJSON(bundle, &e.Bundle)
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, e *model.EnrichmentCacheEntry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO enrichment_cache (external_id, bundle, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE SET
			bundle = EXCLUDED.bundle,
			fetched_at = EXCLUDED.fetched_at`,
		e.ExternalID, marshalJSON(e.Bundle), e.FetchedAt,
	)
	return eris.Wrapf(err, "postgres: put cache entry %s", e.ExternalID)
}

func (s *PostgresStore) Counts(ctx context.Context) (*StageCounts, error) {
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
		if err := s.pool.QueryRow(ctx, q.query).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "postgres: counts")
		}
	}
	return &c, nil
}
