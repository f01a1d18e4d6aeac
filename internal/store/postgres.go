package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/formulary-group/ingredient-cli/internal/db"
	"github.com/formulary-group/ingredient-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. The schema mirrors the
// sqlite backend so the two are interchangeable behind the interface.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with
// pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for bulk ingest paths.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS source_records (
	id                BIGSERIAL PRIMARY KEY,
	source_label      TEXT NOT NULL,
	raw_name          TEXT NOT NULL,
	registry_numbers  JSONB,
	secondary_number  TEXT NOT NULL DEFAULT '',
	standardized_name TEXT NOT NULL DEFAULT '',
	composite         INTEGER NOT NULL DEFAULT 0,
	term              TEXT NOT NULL DEFAULT '',
	variation         TEXT NOT NULL DEFAULT '',
	form              TEXT NOT NULL DEFAULT '',
	plant_parts       JSONB,
	origin            TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	refinement        TEXT NOT NULL DEFAULT '',
	parse_status      TEXT NOT NULL DEFAULT 'ok',
	parse_reason      TEXT NOT NULL DEFAULT '',
	attributes        JSONB,
	cluster_id        BIGINT,
	merged_form_id    BIGINT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(source_label, raw_name)
);

CREATE TABLE IF NOT EXISTS identity_clusters (
	id             BIGSERIAL PRIMARY KEY,
	key            TEXT NOT NULL,
	signal         TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason         TEXT NOT NULL DEFAULT '',
	canonical_term TEXT NOT NULL DEFAULT '',
	sample_keys    JSONB,
	member_count   INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS merged_forms (
	id               BIGSERIAL PRIMARY KEY,
	term             TEXT NOT NULL,
	variation        TEXT NOT NULL DEFAULT '',
	form             TEXT NOT NULL DEFAULT '',
	registry_numbers JSONB,
	plant_parts      JSONB,
	source_presence  JSONB,
	attributes       JSONB,
	member_ids       JSONB,
	member_count     INTEGER NOT NULL DEFAULT 0,
	term_id          BIGINT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(term, variation, form)
);

CREATE TABLE IF NOT EXISTS canonical_terms (
	id                BIGSERIAL PRIMARY KEY,
	term              TEXT NOT NULL UNIQUE,
	origin            TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	refinement        TEXT NOT NULL DEFAULT '',
	registry_number   TEXT NOT NULL DEFAULT '',
	standardized_name TEXT NOT NULL DEFAULT '',
	botanical_name    TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS compilation_units (
	id          BIGSERIAL PRIMARY KEY,
	term_id     BIGINT NOT NULL UNIQUE REFERENCES canonical_terms(id),
	term_status TEXT NOT NULL DEFAULT 'pending',
	priority    INTEGER NOT NULL DEFAULT 0,
	rank        BIGINT UNIQUE,
	batch_id    TEXT NOT NULL DEFAULT '',
	error_text  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS compilation_items (
	id         BIGSERIAL PRIMARY KEY,
	unit_id    BIGINT NOT NULL REFERENCES compilation_units(id),
	form_id    BIGINT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT 'pending',
	batch_id   TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS compiled_ingredients (
	id          BIGSERIAL PRIMARY KEY,
	term_id     BIGINT NOT NULL UNIQUE,
	term        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	origin      TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	refinement  TEXT NOT NULL DEFAULT '',
	functions   JSONB,
	taxonomy    JSONB,
	items       JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_matches (
	id          BIGSERIAL PRIMARY KEY,
	target_type TEXT NOT NULL,
	target_id   BIGINT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	method      TEXT NOT NULL DEFAULT '',
	candidates  JSONB,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_text  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(target_type, target_id)
);

CREATE TABLE IF NOT EXISTS enrichment_cache (
	external_id TEXT PRIMARY KEY,
	bundle      JSONB,
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vocabulary (
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY(kind, value)
);

CREATE INDEX IF NOT EXISTS idx_source_records_cluster ON source_records(cluster_id);
CREATE INDEX IF NOT EXISTS idx_source_records_form ON source_records(merged_form_id);
CREATE INDEX IF NOT EXISTS idx_units_status ON compilation_units(term_status);
CREATE INDEX IF NOT EXISTS idx_items_unit ON compilation_items(unit_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON compilation_items(status);
CREATE INDEX IF NOT EXISTS idx_matches_status ON enrichment_matches(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertSourceRecord(ctx context.Context, rec *model.SourceRecord) error {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO source_records (
			source_label, raw_name, registry_numbers, secondary_number,
			standardized_name, composite, term, variation, form, plant_parts,
			origin, category, refinement, parse_status, parse_reason,
			attributes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (source_label, raw_name) DO UPDATE SET
			registry_numbers = EXCLUDED.registry_numbers,
			secondary_number = EXCLUDED.secondary_number,
			standardized_name = EXCLUDED.standardized_name,
			composite = EXCLUDED.composite,
			term = EXCLUDED.term,
			variation = EXCLUDED.variation,
			form = EXCLUDED.form,
			plant_parts = EXCLUDED.plant_parts,
			origin = EXCLUDED.origin,
			category = EXCLUDED.category,
			refinement = EXCLUDED.refinement,
			parse_status = EXCLUDED.parse_status,
			parse_reason = EXCLUDED.parse_reason,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		rec.SourceLabel, rec.RawName, marshalJSON(rec.RegistryNumbers),
		rec.SecondaryNumber, rec.StandardizedName, boolInt(rec.Composite),
		rec.Term, rec.Variation, rec.Form, marshalJSON(rec.PlantParts),
		rec.Lineage.Origin, rec.Lineage.Category, rec.Lineage.Refinement,
		string(rec.ParseStatus), rec.ParseReason, marshalJSON(rec.Attributes),
		now, now,
	)
	return eris.Wrapf(row.Scan(&rec.ID), "postgres: upsert source record %q", rec.RawName)
}

func (s *PostgresStore) ListSourceRecords(ctx context.Context) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceRecordColumns+` FROM source_records ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source records")
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		rec, err := scanSourceRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list source records iterate")
}

func (s *PostgresStore) ReplaceClusters(ctx context.Context, groups []ClusterGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace clusters")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE source_records SET cluster_id = NULL`); err != nil {
		return eris.Wrap(err, "postgres: clear cluster assignments")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM identity_clusters`); err != nil {
		return eris.Wrap(err, "postgres: clear clusters")
	}

	now := time.Now().UTC()
	for _, g := range groups {
		c := g.Cluster
		var clusterID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO identity_clusters (key, signal, confidence, reason, canonical_term, sample_keys, member_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			c.Key, string(c.Signal), c.Confidence, c.Reason, c.CanonicalTerm,
			marshalJSON(c.SampleKeys), len(g.MemberIDs), now,
		).Scan(&clusterID)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert cluster %q", c.Key)
		}
		for _, recID := range g.MemberIDs {
			if _, err := tx.Exec(ctx,
				`UPDATE source_records SET cluster_id = $1, updated_at = $2 WHERE id = $3`,
				clusterID, now, recID,
			); err != nil {
				return eris.Wrapf(err, "postgres: assign record %d to cluster", recID)
			}
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace clusters")
}

func (s *PostgresStore) ListClusters(ctx context.Context) ([]model.IdentityCluster, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, key, signal, confidence, reason, canonical_term, sample_keys, member_count, created_at
		FROM identity_clusters ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clusters")
	}
	defer rows.Close()

	var out []model.IdentityCluster
	for rows.Next() {
		var c model.IdentityCluster
		var signal string
		var sampleKeys sql.NullString
		if err := rows.Scan(&c.ID, &c.Key, &signal, &c.Confidence, &c.Reason,
			&c.CanonicalTerm, &sampleKeys, &c.MemberCount, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cluster")
		}
		c.Signal = model.SignalType(signal)
		unmarshalJSON(sampleKeys, &c.SampleKeys)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clusters iterate")
}

func (s *PostgresStore) ReplaceMergedForms(ctx context.Context, forms []model.MergedItemForm) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace forms")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE source_records SET merged_form_id = NULL`); err != nil {
		return eris.Wrap(err, "postgres: clear form links")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM merged_forms`); err != nil {
		return eris.Wrap(err, "postgres: clear merged forms")
	}

	now := time.Now().UTC()
	for i := range forms {
		f := &forms[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO merged_forms (
				term, variation, form, registry_numbers, plant_parts,
				source_presence, attributes, member_ids, member_count, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
			f.Term, f.Variation, f.Form, marshalJSON(f.RegistryNumbers),
			marshalJSON(f.PlantParts), marshalJSON(f.SourcePresence),
			marshalJSON(f.Attributes), marshalJSON(f.MemberIDs),
			f.MemberCount, now, now,
		).Scan(&f.ID)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert merged form %q/%q/%q", f.Term, f.Variation, f.Form)
		}
		for _, recID := range f.MemberIDs {
			if _, err := tx.Exec(ctx,
				`UPDATE source_records SET merged_form_id = $1, updated_at = $2 WHERE id = $3`,
				f.ID, now, recID,
			); err != nil {
				return eris.Wrapf(err, "postgres: relink record %d", recID)
			}
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace forms")
}

func (s *PostgresStore) ListMergedForms(ctx context.Context) ([]model.MergedItemForm, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mergedFormColumns+` FROM merged_forms ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list merged forms")
	}
	defer rows.Close()

	var out []model.MergedItemForm
	for rows.Next() {
		f, err := scanMergedForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list merged forms iterate")
}

func (s *PostgresStore) GetMergedForm(ctx context.Context, id int64) (*model.MergedItemForm, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mergedFormColumns+` FROM merged_forms WHERE id = $1`, id)
	f, err := scanMergedForm(row)
	if isNoRows(err) {
		return nil, nil
	}
	return f, err
}

func (s *PostgresStore) LinkFormToTerm(ctx context.Context, formID, termID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE merged_forms SET term_id = $1, updated_at = $2 WHERE id = $3`,
		termID, time.Now().UTC(), formID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: link form %d to term %d", formID, termID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("merged form not found: %d", formID)
	}
	return nil
}

func (s *PostgresStore) UpdateFormAttributes(ctx context.Context, formID int64, attrs model.Attributes) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE merged_forms SET attributes = $1, updated_at = $2 WHERE id = $3`,
		marshalJSON(attrs), time.Now().UTC(), formID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update form %d attributes", formID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("merged form not found: %d", formID)
	}
	return nil
}

func (s *PostgresStore) UpsertCanonicalTerm(ctx context.Context, t *model.CanonicalTerm) error {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO canonical_terms (term, origin, category, refinement, registry_number, standardized_name, botanical_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (term) DO UPDATE SET
			origin = EXCLUDED.origin,
			category = EXCLUDED.category,
			refinement = EXCLUDED.refinement,
			registry_number = EXCLUDED.registry_number,
			standardized_name = EXCLUDED.standardized_name,
			botanical_name = EXCLUDED.botanical_name,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		t.Term, t.Lineage.Origin, t.Lineage.Category, t.Lineage.Refinement,
		t.RegistryNumber, t.StandardizedName, t.BotanicalName, now, now,
	)
	return eris.Wrapf(row.Scan(&t.ID), "postgres: upsert canonical term %q", t.Term)
}

func (s *PostgresStore) ListCanonicalTerms(ctx context.Context) ([]model.CanonicalTerm, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+canonicalTermColumns+` FROM canonical_terms ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical terms")
	}
	defer rows.Close()

	var out []model.CanonicalTerm
	for rows.Next() {
		t, err := scanCanonicalTerm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list canonical terms iterate")
}

func (s *PostgresStore) GetCanonicalTerm(ctx context.Context, id int64) (*model.CanonicalTerm, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+canonicalTermColumns+` FROM canonical_terms WHERE id = $1`, id)
	t, err := scanCanonicalTerm(row)
	if isNoRows(err) {
		return nil, nil
	}
	return t, err
}
