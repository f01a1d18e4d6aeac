package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/formulary-group/ingredient-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS source_records (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source_label      TEXT NOT NULL,
	raw_name          TEXT NOT NULL,
	registry_numbers  TEXT,
	secondary_number  TEXT NOT NULL DEFAULT '',
	standardized_name TEXT NOT NULL DEFAULT '',
	composite         INTEGER NOT NULL DEFAULT 0,
	term              TEXT NOT NULL DEFAULT '',
	variation         TEXT NOT NULL DEFAULT '',
	form              TEXT NOT NULL DEFAULT '',
	plant_parts       TEXT,
	origin            TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	refinement        TEXT NOT NULL DEFAULT '',
	parse_status      TEXT NOT NULL DEFAULT 'ok',
	parse_reason      TEXT NOT NULL DEFAULT '',
	attributes        TEXT,
	cluster_id        INTEGER,
	merged_form_id    INTEGER,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(source_label, raw_name)
);

CREATE TABLE IF NOT EXISTS identity_clusters (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	key            TEXT NOT NULL,
	signal         TEXT NOT NULL,
	confidence     REAL NOT NULL DEFAULT 0,
	reason         TEXT NOT NULL DEFAULT '',
	canonical_term TEXT NOT NULL DEFAULT '',
	sample_keys    TEXT,
	member_count   INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS merged_forms (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	term             TEXT NOT NULL,
	variation        TEXT NOT NULL DEFAULT '',
	form             TEXT NOT NULL DEFAULT '',
	registry_numbers TEXT,
	plant_parts      TEXT,
	source_presence  TEXT,
	attributes       TEXT,
	member_ids       TEXT,
	member_count     INTEGER NOT NULL DEFAULT 0,
	term_id          INTEGER,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(term, variation, form)
);

CREATE TABLE IF NOT EXISTS canonical_terms (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	term              TEXT NOT NULL UNIQUE,
	origin            TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	refinement        TEXT NOT NULL DEFAULT '',
	registry_number   TEXT NOT NULL DEFAULT '',
	standardized_name TEXT NOT NULL DEFAULT '',
	botanical_name    TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS compilation_units (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	term_id     INTEGER NOT NULL UNIQUE REFERENCES canonical_terms(id),
	term_status TEXT NOT NULL DEFAULT 'pending',
	priority    INTEGER NOT NULL DEFAULT 0,
	rank        INTEGER UNIQUE,
	batch_id    TEXT NOT NULL DEFAULT '',
	error_text  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS compilation_items (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id    INTEGER NOT NULL REFERENCES compilation_units(id),
	form_id    INTEGER NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT 'pending',
	batch_id   TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS compiled_ingredients (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	term_id     INTEGER NOT NULL UNIQUE,
	term        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	origin      TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	refinement  TEXT NOT NULL DEFAULT '',
	functions   TEXT,
	taxonomy    TEXT,
	items       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichment_matches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	target_type TEXT NOT NULL,
	target_id   INTEGER NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	method      TEXT NOT NULL DEFAULT '',
	candidates  TEXT,
	confidence  REAL NOT NULL DEFAULT 0,
	error_text  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(target_type, target_id)
);

CREATE TABLE IF NOT EXISTS enrichment_cache (
	external_id TEXT PRIMARY KEY,
	bundle      TEXT,
	fetched_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vocabulary (
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY(kind, value)
);

CREATE INDEX IF NOT EXISTS idx_source_records_cluster ON source_records(cluster_id);
CREATE INDEX IF NOT EXISTS idx_source_records_form ON source_records(merged_form_id);
CREATE INDEX IF NOT EXISTS idx_units_status ON compilation_units(term_status);
CREATE INDEX IF NOT EXISTS idx_items_unit ON compilation_items(unit_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON compilation_items(status);
CREATE INDEX IF NOT EXISTS idx_matches_status ON enrichment_matches(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSourceRecord(ctx context.Context, rec *model.SourceRecord) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO source_records (
			source_label, raw_name, registry_numbers, secondary_number,
			standardized_name, composite, term, variation, form, plant_parts,
			origin, category, refinement, parse_status, parse_reason,
			attributes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_label, raw_name) DO UPDATE SET
			registry_numbers = excluded.registry_numbers,
			secondary_number = excluded.secondary_number,
			standardized_name = excluded.standardized_name,
			composite = excluded.composite,
			term = excluded.term,
			variation = excluded.variation,
			form = excluded.form,
			plant_parts = excluded.plant_parts,
			origin = excluded.origin,
			category = excluded.category,
			refinement = excluded.refinement,
			parse_status = excluded.parse_status,
			parse_reason = excluded.parse_reason,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at`,
		rec.SourceLabel, rec.RawName, marshalJSON(rec.RegistryNumbers),
		rec.SecondaryNumber, rec.StandardizedName, boolInt(rec.Composite),
		rec.Term, rec.Variation, rec.Form, marshalJSON(rec.PlantParts),
		rec.Lineage.Origin, rec.Lineage.Category, rec.Lineage.Refinement,
		string(rec.ParseStatus), rec.ParseReason, marshalJSON(rec.Attributes),
		now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert source record %q", rec.RawName)
	}
	if rec.ID == 0 {
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			rec.ID = id
		}
		// On conflict LastInsertId is unreliable; resolve by key.
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM source_records WHERE source_label = ? AND raw_name = ?`,
			rec.SourceLabel, rec.RawName,
		)
		if err := row.Scan(&rec.ID); err != nil {
			return eris.Wrap(err, "sqlite: resolve source record id")
		}
	}
	return nil
}

const sourceRecordColumns = `id, source_label, raw_name, registry_numbers,
	secondary_number, standardized_name, composite, term, variation, form,
	plant_parts, origin, category, refinement, parse_status, parse_reason,
	attributes, cluster_id, merged_form_id, created_at, updated_at`

func (s *SQLiteStore) ListSourceRecords(ctx context.Context) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceRecordColumns+` FROM source_records ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source records")
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
	return out, eris.Wrap(rows.Err(), "sqlite: list source records iterate")
}

func (s *SQLiteStore) ReplaceClusters(ctx context.Context, groups []ClusterGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace clusters")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE source_records SET cluster_id = NULL`); err != nil {
		return eris.Wrap(err, "sqlite: clear cluster assignments")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_clusters`); err != nil {
		return eris.Wrap(err, "sqlite: clear clusters")
	}

	now := time.Now().UTC()
	for _, g := range groups {
		c := g.Cluster
		res, err := tx.ExecContext(ctx, `
			INSERT INTO identity_clusters (key, signal, confidence, reason, canonical_term, sample_keys, member_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Key, string(c.Signal), c.Confidence, c.Reason, c.CanonicalTerm,
			marshalJSON(c.SampleKeys), len(g.MemberIDs), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert cluster %q", c.Key)
		}
		clusterID, err := res.LastInsertId()
		if err != nil {
			return eris.Wrap(err, "sqlite: cluster id")
		}
		for _, recID := range g.MemberIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE source_records SET cluster_id = ?, updated_at = ? WHERE id = ?`,
				clusterID, now, recID,
			); err != nil {
				return eris.Wrapf(err, "sqlite: assign record %d to cluster", recID)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace clusters")
}

func (s *SQLiteStore) ListClusters(ctx context.Context) ([]model.IdentityCluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, signal, confidence, reason, canonical_term, sample_keys, member_count, created_at
		FROM identity_clusters ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clusters")
	}
	defer rows.Close()

	var out []model.IdentityCluster
	for rows.Next() {
		var c model.IdentityCluster
		var signal string
		var sampleKeys sql.NullString
		if err := rows.Scan(&c.ID, &c.Key, &signal, &c.Confidence, &c.Reason,
			&c.CanonicalTerm, &sampleKeys, &c.MemberCount, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cluster")
		}
		c.Signal = model.SignalType(signal)
		unmarshalJSON(sampleKeys, &c.SampleKeys)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clusters iterate")
}

func (s *SQLiteStore) ReplaceMergedForms(ctx context.Context, forms []model.MergedItemForm) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace forms")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE source_records SET merged_form_id = NULL`); err != nil {
		return eris.Wrap(err, "sqlite: clear form links")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM merged_forms`); err != nil {
		return eris.Wrap(err, "sqlite: clear merged forms")
	}

	now := time.Now().UTC()
	for i := range forms {
		f := &forms[i]
		res, err := tx.ExecContext(ctx, `
			INSERT INTO merged_forms (
				term, variation, form, registry_numbers, plant_parts,
				source_presence, attributes, member_ids, member_count, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Term, f.Variation, f.Form, marshalJSON(f.RegistryNumbers),
			marshalJSON(f.PlantParts), marshalJSON(f.SourcePresence),
			marshalJSON(f.Attributes), marshalJSON(f.MemberIDs),
			f.MemberCount, now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert merged form %q/%q/%q", f.Term, f.Variation, f.Form)
		}
		formID, err := res.LastInsertId()
		if err != nil {
			return eris.Wrap(err, "sqlite: merged form id")
		}
		f.ID = formID
		for _, recID := range f.MemberIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE source_records SET merged_form_id = ?, updated_at = ? WHERE id = ?`,
				formID, now, recID,
			); err != nil {
				return eris.Wrapf(err, "sqlite: relink record %d", recID)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace forms")
}

const mergedFormColumns = `id, term, variation, form, registry_numbers,
	plant_parts, source_presence, attributes, member_ids, member_count,
	term_id, created_at, updated_at`

func (s *SQLiteStore) ListMergedForms(ctx context.Context) ([]model.MergedItemForm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mergedFormColumns+` FROM merged_forms ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list merged forms")
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
	return out, eris.Wrap(rows.Err(), "sqlite: list merged forms iterate")
}

func (s *SQLiteStore) GetMergedForm(ctx context.Context, id int64) (*model.MergedItemForm, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mergedFormColumns+` FROM merged_forms WHERE id = ?`, id)
	f, err := scanMergedForm(row)
	if isNoRows(err) {
		return nil, nil
	}
	return f, err
}

func (s *SQLiteStore) LinkFormToTerm(ctx context.Context, formID, termID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE merged_forms SET term_id = ?, updated_at = ? WHERE id = ?`,
		termID, time.Now().UTC(), formID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link form %d to term %d", formID, termID)
	}
	return checkRowsAffected(res, "merged form", formID)
}

func (s *SQLiteStore) UpdateFormAttributes(ctx context.Context, formID int64, attrs model.Attributes) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE merged_forms SET attributes = ?, updated_at = ? WHERE id = ?`,
		marshalJSON(attrs), time.Now().UTC(), formID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update form %d attributes", formID)
	}
	return checkRowsAffected(res, "merged form", formID)
}

func (s *SQLiteStore) UpsertCanonicalTerm(ctx context.Context, t *model.CanonicalTerm) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_terms (term, origin, category, refinement, registry_number, standardized_name, botanical_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET
			origin = excluded.origin,
			category = excluded.category,
			refinement = excluded.refinement,
			registry_number = excluded.registry_number,
			standardized_name = excluded.standardized_name,
			botanical_name = excluded.botanical_name,
			updated_at = excluded.updated_at`,
		t.Term, t.Lineage.Origin, t.Lineage.Category, t.Lineage.Refinement,
		t.RegistryNumber, t.StandardizedName, t.BotanicalName, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert canonical term %q", t.Term)
	}
	row := s.db.QueryRowContext(ctx, `SELECT id FROM canonical_terms WHERE term = ?`, t.Term)
	return eris.Wrap(row.Scan(&t.ID), "sqlite: resolve canonical term id")
}

const canonicalTermColumns = `id, term, origin, category, refinement,
	registry_number, standardized_name, botanical_name, created_at, updated_at`

func (s *SQLiteStore) ListCanonicalTerms(ctx context.Context) ([]model.CanonicalTerm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+canonicalTermColumns+` FROM canonical_terms ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical terms")
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
	return out, eris.Wrap(rows.Err(), "sqlite: list canonical terms iterate")
}

func (s *SQLiteStore) GetCanonicalTerm(ctx context.Context, id int64) (*model.CanonicalTerm, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+canonicalTermColumns+` FROM canonical_terms WHERE id = ?`, id)
	t, err := scanCanonicalTerm(row)
	if isNoRows(err) {
		return nil, nil
	}
	return t, err
}
