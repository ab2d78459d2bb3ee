package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	path        TEXT NOT NULL,
	start_line  INTEGER NOT NULL DEFAULT 0,
	end_line    INTEGER NOT NULL DEFAULT 0,
	summary     TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	from_id     TEXT NOT NULL,
	from_type   TEXT NOT NULL,
	to_id       TEXT NOT NULL,
	to_type     TEXT NOT NULL,
	edge_type   TEXT NOT NULL,
	source_file TEXT NOT NULL,
	source_line INTEGER NOT NULL DEFAULT 0,
	confidence  REAL NOT NULL DEFAULT 0,
	computed_at TEXT NOT NULL,
	PRIMARY KEY (from_id, to_id, edge_type, source_file)
);

CREATE TABLE IF NOT EXISTS staged_edges (
	from_id     TEXT NOT NULL,
	from_type   TEXT NOT NULL,
	to_id       TEXT NOT NULL,
	to_type     TEXT NOT NULL,
	edge_type   TEXT NOT NULL,
	source_file TEXT NOT NULL,
	source_line INTEGER NOT NULL DEFAULT 0,
	confidence  REAL NOT NULL DEFAULT 0,
	computed_at TEXT NOT NULL,
	PRIMARY KEY (from_id, to_id, edge_type, source_file)
);

CREATE TABLE IF NOT EXISTS ingestion_items (
	id             TEXT PRIMARY KEY,
	source_type    TEXT NOT NULL,
	source_version TEXT NOT NULL,
	ingested_at    TEXT NOT NULL,
	payload        TEXT NOT NULL,
	metadata       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS test_mappings (
	test_path   TEXT NOT NULL,
	source_path TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (test_path, source_path)
);

CREATE TABLE IF NOT EXISTS commits (
	hash         TEXT PRIMARY KEY,
	author       TEXT NOT NULL,
	message      TEXT NOT NULL,
	category     TEXT NOT NULL,
	committed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ownership (
	path  TEXT NOT NULL,
	owner TEXT NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (path, owner)
);

CREATE TABLE IF NOT EXISTS index_metadata (
	slot  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore implements Store on an embedded SQLite database under the
// workspace's .indexd directory.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the index database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	// The index is single-writer per workspace; one connection avoids
	// SQLITE_BUSY churn under concurrent phase workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertEntities writes entities keyed by ID.
func (s *SQLiteStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertEntitiesTx(ctx, tx, entities)
	})
}

// UpsertEdges writes edges keyed by (from, to, edge type, source file).
func (s *SQLiteStore) UpsertEdges(ctx context.Context, edges []Edge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertEdgesTx(ctx, tx, edges)
	})
}

// StageEdges replaces the staged edge set. Staged edges are the
// extraction phase's output parked durably until the relationships phase
// commits them, so a run resumed between the two phases can reload them.
func (s *SQLiteStore) StageEdges(ctx context.Context, edges []Edge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM staged_edges`); err != nil {
			return fmt.Errorf("clearing staged edges: %w", err)
		}
		for _, e := range edges {
			computedAt := e.ComputedAt
			if computedAt.IsZero() {
				computedAt = time.Now()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO staged_edges (from_id, from_type, to_id, to_type, edge_type, source_file, source_line, confidence, computed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.FromID, e.FromType, e.ToID, e.ToType, e.EdgeType, e.SourceFile,
				e.SourceLine, e.Confidence, computedAt.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("staging edge %s->%s: %w", e.FromID, e.ToID, err)
			}
		}
		return nil
	})
}

// ListStagedEdges returns the staged edge set, sorted by key.
func (s *SQLiteStore) ListStagedEdges(ctx context.Context) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, from_type, to_id, to_type, edge_type, source_file, source_line, confidence, computed_at
		FROM staged_edges ORDER BY from_id, to_id, edge_type, source_file`)
	if err != nil {
		return nil, fmt.Errorf("querying staged edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var computedAt string
		if err := rows.Scan(&e.FromID, &e.FromType, &e.ToID, &e.ToType, &e.EdgeType,
			&e.SourceFile, &e.SourceLine, &e.Confidence, &computedAt); err != nil {
			return nil, fmt.Errorf("scanning staged edge: %w", err)
		}
		e.ComputedAt, _ = time.Parse(time.RFC3339Nano, computedAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ClearStagedEdges drops the staged edge set. Called once the run that
// staged it has committed everything.
func (s *SQLiteStore) ClearStagedEdges(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staged_edges`); err != nil {
		return fmt.Errorf("clearing staged edges: %w", err)
	}
	return nil
}

// ListEntities returns all stored entities, sorted by ID.
func (s *SQLiteStore) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, path, start_line, end_line, summary, updated_at
		FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var updatedAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &e.Path,
			&e.StartLine, &e.EndLine, &e.Summary, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// UpdateEntitySummary attaches a generated summary to an entity.
func (s *SQLiteStore) UpdateEntitySummary(ctx context.Context, entityID, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC().Format(time.RFC3339Nano), entityID)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %s not found", entityID)
	}
	return nil
}

// ApplyBatch persists the whole batch in one transaction.
func (s *SQLiteStore) ApplyBatch(ctx context.Context, batch Batch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertEntitiesTx(ctx, tx, batch.Entities); err != nil {
			return err
		}
		if err := upsertEdgesTx(ctx, tx, batch.Edges); err != nil {
			return err
		}
		for _, item := range batch.Ingestions {
			payload := item.Payload
			if payload == nil {
				payload = []byte("{}")
			}
			metadata := item.Metadata
			if metadata == nil {
				metadata = []byte("{}")
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO ingestion_items (id, source_type, source_version, ingested_at, payload, metadata)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					source_type = excluded.source_type,
					source_version = excluded.source_version,
					ingested_at = excluded.ingested_at,
					payload = excluded.payload,
					metadata = excluded.metadata`,
				item.ID, item.SourceType, item.SourceVersion,
				item.IngestedAt.UTC().Format(time.RFC3339Nano),
				string(payload), string(metadata))
			if err != nil {
				return fmt.Errorf("storing ingestion item %s: %w", item.ID, err)
			}
		}
		for _, m := range batch.Tests {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO test_mappings (test_path, source_path, confidence)
				VALUES (?, ?, ?)
				ON CONFLICT(test_path, source_path) DO UPDATE SET confidence = excluded.confidence`,
				m.TestPath, m.SourcePath, m.Confidence)
			if err != nil {
				return fmt.Errorf("storing test mapping %s: %w", m.TestPath, err)
			}
		}
		for _, c := range batch.Commits {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO commits (hash, author, message, category, committed_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(hash) DO UPDATE SET
					author = excluded.author,
					message = excluded.message,
					category = excluded.category,
					committed_at = excluded.committed_at`,
				c.Hash, c.Author, c.Message, c.Category,
				c.CommittedAt.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("storing commit %s: %w", c.Hash, err)
			}
		}
		for _, o := range batch.Ownership {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO ownership (path, owner, score)
				VALUES (?, ?, ?)
				ON CONFLICT(path, owner) DO UPDATE SET score = excluded.score`,
				o.Path, o.Owner, o.Score)
			if err != nil {
				return fmt.Errorf("storing ownership %s: %w", o.Path, err)
			}
		}
		return nil
	})
}

// PutMetadata replaces the workspace metadata record.
func (s *SQLiteStore) PutMetadata(ctx context.Context, meta Metadata) error {
	return s.putSlot(ctx, "metadata", meta)
}

// GetMetadata returns the metadata record, or nil when none exists.
func (s *SQLiteStore) GetMetadata(ctx context.Context) (*Metadata, error) {
	var meta Metadata
	ok, err := s.getSlot(ctx, "metadata", &meta)
	if err != nil || !ok {
		return nil, err
	}
	return &meta, nil
}

// PutRunReport replaces the last-run-report slot.
func (s *SQLiteStore) PutRunReport(ctx context.Context, report []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_metadata (slot, value) VALUES ('last_run_report', ?)
		ON CONFLICT(slot) DO UPDATE SET value = excluded.value`,
		string(report))
	if err != nil {
		return fmt.Errorf("storing run report: %w", err)
	}
	return nil
}

// GetRunReport returns the last run report, or nil when none exists.
func (s *SQLiteStore) GetRunReport(ctx context.Context) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM index_metadata WHERE slot = 'last_run_report'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading run report: %w", err)
	}
	return []byte(value), nil
}

// GetCounts returns stored volumes per record type.
func (s *SQLiteStore) GetCounts(ctx context.Context) (Counts, error) {
	var counts Counts
	queries := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM entities`, &counts.Entities},
		{`SELECT COUNT(*) FROM edges`, &counts.Edges},
		{`SELECT COUNT(*) FROM ingestion_items`, &counts.Ingestions},
		{`SELECT COUNT(*) FROM test_mappings`, &counts.Tests},
		{`SELECT COUNT(*) FROM commits`, &counts.Commits},
		{`SELECT COUNT(*) FROM ownership`, &counts.Ownership},
		{`SELECT COUNT(*) FROM entities WHERE summary != ''`, &counts.Summaries},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Counts{}, fmt.Errorf("counting rows: %w", err)
		}
	}
	return counts, nil
}

// GetCommits returns stored commits, newest first. Used by tests and the
// status command.
func (s *SQLiteStore) GetCommits(ctx context.Context) ([]CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, author, message, category, committed_at FROM commits ORDER BY committed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var commits []CommitRecord
	for rows.Next() {
		var c CommitRecord
		var committedAt string
		if err := rows.Scan(&c.Hash, &c.Author, &c.Message, &c.Category, &committedAt); err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		c.CommittedAt, _ = time.Parse(time.RFC3339Nano, committedAt)
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) putSlot(ctx context.Context, slot string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", slot, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_metadata (slot, value) VALUES (?, ?)
		ON CONFLICT(slot) DO UPDATE SET value = excluded.value`,
		slot, string(data))
	if err != nil {
		return fmt.Errorf("storing %s: %w", slot, err)
	}
	return nil
}

func (s *SQLiteStore) getSlot(ctx context.Context, slot string, dest any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM index_metadata WHERE slot = ?`, slot).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", slot, err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("unmarshaling %s: %w", slot, err)
	}
	return true, nil
}

func upsertEntitiesTx(ctx context.Context, tx *sql.Tx, entities []Entity) error {
	for _, e := range entities {
		updatedAt := e.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, kind, name, path, start_line, end_line, summary, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				name = excluded.name,
				path = excluded.path,
				start_line = excluded.start_line,
				end_line = excluded.end_line,
				summary = CASE WHEN excluded.summary != '' THEN excluded.summary ELSE entities.summary END,
				updated_at = excluded.updated_at`,
			e.ID, e.Kind, e.Name, e.Path, e.StartLine, e.EndLine, e.Summary,
			updatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("storing entity %s: %w", e.ID, err)
		}
	}
	return nil
}

func upsertEdgesTx(ctx context.Context, tx *sql.Tx, edges []Edge) error {
	for _, e := range edges {
		computedAt := e.ComputedAt
		if computedAt.IsZero() {
			computedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO edges (from_id, from_type, to_id, to_type, edge_type, source_file, source_line, confidence, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(from_id, to_id, edge_type, source_file) DO UPDATE SET
				from_type = excluded.from_type,
				to_type = excluded.to_type,
				source_line = excluded.source_line,
				confidence = excluded.confidence,
				computed_at = excluded.computed_at`,
			e.FromID, e.FromType, e.ToID, e.ToType, e.EdgeType, e.SourceFile,
			e.SourceLine, e.Confidence, computedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("storing edge %s->%s: %w", e.FromID, e.ToID, err)
		}
	}
	return nil
}
