// Package sqlite stores layer records and checkpoint state in a single
// SQLite database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

var fieldsJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS layer_records (
	url           TEXT PRIMARY KEY,
	root          TEXT NOT NULL,
	layer_name    TEXT NOT NULL,
	fields        TEXT NOT NULL,
	description   TEXT NOT NULL,
	geometry_type TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_layer_records_root ON layer_records(root);
CREATE TABLE IF NOT EXISTS crawl_checkpoints (
	root         TEXT PRIMARY KEY,
	completed_at TIMESTAMP NOT NULL
);`

// Store implements crawler.RecordSink, crawler.RecordSource and
// crawler.Checkpoint on one SQLite file.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts records inside one transaction, ignoring URLs already stored.
func (s *Store) Append(ctx context.Context, root string, records []crawler.LayerRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO layer_records (url, root, layer_name, fields, description, geometry_type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	written := 0
	for _, rec := range records {
		fields, err := fieldsJSON.Marshal(nonNil(rec.Fields))
		if err != nil {
			return 0, fmt.Errorf("encode fields for %s: %w", rec.URL, err)
		}
		res, err := stmt.ExecContext(ctx, rec.URL, root, rec.LayerName, string(fields), rec.Description, rec.GeometryType, now)
		if err != nil {
			return 0, fmt.Errorf("insert record %s: %w", rec.URL, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit records: %w", err)
	}
	return written, nil
}

// Records returns every stored record ordered by URL.
func (s *Store) Records(ctx context.Context) ([]crawler.LayerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT url, layer_name, fields, description, geometry_type FROM layer_records ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.LayerRecord
	for rows.Next() {
		var (
			rec    crawler.LayerRecord
			fields string
		)
		if err := rows.Scan(&rec.URL, &rec.LayerName, &fields, &rec.Description, &rec.GeometryType); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := fieldsJSON.UnmarshalFromString(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode fields for %s: %w", rec.URL, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// IsDone reports whether root is checkpointed.
func (s *Store) IsDone(ctx context.Context, root string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM crawl_checkpoints WHERE root = ?)`, root).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query checkpoint: %w", err)
	}
	return exists, nil
}

// MarkDone checkpoints root.
func (s *Store) MarkDone(ctx context.Context, root string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO crawl_checkpoints (root, completed_at) VALUES (?, ?)`, root, s.now()); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Completed lists checkpointed roots in lexical order.
func (s *Store) Completed(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT root FROM crawl_checkpoints ORDER BY root`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var root string
		if err := rows.Scan(&root); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, root)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// Reset forgets the given roots, or every root when none are given.
func (s *Store) Reset(ctx context.Context, roots ...string) error {
	if len(roots) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM crawl_checkpoints`); err != nil {
			return fmt.Errorf("clear checkpoints: %w", err)
		}
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, root := range roots {
		if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_checkpoints WHERE root = ?`, root); err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", root, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

func nonNil(fields []string) []string {
	if fields == nil {
		return []string{}
	}
	return fields
}
