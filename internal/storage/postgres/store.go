// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultRecordsTable    = "layer_records"
	defaultCheckpointTable = "crawl_checkpoints"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	RecordsTable    string
	CheckpointTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store persists layer records and checkpoints in Postgres.
type Store struct {
	pool        pool
	records     string
	checkpoints string
	now         func() time.Time
}

// NewStore connects to Postgres using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	// Validate names before dialing.
	if _, _, err := tableNames(cfg); err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, cfg Config) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	records, checkpoints, err := tableNames(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		pool:        p,
		records:     records,
		checkpoints: checkpoints,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func tableNames(cfg Config) (string, string, error) {
	records := cfg.RecordsTable
	if records == "" {
		records = defaultRecordsTable
	}
	checkpoints := cfg.CheckpointTable
	if checkpoints == "" {
		checkpoints = defaultCheckpointTable
	}
	for _, name := range []string{records, checkpoints} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return records, checkpoints, nil
}

// Migrate creates the record and checkpoint tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url           TEXT PRIMARY KEY,
	root          TEXT NOT NULL,
	layer_name    TEXT NOT NULL,
	fields        TEXT[] NOT NULL,
	description   TEXT NOT NULL,
	geometry_type TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
)`, s.records),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	root         TEXT PRIMARY KEY,
	completed_at TIMESTAMPTZ NOT NULL
)`, s.checkpoints),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Append inserts records in one transaction. Rows whose URL already exists are left untouched.
func (s *Store) Append(ctx context.Context, root string, records []crawler.LayerRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	root,
	layer_name,
	fields,
	description,
	geometry_type,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
) ON CONFLICT (url) DO NOTHING`, s.records)

	now := s.now()
	written := 0
	for _, rec := range records {
		fields := rec.Fields
		if fields == nil {
			fields = []string{}
		}
		tag, err := tx.Exec(ctx, query, rec.URL, root, rec.LayerName, fields, rec.Description, rec.GeometryType, now)
		if err != nil {
			return 0, fmt.Errorf("insert record %s: %w", rec.URL, err)
		}
		written += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit records: %w", err)
	}
	committed = true
	return written, nil
}

// Records returns every stored record ordered by URL.
func (s *Store) Records(ctx context.Context) ([]crawler.LayerRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT url, layer_name, fields, description, geometry_type FROM %s ORDER BY url`, s.records))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []crawler.LayerRecord
	for rows.Next() {
		var rec crawler.LayerRecord
		if err := rows.Scan(&rec.URL, &rec.LayerName, &rec.Fields, &rec.Description, &rec.GeometryType); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
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
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE root = $1)`, s.checkpoints)
	if err := s.pool.QueryRow(ctx, query, root).Scan(&exists); err != nil {
		return false, fmt.Errorf("query checkpoint: %w", err)
	}
	return exists, nil
}

// MarkDone checkpoints root.
func (s *Store) MarkDone(ctx context.Context, root string) error {
	query := fmt.Sprintf(`INSERT INTO %s (root, completed_at) VALUES ($1, $2) ON CONFLICT (root) DO NOTHING`, s.checkpoints)
	if _, err := s.pool.Exec(ctx, query, root, s.now()); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Completed lists checkpointed roots in lexical order.
func (s *Store) Completed(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT root FROM %s ORDER BY root`, s.checkpoints))
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()
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
	var err error
	if len(roots) == 0 {
		_, err = s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.checkpoints))
	} else {
		_, err = s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE root = ANY($1)`, s.checkpoints), roots)
	}
	if err != nil {
		return fmt.Errorf("reset checkpoints: %w", err)
	}
	return nil
}
