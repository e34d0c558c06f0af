package export

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "listings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the pool used to upsert exported rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink upserts export rows keyed by listing id.
type PostgresSink struct {
	pool  execCloser
	table string
}

// NewPostgresSink connects a pool using cfg.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// NewPostgresSinkWithPool wraps an existing pool (primarily for testing).
func NewPostgresSinkWithPool(pool execCloser, table string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureTable creates the export table when missing.
func (s *PostgresSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            INTEGER PRIMARY KEY,
	city          TEXT,
	district      TEXT,
	property_type TEXT,
	surface_m2    DOUBLE PRECISION,
	rooms         TEXT,
	bathrooms     TEXT,
	price         TEXT,
	posted_date   TEXT,
	source_url    TEXT NOT NULL UNIQUE
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write upserts every row. Re-exporting the same dataset is idempotent.
func (s *PostgresSink) Write(ctx context.Context, rows []Row) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("postgres sink is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	city,
	district,
	property_type,
	surface_m2,
	rooms,
	bathrooms,
	price,
	posted_date,
	source_url
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (id) DO UPDATE SET
	city = EXCLUDED.city,
	district = EXCLUDED.district,
	property_type = EXCLUDED.property_type,
	surface_m2 = EXCLUDED.surface_m2,
	rooms = EXCLUDED.rooms,
	bathrooms = EXCLUDED.bathrooms,
	price = EXCLUDED.price,
	posted_date = EXCLUDED.posted_date,
	source_url = EXCLUDED.source_url`, s.table)

	written := 0
	for _, row := range rows {
		args := []any{
			row.ID,
			nullable(row.City),
			nullable(row.District),
			nullable(row.PropertyType),
			surfaceFloat(row.SurfaceM2),
			nullable(row.Rooms),
			nullable(row.Bathrooms),
			nullable(row.Price),
			nullable(row.PostedDate),
			row.SourceURL,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return written, fmt.Errorf("upsert listing %d: %w", row.ID, err)
		}
		written++
	}
	return written, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
