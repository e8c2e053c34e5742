// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/edu-harvester/internal/stats"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultStatsTable = "scraper_stats"
	statsRowID        = 1
)

// StatsStoreConfig controls the Postgres connection pool used for stats.
type StatsStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// StatsStore keeps the aggregator state as a single JSONB row.
type StatsStore struct {
	pool  pool
	table string
}

var _ stats.Store = (*StatsStore)(nil)

// NewStatsStore connects to Postgres and ensures the stats table exists.
func NewStatsStore(ctx context.Context, cfg StatsStoreConfig) (*StatsStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("stats.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewStatsStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewStatsStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStatsStoreWithPool(p pool, table string) (*StatsStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultStatsTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &StatsStore{pool: p, table: table}, nil
}

// EnsureSchema creates the stats table when missing.
func (s *StatsStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         INT PRIMARY KEY,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create stats table: %w", err)
	}
	return nil
}

// Save upserts the single stats row.
func (s *StatsStore) Save(ctx context.Context, state stats.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, snapshot, updated_at) VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, statsRowID, payload); err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

// Load reads the stats row.
func (s *StatsStore) Load(ctx context.Context) (stats.State, bool, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE id = $1`, s.table)
	var payload []byte
	if err := s.pool.QueryRow(ctx, query, statsRowID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stats.State{}, false, nil
		}
		return stats.State{}, false, fmt.Errorf("load stats: %w", err)
	}
	var state stats.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return stats.State{}, false, fmt.Errorf("decode stats: %w", err)
	}
	return state, true, nil
}

// Close releases the underlying pool resources.
func (s *StatsStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
