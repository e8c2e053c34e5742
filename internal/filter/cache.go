package filter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	// Registers the pure-Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// Cache memoizes relevance decisions by link key.
type Cache interface {
	Get(key string) (ingest.FilterDecision, bool)
	Set(key string, decision ingest.FilterDecision)
	Len() int
	Clear()
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]ingest.FilterDecision
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]ingest.FilterDecision)}
}

// Get returns a cached decision.
func (c *MemoryCache) Get(key string) (ingest.FilterDecision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key]
	return d, ok
}

// Set stores a decision.
func (c *MemoryCache) Set(key string, decision ingest.FilterDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = decision
}

// Len returns the number of cached decisions.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every cached decision.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ingest.FilterDecision)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS filter_decisions (
	key        TEXT PRIMARY KEY,
	decision   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

const sqliteTimeout = 5 * time.Second

// SQLiteCache persists decisions across runs so repeated crawls of the same
// site do not spend quota twice. Storage errors are logged and treated as misses.
type SQLiteCache struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteCache opens (or creates) the cache database at path.
func OpenSQLiteCache(path string, logger *zap.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open decision cache: %w", err)
	}
	// A single connection serializes writers; sqlite does not like concurrent ones.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init decision cache schema: %w", err)
	}
	return &SQLiteCache{db: db, logger: logger.Named("decision_cache")}, nil
}

// Get returns a cached decision.
func (c *SQLiteCache) Get(key string) (ingest.FilterDecision, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()

	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT decision FROM filter_decisions WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.FilterDecision{}, false
	}
	if err != nil {
		c.logger.Warn("decision cache read failed", zap.Error(err))
		return ingest.FilterDecision{}, false
	}
	var decision ingest.FilterDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		c.logger.Warn("decision cache entry corrupt", zap.String("key", key), zap.Error(err))
		return ingest.FilterDecision{}, false
	}
	return decision, true
}

// Set stores a decision, replacing any previous one under the same key.
func (c *SQLiteCache) Set(key string, decision ingest.FilterDecision) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()

	raw, err := json.Marshal(decision)
	if err != nil {
		c.logger.Warn("decision cache encode failed", zap.Error(err))
		return
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO filter_decisions (key, decision, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET decision = excluded.decision, created_at = excluded.created_at`,
		key, string(raw), time.Now().UTC(),
	)
	if err != nil {
		c.logger.Warn("decision cache write failed", zap.Error(err))
	}
}

// Len returns the number of cached decisions.
func (c *SQLiteCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filter_decisions`).Scan(&n); err != nil {
		c.logger.Warn("decision cache count failed", zap.Error(err))
		return 0
	}
	return n
}

// Clear drops every cached decision.
func (c *SQLiteCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM filter_decisions`); err != nil {
		c.logger.Warn("decision cache clear failed", zap.Error(err))
	}
}

// Close releases the database handle.
func (c *SQLiteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close decision cache: %w", err)
	}
	return nil
}
