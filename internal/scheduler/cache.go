// Package scheduler coordinates snapshot computations: a TTL cache over
// computed snapshots, single-flight deduplication per computation key, and a
// bounded worker pool with a hard timeout per computation.
package scheduler

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantfolio/quantfolio/internal/domain"
	"github.com/quantfolio/quantfolio/internal/engine"
)

// CacheKey identifies one computation: user, filter set and calculation mode.
// The filter hash is order-insensitive so equivalent filter sets share a key.
func CacheKey(userID string, filters domain.Filters, mode engine.Mode) string {
	return userID + "|" + filterHash(filters) + "|" + string(mode)
}

func filterHash(f domain.Filters) string {
	if f.IsEmpty() {
		return "all"
	}
	parts := make([]string, 0, 3)
	parts = append(parts, "a:"+joinSorted(f.AccountIDs))
	parts = append(parts, "t:"+joinSorted(f.Tags))
	parts = append(parts, "c:"+joinSorted(f.AssetClasses))
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:8])
}

func joinSorted(in []string) string {
	s := append([]string(nil), in...)
	sort.Strings(s)
	return strings.Join(s, ",")
}

// cacheEntry pairs a snapshot with its expiration instant.
type cacheEntry struct {
	snapshot  *engine.PortfolioSnapshot
	expiresAt time.Time
}

// Cache is a two-level TTL cache for computed snapshots: an in-memory map in
// front of a SQLite table, so warm entries survive restarts. Expired entries
// are served as stale fallbacks until a recomputation replaces them.
type Cache struct {
	db  *sql.DB
	mu  sync.RWMutex
	mem map[string]cacheEntry
	log zerolog.Logger
}

// NewCache creates a snapshot cache over the cache database.
func NewCache(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		mem: make(map[string]cacheEntry),
		log: log.With().Str("component", "snapshot_cache").Logger(),
	}
}

// Get returns the cached snapshot for the key and whether it is still fresh.
// A stale entry is still returned: stale data is better than no data, and the
// scheduler triggers a background recomputation on stale hits.
func (c *Cache) Get(ctx context.Context, key string) (*engine.PortfolioSnapshot, bool) {
	c.mu.RLock()
	entry, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return entry.snapshot, time.Now().Before(entry.expiresAt)
	}

	// Cold start: fall through to the persistent layer.
	var (
		blob      []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT data, expires_at FROM snapshot_cache WHERE cache_key = ?", key,
	).Scan(&blob, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return nil, false
	}

	var snapshot engine.PortfolioSnapshot
	if err := msgpack.Unmarshal(blob, &snapshot); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache entry undecodable, dropping")
		_, _ = c.db.ExecContext(ctx, "DELETE FROM snapshot_cache WHERE cache_key = ?", key)
		return nil, false
	}

	exp := time.Unix(expiresAt, 0)
	c.mu.Lock()
	c.mem[key] = cacheEntry{snapshot: &snapshot, expiresAt: exp}
	c.mu.Unlock()

	return &snapshot, time.Now().Before(exp)
}

// Put stores a snapshot under the key. Snapshots with computation errors are
// stored already expired: they can still serve as fallbacks, but the next
// request recomputes instead of pinning partial results for a full TTL.
func (c *Cache) Put(ctx context.Context, key string, snapshot *engine.PortfolioSnapshot, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	if snapshot.HasErrors {
		expiresAt = time.Now()
	}

	c.mu.Lock()
	c.mem[key] = cacheEntry{snapshot: snapshot, expiresAt: expiresAt}
	c.mu.Unlock()

	blob, err := msgpack.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshot_cache (cache_key, data, expires_at)
		VALUES (?, ?, ?)`,
		key, blob, expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// Delete evicts one entry from both layers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
	_, _ = c.db.ExecContext(ctx, "DELETE FROM snapshot_cache WHERE cache_key = ?", key)
}

// DeleteUser evicts every cached snapshot of one user, across all filter
// sets and modes. Called after activity writes.
func (c *Cache) DeleteUser(ctx context.Context, userID string) {
	prefix := userID + "|"

	c.mu.Lock()
	for key := range c.mem {
		if strings.HasPrefix(key, prefix) {
			delete(c.mem, key)
		}
	}
	c.mu.Unlock()

	_, _ = c.db.ExecContext(ctx,
		"DELETE FROM snapshot_cache WHERE cache_key LIKE ?", prefix+"%")
}

// Flush drops every cached snapshot.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.mem = make(map[string]cacheEntry)
	c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM snapshot_cache"); err != nil {
		return fmt.Errorf("failed to flush snapshot cache: %w", err)
	}
	return nil
}

// DeleteExpired removes persisted entries whose expiration passed more than
// the grace period ago. Recently expired rows are kept as stale fallbacks.
func (c *Cache) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().Add(-grace).Unix()

	res, err := c.db.ExecContext(ctx,
		"DELETE FROM snapshot_cache WHERE expires_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired snapshots: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	c.mu.Lock()
	now := time.Now()
	for key, entry := range c.mem {
		if entry.expiresAt.Add(grace).Before(now) {
			delete(c.mem, key)
		}
	}
	c.mu.Unlock()

	return deleted, nil
}
