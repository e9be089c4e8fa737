package store

import (
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// RESULT CACHE
// =============================================================================

// CacheResult stores a tool result under its cache key and enforces the
// store's entry cap by evicting the least-recently-used rows. The
// source tag decides which TTL applies at read time, so changing a TTL
// in config takes effect for already-cached rows.
func (s *Store) CacheResult(key, source, value string, maxEntries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO result_cache (cache_key, source, value, created_at, last_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key)
		DO UPDATE SET source = excluded.source, value = excluded.value,
		              created_at = excluded.created_at, last_used = excluded.last_used`,
		key, source, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}

	if maxEntries > 0 {
		if _, err := s.db.Exec(`
			DELETE FROM result_cache WHERE cache_key NOT IN (
				SELECT cache_key FROM result_cache
				ORDER BY last_used DESC LIMIT ?
			)`, maxEntries); err != nil {
			return fmt.Errorf("failed to trim cache: %w", err)
		}
	}
	return nil
}

// CachedResult returns the cached value for a key if it is younger than
// ttl, refreshing its recency. The second return is false on a miss or
// an expired row.
func (s *Store) CachedResult(key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	var createdAt int64
	err := s.db.QueryRow(
		`SELECT value, created_at FROM result_cache WHERE cache_key = ?`, key).
		Scan(&value, &createdAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache: %w", err)
	}

	age := time.Since(time.UnixMilli(createdAt))
	if age > ttl {
		return "", false, nil
	}

	if _, err := s.db.Exec(
		`UPDATE result_cache SET last_used = ? WHERE cache_key = ?`,
		time.Now().UnixMilli(), key); err != nil {
		return "", false, fmt.Errorf("failed to touch cache row: %w", err)
	}
	return value, true, nil
}

// PruneCache deletes rows older than the longest configured TTL.
// Expired rows are also ignored at read time, so this only reclaims
// space.
func (s *Store) PruneCache(maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM result_cache WHERE created_at < ?`,
		time.Now().Add(-maxAge).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return res.RowsAffected()
}
