package store

import (
	"fmt"
)

// =============================================================================
// EPISODIC MEMORY
// =============================================================================

// Episode is one remembered exchange fragment inside a thread store.
type Episode struct {
	ID        int64
	ThreadID  string
	Namespace string
	Role      string
	Content   string
	CreatedAt string
}

// AppendEpisode stores one entry in the (thread, namespace) store and
// enforces the per-store and total-store caps by evicting the oldest.
func (s *Store) AppendEpisode(threadID, namespace, role, content string, maxEntries, maxStores int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO episodes (thread_id, namespace, role, content) VALUES (?, ?, ?, ?)`,
		threadID, namespace, role, content); err != nil {
		return fmt.Errorf("failed to append episode: %w", err)
	}

	// Cap entries within this store.
	if maxEntries > 0 {
		if _, err := tx.Exec(`
			DELETE FROM episodes
			WHERE thread_id = ? AND namespace = ? AND id NOT IN (
				SELECT id FROM episodes
				WHERE thread_id = ? AND namespace = ?
				ORDER BY id DESC LIMIT ?
			)`, threadID, namespace, threadID, namespace, maxEntries); err != nil {
			return fmt.Errorf("failed to trim episodes: %w", err)
		}
	}

	// Cap the number of distinct stores, dropping the stalest ones.
	if maxStores > 0 {
		if _, err := tx.Exec(`
			DELETE FROM episodes WHERE (thread_id, namespace) IN (
				SELECT thread_id, namespace FROM episodes
				GROUP BY thread_id, namespace
				ORDER BY MAX(id) DESC
				LIMIT -1 OFFSET ?
			)`, maxStores); err != nil {
			return fmt.Errorf("failed to trim stores: %w", err)
		}
	}

	return tx.Commit()
}

// RecentEpisodes returns the newest n episodes of a store, oldest first.
func (s *Store) RecentEpisodes(threadID, namespace string, n int) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, thread_id, namespace, role, content, created_at FROM (
			SELECT * FROM episodes
			WHERE thread_id = ? AND namespace = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, threadID, namespace, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var e Episode
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.Namespace, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StoreCount returns the number of distinct (thread, namespace) stores.
func (s *Store) StoreCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM (SELECT DISTINCT thread_id, namespace FROM episodes)`).Scan(&n)
	return n, err
}

// EpisodeCount returns the number of entries in one store.
func (s *Store) EpisodeCount(threadID, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM episodes WHERE thread_id = ? AND namespace = ?`,
		threadID, namespace).Scan(&n)
	return n, err
}
