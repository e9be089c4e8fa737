// Package store provides the SQLite persistence layer: feedback scores,
// episodic memory, the durable result cache, and completed turn records.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"kompass/internal/logging"
)

// Store wraps the SQLite database. A single connection is shared; the
// modernc driver serializes access and WAL keeps readers cheap.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	log := logging.Get(logging.CategoryStore)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("failed to set journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		log.Debug("failed to set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store opened: %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS feedback (
			query_hash TEXT NOT NULL,
			agent      TEXT NOT NULL,
			successes  INTEGER NOT NULL DEFAULT 0,
			failures   INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (query_hash, agent)
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_wins (
			query_hash TEXT NOT NULL,
			agent      TEXT NOT NULL,
			competitor TEXT NOT NULL,
			wins       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (query_hash, agent, competitor)
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id  TEXT NOT NULL,
			namespace  TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_thread
			ON episodes(thread_id, namespace, id)`,
		`CREATE TABLE IF NOT EXISTS result_cache (
			cache_key  TEXT PRIMARY KEY,
			source     TEXT NOT NULL,
			value      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_used  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_result_cache_used
			ON result_cache(last_used)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id          TEXT PRIMARY KEY,
			thread_id   TEXT NOT NULL,
			namespace   TEXT NOT NULL,
			message     TEXT NOT NULL,
			answer      TEXT NOT NULL,
			route       TEXT NOT NULL,
			step_count  INTEGER NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_thread
			ON turns(thread_id, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}
