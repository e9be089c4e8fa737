package store

import (
	"database/sql"
	"fmt"
)

// =============================================================================
// FEEDBACK COUNTERS
// =============================================================================

// FeedbackCounters are the raw tallies behind a (query hash, agent)
// feedback signal.
type FeedbackCounters struct {
	Successes int64
	Failures  int64
}

// FeedbackRow is one durable feedback record, used for snapshot
// hydration.
type FeedbackRow struct {
	QueryHash string
	Agent     string
	Successes int64
	Failures  int64
}

// AddFeedback increments one counter for a (query hash, agent) pair.
// Accepted answers bump successes, rejections bump failures.
func (s *Store) AddFeedback(queryHash, agent string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}
	_, err := s.db.Exec(`
		INSERT INTO feedback (query_hash, agent, successes, failures, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(query_hash, agent)
		DO UPDATE SET successes = successes + excluded.successes,
		              failures  = failures  + excluded.failures,
		              updated_at = CURRENT_TIMESTAMP`,
		queryHash, agent, succ, fail)
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

// GetFeedback returns the counters for a (query hash, agent) pair,
// zeros when none were ever recorded.
func (s *Store) GetFeedback(queryHash, agent string) (FeedbackCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c FeedbackCounters
	err := s.db.QueryRow(
		`SELECT successes, failures FROM feedback WHERE query_hash = ? AND agent = ?`,
		queryHash, agent).Scan(&c.Successes, &c.Failures)
	if err == sql.ErrNoRows {
		return FeedbackCounters{}, nil
	}
	if err != nil {
		return FeedbackCounters{}, fmt.Errorf("failed to read feedback: %w", err)
	}
	return c, nil
}

// FeedbackForQuery returns the counters of every agent recorded for a
// query hash.
func (s *Store) FeedbackForQuery(queryHash string) (map[string]FeedbackCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT agent, successes, failures FROM feedback WHERE query_hash = ?`, queryHash)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback: %w", err)
	}
	defer rows.Close()

	out := make(map[string]FeedbackCounters)
	for rows.Next() {
		var agent string
		var c FeedbackCounters
		if err := rows.Scan(&agent, &c.Successes, &c.Failures); err != nil {
			return nil, err
		}
		out[agent] = c
	}
	return out, rows.Err()
}

// AddCompetitorWin records that competitor delivered where agent did
// not, for the same query pattern.
func (s *Store) AddCompetitorWin(queryHash, agent, competitor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO feedback_wins (query_hash, agent, competitor, wins)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(query_hash, agent, competitor)
		DO UPDATE SET wins = wins + 1`,
		queryHash, agent, competitor)
	if err != nil {
		return fmt.Errorf("failed to record competitor win: %w", err)
	}
	return nil
}

// CompetitorWins returns the win counts of every competitor recorded
// against a (query hash, agent) pair.
func (s *Store) CompetitorWins(queryHash, agent string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT competitor, wins FROM feedback_wins WHERE query_hash = ? AND agent = ?`,
		queryHash, agent)
	if err != nil {
		return nil, fmt.Errorf("failed to read competitor wins: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var competitor string
		var wins int64
		if err := rows.Scan(&competitor, &wins); err != nil {
			return nil, err
		}
		out[competitor] = wins
	}
	return out, rows.Err()
}

// HydrateFeedback merges a snapshot of feedback rows. A counter is
// never decreased: each row takes the per-counter maximum of the
// stored and incoming values, so replaying a stale snapshot cannot
// erase feedback recorded since it was taken.
func (s *Store) HydrateFeedback(rows []FeedbackRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rows {
		_, err := tx.Exec(`
			INSERT INTO feedback (query_hash, agent, successes, failures, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(query_hash, agent)
			DO UPDATE SET successes = MAX(successes, excluded.successes),
			              failures  = MAX(failures,  excluded.failures),
			              updated_at = CURRENT_TIMESTAMP`,
			r.QueryHash, r.Agent, r.Successes, r.Failures)
		if err != nil {
			return fmt.Errorf("failed to hydrate feedback row: %w", err)
		}
	}
	return tx.Commit()
}
