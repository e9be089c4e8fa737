package store

import (
	"fmt"
)

// =============================================================================
// TURN RECORDS
// =============================================================================

// TurnRecord is the durable summary of one completed turn.
type TurnRecord struct {
	ID        string
	ThreadID  string
	Namespace string
	Message   string
	Answer    string
	Route     string
	StepCount int
	CreatedAt string
}

// RecordTurn persists a completed turn.
func (s *Store) RecordTurn(rec TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO turns (id, thread_id, namespace, message, answer, route, step_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThreadID, rec.Namespace, rec.Message, rec.Answer, rec.Route, rec.StepCount)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// ThreadTurns returns the newest n turns of a thread, oldest first.
func (s *Store) ThreadTurns(threadID string, n int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, thread_id, namespace, message, answer, route, step_count, created_at FROM (
			SELECT * FROM turns WHERE thread_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`, threadID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Namespace, &r.Message, &r.Answer, &r.Route, &r.StepCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
