package turn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kompass/internal/types"
)

// ===== TURN CHECKPOINTS =====

// ErrNoCheckpoint is returned when no suspended turn exists for the
// (thread, namespace) pair.
var ErrNoCheckpoint = errors.New("no checkpoint for thread")

// CheckpointStore persists one suspended Turn per (thread, namespace)
// pair as a JSON file, so a turn halted at an approval gate survives
// a process restart.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates the checkpoint directory if needed.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (s *CheckpointStore) path(threadID, namespace string) string {
	name := fmt.Sprintf("%s__%s.json", sanitize(threadID), sanitize(namespace))
	return filepath.Join(s.dir, name)
}

// Save writes the turn atomically: temp file then rename.
func (s *CheckpointStore) Save(t *types.Turn) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	target := s.path(t.ThreadID, t.Namespace)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Load reads the suspended turn for the pair, or ErrNoCheckpoint.
func (s *CheckpointStore) Load(threadID, namespace string) (*types.Turn, error) {
	data, err := os.ReadFile(s.path(threadID, namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var t types.Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &t, nil
}

// Delete removes the checkpoint for the pair. Missing files are fine.
func (s *CheckpointStore) Delete(threadID, namespace string) error {
	err := os.Remove(s.path(threadID, namespace))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// sanitize keeps checkpoint filenames flat and portable.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
