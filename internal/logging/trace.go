package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceEvent is one entry in a turn's decision trace: a phase transition,
// a routing decision, a critic verdict, or an approval outcome.
type TraceEvent struct {
	Timestamp int64                  `json:"ts"`
	TurnID    string                 `json:"turn_id"`
	Phase     string                 `json:"phase"`
	Event     string                 `json:"event"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// TraceRecorder appends decision-trace events to a JSONL file so a turn's
// routing and critique history can be replayed after the fact.
type TraceRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewTraceRecorder opens (or creates) the trace file under the workspace.
// Returns a disabled recorder when debug mode is off.
func NewTraceRecorder(workspace string) (*TraceRecorder, error) {
	if !IsDebugMode() {
		return &TraceRecorder{}, nil
	}
	dir := filepath.Join(workspace, ".kompass", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "decision_trace.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &TraceRecorder{file: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one event. Safe for concurrent use; a nil or disabled
// recorder drops events silently.
func (r *TraceRecorder) Record(turnID, phase, event string, detail map[string]interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return
	}
	_ = r.enc.Encode(TraceEvent{
		Timestamp: time.Now().UnixMilli(),
		TurnID:    turnID,
		Phase:     phase,
		Event:     event,
		Detail:    detail,
	})
}

// Close closes the underlying file.
func (r *TraceRecorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.enc = nil, nil
	return err
}
