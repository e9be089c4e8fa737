package hitl

import (
	"context"
	"sync"
)

// ===== INTERACTIVE APPROVAL MANAGER =====

// Request is sent to the frontend when a turn halts at a gate.
type Request struct {
	TurnID  string
	Stage   string
	Preview string
}

// Response is the human's decision for a pending request.
type Response struct {
	TurnID   string
	Approved bool
	Reason   string
}

// Manager bridges suspended turns and an interactive frontend. A
// waiting turn registers a response channel keyed by turn id; the
// frontend reads requests from RequestCh and submits decisions back.
//
// The CLI resolves gates through the checkpoint round trip instead,
// where the user's next line is the decision and the process may
// restart in between. Manager is the surface for embedding frontends
// (a web UI, a bot) that hold the turn in memory while a human looks
// at the preview.
type Manager struct {
	pendingRequests map[string]chan Response
	requestCh       chan Request
	mu              sync.RWMutex
}

// NewManager creates an approval manager.
func NewManager() *Manager {
	return &Manager{
		pendingRequests: make(map[string]chan Response),
		requestCh:       make(chan Request, 10),
	}
}

// RequestCh returns the channel the frontend listens on.
func (m *Manager) RequestCh() <-chan Request {
	return m.requestCh
}

// WaitForApproval blocks until the human decides or the context ends.
func (m *Manager) WaitForApproval(ctx context.Context, req Request) (Response, error) {
	responseCh := make(chan Response, 1)

	m.mu.Lock()
	m.pendingRequests[req.TurnID] = responseCh
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pendingRequests, req.TurnID)
		m.mu.Unlock()
	}()

	select {
	case m.requestCh <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-responseCh:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// SubmitResponse delivers a decision for a pending request. Unknown
// or already-resolved turn ids are ignored.
func (m *Manager) SubmitResponse(resp Response) {
	m.mu.RLock()
	ch, exists := m.pendingRequests[resp.TurnID]
	m.mu.RUnlock()

	if exists {
		select {
		case ch <- resp:
		default:
		}
	}
}

// HasPendingRequest reports whether a turn is waiting on approval.
func (m *Manager) HasPendingRequest(turnID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.pendingRequests[turnID]
	return exists
}
