package executor

import "sync"

// SearchBudget is the hard per-turn cap on tool invocations. Every
// call site must Take before dispatching; a drained budget turns the
// call into a blocked contract instead of an invocation.
type SearchBudget struct {
	mu        sync.Mutex
	remaining int
}

// NewSearchBudget creates a budget of n calls.
func NewSearchBudget(n int) *SearchBudget {
	if n <= 0 {
		n = 8
	}
	return &SearchBudget{remaining: n}
}

// Take consumes one call from the budget. Returns false when drained.
func (b *SearchBudget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining returns the calls left.
func (b *SearchBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}
