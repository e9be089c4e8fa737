package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"kompass/internal/logging"
	"kompass/internal/retrieval"
	"kompass/internal/types"
)

// ===== SPECULATIVE EXECUTION =====

// Candidate is one tool call considered for prefetching.
type Candidate struct {
	Tool        string
	Description string
	Args        map[string]interface{}
}

// Speculative prefetches a bounded set of candidate tool calls while
// planning is still in flight. Each call is isolated; one failing
// candidate never aborts the batch.
type Speculative struct {
	inv *Invoker
	max int
	log *logging.Logger
}

// NewSpeculative bounds the batch at max candidates.
func NewSpeculative(inv *Invoker, max int) *Speculative {
	if max <= 0 {
		max = 3
	}
	return &Speculative{inv: inv, max: max, log: logging.Get(logging.CategoryExecutor)}
}

// Launch ranks candidates by token overlap against the query, keeps
// the top max, and runs them concurrently under the batch timeout.
// The result map is keyed by tool name, so completion order never
// affects which result wins.
func (s *Speculative) Launch(ctx context.Context, query string, candidates []Candidate, timeout time.Duration) map[string]types.ResultContract {
	if len(candidates) == 0 {
		return nil
	}
	kw := retrieval.ExtractKeywords(query)
	sort.SliceStable(candidates, func(i, j int) bool {
		return kw.OverlapScore(candidates[i].Tool+" "+candidates[i].Description) >
			kw.OverlapScore(candidates[j].Tool+" "+candidates[j].Description)
	})
	if len(candidates) > s.max {
		candidates = candidates[:s.max]
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	batchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]types.ResultContract, len(candidates))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			contract := s.inv.Invoke(batchCtx, c.Tool, c.Args)
			mu.Lock()
			results[c.Tool] = contract
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	s.log.Debug("speculative batch done: %d results", len(results))
	return results
}

// Covered reports whether every needed tool has a successful
// speculative result. Complete coverage forces the inline strategy.
func Covered(results map[string]types.ResultContract, needed []string) bool {
	if len(needed) == 0 {
		return false
	}
	for _, tool := range needed {
		res, ok := results[tool]
		if !ok || res.Status != types.StatusSuccess {
			return false
		}
	}
	return true
}

// Discards returns the speculative results the plan never used, for
// observability. The contracts themselves are dropped.
func Discards(results map[string]types.ResultContract, used []string) []string {
	usedSet := make(map[string]bool, len(used))
	for _, u := range used {
		usedSet[u] = true
	}
	var out []string
	for tool := range results {
		if !usedSet[tool] {
			out = append(out, tool)
		}
	}
	sort.Strings(out)
	return out
}
