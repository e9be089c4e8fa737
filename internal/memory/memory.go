// Package memory layers the supervisor's learning and recall on the
// SQLite store: per-query agent feedback, the TTL'd tool result cache,
// and episodic thread history.
package memory

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"kompass/internal/logging"
	"kompass/internal/store"
	"kompass/internal/types"
)

// TTLResolver maps a data source name to its cache TTL.
type TTLResolver func(source string) time.Duration

// Config bounds the episodic layer and the result cache.
type Config struct {
	EpisodicStores     int // max (thread, namespace) stores kept
	EntriesPer         int // max entries per store
	ResultCacheEntries int // max cached tool results, LRU-evicted
}

// Memory is the shared recall layer for the turn machine.
type Memory struct {
	store *store.Store
	ttl   TTLResolver
	cfg   Config
}

// New creates the memory layer over an open store.
func New(st *store.Store, ttl TTLResolver, cfg Config) *Memory {
	if cfg.EpisodicStores <= 0 {
		cfg.EpisodicStores = 100
	}
	if cfg.EntriesPer <= 0 {
		cfg.EntriesPer = 200
	}
	if cfg.ResultCacheEntries <= 0 {
		cfg.ResultCacheEntries = 500
	}
	return &Memory{store: st, ttl: ttl, cfg: cfg}
}

// =============================================================================
// FEEDBACK
// =============================================================================

// QueryHash normalizes a query, truncates it to 80 characters, and
// FNV-hashes it. Truncation keeps long paste-ins from fragmenting the
// feedback table; normalization makes trivial rephrasings collide.
func QueryHash(query string) string {
	norm := types.NormalizeQuery(query)
	runes := []rune(norm)
	if len(runes) > 80 {
		norm = string(runes[:80])
	}
	h := fnv.New64a()
	h.Write([]byte(norm))
	return fmt.Sprintf("%x", h.Sum64())
}

// RecordFeedback bumps an agent's success or failure counter for a
// query pattern.
func (m *Memory) RecordFeedback(query, agent string, accepted bool) error {
	logging.Get(logging.CategoryMemory).Debug("feedback: agent=%s accepted=%v", agent, accepted)
	return m.store.AddFeedback(QueryHash(query), agent, accepted)
}

// RecordCompetitorWin notes that competitor delivered on a query
// pattern where agent did not.
func (m *Memory) RecordCompetitorWin(query, agent, competitor string) error {
	return m.store.AddCompetitorWin(QueryHash(query), agent, competitor)
}

// Boost implements retrieval.BoostProvider. The score is the success
// ratio (successes − failures) / (successes + failures), clamped to
// [-1, 1]; the visible boost is twice that, clamped to [-2, 2]. The
// ratio means a single accept nudges rather than pins the ranking:
// reaching the cap takes a consistent record, not one datapoint.
func (m *Memory) Boost(normQuery, agent string) float64 {
	c, err := m.store.GetFeedback(QueryHash(normQuery), agent)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("feedback read failed: %v", err)
		return 0
	}
	total := c.Successes + c.Failures
	if total == 0 {
		return 0
	}
	score := float64(c.Successes-c.Failures) / float64(total)
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	boost := 2 * score
	if boost > 2 {
		boost = 2
	}
	if boost < -2 {
		boost = -2
	}
	return boost
}

// HydrateFeedback merges a feedback snapshot without ever decreasing
// a counter that is already locally higher.
func (m *Memory) HydrateFeedback(rows []store.FeedbackRow) error {
	return m.store.HydrateFeedback(rows)
}

// =============================================================================
// RESULT CACHE
// =============================================================================

// ResultKey builds a stable cache key from a tool name and its
// arguments. Argument order never changes the key.
func ResultKey(tool string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	h.Write([]byte(tool))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		val, _ := json.Marshal(args[k])
		h.Write(val)
	}
	return fmt.Sprintf("%s:%x", tool, h.Sum64())
}

// CachedResult returns a fresh cached result for a tool call, using the
// source's configured TTL.
func (m *Memory) CachedResult(tool, source string, args map[string]any) (string, bool) {
	val, ok, err := m.store.CachedResult(ResultKey(tool, args), m.ttl(source))
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("result cache read failed: %v", err)
		return "", false
	}
	return val, ok
}

// CacheResult stores a successful tool result under the configured
// entry cap.
func (m *Memory) CacheResult(tool, source string, args map[string]any, value string) {
	if err := m.store.CacheResult(ResultKey(tool, args), source, value, m.cfg.ResultCacheEntries); err != nil {
		logging.Get(logging.CategoryMemory).Warn("result cache write failed: %v", err)
	}
}

// Prune drops result-cache rows older than maxAge. Expiry is already
// enforced at read time, so this is purely space reclamation.
func (m *Memory) Prune(maxAge time.Duration) {
	if n, err := m.store.PruneCache(maxAge); err != nil {
		logging.Get(logging.CategoryMemory).Warn("cache prune failed: %v", err)
	} else if n > 0 {
		logging.Get(logging.CategoryMemory).Debug("pruned %d stale cache rows", n)
	}
}

// =============================================================================
// EPISODIC HISTORY
// =============================================================================

// RememberExchange appends a user message and the final answer to the
// thread's episodic store.
func (m *Memory) RememberExchange(threadID, namespace, message, answer string) error {
	if err := m.store.AppendEpisode(threadID, namespace, "user", message, m.cfg.EntriesPer, m.cfg.EpisodicStores); err != nil {
		return err
	}
	return m.store.AppendEpisode(threadID, namespace, "assistant", answer, m.cfg.EntriesPer, m.cfg.EpisodicStores)
}

// History returns up to n recent exchange lines for prompt context,
// oldest first, formatted as "role: content".
func (m *Memory) History(threadID, namespace string, n int) ([]string, error) {
	eps, err := m.store.RecentEpisodes(threadID, namespace, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(eps))
	for i, e := range eps {
		out[i] = e.Role + ": " + e.Content
	}
	return out, nil
}

// RecordTurn persists a completed turn summary.
func (m *Memory) RecordTurn(t *types.Turn) error {
	return m.store.RecordTurn(store.TurnRecord{
		ID:        t.ID,
		ThreadID:  t.ThreadID,
		Namespace: t.Namespace,
		Message:   t.Message,
		Answer:    t.FinalAnswer,
		Route:     string(t.Intent.Route),
		StepCount: t.StepCount,
	})
}
