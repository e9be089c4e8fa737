package retrieval

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// =============================================================================
// COMBO CACHE
// =============================================================================

// Combo is a cached agent/tool selection for a query.
type Combo struct {
	Agents []string
	Tools  map[string][]string
}

// ComboKey hashes the retrieval context into the cache key: the route
// hint, the two most recently used agents, the first six
// stopword-filtered query tokens, and the sorted sub-intents. Keying
// on a token prefix instead of the full query lets rephrasings of the
// same request collide, which is the point of the cache.
func ComboKey(route string, recentAgents []string, query string, subIntents []string) string {
	if len(recentAgents) > 2 {
		recentAgents = recentAgents[:2]
	}

	var tokens []string
	for _, raw := range strings.Fields(strings.ToLower(query)) {
		tok := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok == "" || swedishStopwords[tok] {
			continue
		}
		tokens = append(tokens, tok)
		if len(tokens) == 6 {
			break
		}
	}

	sorted := append([]string(nil), subIntents...)
	sort.Strings(sorted)

	h := fnv.New64a()
	h.Write([]byte(route))
	for _, part := range [][]string{recentAgents, tokens, sorted} {
		h.Write([]byte{0x1f})
		for _, p := range part {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// ComboCache caches agent/tool combinations keyed by ComboKey and
// catalog version, so repeated similar requests skip ranking entirely.
// The version key invalidates everything when the catalog is
// hot-reloaded.
type ComboCache struct {
	entries map[string]*comboEntry
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
}

type comboEntry struct {
	combo     Combo
	timestamp time.Time
}

// NewComboCache creates a new cache.
func NewComboCache(maxSize int, ttl time.Duration) *ComboCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &ComboCache{
		entries: make(map[string]*comboEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func entryKey(key, catalogVersion string) string {
	return catalogVersion + "\x00" + key
}

// Get retrieves a cached combo by its ComboKey.
func (c *ComboCache) Get(key, catalogVersion string) (Combo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[entryKey(key, catalogVersion)]
	if !ok {
		return Combo{}, false
	}
	if time.Since(entry.timestamp) > c.ttl {
		return Combo{}, false
	}
	return entry.combo, true
}

// Set stores a combo under its ComboKey.
func (c *ComboCache) Set(key, catalogVersion string, combo Combo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[entryKey(key, catalogVersion)] = &comboEntry{
		combo:     combo,
		timestamp: time.Now(),
	}
}

// evictOldest removes the oldest cache entry.
func (c *ComboCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.timestamp
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Clear empties the cache.
func (c *ComboCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*comboEntry)
}

// Len returns the number of cached entries, including expired ones not
// yet evicted.
func (c *ComboCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
