package embedding

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"kompass/internal/logging"
)

// =============================================================================
// CACHED ENGINE
// =============================================================================

// CachedEngine wraps an engine with an in-memory cache persisted to a
// JSON file. Catalog descriptions change rarely, so most turns embed
// only the user query.
type CachedEngine struct {
	inner EmbeddingEngine
	path  string

	mu    sync.RWMutex
	cache map[string][]float32
	dirty bool
}

// NewCachedEngine wraps inner with a cache backed by path. An empty
// path keeps the cache memory-only.
func NewCachedEngine(inner EmbeddingEngine, path string) *CachedEngine {
	c := &CachedEngine{
		inner: inner,
		path:  path,
		cache: make(map[string][]float32),
	}
	c.load()
	return c
}

func (c *CachedEngine) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var stored map[string][]float32
	if err := json.Unmarshal(data, &stored); err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("embedding cache unreadable, starting empty: %v", err)
		return
	}
	c.cache = stored
}

// Flush persists the cache to disk if it changed.
func (c *CachedEngine) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" || !c.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(c.cache)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Embed returns a cached vector or delegates to the inner engine.
func (c *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.inner.Name() + "\x00" + text

	c.mu.RLock()
	if vec, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return vec, nil
	}
	c.mu.RUnlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = vec
	c.dirty = true
	c.mu.Unlock()
	return vec, nil
}

// EmbedBatch embeds texts, serving cached entries and batching only the
// misses to the inner engine.
func (c *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.RLock()
	for i, t := range texts {
		key := c.inner.Name() + "\x00" + t
		if vec, ok := c.cache[key]; ok {
			out[i] = vec
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	}
	c.mu.RUnlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache[c.inner.Name()+"\x00"+missTexts[j]] = vecs[j]
	}
	c.dirty = true
	c.mu.Unlock()
	return out, nil
}

// Dimensions returns the inner engine's dimensionality.
func (c *CachedEngine) Dimensions() int { return c.inner.Dimensions() }

// Name returns the inner engine's name with a cache marker.
func (c *CachedEngine) Name() string { return c.inner.Name() + "+cache" }
