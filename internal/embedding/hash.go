package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// =============================================================================
// HASH EMBEDDING ENGINE
// =============================================================================

// HashEngine produces deterministic bag-of-words feature-hashing vectors.
// It needs no network or model and keeps retrieval working offline. The
// vectors are crude but stable: identical texts always map to identical
// vectors, and token overlap shows up as cosine similarity.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a hash engine with the given dimensionality.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = 256
	}
	return &HashEngine{dims: dims}
}

// Embed hashes each whitespace token into a bucket and L2-normalizes.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dims))
		// Second hash bit gives the sign, which spreads collisions.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v * v)
	}
	if mag > 0 {
		norm := float32(math.Sqrt(mag))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text sequentially.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured dimensionality.
func (e *HashEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *HashEngine) Name() string { return "hash" }
