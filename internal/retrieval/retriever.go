package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kompass/internal/catalog"
	"kompass/internal/embedding"
	"kompass/internal/logging"
)

// =============================================================================
// RETRIEVER
// =============================================================================

// BoostProvider supplies per-agent feedback boosts for a normalized
// query. Implemented by the feedback memory; a nil provider means no
// boosting.
type BoostProvider interface {
	Boost(normQuery, agent string) float64
}

// Reranker reorders agent candidates with a stronger (slower) model.
// A nil reranker leaves the ranked order untouched.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []AgentCandidate) ([]AgentCandidate, error)
}

// Config holds retrieval tuning parameters.
type Config struct {
	ShortlistK    int           // tools kept per agent
	RerankTopN    int           // candidates handed to the reranker
	MinScore      float64       // similarity floor for agent candidates
	RecencyWindow time.Duration // how long a used agent keeps its bonus
}

// DefaultConfig returns sensible retrieval defaults.
func DefaultConfig() Config {
	return Config{
		ShortlistK:    5,
		RerankTopN:    6,
		MinScore:      0.15,
		RecencyWindow: 10 * time.Minute,
	}
}

// Fixed scoring weights. Name matches carry a large fixed weight since
// the user naming an agent outranks any fuzzy signal; the recency bonus
// is a mild nudge toward agents the thread already used.
const (
	nameMatchWeight = 0.5
	recencyBonus    = 0.2
)

// Retriever ranks agents and shortlists tools for a query.
type Retriever struct {
	registry *catalog.Registry
	engine   embedding.EmbeddingEngine
	cfg      Config

	boosts   BoostProvider
	reranker Reranker

	mu       sync.Mutex
	lastUsed map[string]time.Time
}

// NewRetriever creates a retriever. boosts and reranker may be nil.
func NewRetriever(registry *catalog.Registry, engine embedding.EmbeddingEngine, cfg Config, boosts BoostProvider, reranker Reranker) *Retriever {
	if cfg.ShortlistK <= 0 {
		cfg.ShortlistK = 5
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 10 * time.Minute
	}
	return &Retriever{
		registry: registry,
		engine:   engine,
		cfg:      cfg,
		boosts:   boosts,
		reranker: reranker,
		lastUsed: make(map[string]time.Time),
	}
}

// MarkUsed records that these agents just served a turn, granting them
// a recency bonus in subsequent rankings.
func (r *Retriever) MarkUsed(agents ...string) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		r.lastUsed[a] = now
	}
}

// RecentlyUsed returns up to n agents marked used within the recency
// window, most recent first.
func (r *Retriever) RecentlyUsed(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	type used struct {
		agent string
		at    time.Time
	}
	var all []used
	for a, at := range r.lastUsed {
		if time.Since(at) <= r.cfg.RecencyWindow {
			all = append(all, used{agent: a, at: at})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].at.Equal(all[j].at) {
			return all[i].at.After(all[j].at)
		}
		return all[i].agent < all[j].agent
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, u := range all {
		out[i] = u.agent
	}
	return out
}

func (r *Retriever) recency(agent string) float64 {
	r.mu.Lock()
	last, ok := r.lastUsed[agent]
	r.mu.Unlock()
	if ok && time.Since(last) <= r.cfg.RecencyWindow {
		return recencyBonus
	}
	return 0
}

// AgentCandidate is one ranked agent with its score breakdown.
type AgentCandidate struct {
	Agent     *catalog.Agent
	Embedding float64 // cosine similarity to the query
	Lexical   float64 // weighted keyword overlap
	NameMatch float64 // fixed weight when the query names the agent
	Recency   float64 // bonus for agents used recently on this process
	Boost     float64 // feedback boost, clamped
	Score     float64 // combined
}

// ToolCandidate is one shortlisted tool with its score.
type ToolCandidate struct {
	Tool  *catalog.Tool
	Score float64
}

// RankAgents scores every cataloged agent against the query and returns
// candidates above the similarity floor, best first.
func (r *Retriever) RankAgents(ctx context.Context, query, normQuery string) ([]AgentCandidate, error) {
	log := logging.Get(logging.CategoryRetrieval)

	agents := r.registry.Agents()
	if len(agents) == 0 {
		return nil, fmt.Errorf("catalog has no agents")
	}

	queryVec, err := r.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	texts := make([]string, len(agents))
	for i, a := range agents {
		texts[i] = a.RetrievalText()
	}
	agentVecs, err := r.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed agents: %w", err)
	}

	keywords := ExtractKeywords(query)
	queryTokens := tokenSet(query)

	candidates := make([]AgentCandidate, 0, len(agents))
	for i, a := range agents {
		sim, err := embedding.CosineSimilarity(queryVec, agentVecs[i])
		if err != nil {
			continue
		}
		lex := keywords.OverlapScore(texts[i])

		var nameMatch float64
		if queryTokens[strings.ToLower(a.Name)] {
			nameMatch = nameMatchWeight
		}
		rec := r.recency(a.Name)

		var boost float64
		if r.boosts != nil {
			boost = r.boosts.Boost(normQuery, a.Name)
		}

		// Lexical overlap is normalized into the same range as the
		// cosine term so neither side dominates.
		score := sim + 0.3*lex + nameMatch + rec + boost
		if score < r.cfg.MinScore {
			continue
		}
		candidates = append(candidates, AgentCandidate{
			Agent:     a,
			Embedding: sim,
			Lexical:   lex,
			NameMatch: nameMatch,
			Recency:   rec,
			Boost:     boost,
			Score:     score,
		})
	}

	// Name as final tiebreak so equal scores rank the same across runs.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Agent.Name < candidates[j].Agent.Name
	})

	if r.reranker != nil && len(candidates) > 1 {
		top := candidates
		if len(top) > r.cfg.RerankTopN {
			top = top[:r.cfg.RerankTopN]
		}
		reranked, err := r.reranker.Rerank(ctx, query, top)
		if err != nil {
			// Ranked order is still usable without the reranker.
			log.Warn("reranker failed, keeping ranked order: %v", err)
		} else {
			candidates = append(reranked, candidates[len(top):]...)
		}
	}

	log.Debug("ranked %d/%d agents for query (top=%s)", len(candidates), len(agents), topName(candidates))
	return candidates, nil
}

func topName(cs []AgentCandidate) string {
	if len(cs) == 0 {
		return "none"
	}
	return cs[0].Agent.Name
}

// ShortlistTools returns up to ShortlistK of the agent's tools ranked by
// keyword overlap with the query, priority as tiebreak. Discovery (meta)
// tools always survive the cut so an agent can orient itself before
// fetching data, and pinned agents keep their entire namespace visible.
func (r *Retriever) ShortlistTools(query string, agent string) []ToolCandidate {
	tools := r.registry.ToolsFor(agent)
	if len(tools) == 0 {
		return nil
	}

	keywords := ExtractKeywords(query)
	candidates := make([]ToolCandidate, 0, len(tools))
	for _, t := range tools {
		score := keywords.OverlapScore(t.Name + " " + t.Description)
		candidates = append(candidates, ToolCandidate{Tool: t, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Tool.Priority != candidates[j].Tool.Priority {
			return candidates[i].Tool.Priority > candidates[j].Tool.Priority
		}
		return candidates[i].Tool.Name < candidates[j].Tool.Name
	})

	if len(candidates) <= r.cfg.ShortlistK {
		return candidates
	}
	if a := r.registry.Agent(agent); a != nil && a.Pinned {
		return candidates
	}

	kept := candidates[:r.cfg.ShortlistK]
	for _, c := range candidates[r.cfg.ShortlistK:] {
		if c.Tool.Meta {
			kept = append(kept, c)
		}
	}
	return kept
}

// tokenSet lowercases and splits a query into a membership set.
func tokenSet(query string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		set[strings.Trim(tok, ".,!?;:\"'()")] = true
	}
	return set
}

// ToolNames extracts the tool names from a shortlist.
func ToolNames(cs []ToolCandidate) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Tool.Name
	}
	return names
}
