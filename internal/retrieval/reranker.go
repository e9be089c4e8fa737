package retrieval

import (
	"context"
	"fmt"
	"strings"

	"kompass/internal/llm"
	"kompass/internal/logging"
)

// ===== LLM RERANKER =====

const rerankSystemPrompt = `Du rangordnar agenter efter hur väl de kan besvara
en användarfråga. Svara med ett JSON object: {"order": ["agentnamn", ...]}
med alla angivna agenter, bäst först. Hitta inte på nya namn.`

// LLMReranker reorders the top agent candidates with a model pass.
// Invalid model output (unknown names, empty order) keeps the ranked
// order by returning an error to the retriever.
type LLMReranker struct {
	llm llm.Client
	log *logging.Logger
}

// NewLLMReranker wraps a completion client as a Reranker.
func NewLLMReranker(client llm.Client) *LLMReranker {
	return &LLMReranker{llm: client, log: logging.Get(logging.CategoryRetrieval)}
}

type rerankReply struct {
	Thinking string   `json:"thinking"`
	Order    []string `json:"order"`
}

// Rerank asks the model for a full ordering of the candidates. Names
// the model omits keep their relative ranked order at the tail.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []AgentCandidate) ([]AgentCandidate, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Fråga: %s\n\nAgenter:\n", query)
	byName := make(map[string]AgentCandidate, len(candidates))
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Agent.Name, c.Agent.Description)
		byName[c.Agent.Name] = c
	}

	resp, err := r.llm.CompleteWithSystem(ctx, rerankSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("rerank completion: %w", err)
	}

	var reply rerankReply
	if _, err := llm.Decode(resp, &reply); err != nil {
		return nil, fmt.Errorf("rerank reply unparsable: %w", err)
	}

	out := make([]AgentCandidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, name := range reply.Order {
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("rerank reply names unknown agent %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rerank reply holds no agents")
	}
	for _, c := range candidates {
		if !seen[c.Agent.Name] {
			out = append(out, c)
		}
	}
	r.log.Debug("reranked %d candidates (top=%s)", len(out), out[0].Agent.Name)
	return out, nil
}
