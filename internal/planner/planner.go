package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"kompass/internal/llm"
	"kompass/internal/logging"
	"kompass/internal/types"
)

// ===== TURN PLANNER =====

// Config bounds plan expansion.
type Config struct {
	// MaxSteps caps the ordered step list of one plan.
	MaxSteps int
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{MaxSteps: 4}
}

// Planner expands a resolved intent plus selected agents into an
// ordered plan. The LLM client is optional; rule-based expansion
// covers single-agent and trivial turns without a model call.
type Planner struct {
	cfg Config
	llm llm.Client
	log *logging.Logger
}

// NewPlanner creates a planner. client may be nil.
func NewPlanner(cfg Config, client llm.Client) *Planner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 4
	}
	return &Planner{cfg: cfg, llm: client, log: logging.Get(logging.CategoryPlanner)}
}

// BuildPlan produces the step list for a turn. Multi-intent turns may
// be refined by the model; its output is discarded unless every step
// names a selected agent and the step count stays within bounds.
func (p *Planner) BuildPlan(ctx context.Context, turn *types.Turn) types.Plan {
	if turn.Mode == types.ModeToolForbidden || len(turn.Agents) == 0 {
		return types.Plan{}
	}

	if len(turn.Intent.SubIntents) > 1 && p.llm != nil {
		if plan, ok := p.refineLLM(ctx, turn); ok {
			return plan
		}
	}

	return p.rulePlan(turn)
}

// rulePlan derives steps directly from the retrieval output: one step
// per selected agent, in selection order, capped.
func (p *Planner) rulePlan(turn *types.Turn) types.Plan {
	var steps []types.PlanStep
	subs := turn.Intent.SubIntents
	for i, agent := range turn.Agents {
		if len(steps) >= p.cfg.MaxSteps {
			break
		}
		text := fmt.Sprintf("Hämta underlag via %s", agent)
		if len(subs) > 1 && i < len(subs) {
			text = fmt.Sprintf("Besvara %q via %s", subs[i], agent)
		}
		steps = append(steps, types.PlanStep{
			ID:     uuid.NewString(),
			Text:   text,
			Agent:  agent,
			Status: types.StepPending,
		})
	}
	p.log.Debug("rule plan: %d steps for %d agents", len(steps), len(turn.Agents))
	return types.Plan{Steps: steps}
}

type llmPlanReply struct {
	Thinking string `json:"thinking"`
	Steps    []struct {
		Text  string `json:"text"`
		Agent string `json:"agent"`
	} `json:"steps"`
}

const planSystemPrompt = `Du planerar hur en svensk samhällsassistent ska besvara en fråga.
Svara med ett JSON object: {"thinking": "...", "steps": [{"text": "...", "agent": "..."}]}.
Max 4 steg. Varje steg måste ange en av de tillgängliga agenterna.`

func (p *Planner) refineLLM(ctx context.Context, turn *types.Turn) (types.Plan, bool) {
	prompt := fmt.Sprintf("Fråga: %s\nDelfrågor: %s\nTillgängliga agenter: %s",
		turn.Message,
		strings.Join(turn.Intent.SubIntents, "; "),
		strings.Join(turn.Agents, ", "))
	resp, err := p.llm.CompleteWithSystem(ctx, planSystemPrompt, prompt)
	if err != nil {
		p.log.Warn("llm plan failed: %v", err)
		return types.Plan{}, false
	}
	var reply llmPlanReply
	if _, err := llm.Decode(resp, &reply); err != nil {
		p.log.Warn("llm plan unparsable: %v", err)
		return types.Plan{}, false
	}
	if len(reply.Steps) == 0 || len(reply.Steps) > p.cfg.MaxSteps {
		p.log.Warn("llm plan out of bounds: %d steps", len(reply.Steps))
		return types.Plan{}, false
	}
	declared := map[string]bool{}
	for _, a := range turn.Agents {
		declared[a] = true
	}
	var steps []types.PlanStep
	for _, s := range reply.Steps {
		agent := strings.TrimSpace(s.Agent)
		if !declared[agent] {
			p.log.Warn("llm plan names undeclared agent %q, discarding", s.Agent)
			return types.Plan{}, false
		}
		text := strings.TrimSpace(s.Text)
		if text == "" {
			return types.Plan{}, false
		}
		steps = append(steps, types.PlanStep{
			ID:     uuid.NewString(),
			Text:   text,
			Agent:  agent,
			Status: types.StepPending,
		})
	}
	return types.Plan{Steps: steps}, true
}
