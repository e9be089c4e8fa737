package critic

import (
	"context"
	"fmt"
	"strings"

	"kompass/internal/llm"
	"kompass/internal/logging"
	"kompass/internal/types"
)

// ===== CRITIC =====

// Config carries the critic thresholds and loop ceilings.
type Config struct {
	// NominalConfidence is the mean-confidence bar for accepting a draft.
	NominalConfidence float64
	// Window is how many recent contracts the critic examines.
	Window int
	// ThrashLimit is the needs_more count within the window that
	// triggers the anti-thrash override.
	ThrashLimit int
	// MaxSteps, MaxReplans and MetaStreakLimit are the hard loop
	// ceilings; hitting any forces termination into synthesis.
	MaxSteps        int
	MaxReplans      int
	MetaStreakLimit int
}

// DefaultConfig returns the declared thresholds.
func DefaultConfig() Config {
	return Config{
		NominalConfidence: 0.70,
		Window:            3,
		ThrashLimit:       2,
		MaxSteps:          8,
		MaxReplans:        2,
		MetaStreakLimit:   3,
	}
}

// Critic decides after each execution pass whether the turn can
// finalize, needs more data, or must replan. The LLM client is
// optional; without it, contract-less turns fall back to needs_more.
type Critic struct {
	cfg Config
	llm llm.Client
	log *logging.Logger
}

// New creates a critic. client may be nil.
func New(cfg Config, client llm.Client) *Critic {
	d := DefaultConfig()
	if cfg.NominalConfidence <= 0 || cfg.NominalConfidence > 1 {
		cfg.NominalConfidence = d.NominalConfidence
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.ThrashLimit <= 0 {
		cfg.ThrashLimit = d.ThrashLimit
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = d.MaxSteps
	}
	if cfg.MaxReplans < 0 {
		cfg.MaxReplans = d.MaxReplans
	}
	if cfg.MetaStreakLimit <= 0 {
		cfg.MetaStreakLimit = d.MetaStreakLimit
	}
	return &Critic{cfg: cfg, llm: client, log: logging.Get(logging.CategoryCritic)}
}

// Evaluate runs the decision procedure over the turn's recent
// contracts. The returned verdict never exceeds the loop ceilings;
// the guard check runs first and wins unconditionally.
func (c *Critic) Evaluate(ctx context.Context, turn *types.Turn) types.CriticVerdict {
	if forced, reason := c.GuardTripped(turn); forced {
		c.log.Warn("loop guard forces finalize: %s", reason)
		return types.CriticVerdict{Decision: types.DecisionOK, Reason: reason, Final: true}
	}

	recent := turn.RecentResults(c.cfg.Window)
	if len(recent) == 0 {
		return c.evaluateLLM(ctx, turn)
	}

	allFailed := true
	anyMissing := []string{}
	successes := 0
	var confSum float64
	for _, r := range recent {
		if !r.Failed() {
			allFailed = false
		}
		if r.Status == types.StatusSuccess {
			successes++
			confSum += r.Confidence
		}
		anyMissing = append(anyMissing, r.MissingFields...)
	}

	if allFailed && turn.Draft == "" && turn.ReplanCount < c.cfg.MaxReplans {
		return types.CriticVerdict{Decision: types.DecisionReplan, Reason: "alla kontrakt misslyckades"}
	}

	if len(anyMissing) > 0 && turn.ReplanCount < c.cfg.MaxReplans && !c.thrashing(turn) {
		return types.CriticVerdict{
			Decision:      types.DecisionNeedsMore,
			Reason:        "kontrakt saknar fält",
			MissingFields: dedupe(anyMissing),
		}
	}

	if successes > 0 && turn.Draft != "" {
		mean := confSum / float64(successes)
		if mean >= c.Threshold(turn.StepCount) {
			return types.CriticVerdict{Decision: types.DecisionOK, Reason: fmt.Sprintf("medelkonfidens %.2f", mean)}
		}
	}

	return c.evaluateLLM(ctx, turn)
}

// Threshold returns the adaptive confidence bar: the nominal value,
// relaxed as completed steps accumulate.
func (c *Critic) Threshold(steps int) float64 {
	switch {
	case steps >= 8:
		return c.cfg.NominalConfidence - 0.15
	case steps >= 5:
		return c.cfg.NominalConfidence - 0.10
	default:
		return c.cfg.NominalConfidence
	}
}

// GuardTripped reports whether any hard ceiling is hit: total steps,
// replan attempts, or the consecutive meta-tool streak.
func (c *Critic) GuardTripped(turn *types.Turn) (bool, string) {
	if turn.StepCount >= c.cfg.MaxSteps {
		return true, fmt.Sprintf("stegtaket nått (%d)", turn.StepCount)
	}
	if turn.ReplanCount > c.cfg.MaxReplans {
		return true, fmt.Sprintf("omplaneringstaket nått (%d)", turn.ReplanCount)
	}
	if turn.MetaStreak >= c.cfg.MetaStreakLimit {
		return true, fmt.Sprintf("upprepade metaverktygsanrop (%d)", turn.MetaStreak)
	}
	return false, ""
}

// thrashing reports whether the recent critic log already holds
// enough needs_more verdicts to trigger the anti-thrash override.
func (c *Critic) thrashing(turn *types.Turn) bool {
	log := turn.CriticLog
	if len(log) > c.cfg.Window {
		log = log[len(log)-c.cfg.Window:]
	}
	count := 0
	for _, v := range log {
		if v.Decision == types.DecisionNeedsMore {
			count++
		}
	}
	return count >= c.cfg.ThrashLimit
}

type llmCriticReply struct {
	Thinking      string   `json:"thinking"`
	Decision      string   `json:"decision"`
	Reason        string   `json:"reason"`
	MissingFields []string `json:"missing_fields"`
}

const criticSystemPrompt = `Du granskar om svarsunderlaget räcker för att besvara användarens fråga.
Svara med ett JSON object: {"thinking": "...", "decision": "...", "reason": "...", "missing_fields": []}.
decision måste vara en av: ok, needs_more, replan.`

// evaluateLLM is the slow path for contract-less or inconclusive
// turns. Its verdict is normalized into the same three decisions.
func (c *Critic) evaluateLLM(ctx context.Context, turn *types.Turn) types.CriticVerdict {
	if c.llm == nil {
		return types.CriticVerdict{Decision: types.DecisionNeedsMore, Reason: "inga kontrakt och ingen kritiker tillgänglig"}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fråga: %s\n", turn.Message)
	if turn.Draft != "" {
		fmt.Fprintf(&sb, "Utkast: %s\n", turn.Draft)
	}
	for _, r := range turn.RecentResults(c.cfg.Window) {
		fmt.Fprintf(&sb, "Resultat (%s, %.2f): %s\n", r.Status, r.Confidence, r.Response)
	}
	resp, err := c.llm.CompleteWithSystem(ctx, criticSystemPrompt, sb.String())
	if err != nil {
		c.log.Warn("llm critic failed: %v", err)
		return types.CriticVerdict{Decision: types.DecisionNeedsMore, Reason: "kritikeranrop misslyckades"}
	}
	var reply llmCriticReply
	if _, err := llm.Decode(resp, &reply); err != nil {
		c.log.Warn("llm critic unparsable: %v", err)
		return types.CriticVerdict{Decision: types.DecisionNeedsMore, Reason: "kritikersvar gick inte att tolka"}
	}
	decision := types.CriticDecision(strings.ToLower(strings.TrimSpace(reply.Decision)))
	switch decision {
	case types.DecisionOK, types.DecisionNeedsMore, types.DecisionReplan:
	default:
		decision = types.DecisionNeedsMore
	}
	if decision == types.DecisionReplan && turn.ReplanCount >= c.cfg.MaxReplans {
		decision = types.DecisionNeedsMore
	}
	return types.CriticVerdict{
		Decision:      decision,
		Reason:        strings.TrimSpace(reply.Reason),
		MissingFields: reply.MissingFields,
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
