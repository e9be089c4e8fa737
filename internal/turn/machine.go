package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kompass/internal/catalog"
	"kompass/internal/critic"
	"kompass/internal/executor"
	"kompass/internal/hitl"
	"kompass/internal/intent"
	"kompass/internal/logging"
	"kompass/internal/memory"
	"kompass/internal/planner"
	"kompass/internal/retrieval"
	"kompass/internal/types"
)

// =============================================================================
// TURN MACHINE
// =============================================================================

// ErrStuck is returned when the phase loop exceeds its transition
// ceiling. The critic's loop guard should always fire first; this is
// the machine's own backstop.
var ErrStuck = errors.New("turn machine exceeded transition ceiling")

// maxTransitions bounds the phase loop independently of the critic.
const maxTransitions = 64

// Config holds per-turn machine limits.
type Config struct {
	// SearchBudget is the hard per-turn cap on external tool calls.
	SearchBudget int
	// SpeculativeMax bounds the prefetch batch. Zero or negative
	// disables speculative execution entirely.
	SpeculativeMax int
	// SpeculativeTimeout bounds the whole prefetch batch.
	SpeculativeTimeout time.Duration
	// PerCallTimeout bounds each individual tool call.
	PerCallTimeout time.Duration
	// HistoryTurns is how many prior exchanges are loaded as context.
	HistoryTurns int
	// MultiSourceAgents caps agent selection for multi_source turns.
	MultiSourceAgents int
	// FanOut bounds the domain fan-out batches of categorized agents.
	FanOut executor.FanOutConfig
}

// DefaultConfig returns the machine defaults.
func DefaultConfig() Config {
	return Config{
		SearchBudget:       8,
		SpeculativeMax:     3,
		SpeculativeTimeout: 10 * time.Second,
		PerCallTimeout:     30 * time.Second,
		HistoryTurns:       6,
		MultiSourceAgents:  3,
		FanOut:             executor.DefaultFanOutConfig(),
	}
}

// Deps are the collaborators the machine drives. All are required
// except where the field comment says otherwise.
type Deps struct {
	Classifier  *intent.Classifier
	Retriever   *retrieval.Retriever
	Planner     *planner.Planner
	Domain      planner.DomainPlanner
	Router      *planner.ExecutionRouter
	Critic      *critic.Critic
	Gates       *hitl.Gates
	Synthesizer *Synthesizer
	Memory      *memory.Memory
	Registry    *catalog.Registry
	Combos      *retrieval.ComboCache
	// Resolver fills tool arguments from turn state. Required.
	Resolver executor.ArgResolver
	// Checkpoints may be nil; turns then cannot survive a restart
	// while suspended at a gate, but everything else works.
	Checkpoints *CheckpointStore
	// Trace may be nil; decision-trace events are then dropped.
	Trace *logging.TraceRecorder
}

// Machine drives one turn through the orchestration phases. A single
// machine serves many threads; per-turn state lives on the Turn.
type Machine struct {
	cfg  Config
	deps Deps
	log  *logging.Logger

	routes *routeTracker
}

// NewMachine wires the machine.
func NewMachine(cfg Config, deps Deps) *Machine {
	if cfg.SearchBudget <= 0 {
		cfg.SearchBudget = 8
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 6
	}
	if cfg.MultiSourceAgents <= 0 {
		cfg.MultiSourceAgents = 3
	}
	if cfg.SpeculativeTimeout <= 0 {
		cfg.SpeculativeTimeout = 10 * time.Second
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = 30 * time.Second
	}
	return &Machine{
		cfg:    cfg,
		deps:   deps,
		log:    logging.Get(logging.CategoryTurn),
		routes: newRouteTracker(),
	}
}

// Run processes one user message for a (thread, namespace) pair and
// returns the finished or suspended turn. A turn suspended at an
// approval gate carries the question in PendingPreview; the next call
// with the user's reply resumes it.
func (m *Machine) Run(ctx context.Context, threadID, namespace, message string) (*types.Turn, error) {
	t, resumed := m.resumeOrStart(threadID, namespace, message)

	// Suspended and the reply did not parse as yes/no: re-ask
	// without consuming the gate.
	if resumed && t.AwaitingConfirmation {
		m.save(t)
		return t, nil
	}

	// Per-turn execution state. Speculative results do not survive a
	// restart; a resumed turn simply executes without prefetch.
	budget := executor.NewSearchBudget(m.cfg.SearchBudget)
	inv := executor.NewInvoker(m.deps.Registry, m.deps.Memory, budget, m.cfg.PerCallTimeout)
	exec := executor.New(inv, m.deps.Resolver, executor.DefaultConfig())
	exec.EnableFanOut(executor.NewFanOut(inv, m.cfg.FanOut), m.deps.Registry)
	spec := executor.NewSpeculative(inv, m.cfg.SpeculativeMax)
	var prefetched map[string]types.ResultContract
	covered := false

	for i := 0; i < maxTransitions; i++ {
		if err := ctx.Err(); err != nil {
			return t, err
		}

		switch t.Phase {
		case types.PhaseClassify:
			m.classify(ctx, t)

		case types.PhaseRetrieve:
			m.retrieve(ctx, t)

		case types.PhasePlan:
			t.Plan = m.deps.Planner.BuildPlan(ctx, t)
			if len(t.Plan.Steps) == 0 {
				t.Phase = types.PhaseFinalize
				continue
			}
			if m.deps.Gates.ShouldGate(t, types.StagePlanner) {
				m.halt(t, types.StagePlanner)
				return t, nil
			}
			t.Phase = types.PhaseRoute

		case types.PhaseRoute:
			t.Micro = m.deps.Domain.MicroPlans(t)
			prefetched = m.prefetch(ctx, spec, t)
			covered = executor.Covered(prefetched, neededTools(t.Micro))

			strategy, _, err := m.deps.Router.Route(t, covered)
			if err != nil {
				m.log.Warn("strategy routing failed for turn %s: %v", t.ID, err)
				strategy = types.StrategyInline
			}
			t.Strategy = strategy
			m.deps.Trace.Record(t.ID, string(t.Phase), "strategy", map[string]interface{}{
				"strategy": string(strategy),
				"covered":  covered,
			})

			if m.deps.Gates.ShouldGate(t, types.StageExecution) {
				m.halt(t, types.StageExecution)
				return t, nil
			}
			t.Phase = types.PhaseExecute

		case types.PhaseExecute:
			deadline := m.deps.Router.Deadline(t.Strategy)
			results := exec.Execute(ctx, t, deadline, prefetched)
			t.Results = append(t.Results, results...)
			t.StepCount += len(results)
			m.updateMetaStreak(t, results)
			m.logDiscards(t, prefetched, results)
			prefetched = nil
			// A provisional draft only when something usable came
			// back; the critic reads an empty draft as "nothing to
			// accept yet".
			if len(usableResponses(t.Results)) > 0 {
				t.Draft = m.deps.Synthesizer.Synthesize(ctx, t)
			}
			t.Phase = types.PhaseCritique

		case types.PhaseCritique:
			verdict := m.deps.Critic.Evaluate(ctx, t)
			t.CriticLog = append(t.CriticLog, verdict)
			m.deps.Trace.Record(t.ID, string(t.Phase), "verdict", map[string]interface{}{
				"decision": string(verdict.Decision),
				"final":    verdict.Final,
				"reason":   verdict.Reason,
			})
			m.applyVerdict(ctx, t, verdict)
			if t.Phase == types.PhaseAwaitHITL {
				m.save(t)
				return t, nil
			}

		case types.PhaseFinalize:
			m.finalize(ctx, t)
			return t, nil

		case types.PhaseDone:
			return t, nil

		default:
			return t, fmt.Errorf("unknown phase %q for turn %s", t.Phase, t.ID)
		}
	}
	return t, fmt.Errorf("%w: turn %s stuck in %s", ErrStuck, t.ID, t.Phase)
}

// resumeOrStart loads a suspended turn when the pair has one and the
// message answers its pending gate; otherwise it starts a fresh turn.
func (m *Machine) resumeOrStart(threadID, namespace, message string) (*types.Turn, bool) {
	if m.deps.Checkpoints != nil {
		saved, err := m.deps.Checkpoints.Load(threadID, namespace)
		if err == nil && saved.AwaitingConfirmation {
			stage := saved.PendingStage
			res := m.deps.Gates.Resolve(saved, message)
			if res.Confirmation == intent.ConfirmReject && res.Resume == types.PhasePlan {
				m.recordRejection(saved)
			}
			m.log.Info("turn %s resumed: %s at %s gate", saved.ID, res.Confirmation, stage)
			return saved, true
		}
		if err == nil {
			// Stale checkpoint from a crash mid-phase; the turn is
			// unrecoverable without its in-flight state.
			_ = m.deps.Checkpoints.Delete(threadID, namespace)
		}
	}

	t := &types.Turn{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Namespace: namespace,
		Message:   message,
		StartedAt: time.Now(),
		Phase:     types.PhaseClassify,
	}
	if m.deps.Memory != nil {
		history, err := m.deps.Memory.History(threadID, namespace, m.cfg.HistoryTurns)
		if err != nil {
			m.log.Warn("history load failed for thread %s: %v", threadID, err)
		}
		t.History = history
	}
	return t, false
}

// ===== PHASES =====

func (m *Machine) classify(ctx context.Context, t *types.Turn) {
	prev := m.routes.get(t.ThreadID, t.Namespace)
	res := m.deps.Classifier.Classify(ctx, t.Message, t.History, prev)
	t.Intent = res.Intent
	t.Mode = res.Mode

	if res.Mode == types.ModeToolForbidden && res.Canned != "" {
		t.FinalAnswer = res.Canned
		t.Phase = types.PhaseFinalize
		return
	}
	t.Phase = types.PhaseRetrieve
}

func (m *Machine) retrieve(ctx context.Context, t *types.Turn) {
	norm := types.NormalizeQuery(t.Message)
	version := m.deps.Registry.Version()
	key := retrieval.ComboKey(string(t.Intent.Route), m.deps.Retriever.RecentlyUsed(2), t.Message, t.Intent.SubIntents)

	if m.deps.Combos != nil {
		if combo, ok := m.deps.Combos.Get(key, version); ok {
			t.Agents = combo.Agents
			t.Tools = combo.Tools
			t.Phase = types.PhasePlan
			return
		}
	}

	candidates, err := m.deps.Retriever.RankAgents(ctx, t.Message, norm)
	if err != nil {
		m.log.Warn("agent ranking failed for turn %s: %v", t.ID, err)
	}
	if len(candidates) == 0 {
		// Nothing in the catalog covers the question; answer
		// directly from what we have.
		t.Phase = types.PhaseFinalize
		return
	}

	keep := 1
	if t.Mode == types.ModeMultiSource {
		keep = len(t.Intent.SubIntents)
		if keep < 2 {
			keep = 2
		}
		if keep > m.cfg.MultiSourceAgents {
			keep = m.cfg.MultiSourceAgents
		}
	}
	if keep > len(candidates) {
		keep = len(candidates)
	}

	agents := make([]string, 0, keep)
	tools := make(map[string][]string, keep)
	for _, c := range candidates[:keep] {
		name := c.Agent.Name
		agents = append(agents, name)
		tools[name] = retrieval.ToolNames(m.deps.Retriever.ShortlistTools(t.Message, name))
	}
	t.Agents = agents
	t.Tools = tools

	if m.deps.Combos != nil {
		m.deps.Combos.Set(key, version, retrieval.Combo{Agents: agents, Tools: tools})
	}
	t.Phase = types.PhasePlan
}

// prefetch launches speculative calls for the shortlisted tools while
// the strategy decision is still pending.
func (m *Machine) prefetch(ctx context.Context, spec *executor.Speculative, t *types.Turn) map[string]types.ResultContract {
	if m.cfg.SpeculativeMax <= 0 {
		return nil
	}
	var candidates []executor.Candidate
	for _, mp := range t.Micro {
		for _, name := range mp.Tools {
			tool := m.deps.Registry.Get(name)
			if tool == nil {
				continue
			}
			candidates = append(candidates, executor.Candidate{
				Tool:        name,
				Description: tool.Description,
				Args:        m.deps.Resolver.Resolve(name, t),
			})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return spec.Launch(ctx, t.Message, candidates, m.cfg.SpeculativeTimeout)
}

func (m *Machine) applyVerdict(ctx context.Context, t *types.Turn, v types.CriticVerdict) {
	if v.Final || v.Decision == types.DecisionOK {
		if t.Draft == "" {
			t.Draft = m.deps.Synthesizer.Synthesize(ctx, t)
		}
		if m.deps.Gates.ShouldGate(t, types.StageSynthesis) {
			m.deps.Gates.Halt(t, types.StageSynthesis)
			m.deps.Trace.Record(t.ID, string(t.Phase), "gate", map[string]interface{}{"stage": string(types.StageSynthesis)})
			return
		}
		t.Phase = types.PhaseFinalize
		return
	}

	switch v.Decision {
	case types.DecisionReplan:
		t.ReplanCount++
		t.Draft = ""
		t.Phase = types.PhasePlan
	case types.DecisionFail:
		t.Draft = ""
		t.Phase = types.PhaseFinalize
	default: // needs_more
		t.Phase = types.PhaseRetrieve
	}
}

func (m *Machine) finalize(ctx context.Context, t *types.Turn) {
	if t.FinalAnswer == "" {
		if t.Draft != "" {
			t.FinalAnswer = t.Draft
		} else {
			t.FinalAnswer = m.deps.Synthesizer.Synthesize(ctx, t)
		}
	}
	t.Phase = types.PhaseDone
	t.AwaitingConfirmation = false

	if m.deps.Memory != nil {
		if err := m.deps.Memory.RememberExchange(t.ThreadID, t.Namespace, t.Message, t.FinalAnswer); err != nil {
			m.log.Warn("exchange persist failed for turn %s: %v", t.ID, err)
		}
		if err := m.deps.Memory.RecordTurn(t); err != nil {
			m.log.Warn("turn persist failed for turn %s: %v", t.ID, err)
		}
		m.recordAcceptance(t)
	}
	if len(t.Agents) > 0 {
		m.deps.Retriever.MarkUsed(t.Agents...)
	}
	m.routes.set(t.ThreadID, t.Namespace, t.Intent.Route)

	if m.deps.Checkpoints != nil {
		_ = m.deps.Checkpoints.Delete(t.ThreadID, t.Namespace)
	}
	m.deps.Trace.Record(t.ID, string(types.PhaseFinalize), "done", map[string]interface{}{
		"steps":   t.StepCount,
		"replans": t.ReplanCount,
		"results": len(t.Results),
	})
	m.log.Info("turn %s done: steps=%d replans=%d results=%d", t.ID, t.StepCount, t.ReplanCount, len(t.Results))
}

// ===== BOOKKEEPING =====

// recordAcceptance treats a delivered answer built on tool results as
// implicit feedback: agents whose tools produced usable contracts are
// credited, and in multi-agent turns they also collect a competitor
// win against each selected agent that delivered nothing.
func (m *Machine) recordAcceptance(t *types.Turn) {
	if len(t.Agents) == 0 {
		return
	}
	delivered := make(map[string]bool)
	for _, r := range t.Results {
		if r.Status != types.StatusSuccess && r.Status != types.StatusPartial {
			continue
		}
		for _, name := range r.UsedTools {
			if tool := m.deps.Registry.Get(name); tool != nil {
				delivered[tool.Agent] = true
			}
		}
	}
	if len(delivered) == 0 {
		return
	}
	norm := types.NormalizeQuery(t.Message)
	for _, agent := range t.Agents {
		if !delivered[agent] {
			continue
		}
		if err := m.deps.Memory.RecordFeedback(norm, agent, true); err != nil {
			m.log.Warn("feedback record failed for agent %s: %v", agent, err)
		}
		for _, loser := range t.Agents {
			if loser == agent || delivered[loser] {
				continue
			}
			if err := m.deps.Memory.RecordCompetitorWin(norm, loser, agent); err != nil {
				m.log.Warn("competitor win record failed for %s: %v", loser, err)
			}
		}
	}
}

// recordRejection counts a "nej" at the synthesis gate against the
// agents whose draft was refused.
func (m *Machine) recordRejection(t *types.Turn) {
	if m.deps.Memory == nil || len(t.Agents) == 0 {
		return
	}
	norm := types.NormalizeQuery(t.Message)
	for _, agent := range t.Agents {
		if err := m.deps.Memory.RecordFeedback(norm, agent, false); err != nil {
			m.log.Warn("feedback record failed for agent %s: %v", agent, err)
		}
	}
}

// updateMetaStreak counts consecutive execution passes that touched
// only discovery tools. The counter feeds the critic's loop guard.
func (m *Machine) updateMetaStreak(t *types.Turn, results []types.ResultContract) {
	sawTool := false
	allMeta := true
	for _, r := range results {
		for _, name := range r.UsedTools {
			sawTool = true
			tool := m.deps.Registry.Get(name)
			if tool == nil || !tool.Meta {
				allMeta = false
			}
		}
	}
	if !sawTool {
		return
	}
	if allMeta {
		t.MetaStreak++
	} else {
		t.MetaStreak = 0
	}
}

// logDiscards reports prefetched results the plan never consumed.
func (m *Machine) logDiscards(t *types.Turn, prefetched map[string]types.ResultContract, results []types.ResultContract) {
	if len(prefetched) == 0 {
		return
	}
	var used []string
	for _, r := range results {
		used = append(used, r.UsedTools...)
	}
	discards := executor.Discards(prefetched, used)
	if len(discards) > 0 {
		m.log.Debug("turn %s discarded %d speculative results: %v", t.ID, len(discards), discards)
	}
}

// halt suspends the turn at a gate and persists it.
func (m *Machine) halt(t *types.Turn, stage types.HITLStage) {
	m.deps.Gates.Halt(t, stage)
	m.deps.Trace.Record(t.ID, string(t.Phase), "gate", map[string]interface{}{"stage": string(stage)})
	m.save(t)
}

func (m *Machine) save(t *types.Turn) {
	if m.deps.Checkpoints == nil {
		return
	}
	if err := m.deps.Checkpoints.Save(t); err != nil {
		m.log.Error("checkpoint save failed for turn %s: %v", t.ID, err)
	}
}

// neededTools flattens the micro-plan tool lists.
func neededTools(micro []types.MicroPlan) []string {
	var out []string
	for _, mp := range micro {
		out = append(out, mp.Tools...)
	}
	return out
}
