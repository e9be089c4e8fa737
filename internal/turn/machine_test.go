package turn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kompass/internal/catalog"
	"kompass/internal/critic"
	"kompass/internal/embedding"
	"kompass/internal/executor"
	"kompass/internal/hitl"
	"kompass/internal/intent"
	"kompass/internal/llm"
	"kompass/internal/memory"
	"kompass/internal/planner"
	"kompass/internal/policy"
	"kompass/internal/retrieval"
	"kompass/internal/store"
	"kompass/internal/types"
)

type fixture struct {
	machine     *Machine
	deps        Deps
	cfg         Config
	calls       *atomic.Int64
	mem         *memory.Memory
	checkpoints *CheckpointStore
	combos      *retrieval.ComboCache
}

type fixtureOpts struct {
	gateStages []string
	noPrefetch bool
	failTools  bool
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	reg := catalog.NewRegistry()
	require.NoError(t, reg.RegisterAgent(&catalog.Agent{
		Name:         "weather",
		Description:  "prognoser och väder för svenska orter, till exempel vädret i Lund eller Malmö",
		Capabilities: []string{"väder", "prognos", "temperatur"},
	}))
	require.NoError(t, reg.RegisterAgent(&catalog.Agent{
		Name:         "statistics",
		Description:  "statistik och nyckeltal för Sveriges kommuner",
		Capabilities: []string{"statistik", "kpi", "kommun"},
	}))

	var calls atomic.Int64
	forecast := func(ctx context.Context, args map[string]any) (string, error) {
		calls.Add(1)
		if opts.failTools {
			return "", errors.New("uppströms 500")
		}
		return fmt.Sprintf("Prognos för %v: 18 grader och uppehåll", args["place"]), nil
	}
	require.NoError(t, reg.Register(&catalog.Tool{
		Name: "weather_forecast", Agent: "weather", Source: "weather",
		Description: "prognos väder temperatur för en ort",
		Execute:     forecast,
	}))
	require.NoError(t, reg.Register(&catalog.Tool{
		Name: "kpi_search", Agent: "statistics", Source: "statistics", Meta: true,
		Description: "sök nyckeltal och kpi i katalogen",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			calls.Add(1)
			return "N00945: befolkning", nil
		},
	}))
	require.NoError(t, reg.Register(&catalog.Tool{
		Name: "kpi_data", Agent: "statistics", Source: "statistics",
		Description: "hämta statistik och nyckeltal för kommuner",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			calls.Add(1)
			if opts.failTools {
				return "", errors.New("uppströms 500")
			}
			return "kpi rader för alla kommuner", nil
		},
	}))

	st, err := store.Open(filepath.Join(t.TempDir(), "turn_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	mem := memory.New(st, func(string) time.Duration { return time.Minute }, memory.Config{})

	retr := retrieval.NewRetriever(reg, embedding.NewHashEngine(64), retrieval.Config{
		ShortlistK: 5,
		RerankTopN: 6,
		MinScore:   0.01,
	}, mem, nil)

	kernel, err := policy.NewKernel()
	require.NoError(t, err)

	checkpoints, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)

	combos := retrieval.NewComboCache(100, 20*time.Minute)

	deps := Deps{
		Classifier:  intent.NewClassifier(intent.DefaultConfig(), nil),
		Retriever:   retr,
		Planner:     planner.NewPlanner(planner.DefaultConfig(), nil),
		Domain:      planner.DomainPlanner{},
		Router:      planner.NewExecutionRouter(kernel, planner.DefaultRouterConfig()),
		Critic:      critic.New(critic.DefaultConfig(), nil),
		Gates:       hitl.NewGates(hitl.Config{Stages: opts.gateStages}, nil),
		Synthesizer: NewSynthesizer(nil),
		Memory:      mem,
		Registry:    reg,
		Combos:      combos,
		Resolver:    executor.NewLexicalResolver(),
		Checkpoints: checkpoints,
	}

	cfg := DefaultConfig()
	cfg.SpeculativeTimeout = 2 * time.Second
	cfg.PerCallTimeout = time.Second
	if opts.noPrefetch {
		cfg.SpeculativeMax = -1
	}

	return &fixture{
		machine:     NewMachine(cfg, deps),
		deps:        deps,
		cfg:         cfg,
		calls:       &calls,
		mem:         mem,
		checkpoints: checkpoints,
		combos:      combos,
	}
}

func TestGreetingAnswersWithoutTools(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	turn, err := f.machine.Run(context.Background(), "t1", "default", "Hej!")
	require.NoError(t, err)

	assert.Equal(t, types.PhaseDone, turn.Phase)
	assert.Equal(t, "Hej! Vad kan jag hjälpa dig med?", turn.FinalAnswer)
	assert.Equal(t, types.ModeToolForbidden, turn.Mode)
	assert.Empty(t, turn.Results)
	assert.EqualValues(t, 0, f.calls.Load(), "greeting must not touch any tool")
}

func TestWeatherTurnRunsToolAndFinalizes(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	turn, err := f.machine.Run(context.Background(), "t1", "default", "Vad blir vädret i Lund imorgon?")
	require.NoError(t, err)

	assert.Equal(t, types.PhaseDone, turn.Phase)
	assert.Equal(t, types.ModeToolRequired, turn.Mode)
	assert.Equal(t, []string{"weather"}, turn.Agents)
	assert.Equal(t, types.StrategyInline, turn.Strategy)
	assert.Contains(t, turn.FinalAnswer, "lund")
	assert.GreaterOrEqual(t, turn.StepCount, 1)
	// The speculative prefetch already produced the forecast; the
	// execution pass reuses it instead of calling again.
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestBulkStatisticsRoutesSubTask(t *testing.T) {
	f := newFixture(t, fixtureOpts{noPrefetch: true})

	turn, err := f.machine.Run(context.Background(), "t1", "default", "Hämta statistik för alla kommuner")
	require.NoError(t, err)

	assert.Equal(t, types.PhaseDone, turn.Phase)
	assert.Equal(t, types.StrategySubTask, turn.Strategy)
	assert.Equal(t, []string{"statistics"}, turn.Agents)
	assert.Contains(t, turn.FinalAnswer, "kpi")
}

func TestRepeatQueryHitsComboCache(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	first, err := f.machine.Run(ctx, "t1", "default", "Vad blir vädret i Lund imorgon?")
	require.NoError(t, err)
	require.Equal(t, 1, f.combos.Len())

	// The first turn changed the recently-used agents, so this run
	// keys a fresh entry even for the same wording.
	second, err := f.machine.Run(ctx, "t1", "default", "Vädret i Lund imorgon?")
	require.NoError(t, err)
	require.Equal(t, 2, f.combos.Len())

	// Same retrieval context and a rephrasing sharing the leading
	// content tokens: served from the cache.
	third, err := f.machine.Run(ctx, "t1", "default", "vad blir vädret i lund imorgon")
	require.NoError(t, err)

	assert.Equal(t, first.Agents, third.Agents)
	assert.Equal(t, second.Tools, third.Tools)
	assert.Equal(t, 2, f.combos.Len(), "rephrased repeat must not add a cache entry")
}

func TestFailingToolsHitLoopGuard(t *testing.T) {
	f := newFixture(t, fixtureOpts{failTools: true, noPrefetch: true})

	turn, err := f.machine.Run(context.Background(), "t1", "default", "Vad blir vädret i Lund imorgon?")
	require.NoError(t, err)

	assert.Equal(t, types.PhaseDone, turn.Phase)
	assert.Equal(t, 8, turn.StepCount, "guard fires at the step ceiling")
	assert.Contains(t, turn.FinalAnswer, "tyvärr")
	last := turn.CriticLog[len(turn.CriticLog)-1]
	assert.True(t, last.Final)
}

func TestSynthesisGateRejectAndApprove(t *testing.T) {
	f := newFixture(t, fixtureOpts{gateStages: []string{"synthesis"}})
	ctx := context.Background()
	query := "Vad blir vädret i Lund imorgon?"
	norm := types.NormalizeQuery(query)

	suspended, err := f.machine.Run(ctx, "t1", "default", query)
	require.NoError(t, err)
	require.True(t, suspended.AwaitingConfirmation)
	require.Equal(t, types.StageSynthesis, suspended.PendingStage)
	require.NotEmpty(t, suspended.PendingPreview)
	require.Equal(t, types.PhaseAwaitHITL, suspended.Phase)

	// "nej" rejects the draft: one replan is consumed, the turn runs
	// again and halts at the still-unapproved gate.
	rejected, err := f.machine.Run(ctx, "t1", "default", "nej")
	require.NoError(t, err)
	assert.Equal(t, 1, rejected.ReplanCount)
	assert.True(t, rejected.AwaitingConfirmation)
	assert.Negative(t, f.mem.Boost(norm, "weather"), "rejection must count against the agent")

	// A fresh machine over the same checkpoint dir stands in for a
	// restarted process; approval must resume identically.
	restarted := NewMachine(f.cfg, f.deps)
	final, err := restarted.Run(ctx, "t1", "default", "ja")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDone, final.Phase)
	assert.NotEmpty(t, final.FinalAnswer)
	assert.Equal(t, 1, final.ReplanCount)

	_, err = f.checkpoints.Load("t1", "default")
	assert.ErrorIs(t, err, ErrNoCheckpoint, "finished turn must drop its checkpoint")
}

func TestUnparsableGateReplyReasks(t *testing.T) {
	f := newFixture(t, fixtureOpts{gateStages: []string{"planner"}})
	ctx := context.Background()

	suspended, err := f.machine.Run(ctx, "t1", "default", "Vad blir vädret i Lund imorgon?")
	require.NoError(t, err)
	require.True(t, suspended.AwaitingConfirmation)
	require.Equal(t, types.StagePlanner, suspended.PendingStage)

	again, err := f.machine.Run(ctx, "t1", "default", "kanske imorgon")
	require.NoError(t, err)
	assert.True(t, again.AwaitingConfirmation)
	assert.NotEmpty(t, again.PendingPreview)
	assert.Zero(t, again.ReplanCount, "an unparsable reply consumes nothing")
}

func TestCheckpointRoundTrip(t *testing.T) {
	cs, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)

	original := &types.Turn{
		ID:        "turn-1",
		ThreadID:  "thread/alpha",
		Namespace: "kommun:lund",
		Message:   "Vad blir vädret i Lund imorgon?",
		History:   []string{"Hej!", "Hej! Vad kan jag hjälpa dig med?"},
		StartedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Intent: types.Intent{
			ID:         "intent-1",
			Route:      types.RouteKnowledge,
			Confidence: 0.9,
			SubIntents: []string{"vädret i lund"},
		},
		Mode:   types.ModeToolRequired,
		Agents: []string{"weather"},
		Tools:  map[string][]string{"weather": {"weather_forecast"}},
		Plan: types.Plan{Steps: []types.PlanStep{
			{ID: "s1", Text: "Hämta underlag via weather", Agent: "weather", Status: types.StepPending},
		}},
		Micro:    []types.MicroPlan{{Agent: "weather", Mode: types.MicroSequential, Tools: []string{"weather_forecast"}}},
		Strategy: types.StrategyInline,
		Results: []types.ResultContract{
			{Status: types.StatusSuccess, Confidence: 0.85, UsedTools: []string{"weather_forecast"}, Response: "18 grader"},
		},
		CriticLog:            []types.CriticVerdict{{Decision: types.DecisionOK, Reason: "medelkonfidens 0.85"}},
		Draft:                "18 grader och uppehåll i Lund.",
		StepCount:            1,
		Phase:                types.PhaseAwaitHITL,
		AwaitingConfirmation: true,
		PendingStage:         types.StageSynthesis,
		PendingPreview:       "Föreslaget svar: 18 grader och uppehåll i Lund. Ska jag skicka det? (ja/nej)",
	}

	require.NoError(t, cs.Save(original))
	loaded, err := cs.Load("thread/alpha", "kommun:lund")
	require.NoError(t, err)

	if diff := cmp.Diff(original, loaded); diff != "" {
		t.Fatalf("checkpoint round trip mismatch (-saved +loaded):\n%s", diff)
	}

	require.NoError(t, cs.Delete("thread/alpha", "kommun:lund"))
	_, err = cs.Load("thread/alpha", "kommun:lund")
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestFollowUpInheritsThreadRoute(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	first, err := f.machine.Run(ctx, "t1", "default", "Hämta statistik för alla kommuner")
	require.NoError(t, err)
	require.Equal(t, types.RouteStatistics, first.Intent.Route)

	followUp, err := f.machine.Run(ctx, "t1", "default", "och samma där")
	require.NoError(t, err)
	assert.Equal(t, types.RouteStatistics, followUp.Intent.Route, "short anaphoric follow-up inherits the thread route")
}

func TestSynthesizerFallsBackWithoutLLM(t *testing.T) {
	s := NewSynthesizer(nil)

	turn := &types.Turn{Message: "Vad blir vädret i Lund imorgon?"}
	assert.Equal(t, fallbackAnswer, s.Synthesize(context.Background(), turn))

	turn.Results = []types.ResultContract{
		{Status: types.StatusSuccess, Response: "18 grader"},
		{Status: types.StatusError, Response: "fel"},
		{Status: types.StatusPartial, Response: "uppehåll"},
	}
	got := s.Synthesize(context.Background(), turn)
	assert.Equal(t, "18 grader\n\nuppehåll", got, "only usable contracts feed the fallback synthesis")
}

// streamClient serves a canned token stream and a canned blocking
// completion, so both synthesis paths can be observed.
type streamClient struct {
	chunks []string
}

func (s *streamClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (s *streamClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "blockerande svar", nil
}

func (s *streamClient) CompleteStream(ctx context.Context, systemPrompt, userPrompt string, cb llm.StreamCallback) error {
	for _, c := range s.chunks {
		if err := cb(c); err != nil {
			return err
		}
	}
	return nil
}

func TestSynthesizerStreamsThinking(t *testing.T) {
	client := &streamClient{chunks: []string{
		`{"thinking": "läser prog`,
		`nosen för Lund", `,
		`"svar": "18 grader och uppehåll"}`,
	}}
	s := NewSynthesizer(client)

	var deltas []string
	s.OnThinking(func(delta string) { deltas = append(deltas, delta) })

	turn := &types.Turn{
		Message: "Vad blir vädret i Lund imorgon?",
		Results: []types.ResultContract{{Status: types.StatusSuccess, Response: "18 grader, uppehåll"}},
	}
	got := s.Synthesize(context.Background(), turn)
	assert.Equal(t, "18 grader och uppehåll", got)

	// The commentary surfaced progressively, not as one final blob.
	require.GreaterOrEqual(t, len(deltas), 2)
	assert.Equal(t, "läser prognosen för Lund", strings.Join(deltas, ""))
}

func TestSynthesizerWithoutCallbackStaysBlocking(t *testing.T) {
	s := NewSynthesizer(&streamClient{chunks: []string{`{"svar": "strömmat"}`}})
	turn := &types.Turn{Message: "Vad blir vädret?"}
	got := s.Synthesize(context.Background(), turn)
	assert.Equal(t, "blockerande svar", got, "no progress callback means the plain completion path")
}

func TestSanitizeKeepsFilenamesFlat(t *testing.T) {
	assert.Equal(t, "thread_alpha", sanitize("thread/alpha"))
	assert.Equal(t, "kommun_lund", sanitize("kommun:lund"))
	assert.NotContains(t, sanitize("../escape"), "/")
}
