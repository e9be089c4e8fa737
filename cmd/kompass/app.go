package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"kompass/internal/catalog"
	"kompass/internal/config"
	"kompass/internal/critic"
	"kompass/internal/embedding"
	"kompass/internal/executor"
	"kompass/internal/hitl"
	"kompass/internal/intent"
	"kompass/internal/llm"
	"kompass/internal/logging"
	"kompass/internal/memory"
	"kompass/internal/planner"
	"kompass/internal/policy"
	"kompass/internal/retrieval"
	"kompass/internal/store"
	"kompass/internal/turn"
)

// app is the composition root: every injectable singleton is built
// here exactly once and torn down by Close.
type app struct {
	cfg      *config.Config
	machine  *turn.Machine
	registry *catalog.Registry
	synth    *turn.Synthesizer

	st      *store.Store
	watcher *catalog.Watcher
	trace   *logging.TraceRecorder
}

// newApp wires the engine from the resolved config.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Memory.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	st, err := store.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	mem := memory.New(st, cfg.ResultTTL, memory.Config{
		EpisodicStores:     cfg.Memory.EpisodicStores,
		EntriesPer:         cfg.Memory.EntriesPer,
		ResultCacheEntries: cfg.Memory.ResultCacheEntries,
	})
	// Rows beyond the longest TTL can never be served again.
	mem.Prune(cfg.MaxResultTTL())

	var client llm.Client
	if cfg.LLM.APIKey != "" {
		client = llm.NewGeminiClientWithConfig(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		})
	} else {
		logging.Boot("no API key configured, running rules-only")
	}

	engine, err := buildEmbedding(cfg)
	if err != nil {
		return nil, err
	}

	registry, watcher, err := buildCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var reranker retrieval.Reranker
	if cfg.Retrieval.RerankerEnable && client != nil {
		reranker = retrieval.NewLLMReranker(client)
	}
	retriever := retrieval.NewRetriever(registry, engine, retrieval.Config{
		ShortlistK: cfg.Retrieval.ShortlistK,
		RerankTopN: cfg.Retrieval.RerankTopN,
		MinScore:   cfg.Retrieval.MinScore,
	}, mem, reranker)

	kernel, err := policy.NewKernel()
	if err != nil {
		return nil, fmt.Errorf("failed to build policy kernel: %w", err)
	}

	checkpoints, err := turn.NewCheckpointStore(cfg.Memory.CheckpointDir)
	if err != nil {
		return nil, err
	}

	trace, err := logging.NewTraceRecorder(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to open decision trace: %w", err)
	}

	synth := turn.NewSynthesizer(client)

	machine := turn.NewMachine(turn.Config{
		SearchBudget:   cfg.Limits.SearchBudget,
		SpeculativeMax: cfg.Execution.SpeculativeMax,
		PerCallTimeout: cfg.GetInlineTimeout(),
		FanOut: executor.FanOutConfig{
			Parallelism:    cfg.Execution.Parallelism,
			PerToolCharCap: cfg.Execution.PerToolCharCap,
			TotalCharCap:   cfg.Execution.TotalCharCap,
		},
	}, turn.Deps{
		Classifier: intent.NewClassifier(intent.DefaultConfig(), client),
		Retriever:  retriever,
		Planner:    planner.NewPlanner(planner.DefaultConfig(), client),
		Domain:     planner.DomainPlanner{},
		Router: planner.NewExecutionRouter(kernel, planner.RouterConfig{
			SubtaskEnabled:  cfg.Execution.SubtaskEnabled,
			InlineTimeout:   cfg.GetInlineTimeout(),
			ParallelTimeout: cfg.GetParallelTimeout(),
			SubTaskTimeout:  cfg.GetSubTaskTimeout(),
		}),
		Critic: critic.New(critic.Config{
			NominalConfidence: cfg.Critic.NominalConfidence,
			Window:            cfg.Critic.Window,
			ThrashLimit:       cfg.Critic.ThrashLimit,
			MaxSteps:          cfg.Limits.MaxSteps,
			MaxReplans:        cfg.Limits.MaxReplans,
			MetaStreakLimit:   cfg.Limits.MetaToolStreak,
		}, client),
		Gates:       hitl.NewGates(hitl.Config{Stages: cfg.HITL.Stages}, nil),
		Synthesizer: synth,
		Memory:      mem,
		Registry:    registry,
		Combos:      retrieval.NewComboCache(500, cfg.GetComboTTL()),
		Resolver:    executor.NewLexicalResolver(),
		Checkpoints: checkpoints,
		Trace:       trace,
	})

	return &app{
		cfg:      cfg,
		machine:  machine,
		registry: registry,
		synth:    synth,
		st:       st,
		watcher:  watcher,
		trace:    trace,
	}, nil
}

func buildEmbedding(cfg *config.Config) (embedding.EmbeddingEngine, error) {
	ecfg := embedding.Config{
		Provider:    cfg.Embedding.Provider,
		GenAIAPIKey: cfg.LLM.APIKey,
		GenAIModel:  cfg.Embedding.Model,
		Dimensions:  cfg.Embedding.Dimensions,
	}
	// Remote embeddings need a key; degrade to the offline engine.
	if ecfg.Provider == "genai" && ecfg.GenAIAPIKey == "" {
		logging.Boot("no API key for genai embeddings, using hash engine")
		ecfg.Provider = "hash"
	}
	engine, err := embedding.NewEngine(ecfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding engine: %w", err)
	}
	if cfg.Embedding.CachePath != "" {
		engine = embedding.NewCachedEngine(engine, cfg.Embedding.CachePath)
	}
	return engine, nil
}

func buildCatalog(ctx context.Context, cfg *config.Config) (*catalog.Registry, *catalog.Watcher, error) {
	handlers := catalog.NewBuiltins().Handlers()

	if _, err := os.Stat(cfg.Catalog.Path); os.IsNotExist(err) {
		logging.Boot("catalog file %s missing, starting with an empty registry", cfg.Catalog.Path)
		return catalog.NewRegistry(), nil, nil
	}

	registry, err := catalog.Load(cfg.Catalog.Path, handlers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	var watcher *catalog.Watcher
	if cfg.Catalog.HotReload {
		watcher, err = catalog.NewWatcher(registry, cfg.Catalog.Path, handlers)
		if err != nil {
			logging.Boot("catalog watcher unavailable: %v", err)
		} else {
			go watcher.Run(ctx)
		}
	}
	return registry, watcher, nil
}

// Close releases the app's resources in reverse construction order.
func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.trace != nil {
		_ = a.trace.Close()
	}
	if a.st != nil {
		_ = a.st.Close()
	}
}
