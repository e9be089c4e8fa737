package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kompass/internal/catalog"
	"kompass/internal/logging"
	"kompass/internal/types"
)

// ===== STRATEGY EXECUTORS =====

// ArgResolver produces the argument map for one tool call from the
// turn. Implementations range from lexical heuristics to model calls.
type ArgResolver interface {
	Resolve(toolName string, turn *types.Turn) map[string]interface{}
}

// Config bounds one execution pass.
type Config struct {
	Parallelism int
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{Parallelism: 4}
}

// Executor dispatches a planned turn according to its strategy.
// Speculative results are consulted before any real invocation.
type Executor struct {
	inv      *Invoker
	resolver ArgResolver
	cfg      Config
	log      *logging.Logger

	fan *FanOut
	reg *catalog.Registry
}

// New wires an executor.
func New(inv *Invoker, resolver ArgResolver, cfg Config) *Executor {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Executor{inv: inv, resolver: resolver, cfg: cfg, log: logging.Get(logging.CategoryExecutor)}
}

// EnableFanOut routes micro-plans whose tools span more than one
// catalog category through the domain fan-out. reg supplies the
// category metadata for the planned tools.
func (e *Executor) EnableFanOut(fan *FanOut, reg *catalog.Registry) {
	e.fan = fan
	e.reg = reg
}

// Execute runs the turn's micro-plans under the strategy deadline and
// returns one contract per tool call, ordered deterministically by
// (agent order, tool order). speculative contains prefetched results
// keyed by tool name; a successful prefetch replaces the real call.
func (e *Executor) Execute(ctx context.Context, turn *types.Turn, deadline time.Duration, speculative map[string]types.ResultContract) []types.ResultContract {
	if deadline <= 0 {
		deadline = 120 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	switch turn.Strategy {
	case types.StrategyParallel:
		return e.runParallel(execCtx, turn, speculative)
	case types.StrategySubTask:
		// Sub-task runs the same plan shape; the longer deadline is
		// what distinguishes it.
		return e.runSequential(execCtx, turn, speculative)
	default:
		return e.runSequential(execCtx, turn, speculative)
	}
}

// runSequential walks micro-plans in order. Within one micro-plan,
// parallel mode fans its tools out; sequential mode calls them in
// shortlist order.
func (e *Executor) runSequential(ctx context.Context, turn *types.Turn, speculative map[string]types.ResultContract) []types.ResultContract {
	var out []types.ResultContract
	for _, mp := range turn.Micro {
		out = append(out, e.runMicroPlan(ctx, turn, mp, speculative)...)
	}
	return out
}

// runParallel fans the micro-plans out across agents, bounded by the
// parallelism cap. Results keep agent order regardless of completion
// order.
func (e *Executor) runParallel(ctx context.Context, turn *types.Turn, speculative map[string]types.ResultContract) []types.ResultContract {
	results := make([][]types.ResultContract, len(turn.Micro))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, mp := range turn.Micro {
		i, mp := i, mp
		g.Go(func() error {
			results[i] = e.runMicroPlan(gctx, turn, mp, speculative)
			return nil
		})
	}
	g.Wait()

	var out []types.ResultContract
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (e *Executor) runMicroPlan(ctx context.Context, turn *types.Turn, mp types.MicroPlan, speculative map[string]types.ResultContract) []types.ResultContract {
	if len(mp.Tools) == 0 {
		return nil
	}
	if cats := e.planCategories(mp); len(cats) > 1 {
		if selected := e.fan.Select(turn.Message, cats); len(selected) > 0 {
			e.log.Debug("fanning %s out across %d categories", mp.Agent, len(selected))
			args := func(tool string) map[string]interface{} {
				var a map[string]interface{}
				if e.resolver != nil {
					a = e.resolver.Resolve(tool, turn)
				}
				if a == nil {
					a = map[string]interface{}{}
				}
				return a
			}
			return []types.ResultContract{e.fan.Run(ctx, selected, args)}
		}
	}
	if mp.Mode == types.MicroParallel && len(mp.Tools) > 1 {
		out := make([]types.ResultContract, len(mp.Tools))
		var wg sync.WaitGroup
		for i, tool := range mp.Tools {
			wg.Add(1)
			go func(i int, tool string) {
				defer wg.Done()
				out[i] = e.callOrReuse(ctx, turn, tool, speculative)
			}(i, tool)
		}
		wg.Wait()
		return out
	}
	out := make([]types.ResultContract, 0, len(mp.Tools))
	for _, tool := range mp.Tools {
		out = append(out, e.callOrReuse(ctx, turn, tool, speculative))
	}
	return out
}

// planCategories groups the planned tools of one micro-plan by catalog
// category. Nil when fan-out is disabled or no tool carries a category.
func (e *Executor) planCategories(mp types.MicroPlan) []Category {
	if e.fan == nil || e.reg == nil {
		return nil
	}
	var tools []*catalog.Tool
	for _, name := range mp.Tools {
		if t := e.reg.Get(name); t != nil && t.Category != "" {
			tools = append(tools, t)
		}
	}
	return CategoriesOf(tools)
}

func (e *Executor) callOrReuse(ctx context.Context, turn *types.Turn, tool string, speculative map[string]types.ResultContract) types.ResultContract {
	if res, ok := speculative[tool]; ok && res.Status == types.StatusSuccess {
		e.log.Debug("reusing speculative result for %s", tool)
		return res
	}
	var args map[string]interface{}
	if e.resolver != nil {
		args = e.resolver.Resolve(tool, turn)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return e.inv.Invoke(ctx, tool, args)
}

// ===== LEXICAL ARG RESOLVER =====

// LexicalResolver fills tool arguments from the message text with
// simple heuristics. Unresolvable required args are left absent so
// the registry's validation turns the call into a clean error.
type LexicalResolver struct {
	// Places maps lowercase place names to themselves; used for
	// "place"-style arguments.
	Places []string
}

// NewLexicalResolver seeds the resolver with common Swedish places.
func NewLexicalResolver() *LexicalResolver {
	return &LexicalResolver{
		Places: []string{"stockholm", "göteborg", "malmö", "lund", "uppsala", "umeå", "kiruna"},
	}
}

// Resolve derives arguments from the turn message.
func (r *LexicalResolver) Resolve(toolName string, turn *types.Turn) map[string]interface{} {
	norm := types.NormalizeQuery(turn.Message)
	args := map[string]interface{}{}
	for _, place := range r.Places {
		if strings.Contains(norm, place) {
			args["place"] = place
			args["filter"] = place
			break
		}
	}
	args["query"] = turn.Message
	return args
}
