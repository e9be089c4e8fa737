package planner

import (
	"time"

	"kompass/internal/intent"
	"kompass/internal/logging"
	"kompass/internal/policy"
	"kompass/internal/types"
)

// ===== EXECUTION ROUTER =====

// RouterConfig carries strategy deadlines and the administrative
// sub-task switch.
type RouterConfig struct {
	SubtaskEnabled  bool
	InlineTimeout   time.Duration
	ParallelTimeout time.Duration
	SubTaskTimeout  time.Duration
}

// DefaultRouterConfig returns the declared per-strategy deadlines.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SubtaskEnabled:  true,
		InlineTimeout:   120 * time.Second,
		ParallelTimeout: 120 * time.Second,
		SubTaskTimeout:  300 * time.Second,
	}
}

// ExecutionRouter picks the dispatch strategy for a planned turn by
// evaluating the policy kernel, and pairs it with its deadline.
type ExecutionRouter struct {
	kernel *policy.Kernel
	cfg    RouterConfig
	log    *logging.Logger
}

// NewExecutionRouter wires the router to a strategy kernel.
func NewExecutionRouter(kernel *policy.Kernel, cfg RouterConfig) *ExecutionRouter {
	if cfg.InlineTimeout <= 0 {
		cfg.InlineTimeout = 120 * time.Second
	}
	if cfg.ParallelTimeout <= 0 {
		cfg.ParallelTimeout = 120 * time.Second
	}
	if cfg.SubTaskTimeout <= 0 {
		cfg.SubTaskTimeout = 300 * time.Second
	}
	return &ExecutionRouter{kernel: kernel, cfg: cfg, log: logging.Get(logging.CategoryPlanner)}
}

// Route decides the strategy and deadline for the turn.
// speculativeCovered reports that every tool the plan needs already
// has a successful speculative result.
func (r *ExecutionRouter) Route(turn *types.Turn, speculativeCovered bool) (types.Strategy, time.Duration, error) {
	in := policy.Inputs{
		AgentCount:         len(turn.Agents),
		Route:              turn.Intent.Route,
		Bulk:               intent.IsBulk(types.NormalizeQuery(turn.Message)),
		PlanSteps:          len(turn.Plan.Steps),
		SubtaskEnabled:     r.cfg.SubtaskEnabled,
		SpeculativeCovered: speculativeCovered,
	}
	decision, err := r.kernel.Decide(in)
	if err != nil {
		// The kernel already fell back to inline; keep the turn moving.
		r.log.Warn("strategy kernel failed, using inline: %v", err)
		return types.StrategyInline, r.cfg.InlineTimeout, err
	}
	r.log.Debug("routed strategy=%s agents=%d steps=%d", decision.Strategy, in.AgentCount, in.PlanSteps)
	return decision.Strategy, r.Deadline(decision.Strategy), nil
}

// Deadline returns the declared deadline for a strategy.
func (r *ExecutionRouter) Deadline(s types.Strategy) time.Duration {
	switch s {
	case types.StrategySubTask:
		return r.cfg.SubTaskTimeout
	case types.StrategyParallel:
		return r.cfg.ParallelTimeout
	default:
		return r.cfg.InlineTimeout
	}
}
