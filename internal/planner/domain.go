package planner

import (
	"kompass/internal/types"
)

// ===== DOMAIN PLANNER =====

// DomainPlanner assigns each selected agent a micro-plan: a tool
// shortlist and a parallel/sequential mode. This is computed straight
// from retrieval output; no model call is involved.
type DomainPlanner struct{}

// MicroPlans builds one micro-plan per selected agent. An agent with
// more than one shortlisted tool, or any agent in a multi-source
// turn, runs its tools in parallel; a single tool runs sequentially.
func (DomainPlanner) MicroPlans(turn *types.Turn) []types.MicroPlan {
	plans := make([]types.MicroPlan, 0, len(turn.Agents))
	for _, agent := range turn.Agents {
		tools := turn.Tools[agent]
		mode := types.MicroSequential
		if len(tools) > 1 || turn.Mode == types.ModeMultiSource {
			mode = types.MicroParallel
		}
		plans = append(plans, types.MicroPlan{
			Agent: agent,
			Mode:  mode,
			Tools: tools,
		})
	}
	return plans
}
