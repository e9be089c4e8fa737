package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"kompass/internal/logging"
	"kompass/internal/types"
)

// =============================================================================
// EXECUTION STRATEGY KERNEL
// =============================================================================

// strategyProgram is the datalog program deriving candidate execution
// strategies from per-turn facts. Precedence between candidates is
// resolved in Go, where the speculative-coverage override lives.
const strategyProgram = `
Decl multi_agent(X).
Decl route(R).
Decl bulk_request(X).
Decl plan_long(X).
Decl subtask_enabled(X).
Decl speculative_covered(X).
Decl strategy(S) descr [mode("-")].

strategy(/parallel) :- multi_agent(/true).
strategy(/parallel) :- route(/compare).
strategy(/sub_task) :- bulk_request(/true), subtask_enabled(/true).
strategy(/sub_task) :- plan_long(/true), subtask_enabled(/true).
strategy(/inline) :- speculative_covered(/true).
`

const derivedFactLimit = 10000

// Inputs are the per-turn facts asserted before evaluation.
type Inputs struct {
	AgentCount         int
	Route              types.Route
	Bulk               bool
	PlanSteps          int
	SubtaskEnabled     bool
	SpeculativeCovered bool
}

// Decision is the evaluated outcome plus the derived facts that
// produced it, for auditability.
type Decision struct {
	Strategy types.Strategy
	Derived  []string
}

// Kernel evaluates the strategy program against per-turn facts.
// The program is parsed and analyzed once at construction.
type Kernel struct {
	mu      sync.Mutex
	program *analysis.ProgramInfo
	log     *logging.Logger
}

// NewKernel parses and analyzes the embedded strategy program.
func NewKernel() (*Kernel, error) {
	parsed, err := parse.Unit(strings.NewReader(strategyProgram))
	if err != nil {
		return nil, fmt.Errorf("failed to parse strategy program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze strategy program: %w", err)
	}
	return &Kernel{
		program: programInfo,
		log:     logging.Get(logging.CategoryPolicy),
	}, nil
}

// Decide asserts the turn facts, evaluates to fixpoint and resolves
// the candidate strategies by precedence: complete speculative
// coverage forces inline, then parallel, then sub-task, then the
// inline default. Sub-task degraded by administrative disable also
// lands on inline.
func (k *Kernel) Decide(in Inputs) (Decision, error) {
	facts := k.turnFacts(in)

	k.mu.Lock()
	defer k.mu.Unlock()

	store := factstore.NewSimpleInMemoryStore()
	for _, f := range facts {
		atom, err := f.ToAtom()
		if err != nil {
			return Decision{Strategy: types.StrategyInline}, fmt.Errorf("failed to convert fact %v: %w", f, err)
		}
		store.Add(atom)
	}

	if _, err := engine.EvalProgramWithStats(k.program, store,
		engine.WithCreatedFactLimit(derivedFactLimit)); err != nil {
		return Decision{Strategy: types.StrategyInline}, fmt.Errorf("failed to evaluate strategy program: %w", err)
	}

	candidates := map[string]bool{}
	var derived []string
	for pred := range k.program.Decls {
		if pred.Symbol != "strategy" {
			continue
		}
		store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			derived = append(derived, a.String())
			if len(a.Args) == 1 {
				if c, ok := a.Args[0].(ast.Constant); ok {
					candidates[strings.TrimPrefix(c.Symbol, "/")] = true
				}
			}
			return nil
		})
	}

	decision := Decision{Strategy: types.StrategyInline, Derived: derived}
	switch {
	case in.SpeculativeCovered && candidates["inline"]:
		decision.Strategy = types.StrategyInline
	case candidates["parallel"]:
		decision.Strategy = types.StrategyParallel
	case candidates["sub_task"]:
		decision.Strategy = types.StrategySubTask
	}
	k.log.Debug("strategy=%s derived=%v", decision.Strategy, derived)
	return decision, nil
}

func (k *Kernel) turnFacts(in Inputs) []types.Fact {
	route := "/" + string(in.Route)
	if in.Route == "" {
		route = "/knowledge"
	}
	return []types.Fact{
		{Predicate: "multi_agent", Args: []interface{}{in.AgentCount > 1}},
		{Predicate: "route", Args: []interface{}{route}},
		{Predicate: "bulk_request", Args: []interface{}{in.Bulk}},
		{Predicate: "plan_long", Args: []interface{}{in.PlanSteps > 3}},
		{Predicate: "subtask_enabled", Args: []interface{}{in.SubtaskEnabled}},
		{Predicate: "speculative_covered", Args: []interface{}{in.SpeculativeCovered}},
	}
}
