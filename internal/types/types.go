// Package types provides shared type definitions used across kompass packages.
// This package exists to break import cycles between the turn machine, the
// planner, and the executors. Types here should be foundational data
// structures with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// ROUTES AND EXECUTION MODES
// =============================================================================

// Route is the coarse category a user message resolves to.
type Route string

const (
	RouteKnowledge  Route = "knowledge"
	RouteAction     Route = "action"
	RouteStatistics Route = "statistics"
	RouteCompare    Route = "compare"
	RouteSmalltalk  Route = "smalltalk"
)

// ExecutionMode controls how much tool access a turn is granted.
type ExecutionMode string

const (
	ModeToolForbidden ExecutionMode = "tool_forbidden"
	ModeToolOptional  ExecutionMode = "tool_optional"
	ModeToolRequired  ExecutionMode = "tool_required"
	ModeMultiSource   ExecutionMode = "multi_source"
)

// =============================================================================
// STRUCTURED INTENT
// =============================================================================

// Intent represents the resolved purpose of a user message.
type Intent struct {
	ID         string   `json:"id"`
	Route      Route    `json:"route"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason,omitempty"`
	SubIntents []string `json:"sub_intents,omitempty"`
}

// IsSmalltalk reports whether the intent resolved to the smalltalk route.
func (i Intent) IsSmalltalk() bool { return i.Route == RouteSmalltalk }

// =============================================================================
// RESULT CONTRACT
// =============================================================================

// ResultStatus is the normalized outcome of one agent or tool invocation.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusPartial ResultStatus = "partial"
	StatusBlocked ResultStatus = "blocked"
	StatusError   ResultStatus = "error"
	StatusTimeout ResultStatus = "timeout"
)

// ResultContract is the normalized shape every step result reduces to.
// The critic consumes contracts only; a missing contract forces the
// slower LLM critique path.
type ResultContract struct {
	Status        ResultStatus `json:"status"`
	Confidence    float64      `json:"confidence"`
	MissingFields []string     `json:"missing_fields,omitempty"`
	UsedTools     []string     `json:"used_tools,omitempty"`
	Response      string       `json:"response,omitempty"`
}

// Failed reports whether the contract carries no usable result.
func (c ResultContract) Failed() bool {
	return c.Status == StatusError || c.Status == StatusBlocked || c.Status == StatusTimeout
}

// =============================================================================
// PLANS
// =============================================================================

// StepStatus tracks a plan step through its lifecycle.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// PlanStep is one ordered unit of work inside a turn plan.
type PlanStep struct {
	ID     string     `json:"id"`
	Text   string     `json:"text"`
	Agent  string     `json:"agent,omitempty"`
	Status StepStatus `json:"status"`
}

// Plan is the ordered step list a turn executes.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// PendingSteps returns the steps not yet completed, failed, or skipped.
func (p Plan) PendingSteps() []PlanStep {
	out := make([]PlanStep, 0, len(p.Steps))
	for _, s := range p.Steps {
		if s.Status == StepPending || s.Status == StepRunning {
			out = append(out, s)
		}
	}
	return out
}

// MicroMode is the per-agent tool execution mode inside a domain plan.
type MicroMode string

const (
	MicroParallel   MicroMode = "parallel"
	MicroSequential MicroMode = "sequential"
)

// MicroPlan assigns one selected agent its shortlisted tools and mode.
type MicroPlan struct {
	Agent string    `json:"agent"`
	Mode  MicroMode `json:"mode"`
	Tools []string  `json:"tools"`
}

// Strategy is the dispatch mode chosen for the current plan.
type Strategy string

const (
	StrategyInline   Strategy = "inline"
	StrategyParallel Strategy = "parallel"
	StrategySubTask  Strategy = "sub_task"
)

// =============================================================================
// CRITIC VERDICTS
// =============================================================================

// CriticDecision is the verdict the critic emits after each execution pass.
type CriticDecision string

const (
	DecisionOK        CriticDecision = "ok"
	DecisionNeedsMore CriticDecision = "needs_more"
	DecisionReplan    CriticDecision = "replan"
	DecisionFail      CriticDecision = "fail"
)

// CriticVerdict pairs the decision with its supporting detail.
type CriticVerdict struct {
	Decision      CriticDecision `json:"decision"`
	Reason        string         `json:"reason,omitempty"`
	MissingFields []string       `json:"missing_fields,omitempty"`
	Final         bool           `json:"final,omitempty"`
}

// =============================================================================
// ORCHESTRATION PHASES
// =============================================================================

// Phase is the turn machine's current position.
type Phase string

const (
	PhaseClassify  Phase = "classify"
	PhaseRetrieve  Phase = "retrieve"
	PhasePlan      Phase = "plan"
	PhaseRoute     Phase = "route"
	PhaseExecute   Phase = "execute"
	PhaseCritique  Phase = "critique"
	PhaseFinalize  Phase = "finalize"
	PhaseAwaitHITL Phase = "await_hitl"
	PhaseDone      Phase = "done"
)

// HITLStage names a human-approval checkpoint.
type HITLStage string

const (
	StagePlanner   HITLStage = "planner"
	StageExecution HITLStage = "execution"
	StageSynthesis HITLStage = "synthesis"
)

// =============================================================================
// TURN STATE
// =============================================================================

// Turn is one user message plus everything derived from it. The turn machine
// owns it exclusively for its lifetime; it serializes as a checkpoint across
// human-approval suspensions.
type Turn struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Namespace string    `json:"namespace"`
	Message   string    `json:"message"`
	History   []string  `json:"history,omitempty"`
	StartedAt time.Time `json:"started_at"`

	Intent   Intent              `json:"intent"`
	Mode     ExecutionMode       `json:"mode"`
	Agents   []string            `json:"agents,omitempty"`
	Tools    map[string][]string `json:"tools,omitempty"`
	Plan     Plan                `json:"plan"`
	Micro    []MicroPlan         `json:"micro,omitempty"`
	Strategy Strategy            `json:"strategy,omitempty"`

	Results     []ResultContract `json:"results,omitempty"`
	CriticLog   []CriticVerdict  `json:"critic_log,omitempty"`
	Draft       string           `json:"draft,omitempty"`
	FinalAnswer string           `json:"final_answer,omitempty"`
	StepCount   int              `json:"step_count"`
	ReplanCount int              `json:"replan_count"`
	MetaStreak  int              `json:"meta_streak"`

	Phase                Phase     `json:"phase"`
	AwaitingConfirmation bool      `json:"awaiting_confirmation"`
	PendingStage         HITLStage `json:"pending_stage,omitempty"`
	PendingPreview       string    `json:"pending_preview,omitempty"`
	ApprovedStages       []string  `json:"approved_stages,omitempty"`
}

// RecentResults returns up to n of the newest result contracts, newest last.
func (t *Turn) RecentResults(n int) []ResultContract {
	if n <= 0 || len(t.Results) == 0 {
		return nil
	}
	if len(t.Results) <= n {
		return t.Results
	}
	return t.Results[len(t.Results)-n:]
}

// StageApproved reports whether the given approval stage was already
// confirmed in this turn.
func (t *Turn) StageApproved(stage HITLStage) bool {
	for _, s := range t.ApprovedStages {
		if s == string(stage) {
			return true
		}
	}
	return false
}

// =============================================================================
// QUERY NORMALIZATION
// =============================================================================

// NormalizeQuery lowercases, collapses whitespace, and strips punctuation so
// cache and feedback keys are stable across trivial rephrasings. Swedish
// letters are kept intact.
func NormalizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	var b strings.Builder
	b.Grow(len(q))
	lastSpace := true
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == 'å', r == 'ä', r == 'ö', r == 'é', r == 'ü':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
