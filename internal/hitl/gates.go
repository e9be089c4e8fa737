package hitl

import (
	"fmt"
	"strings"

	"kompass/internal/intent"
	"kompass/internal/logging"
	"kompass/internal/types"
)

// ===== HITL GATES =====

// Config enables individual approval gates.
type Config struct {
	// Stages lists the enabled gates: planner, execution, synthesis.
	Stages []string
}

// Gates evaluates approval checkpoints against turn state and
// resolves the user's yes/no replies.
type Gates struct {
	enabled   map[types.HITLStage]bool
	confirmer *intent.Confirmer
	log       *logging.Logger
}

// NewGates creates the gate set. confirmer may be nil for defaults.
func NewGates(cfg Config, confirmer *intent.Confirmer) *Gates {
	if confirmer == nil {
		confirmer = intent.NewConfirmer()
	}
	enabled := make(map[types.HITLStage]bool, len(cfg.Stages))
	for _, s := range cfg.Stages {
		enabled[types.HITLStage(strings.ToLower(strings.TrimSpace(s)))] = true
	}
	return &Gates{enabled: enabled, confirmer: confirmer, log: logging.Get(logging.CategoryHITL)}
}

// Enabled reports whether a gate is configured on.
func (g *Gates) Enabled(stage types.HITLStage) bool {
	return g.enabled[stage]
}

// ShouldGate reports whether the turn must halt at this stage: the
// gate is enabled and no matching approval exists in turn state.
func (g *Gates) ShouldGate(turn *types.Turn, stage types.HITLStage) bool {
	return g.Enabled(stage) && !turn.StageApproved(stage)
}

// Halt suspends the turn at the given stage with a preview message.
// The turn stays suspended until Resolve consumes the next user
// message.
func (g *Gates) Halt(turn *types.Turn, stage types.HITLStage) {
	turn.AwaitingConfirmation = true
	turn.PendingStage = stage
	turn.PendingPreview = g.preview(turn, stage)
	turn.Phase = types.PhaseAwaitHITL
	g.log.Debug("turn %s halted at %s gate", turn.ID, stage)
}

// Resolution is the outcome of consuming a reply at a gate.
type Resolution struct {
	Confirmation intent.Confirmation
	// Resume is the phase the turn continues in. Unset for an
	// unparsable reply, which re-asks without consuming the gate.
	Resume types.Phase
}

// Resolve classifies the user's reply against the pending gate.
// Approval records the stage and resumes the phase that gate guards.
// Rejection counts as a replan and routes back to planning; a
// rejected synthesis additionally drops the draft answer.
func (g *Gates) Resolve(turn *types.Turn, message string) Resolution {
	stage := turn.PendingStage
	confirmation := g.confirmer.Classify(message)
	switch confirmation {
	case intent.ConfirmApprove:
		turn.ApprovedStages = append(turn.ApprovedStages, string(stage))
		turn.AwaitingConfirmation = false
		turn.PendingStage = ""
		turn.PendingPreview = ""
		turn.Phase = resumePhase(stage)
		g.log.Debug("turn %s: %s gate approved, resuming %s", turn.ID, stage, turn.Phase)
		return Resolution{Confirmation: confirmation, Resume: turn.Phase}
	case intent.ConfirmReject:
		turn.ReplanCount++
		turn.AwaitingConfirmation = false
		turn.PendingStage = ""
		turn.PendingPreview = ""
		if stage == types.StageSynthesis {
			turn.Draft = ""
		}
		turn.Phase = types.PhasePlan
		g.log.Debug("turn %s: %s gate rejected, replanning (attempt %d)", turn.ID, stage, turn.ReplanCount)
		return Resolution{Confirmation: confirmation, Resume: types.PhasePlan}
	default:
		// Unparsable: the gate stays armed and the question repeats.
		g.log.Debug("turn %s: unparsable reply %q at %s gate", turn.ID, message, stage)
		return Resolution{Confirmation: confirmation}
	}
}

// resumePhase maps a stage to the phase it guards.
func resumePhase(stage types.HITLStage) types.Phase {
	switch stage {
	case types.StagePlanner:
		return types.PhaseRoute
	case types.StageExecution:
		return types.PhaseExecute
	case types.StageSynthesis:
		return types.PhaseFinalize
	default:
		return types.PhasePlan
	}
}

func (g *Gates) preview(turn *types.Turn, stage types.HITLStage) string {
	switch stage {
	case types.StagePlanner:
		var steps []string
		for i, s := range turn.Plan.Steps {
			steps = append(steps, fmt.Sprintf("%d. %s", i+1, s.Text))
		}
		return fmt.Sprintf("Föreslagen plan:\n%s\nSka jag fortsätta? (ja/nej)", strings.Join(steps, "\n"))
	case types.StageExecution:
		return fmt.Sprintf("Jag tänker köra %d steg med strategi %s. Ska jag fortsätta? (ja/nej)",
			len(turn.Plan.Steps), turn.Strategy)
	case types.StageSynthesis:
		return fmt.Sprintf("Utkast till svar:\n%s\nSka jag skicka det? (ja/nej)", turn.Draft)
	default:
		return "Ska jag fortsätta? (ja/nej)"
	}
}
