package hitl

import (
	"context"
	"strings"
	"testing"
	"time"

	"kompass/internal/intent"
	"kompass/internal/types"
)

func allGates() *Gates {
	return NewGates(Config{Stages: []string{"planner", "execution", "synthesis"}}, nil)
}

func haltedTurn(stage types.HITLStage) *types.Turn {
	turn := &types.Turn{
		ID:      "t1",
		Message: "Hämta statistik för alla kommuner",
		Plan: types.Plan{Steps: []types.PlanStep{
			{ID: "s1", Text: "Hämta underlag via statistics", Agent: "statistics", Status: types.StepPending},
		}},
		Strategy: types.StrategySubTask,
		Draft:    "Här är statistiken.",
	}
	allGates().Halt(turn, stage)
	return turn
}

func TestShouldGate(t *testing.T) {
	g := NewGates(Config{Stages: []string{"execution"}}, nil)
	turn := &types.Turn{}
	if !g.ShouldGate(turn, types.StageExecution) {
		t.Error("enabled unapproved gate must fire")
	}
	if g.ShouldGate(turn, types.StagePlanner) {
		t.Error("disabled gate must not fire")
	}
	turn.ApprovedStages = []string{"execution"}
	if g.ShouldGate(turn, types.StageExecution) {
		t.Error("approved gate must not fire again")
	}
}

func TestHaltSetsPendingState(t *testing.T) {
	turn := haltedTurn(types.StageExecution)
	if !turn.AwaitingConfirmation || turn.PendingStage != types.StageExecution {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.Phase != types.PhaseAwaitHITL {
		t.Errorf("phase = %s, want await_hitl", turn.Phase)
	}
	if !strings.Contains(turn.PendingPreview, "ja/nej") {
		t.Errorf("preview = %q", turn.PendingPreview)
	}
}

func TestApproveResumesGuardedPhase(t *testing.T) {
	tests := []struct {
		stage  types.HITLStage
		resume types.Phase
	}{
		{types.StagePlanner, types.PhaseRoute},
		{types.StageExecution, types.PhaseExecute},
		{types.StageSynthesis, types.PhaseFinalize},
	}
	g := allGates()
	for _, tt := range tests {
		turn := haltedTurn(tt.stage)
		res := g.Resolve(turn, "ja")
		if res.Confirmation != intent.ConfirmApprove || res.Resume != tt.resume {
			t.Errorf("%s: resolution = %+v, want resume %s", tt.stage, res, tt.resume)
		}
		if !turn.StageApproved(tt.stage) || turn.AwaitingConfirmation {
			t.Errorf("%s: approval not recorded: %+v", tt.stage, turn)
		}
	}
}

func TestRejectIncrementsReplanAndReturnsToPlan(t *testing.T) {
	g := allGates()
	turn := haltedTurn(types.StageExecution)
	res := g.Resolve(turn, "nej")
	if res.Confirmation != intent.ConfirmReject {
		t.Fatalf("resolution = %+v", res)
	}
	if turn.ReplanCount != 1 {
		t.Errorf("replan count = %d, want 1", turn.ReplanCount)
	}
	if turn.Phase != types.PhasePlan {
		t.Errorf("phase = %s, want plan", turn.Phase)
	}
	// The draft survives a non-synthesis rejection.
	if turn.Draft == "" {
		t.Error("draft dropped by execution rejection")
	}
}

func TestRejectedSynthesisDropsDraft(t *testing.T) {
	g := allGates()
	turn := haltedTurn(types.StageSynthesis)
	g.Resolve(turn, "nej")
	if turn.Draft != "" {
		t.Error("rejected synthesis must drop the draft")
	}
}

func TestUnparsableReplyKeepsGateArmed(t *testing.T) {
	g := allGates()
	turn := haltedTurn(types.StageExecution)
	res := g.Resolve(turn, "vad händer om jag säger kanske?")
	if res.Confirmation != intent.ConfirmUnknown || res.Resume != "" {
		t.Fatalf("resolution = %+v", res)
	}
	if !turn.AwaitingConfirmation || turn.PendingStage != types.StageExecution {
		t.Error("pending state consumed by unparsable reply")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	m := NewManager()
	done := make(chan Response, 1)
	go func() {
		resp, err := m.WaitForApproval(context.Background(), Request{TurnID: "t1", Stage: "execution", Preview: "ok?"})
		if err != nil {
			t.Errorf("WaitForApproval: %v", err)
		}
		done <- resp
	}()

	req := <-m.RequestCh()
	if req.TurnID != "t1" {
		t.Fatalf("req = %+v", req)
	}
	m.SubmitResponse(Response{TurnID: "t1", Approved: true})

	select {
	case resp := <-done:
		if !resp.Approved {
			t.Error("approval lost")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval round trip")
	}
}

func TestManagerContextCancellation(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.WaitForApproval(ctx, Request{TurnID: "t2"})
		errCh <- err
	}()
	<-m.RequestCh()
	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	if m.HasPendingRequest("t2") {
		t.Error("pending request leaked after cancellation")
	}
}
