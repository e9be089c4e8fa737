package intent

import (
	"context"
	"errors"
	"testing"

	"kompass/internal/types"
)

type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	s.calls++
	return s.response, s.err
}

func newTestClassifier(client *stubLLM) *Classifier {
	if client == nil {
		return NewClassifier(DefaultConfig(), nil)
	}
	return NewClassifier(DefaultConfig(), client)
}

func TestGreetingIsToolForbidden(t *testing.T) {
	c := newTestClassifier(nil)
	for _, msg := range []string{"Hej!", "hejsan", "God morgon", "Tjena!", "tack så mycket"} {
		res := c.Classify(context.Background(), msg, nil, "")
		if res.Mode != types.ModeToolForbidden {
			t.Errorf("%q: mode = %s, want tool_forbidden", msg, res.Mode)
		}
		if res.Intent.Route != types.RouteSmalltalk {
			t.Errorf("%q: route = %s, want smalltalk", msg, res.Intent.Route)
		}
		if res.Canned == "" {
			t.Errorf("%q: expected canned reply", msg)
		}
	}
}

func TestWeatherQueryIsToolRequired(t *testing.T) {
	c := newTestClassifier(nil)
	res := c.Classify(context.Background(), "Vad blir vädret i Lund imorgon?", nil, "")
	if res.Mode != types.ModeToolRequired {
		t.Errorf("mode = %s, want tool_required", res.Mode)
	}
	if res.Intent.Route != types.RouteKnowledge {
		t.Errorf("route = %s, want knowledge", res.Intent.Route)
	}
}

func TestStatisticsBulkQuery(t *testing.T) {
	c := newTestClassifier(nil)
	res := c.Classify(context.Background(), "Hämta statistik för alla kommuner", nil, "")
	if res.Mode != types.ModeToolRequired {
		t.Errorf("mode = %s, want tool_required", res.Mode)
	}
	if res.Intent.Route != types.RouteStatistics {
		t.Errorf("route = %s, want statistics", res.Intent.Route)
	}
	if !IsBulk(types.NormalizeQuery("Hämta statistik för alla kommuner")) {
		t.Error("expected bulk phrasing to be detected")
	}
}

func TestCompareQueryIsMultiSource(t *testing.T) {
	c := newTestClassifier(nil)
	res := c.Classify(context.Background(), "Jämför befolkningsstatistik mellan Lund och Malmö", nil, "")
	if res.Mode != types.ModeMultiSource {
		t.Errorf("mode = %s, want multi_source", res.Mode)
	}
	if res.Intent.Route != types.RouteCompare {
		t.Errorf("route = %s, want compare", res.Intent.Route)
	}
}

func TestSubIntentSplitting(t *testing.T) {
	subs := SplitSubIntents(types.NormalizeQuery("vädret i Lund och statistik för Malmö"))
	if len(subs) != 2 {
		t.Fatalf("sub-intents = %v, want 2", subs)
	}

	// Plain noun coordination must not split.
	subs = SplitSubIntents(types.NormalizeQuery("vädret i Lund och Malmö"))
	if len(subs) != 1 {
		t.Fatalf("sub-intents = %v, want 1", subs)
	}
}

func TestMultipleSubIntentsForceMultiSource(t *testing.T) {
	c := newTestClassifier(nil)
	res := c.Classify(context.Background(), "Vad är vädret i Lund och hur ser trafiken ut på E22?", nil, "")
	if res.Mode != types.ModeMultiSource {
		t.Errorf("mode = %s, want multi_source", res.Mode)
	}
	if len(res.Intent.SubIntents) != 2 {
		t.Errorf("sub-intents = %v, want 2", res.Intent.SubIntents)
	}
}

func TestShortGeneralQuestionIsToolOptional(t *testing.T) {
	c := newTestClassifier(nil)
	res := c.Classify(context.Background(), "Vad är huvudstaden i Frankrike?", nil, "")
	if res.Mode != types.ModeToolOptional {
		t.Errorf("mode = %s, want tool_optional", res.Mode)
	}
}

func TestFollowUpReusesPreviousRoute(t *testing.T) {
	c := newTestClassifier(nil)
	res := c.Classify(context.Background(), "och där också?", nil, types.RouteStatistics)
	if res.Intent.Route != types.RouteStatistics {
		t.Errorf("route = %s, want statistics (inherited)", res.Intent.Route)
	}

	// Smalltalk cannot carry a follow-up.
	res = c.Classify(context.Background(), "och där också?", nil, types.RouteSmalltalk)
	if res.Intent.Route == types.RouteSmalltalk {
		t.Error("follow-up must not inherit smalltalk route")
	}
}

func TestActionVerbRoutesToAction(t *testing.T) {
	c := newTestClassifier(nil)
	res := c.Classify(context.Background(), "Registrera mitt företag hos Bolagsverket", nil, "")
	if res.Intent.Route != types.RouteAction {
		t.Errorf("route = %s, want action", res.Intent.Route)
	}
	if res.Mode != types.ModeToolRequired {
		t.Errorf("mode = %s, want tool_required", res.Mode)
	}
}

func TestLLMFallbackAcceptsDeclaredRoute(t *testing.T) {
	client := &stubLLM{response: `{"thinking": "oklart", "route": "action", "confidence": 0.8, "reason": "ärendehantering"}`}
	c := newTestClassifier(client)
	res := c.Classify(context.Background(), "Jag behöver hjälp med mitt pågående ärende hos er sedan förra veckan tack på förhand för snabb hantering av detta mycket viktiga ärende nu", nil, "")
	if client.calls != 1 {
		t.Fatalf("llm calls = %d, want 1", client.calls)
	}
	if res.Intent.Route != types.RouteAction {
		t.Errorf("route = %s, want action", res.Intent.Route)
	}
	if res.Intent.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", res.Intent.Confidence)
	}
}

func TestLLMFallbackDiscardsUndeclaredRoute(t *testing.T) {
	client := &stubLLM{response: `{"route": "banana", "confidence": 0.9}`}
	c := newTestClassifier(client)
	res := c.Classify(context.Background(), "Jag behöver hjälp med mitt pågående ärende hos er sedan förra veckan tack på förhand för snabb hantering av detta mycket viktiga ärende nu", nil, "")
	if res.Intent.Route != types.RouteKnowledge || res.Intent.Reason != "default" {
		t.Errorf("expected default fallback, got route=%s reason=%q", res.Intent.Route, res.Intent.Reason)
	}
}

func TestLLMErrorFallsBackToDefault(t *testing.T) {
	client := &stubLLM{err: errors.New("timeout")}
	c := newTestClassifier(client)
	res := c.Classify(context.Background(), "Jag behöver hjälp med mitt pågående ärende hos er sedan förra veckan tack på förhand för snabb hantering av detta mycket viktiga ärende nu", nil, "")
	if res.Mode != types.ModeToolRequired {
		t.Errorf("mode = %s, want tool_required default", res.Mode)
	}
}

func TestConfirmer(t *testing.T) {
	c := NewConfirmer()
	tests := []struct {
		msg  string
		want Confirmation
	}{
		{"ja", ConfirmApprove},
		{"Ja, kör!", ConfirmApprove},
		{"okej", ConfirmApprove},
		{"nej", ConfirmReject},
		{"Nej tack", ConfirmReject},
		{"avbryt", ConfirmReject},
		{"ja fast nej", ConfirmReject},
		{"vad menar du?", ConfirmUnknown},
		{"", ConfirmUnknown},
		{"jag vill gärna veta mer om vädret i Lund imorgon", ConfirmUnknown},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.msg); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}
