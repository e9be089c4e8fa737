package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseChunk(text string) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{
				"parts": []map[string]string{{"text": text}},
			}},
		},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

func TestCompleteStreamDeliversChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "alt=sse") {
			t.Errorf("expected SSE query, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk(`{"thinking": "kollar `))
		fmt.Fprint(w, sseChunk(`prognosen", `))
		fmt.Fprint(w, sseChunk(`"answer": "18 grader"}`))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	client := NewGeminiClientWithConfig(cfg)

	// Feed chunks into the partial parser the way a progress display
	// would, extracting the thinking field before the reply completes.
	var p PartialParser
	var sawPartialThinking bool
	err := client.CompleteStream(context.Background(), "system", "Vad blir vädret i Lund?", func(chunk string) error {
		p.Feed(chunk)
		if !p.Complete() && p.Thinking() != "" {
			sawPartialThinking = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}

	if !sawPartialThinking {
		t.Error("thinking should be extractable before the stream completes")
	}
	if got := p.Thinking(); got != "kollar prognosen" {
		t.Errorf("thinking = %q", got)
	}
	var out struct {
		Answer string `json:"answer"`
	}
	if !p.Object(&out) || out.Answer != "18 grader" {
		t.Errorf("final object not parsed, answer = %q", out.Answer)
	}
}

func TestCompleteStreamCallbackAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("första"))
		fmt.Fprint(w, sseChunk("andra"))
	}))
	defer srv.Close()

	cfg := DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	client := NewGeminiClientWithConfig(cfg)

	var chunks int
	err := client.CompleteStream(context.Background(), "", "hej", func(chunk string) error {
		chunks++
		return fmt.Errorf("nog")
	})
	if err == nil || !strings.Contains(err.Error(), "nog") {
		t.Fatalf("callback error should abort the stream, got %v", err)
	}
	if chunks != 1 {
		t.Errorf("callback ran %d times after abort, want 1", chunks)
	}
}

func TestCompleteStreamMissingKey(t *testing.T) {
	client := NewGeminiClient("")
	err := client.CompleteStream(context.Background(), "", "hej", func(string) error { return nil })
	if err != ErrNoAPIKey {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
}
