package turn

import (
	"context"
	"fmt"
	"strings"

	"kompass/internal/llm"
	"kompass/internal/logging"
	"kompass/internal/types"
)

// ===== SYNTHESIS =====

const synthesisSystemPrompt = `Du är en svensk samhällsassistent. Du får en
användarfråga och underlag från ett antal verktyg. Skriv ett kort, korrekt
svar på svenska baserat enbart på underlaget. Om underlaget är ofullständigt,
säg vad som saknas. Hitta aldrig på siffror.`

const synthesisStreamPrompt = synthesisSystemPrompt + `

Svara med ett JSON-objekt med två fält: "thinking" med en kort löpande
beskrivning av hur du läser underlaget, följt av "svar" med själva svaret.`

// fallbackAnswer is the apologetic floor when nothing usable came back.
const fallbackAnswer = "Jag kunde tyvärr inte ta fram ett fullständigt svar " +
	"den här gången. Försök gärna igen eller formulera om frågan."

// Synthesizer turns accumulated result contracts into one user-facing
// answer. The LLM client is optional; with a nil client (or on error)
// synthesis degrades to a deterministic concatenation of the usable
// tool responses.
type Synthesizer struct {
	llm llm.Client
	log *logging.Logger

	// onThinking receives incremental thinking text during streamed
	// synthesis. Set before the machine starts serving turns.
	onThinking func(delta string)
}

// NewSynthesizer creates a synthesizer. client may be nil.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{llm: client, log: logging.Get(logging.CategorySynthesis)}
}

// OnThinking registers a progress callback. When the LLM client can
// stream, synthesis then runs over the token stream and fn sees the
// model's running commentary as it arrives.
func (s *Synthesizer) OnThinking(fn func(delta string)) {
	s.onThinking = fn
}

// Synthesize produces the answer for a turn. It never returns an empty
// string: when no contract carries usable text and the LLM is
// unavailable, the apologetic fallback is used.
func (s *Synthesizer) Synthesize(ctx context.Context, t *types.Turn) string {
	usable := usableResponses(t.Results)

	if s.llm != nil {
		answer, err := s.synthesizeAny(ctx, t, usable)
		if err != nil {
			s.log.Warn("llm synthesis failed, degrading: %v", err)
		} else if strings.TrimSpace(answer) != "" {
			return strings.TrimSpace(answer)
		}
	}

	if len(usable) == 0 {
		return fallbackAnswer
	}
	return strings.Join(usable, "\n\n")
}

// synthesizeAny prefers the streamed path when the client supports it
// and a progress callback is registered; otherwise one blocking call.
func (s *Synthesizer) synthesizeAny(ctx context.Context, t *types.Turn, usable []string) (string, error) {
	if streamer, ok := s.llm.(llm.Streamer); ok && s.onThinking != nil {
		answer, err := s.synthesizeStream(ctx, streamer, t, usable)
		if err == nil {
			return answer, nil
		}
		s.log.Warn("streamed synthesis failed, retrying blocking: %v", err)
	}
	return s.llm.CompleteWithSystem(ctx, synthesisSystemPrompt, s.userPrompt(t, usable))
}

// synthesizeStream runs synthesis over the token stream, surfacing the
// model's "thinking" field through the progress callback while the
// "svar" field is still arriving.
func (s *Synthesizer) synthesizeStream(ctx context.Context, streamer llm.Streamer, t *types.Turn, usable []string) (string, error) {
	var parser llm.PartialParser
	var reported string
	err := streamer.CompleteStream(ctx, synthesisStreamPrompt, s.userPrompt(t, usable), func(chunk string) error {
		parser.Feed(chunk)
		if thinking := parser.Thinking(); len(thinking) > len(reported) {
			s.onThinking(thinking[len(reported):])
			reported = thinking
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Svar string `json:"svar"`
	}
	if parser.Object(&out) && strings.TrimSpace(out.Svar) != "" {
		return out.Svar, nil
	}
	// The object never closed; the partial field is still the answer.
	if svar := parser.StringField("svar"); strings.TrimSpace(svar) != "" {
		return svar, nil
	}
	return "", fmt.Errorf("streamed synthesis produced no answer field")
}

func (s *Synthesizer) userPrompt(t *types.Turn, usable []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fråga: %s\n\n", t.Message)
	if len(usable) == 0 {
		b.WriteString("Inga verktygsresultat finns. Förklara kort att svaret inte kunde tas fram, utan att gissa.\n")
	} else {
		b.WriteString("Underlag:\n")
		for i, u := range usable {
			fmt.Fprintf(&b, "%d. %s\n", i+1, u)
		}
	}
	return b.String()
}

// usableResponses keeps the non-empty bodies of successful and partial
// contracts, in arrival order.
func usableResponses(results []types.ResultContract) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.Status != types.StatusSuccess && r.Status != types.StatusPartial {
			continue
		}
		if strings.TrimSpace(r.Response) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(r.Response))
	}
	return out
}
