package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"kompass/internal/llm"
	"kompass/internal/logging"
	"kompass/internal/types"
)

// ===== INTENT CLASSIFIER =====

// Config tunes the rule cascade.
type Config struct {
	// ShortQueryTokens is the token ceiling under which a general
	// knowledge question may run without tools.
	ShortQueryTokens int
	// GreetingReply is the canned answer for trivial greetings.
	GreetingReply string
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		ShortQueryTokens: 18,
		GreetingReply:    "Hej! Vad kan jag hjälpa dig med?",
	}
}

// Result is the classifier output for one message.
type Result struct {
	Intent types.Intent
	Mode   types.ExecutionMode
	// Canned holds a ready answer when Mode is tool_forbidden.
	Canned string
}

// Classifier resolves a message into an intent and execution mode.
// The LLM client is optional; when nil, inconclusive messages fall
// through to the default rule.
type Classifier struct {
	cfg Config
	llm llm.Client
	log *logging.Logger
}

// NewClassifier creates a classifier. client may be nil.
func NewClassifier(cfg Config, client llm.Client) *Classifier {
	if cfg.ShortQueryTokens <= 0 {
		cfg.ShortQueryTokens = 18
	}
	if cfg.GreetingReply == "" {
		cfg.GreetingReply = DefaultConfig().GreetingReply
	}
	return &Classifier{cfg: cfg, llm: client, log: logging.Get(logging.CategoryIntent)}
}

var greetingRe = regexp.MustCompile(`^(hej+s?a?n?|tja|tjena|hall[åa]|god\s*(morgon|kv[äa]ll|dag)|hi|hello|hey|tack(\s+s[åa]\s+mycket)?)[!. ]*$`)

var compareRe = regexp.MustCompile(`j[äa]mf[öo]r|skillnad(en)?\s+mellan|vs\.?\s|versus|compare`)

var bulkRe = regexp.MustCompile(`\balla\b|\bvarje\b|\bsamtliga\b|\ball\b|\bevery\b`)

var actionRe = regexp.MustCompile(`\b(boka|skicka|registrera|uppdatera|skapa|avboka|anm[äa]l)\b`)

// domainKeywords maps lexical triggers to the route they imply.
var domainKeywords = []struct {
	word  string
	route types.Route
}{
	{"statistik", types.RouteStatistics},
	{"nyckeltal", types.RouteStatistics},
	{"kpi", types.RouteStatistics},
	{"kommun", types.RouteStatistics},
	{"väder", types.RouteKnowledge},
	{"vädret", types.RouteKnowledge},
	{"prognos", types.RouteKnowledge},
	{"temperatur", types.RouteKnowledge},
	{"regn", types.RouteKnowledge},
	{"snö", types.RouteKnowledge},
	{"riksdag", types.RouteKnowledge},
	{"proposition", types.RouteKnowledge},
	{"motion", types.RouteKnowledge},
	{"trafik", types.RouteKnowledge},
	{"olycka", types.RouteKnowledge},
	{"väglag", types.RouteKnowledge},
	{"bolag", types.RouteKnowledge},
	{"företag", types.RouteKnowledge},
	{"organisationsnummer", types.RouteKnowledge},
}

// anaphoricCues signal that a short message depends on the previous turn.
var anaphoricCues = []string{"också", "där", "samma", "den då", "det då", "also", "there", "same"}

// Classify runs the rule cascade over the message. prevRoute is the
// route of the previous turn in the same thread, or empty.
func (c *Classifier) Classify(ctx context.Context, message string, history []string, prevRoute types.Route) Result {
	norm := types.NormalizeQuery(message)
	tokens := strings.Fields(norm)

	// Trivial greeting: answer directly, nothing downstream runs.
	if greetingRe.MatchString(norm) {
		c.log.Debug("greeting detected: %q", message)
		return Result{
			Intent: types.Intent{
				ID:         uuid.NewString(),
				Route:      types.RouteSmalltalk,
				Confidence: 0.99,
				Reason:     "greeting pattern",
			},
			Mode:   types.ModeToolForbidden,
			Canned: c.cfg.GreetingReply,
		}
	}

	subIntents := SplitSubIntents(norm)

	// Compare signal or several sub-intents means multiple sources.
	if compareRe.MatchString(norm) || len(subIntents) > 1 {
		reason := "compare signal"
		if len(subIntents) > 1 {
			reason = fmt.Sprintf("%d sub-intents", len(subIntents))
		}
		return Result{
			Intent: types.Intent{
				ID:         uuid.NewString(),
				Route:      types.RouteCompare,
				Confidence: 0.85,
				Reason:     reason,
				SubIntents: subIntents,
			},
			Mode: types.ModeMultiSource,
		}
	}

	// Follow-up heuristic: short anaphoric message inherits the
	// previous route, unless that route cannot carry a follow-up.
	if c.looksLikeFollowUp(tokens, norm) &&
		prevRoute != "" && prevRoute != types.RouteSmalltalk && prevRoute != types.RouteCompare {
		c.log.Debug("follow-up detected, reusing route %s", prevRoute)
		return Result{
			Intent: types.Intent{
				ID:         uuid.NewString(),
				Route:      prevRoute,
				Confidence: 0.70,
				Reason:     "follow-up on previous turn",
			},
			Mode: types.ModeToolRequired,
		}
	}

	if route, hit := matchDomainKeyword(norm); hit {
		if actionRe.MatchString(norm) {
			route = types.RouteAction
		}
		return Result{
			Intent: types.Intent{
				ID:         uuid.NewString(),
				Route:      route,
				Confidence: 0.90,
				Reason:     "domain keyword",
			},
			Mode: types.ModeToolRequired,
		}
	}

	if bulkRe.MatchString(norm) {
		return Result{
			Intent: types.Intent{
				ID:         uuid.NewString(),
				Route:      types.RouteKnowledge,
				Confidence: 0.75,
				Reason:     "bulk phrasing",
			},
			Mode: types.ModeToolRequired,
		}
	}

	if actionRe.MatchString(norm) {
		return Result{
			Intent: types.Intent{
				ID:         uuid.NewString(),
				Route:      types.RouteAction,
				Confidence: 0.80,
				Reason:     "action verb",
			},
			Mode: types.ModeToolRequired,
		}
	}

	// Short general question without domain signal: tools optional.
	if len(tokens) <= c.cfg.ShortQueryTokens && isQuestion(message) {
		return Result{
			Intent: types.Intent{
				ID:         uuid.NewString(),
				Route:      types.RouteKnowledge,
				Confidence: 0.65,
				Reason:     "short general question",
			},
			Mode: types.ModeToolOptional,
		}
	}

	// Rules are inconclusive; ask the model, constrained to the
	// declared routes. A bad answer falls back to the default rule.
	if c.llm != nil {
		if res, ok := c.classifyLLM(ctx, message, history); ok {
			return res
		}
	}

	return Result{
		Intent: types.Intent{
			ID:         uuid.NewString(),
			Route:      types.RouteKnowledge,
			Confidence: 0.50,
			Reason:     "default",
		},
		Mode: types.ModeToolRequired,
	}
}

func (c *Classifier) looksLikeFollowUp(tokens []string, norm string) bool {
	if len(tokens) > 8 {
		return false
	}
	for _, cue := range anaphoricCues {
		if strings.Contains(norm, cue) {
			return true
		}
	}
	return false
}

// IsBulk reports whether the message asks for an operation over all
// items ("alla kommuner", "samtliga"). The execution router uses this
// to pick the sub-task strategy.
func IsBulk(norm string) bool {
	return bulkRe.MatchString(norm)
}

func matchDomainKeyword(norm string) (types.Route, bool) {
	for _, kw := range domainKeywords {
		if strings.Contains(norm, kw.word) {
			return kw.route, true
		}
	}
	return "", false
}

func isQuestion(message string) bool {
	trimmed := strings.TrimSpace(message)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	norm := types.NormalizeQuery(message)
	for _, w := range []string{"vad ", "vem ", "när ", "var ", "hur ", "varför ", "vilken ", "vilka ", "what ", "who ", "when ", "how "} {
		if strings.HasPrefix(norm, w) {
			return true
		}
	}
	return false
}

// SplitSubIntents splits a normalized query on coordination markers.
// A fragment counts as its own sub-intent only when it carries a
// domain keyword, so plain noun coordination ("Lund och Malmö") does
// not explode into multiple intents.
func SplitSubIntents(norm string) []string {
	parts := []string{norm}
	for _, marker := range []string{" och ", " samt ", " and also ", " och även "} {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, marker)...)
		}
		parts = next
	}
	if len(parts) == 1 {
		return []string{strings.TrimSpace(norm)}
	}
	var subs []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, hit := matchDomainKeyword(p); hit {
			subs = append(subs, p)
		}
	}
	if len(subs) <= 1 {
		return []string{strings.TrimSpace(norm)}
	}
	return subs
}

type llmIntentReply struct {
	Thinking   string  `json:"thinking"`
	Route      string  `json:"route"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const classifySystemPrompt = `Du klassificerar användarmeddelanden för en svensk samhällsassistent.
Svara med ett JSON object: {"thinking": "...", "route": "...", "confidence": 0.0-1.0, "reason": "..."}.
route måste vara en av: knowledge, action, statistics, compare, smalltalk.`

func (c *Classifier) classifyLLM(ctx context.Context, message string, history []string) (Result, bool) {
	prompt := message
	if len(history) > 0 {
		prompt = "Tidigare:\n" + strings.Join(history, "\n") + "\n\nMeddelande: " + message
	}
	resp, err := c.llm.CompleteWithSystem(ctx, classifySystemPrompt, prompt)
	if err != nil {
		c.log.Warn("llm classification failed: %v", err)
		return Result{}, false
	}
	var reply llmIntentReply
	if _, err := llm.Decode(resp, &reply); err != nil {
		c.log.Warn("llm classification unparsable: %v", err)
		return Result{}, false
	}
	route := types.Route(strings.ToLower(strings.TrimSpace(reply.Route)))
	switch route {
	case types.RouteKnowledge, types.RouteAction, types.RouteStatistics, types.RouteCompare, types.RouteSmalltalk:
	default:
		c.log.Warn("llm returned undeclared route %q, discarding", reply.Route)
		return Result{}, false
	}
	conf := reply.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.6
	}
	mode := types.ModeToolRequired
	if route == types.RouteSmalltalk {
		mode = types.ModeToolForbidden
	}
	return Result{
		Intent: types.Intent{
			ID:         uuid.NewString(),
			Route:      route,
			Confidence: conf,
			Reason:     strings.TrimSpace(reply.Reason),
		},
		Mode: mode,
	}, true
}
