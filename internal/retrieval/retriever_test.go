package retrieval

import (
	"context"
	"testing"
	"time"

	"kompass/internal/catalog"
	"kompass/internal/embedding"
)

func okExec(ctx context.Context, args map[string]any) (string, error) {
	return "ok", nil
}

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	reg := catalog.NewRegistry()

	agents := []*catalog.Agent{
		{
			Name:         "weather",
			Description:  "Väderprognoser för svenska orter via SMHI",
			Capabilities: []string{"väder prognos temperatur vind imorgon"},
		},
		{
			Name:         "statistics",
			Description:  "Kommunstatistik och nyckeltal från Kolada",
			Capabilities: []string{"statistik nyckeltal kommuner kolada kpi"},
		},
		{
			Name:         "parliament",
			Description:  "Riksdagens dokument och propositioner",
			Capabilities: []string{"riksdagen proposition motion"},
		},
	}
	for _, a := range agents {
		if err := reg.RegisterAgent(a); err != nil {
			t.Fatalf("RegisterAgent: %v", err)
		}
	}

	tools := []*catalog.Tool{
		{Name: "weather_forecast", Agent: "weather", Description: "väder prognos för en ort", Execute: okExec, Priority: 60},
		{Name: "kpi_data", Agent: "statistics", Description: "hämta nyckeltal statistik för kommun", Execute: okExec, Priority: 60},
		{Name: "search_kpi", Agent: "statistics", Description: "sök kpi nyckeltal id", Meta: true, Execute: okExec},
		{Name: "list_municipalities", Agent: "statistics", Description: "lista kommuner id", Meta: true, Execute: okExec},
		{Name: "kpi_history", Agent: "statistics", Description: "statistik över tid", Execute: okExec},
		{Name: "kpi_compare", Agent: "statistics", Description: "jämför kommuner statistik", Execute: okExec},
		{Name: "kpi_export", Agent: "statistics", Description: "exportera data", Execute: okExec, Priority: 10},
	}
	for _, tool := range tools {
		reg.MustRegister(tool)
	}
	return reg
}

// constEngine embeds everything to the same vector, forcing score ties.
type constEngine struct{ dim int }

func (e constEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	v[0] = 1
	return v, nil
}

func (e constEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}

func (e constEngine) Dimensions() int { return e.dim }
func (e constEngine) Name() string    { return "const" }

func newTestRetriever(t *testing.T, boosts BoostProvider) *Retriever {
	t.Helper()
	return NewRetriever(testRegistry(t), embedding.NewHashEngine(256), DefaultConfig(), boosts, nil)
}

func TestRankAgentsPrefersDomainMatch(t *testing.T) {
	r := newTestRetriever(t, nil)

	candidates, err := r.RankAgents(context.Background(), "vad blir vädret i Lund imorgon", "vädret i lund imorgon")
	if err != nil {
		t.Fatalf("RankAgents: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if candidates[0].Agent.Name != "weather" {
		t.Errorf("top agent = %s, want weather", candidates[0].Agent.Name)
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[i-1].Score {
			t.Error("candidates should be sorted by score descending")
		}
	}
}

type staticBoosts map[string]float64

func (b staticBoosts) Boost(_, agent string) float64 { return b[agent] }

func TestRankAgentsAppliesBoost(t *testing.T) {
	// A large boost flips the ranking for an ambiguous query.
	plain := newTestRetriever(t, nil)
	boosted := newTestRetriever(t, staticBoosts{"parliament": 2.0})

	query := "information om Sverige"
	base, err := plain.RankAgents(context.Background(), query, query)
	if err != nil {
		t.Fatalf("RankAgents: %v", err)
	}
	promoted, err := boosted.RankAgents(context.Background(), query, query)
	if err != nil {
		t.Fatalf("RankAgents: %v", err)
	}

	if len(promoted) == 0 || promoted[0].Agent.Name != "parliament" {
		t.Errorf("boost should promote parliament, got %s", topName(promoted))
	}
	// Sanity: the unboosted ranking is what the boost had to overcome.
	for _, c := range base {
		if c.Agent.Name == "parliament" && c.Boost != 0 {
			t.Error("plain retriever should have zero boost")
		}
	}
}

func TestShortlistToolsCapsAndKeepsMeta(t *testing.T) {
	r := newTestRetriever(t, nil)

	shortlist := r.ShortlistTools("hämta statistik för alla kommuner", "statistics")
	if len(shortlist) < 2 {
		t.Fatalf("shortlist too small: %d", len(shortlist))
	}

	names := ToolNames(shortlist)
	meta := 0
	for i, c := range shortlist {
		if c.Tool.Meta {
			meta++
		}
		if i > 0 && c.Score > shortlist[i-1].Score {
			t.Error("shortlist should be score-sorted (meta stragglers excepted)")
			break
		}
	}
	if meta != 2 {
		t.Errorf("both meta tools should survive the cut, got %d in %v", meta, names)
	}
	// Cap is ShortlistK plus surviving meta tools.
	if len(shortlist) > DefaultConfig().ShortlistK+2 {
		t.Errorf("shortlist = %d tools, cap is %d", len(shortlist), DefaultConfig().ShortlistK+2)
	}
}

func TestRankAgentsNameMatch(t *testing.T) {
	r := newTestRetriever(t, nil)

	candidates, err := r.RankAgents(context.Background(), "statistics för Lund", "statistics för lund")
	if err != nil {
		t.Fatalf("RankAgents: %v", err)
	}
	if len(candidates) == 0 || candidates[0].Agent.Name != "statistics" {
		t.Fatalf("naming an agent should put it on top, got %s", topName(candidates))
	}
	if candidates[0].NameMatch <= 0 {
		t.Error("name match weight should be recorded in the breakdown")
	}
}

func TestRankAgentsRecencyBonus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinScore = -1 // keep every agent so the bonus is observable
	r := NewRetriever(testRegistry(t), embedding.NewHashEngine(256), cfg, nil, nil)
	r.MarkUsed("parliament")

	candidates, err := r.RankAgents(context.Background(), "information om Sverige", "information om sverige")
	if err != nil {
		t.Fatalf("RankAgents: %v", err)
	}
	for _, c := range candidates {
		want := 0.0
		if c.Agent.Name == "parliament" {
			want = recencyBonus
		}
		if c.Recency != want {
			t.Errorf("recency for %s = %v, want %v", c.Agent.Name, c.Recency, want)
		}
	}
}

func TestRankAgentsTiedScoresOrderByName(t *testing.T) {
	r := NewRetriever(testRegistry(t), constEngine{dim: 8}, DefaultConfig(), nil, nil)

	// No keyword, name, recency or feedback signal: every agent gets
	// the identical embedding score.
	got, err := r.RankAgents(context.Background(), "hej", "hej")
	if err != nil {
		t.Fatalf("RankAgents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3", len(got))
	}
	want := []string{"parliament", "statistics", "weather"}
	for i, name := range want {
		if got[i].Agent.Name != name {
			t.Errorf("rank %d = %s, want %s", i, got[i].Agent.Name, name)
		}
	}
}

func TestShortlistToolsPinnedAgentKeepsNamespace(t *testing.T) {
	reg := testRegistry(t)
	reg.Agent("statistics").Pinned = true
	r := NewRetriever(reg, embedding.NewHashEngine(256), DefaultConfig(), nil, nil)

	// A query with no keyword overlap would normally prune the tail.
	shortlist := r.ShortlistTools("hej", "statistics")
	if len(shortlist) != 6 {
		t.Errorf("pinned agent should keep all 6 tools visible, got %d", len(shortlist))
	}
}

func TestShortlistToolsUnknownAgent(t *testing.T) {
	r := newTestRetriever(t, nil)
	if got := r.ShortlistTools("anything", "ghost"); got != nil {
		t.Errorf("unknown agent should return nil, got %v", got)
	}
}

type fixedReranker struct{ called bool }

func (f *fixedReranker) Rerank(_ context.Context, _ string, cs []AgentCandidate) ([]AgentCandidate, error) {
	f.called = true
	// Reverse order to make the effect observable.
	out := make([]AgentCandidate, len(cs))
	for i, c := range cs {
		out[len(cs)-1-i] = c
	}
	return out, nil
}

func TestRerankerIsApplied(t *testing.T) {
	rr := &fixedReranker{}
	cfg := DefaultConfig()
	cfg.MinScore = -1 // keep every agent so the reranker sees several
	r := NewRetriever(testRegistry(t), embedding.NewHashEngine(256), cfg, nil, rr)

	candidates, err := r.RankAgents(context.Background(), "statistik nyckeltal kommuner", "statistik nyckeltal kommuner")
	if err != nil {
		t.Fatalf("RankAgents: %v", err)
	}
	if !rr.called {
		t.Error("reranker should have been invoked")
	}
	if len(candidates) == 0 {
		t.Fatal("expected candidates")
	}
}

func TestExtractKeywords(t *testing.T) {
	kw := ExtractKeywords("Vad blir vädret i Lund imorgon?")

	all := kw.AllKeywords()
	has := func(s string) bool {
		for _, k := range all {
			if k == s {
				return true
			}
		}
		return false
	}
	if !has("lund") {
		t.Errorf("capitalized place should be a keyword: %v", all)
	}
	if has("vad") || has("i") {
		t.Errorf("stopwords should be dropped: %v", all)
	}
	if kw.Weights["lund"] != 0.9 {
		t.Errorf("proper noun weight = %f, want 0.9", kw.Weights["lund"])
	}
}

func TestComboCache(t *testing.T) {
	cache := NewComboCache(10, 50*time.Millisecond)

	combo := Combo{
		Agents: []string{"statistics"},
		Tools:  map[string][]string{"statistics": {"kpi_data", "search_kpi"}},
	}
	cache.Set("statistik kommuner", "v1", combo)

	got, ok := cache.Get("statistik kommuner", "v1")
	if !ok || len(got.Agents) != 1 {
		t.Fatalf("cache miss for fresh entry: ok=%v got=%+v", ok, got)
	}

	// A catalog change invalidates by key.
	if _, ok := cache.Get("statistik kommuner", "v2"); ok {
		t.Error("different catalog version should miss")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get("statistik kommuner", "v1"); ok {
		t.Error("expired entry should miss")
	}
}

func TestComboKeyRephrasings(t *testing.T) {
	recent := []string{"weather"}
	base := ComboKey("knowledge", recent, "Vad blir vädret i Lund imorgon?", nil)

	// Stopwords, case, and punctuation do not change the key.
	if got := ComboKey("knowledge", recent, "vädret i lund imorgon", nil); got != base {
		t.Errorf("rephrasing keyed %s, want %s", got, base)
	}

	// Sub-intent order does not matter.
	a := ComboKey("knowledge", recent, "väder och statistik", []string{"weather", "statistics"})
	b := ComboKey("knowledge", recent, "väder och statistik", []string{"statistics", "weather"})
	if a != b {
		t.Error("sub-intent order changed the key")
	}

	// Route, recent agents, and content tokens all key separately.
	if got := ComboKey("action", recent, "vädret i lund imorgon", nil); got == base {
		t.Error("different route should key separately")
	}
	if got := ComboKey("knowledge", nil, "vädret i lund imorgon", nil); got == base {
		t.Error("different recent agents should key separately")
	}
	if got := ComboKey("knowledge", recent, "vädret i Malmö imorgon", nil); got == base {
		t.Error("different content tokens should key separately")
	}

	// Only the two most recent agents participate.
	long := ComboKey("knowledge", []string{"weather", "statistics", "traffic"}, "vädret", nil)
	short := ComboKey("knowledge", []string{"weather", "statistics"}, "vädret", nil)
	if long != short {
		t.Error("agents beyond the last two should not affect the key")
	}
}

func TestComboCacheEviction(t *testing.T) {
	cache := NewComboCache(2, time.Minute)
	cache.Set("q1", "v", Combo{})
	time.Sleep(2 * time.Millisecond)
	cache.Set("q2", "v", Combo{})
	time.Sleep(2 * time.Millisecond)
	cache.Set("q3", "v", Combo{})

	if cache.Len() != 2 {
		t.Errorf("cache len = %d, want 2 after eviction", cache.Len())
	}
	if _, ok := cache.Get("q1", "v"); ok {
		t.Error("oldest entry should have been evicted")
	}
}
