package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testCatalog = `
agents:
  - name: weather
    description: Väderprognoser via SMHI.
    capabilities: [väder prognos]
  - name: statistics
    description: Kommunstatistik från Kolada.

tools:
  - name: weather_forecast
    agent: weather
    description: Point forecast for a place.
    source: weather
    handler: forecast
    priority: 60
    schema:
      required: [place]
      properties:
        place:
          type: string
          description: Place name.
  - name: search_kpi
    agent: statistics
    description: Search KPI ids.
    source: statistics
    meta: true
    category: uppslag
    triggers: [hitta, kpi]
    handler: kpi_search
    schema:
      required: [query]
      properties:
        query:
          type: string
  - name: kpi_data
    agent: statistics
    description: Fetch KPI values.
    source: statistics
    category: nyckeltal
    baseline: true
    handler: kpi_search
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testHandlers() HandlerMap {
	return HandlerMap{
		"forecast":   okExec,
		"kpi_search": okExec,
	}
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, testCatalog)

	reg, err := Load(path, testHandlers())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := len(reg.Agents()); got != 2 {
		t.Errorf("agents = %d, want 2", got)
	}
	if reg.Count() != 3 {
		t.Errorf("tools = %d, want 3", reg.Count())
	}

	tool := reg.Get("weather_forecast")
	if tool == nil {
		t.Fatal("weather_forecast not loaded")
	}
	if tool.Agent != "weather" || tool.Source != "weather" || tool.Priority != 60 {
		t.Errorf("tool fields wrong: %+v", tool)
	}
	if tool.Meta {
		t.Error("weather_forecast should not be a meta tool")
	}
	if !reg.Get("search_kpi").Meta {
		t.Error("search_kpi should be a meta tool")
	}
	if got := tool.Schema.Required; len(got) != 1 || got[0] != "place" {
		t.Errorf("schema required = %v, want [place]", got)
	}

	search := reg.Get("search_kpi")
	if search.Category != "uppslag" || len(search.Triggers) != 2 || search.Baseline {
		t.Errorf("category fields wrong: %+v", search)
	}
	data := reg.Get("kpi_data")
	if data.Category != "nyckeltal" || !data.Baseline {
		t.Errorf("baseline category wrong: %+v", data)
	}
}

func TestLoadUnknownHandler(t *testing.T) {
	path := writeCatalog(t, testCatalog)

	_, err := Load(path, HandlerMap{"forecast": okExec})
	if !errors.Is(err, ErrUnknownHandler) {
		t.Fatalf("expected ErrUnknownHandler, got %v", err)
	}
}

func TestLoadUnknownAgent(t *testing.T) {
	path := writeCatalog(t, `
agents:
  - name: weather
    description: x
tools:
  - name: orphan
    agent: nosuch
    handler: forecast
`)
	_, err := Load(path, testHandlers())
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestReloadKeepsRegistryOnError(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	reg, err := Load(path, testHandlers())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(path, []byte("tools: [broken"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := reg.Reload(path, testHandlers()); err == nil {
		t.Fatal("expected parse error")
	}
	if !reg.Has("weather_forecast") {
		t.Error("registry should survive a bad reload")
	}
}

func TestDefaultCatalogFileLoads(t *testing.T) {
	// The shipped catalog must stay bindable against the builtin handlers.
	path := filepath.Join("..", "..", "config", "catalog.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("shipped catalog not present: %v", err)
	}

	reg, err := Load(path, NewBuiltins().Handlers())
	if err != nil {
		t.Fatalf("Load shipped catalog: %v", err)
	}
	for _, agent := range []string{"weather", "statistics", "parliament", "traffic", "company"} {
		if reg.Agent(agent) == nil {
			t.Errorf("shipped catalog missing agent %s", agent)
		}
	}
	if !reg.Has("search_kpi") || !reg.Get("search_kpi").Meta {
		t.Error("search_kpi should be a meta tool in the shipped catalog")
	}
	// The statistics tools carry fan-out categories.
	if reg.Get("kpi_data").Category == "" || !reg.Get("kpi_data").Baseline {
		t.Error("kpi_data should anchor a baseline fan-out category")
	}
	if reg.Get("search_kpi").Category == "" {
		t.Error("search_kpi should belong to a fan-out category")
	}
}
