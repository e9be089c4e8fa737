package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSMHIForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/geotype/point/") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"timeSeries":[
			{"validTime":"2026-08-31T12:00:00Z","parameters":[
				{"name":"t","unit":"Cel","values":[18.3]},
				{"name":"ws","unit":"m/s","values":[4.1]}]}
		]}`))
	}))
	defer srv.Close()

	b := NewBuiltins()
	b.SMHIBase = srv.URL

	out, err := b.SMHIForecast(context.Background(), map[string]any{"place": "Lund"})
	if err != nil {
		t.Fatalf("SMHIForecast: %v", err)
	}
	if !strings.Contains(out, "t=18.3Cel") {
		t.Errorf("missing temperature in output: %s", out)
	}
}

func TestSMHIForecastUnknownPlace(t *testing.T) {
	b := NewBuiltins()
	_, err := b.SMHIForecast(context.Background(), map[string]any{"place": "Atlantis"})
	if err == nil {
		t.Fatal("expected error for unknown place without coordinates")
	}
}

func TestKoladaKPIData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/kpi/N01951/municipality/1281/year/2025" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"count":1,"values":[
			{"kpi":"N01951","municipality":"1281","period":2025,
			 "values":[{"gender":"T","value":12.5}]}]}`))
	}))
	defer srv.Close()

	b := NewBuiltins()
	b.KoladaBase = srv.URL

	out, err := b.KoladaKPIData(context.Background(), map[string]any{
		"kpi": "N01951", "municipality": "1281", "year": "2025",
	})
	if err != nil {
		t.Fatalf("KoladaKPIData: %v", err)
	}
	if !strings.Contains(out, "1281 2025 T: 12.50") {
		t.Errorf("missing row in output: %s", out)
	}
}

func TestKoladaKPIDataRequiresKPI(t *testing.T) {
	b := NewBuiltins()
	if _, err := b.KoladaKPIData(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error without kpi argument")
	}
}

func TestKoladaMunicipalitiesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"values":[
			{"id":"1280","title":"Malmö","type":"K"},
			{"id":"1281","title":"Lund","type":"K"},
			{"id":"0180","title":"Stockholm","type":"K"}]}`))
	}))
	defer srv.Close()

	b := NewBuiltins()
	b.KoladaBase = srv.URL

	out, err := b.KoladaMunicipalities(context.Background(), map[string]any{"filter": "lund"})
	if err != nil {
		t.Fatalf("KoladaMunicipalities: %v", err)
	}
	if !strings.Contains(out, "1281 Lund") || strings.Contains(out, "Stockholm") {
		t.Errorf("filter not applied: %s", out)
	}
}

func TestRiksdagenDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dokumentlista":{"dokument":[
			{"titel":"Budgetproposition","datum":"2026-08-01","doktyp":"prop","dok_id":"HC031"}]}}`))
	}))
	defer srv.Close()

	b := NewBuiltins()
	b.RiksdagenBase = srv.URL

	out, err := b.RiksdagenDocuments(context.Background(), map[string]any{"query": "budget"})
	if err != nil {
		t.Fatalf("RiksdagenDocuments: %v", err)
	}
	if !strings.Contains(out, "Budgetproposition") {
		t.Errorf("missing document: %s", out)
	}
}

func TestUpstreamErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBuiltins()
	b.KoladaBase = srv.URL

	_, err := b.KoladaSearchKPI(context.Background(), map[string]any{"query": "skola"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}
