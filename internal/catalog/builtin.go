package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Builtins holds the HTTP-backed tool handlers for the Swedish open data
// sources. Base URLs are fields so tests can point them at a local server.
type Builtins struct {
	HTTP *http.Client

	SMHIBase      string
	KoladaBase    string
	RiksdagenBase string
	TrafikBase    string
	BolagBase     string
}

// NewBuiltins returns handlers wired to the public endpoints.
func NewBuiltins() *Builtins {
	return &Builtins{
		HTTP:          &http.Client{Timeout: 30 * time.Second},
		SMHIBase:      "https://opendata-download-metfcst.smhi.se",
		KoladaBase:    "https://api.kolada.se/v3",
		RiksdagenBase: "https://data.riksdagen.se",
		TrafikBase:    "https://api.trafikinfo.trafikverket.se/v2",
		BolagBase:     "https://data.bolagsverket.se",
	}
}

// Handlers returns the name→func map the catalog loader binds against.
func (b *Builtins) Handlers() HandlerMap {
	return HandlerMap{
		"smhi_forecast":         b.SMHIForecast,
		"kolada_kpi_data":       b.KoladaKPIData,
		"kolada_municipalities": b.KoladaMunicipalities,
		"kolada_search_kpi":     b.KoladaSearchKPI,
		"riksdagen_documents":   b.RiksdagenDocuments,
		"trafik_situations":     b.TrafikSituations,
		"bolagsverket_lookup":   b.BolagsverketLookup,
	}
}

func (b *Builtins) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// argString fetches a string argument with an optional default.
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// knownPlaces maps common Swedish place names to coordinates for the
// SMHI point forecast API. Unknown places fall back to explicit lat/lon
// arguments.
var knownPlaces = map[string][2]float64{
	"stockholm": {59.3293, 18.0686},
	"göteborg":  {57.7089, 11.9746},
	"goteborg":  {57.7089, 11.9746},
	"malmö":     {55.6050, 13.0038},
	"malmo":     {55.6050, 13.0038},
	"lund":      {55.7047, 13.1910},
	"uppsala":   {59.8586, 17.6389},
	"umeå":      {63.8258, 20.2630},
	"kiruna":    {67.8558, 20.2253},
}

// SMHIForecast fetches the point forecast for a place or coordinate pair.
func (b *Builtins) SMHIForecast(ctx context.Context, args map[string]any) (string, error) {
	place := strings.ToLower(argString(args, "place", ""))
	coords, ok := knownPlaces[place]
	if !ok {
		lat, latOK := args["lat"].(float64)
		lon, lonOK := args["lon"].(float64)
		if !latOK || !lonOK {
			return "", fmt.Errorf("unknown place %q and no lat/lon given", place)
		}
		coords = [2]float64{lat, lon}
	}

	u := fmt.Sprintf("%s/api/category/pmp3g/version/2/geotype/point/lon/%.4f/lat/%.4f/data.json",
		b.SMHIBase, coords[1], coords[0])

	var payload struct {
		TimeSeries []struct {
			ValidTime  string `json:"validTime"`
			Parameters []struct {
				Name   string    `json:"name"`
				Unit   string    `json:"unit"`
				Values []float64 `json:"values"`
			} `json:"parameters"`
		} `json:"timeSeries"`
	}
	if err := b.getJSON(ctx, u, &payload); err != nil {
		return "", fmt.Errorf("smhi forecast: %w", err)
	}
	if len(payload.TimeSeries) == 0 {
		return "", fmt.Errorf("smhi forecast: empty time series")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Forecast for %s:\n", place)
	limit := len(payload.TimeSeries)
	if limit > 8 {
		limit = 8
	}
	for _, ts := range payload.TimeSeries[:limit] {
		fmt.Fprintf(&sb, "%s:", ts.ValidTime)
		for _, p := range ts.Parameters {
			if (p.Name == "t" || p.Name == "ws" || p.Name == "pmean") && len(p.Values) > 0 {
				fmt.Fprintf(&sb, " %s=%.1f%s", p.Name, p.Values[0], p.Unit)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// KoladaKPIData fetches KPI values for one or more municipalities.
func (b *Builtins) KoladaKPIData(ctx context.Context, args map[string]any) (string, error) {
	kpi := argString(args, "kpi", "")
	municipality := argString(args, "municipality", "")
	year := argString(args, "year", "")
	if kpi == "" {
		return "", fmt.Errorf("%w: kpi", ErrMissingRequiredArg)
	}

	u := fmt.Sprintf("%s/data/kpi/%s", b.KoladaBase, url.PathEscape(kpi))
	if municipality != "" {
		u += "/municipality/" + url.PathEscape(municipality)
	}
	if year != "" {
		u += "/year/" + url.PathEscape(year)
	}

	var payload struct {
		Count  int `json:"count"`
		Values []struct {
			KPI          string `json:"kpi"`
			Municipality string `json:"municipality"`
			Period       int    `json:"period"`
			Values       []struct {
				Gender string   `json:"gender"`
				Value  *float64 `json:"value"`
			} `json:"values"`
		} `json:"values"`
	}
	if err := b.getJSON(ctx, u, &payload); err != nil {
		return "", fmt.Errorf("kolada data: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "KPI %s: %d rows\n", kpi, payload.Count)
	for i, v := range payload.Values {
		if i >= 50 {
			fmt.Fprintf(&sb, "... %d more rows\n", payload.Count-i)
			break
		}
		for _, g := range v.Values {
			if g.Value == nil {
				continue
			}
			fmt.Fprintf(&sb, "%s %d %s: %.2f\n", v.Municipality, v.Period, g.Gender, *g.Value)
		}
	}
	return sb.String(), nil
}

// KoladaMunicipalities lists municipality IDs, optionally filtered by a
// title substring. Discovery tool: its output feeds later data calls.
func (b *Builtins) KoladaMunicipalities(ctx context.Context, args map[string]any) (string, error) {
	filter := strings.ToLower(argString(args, "filter", ""))

	var payload struct {
		Values []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Type  string `json:"type"`
		} `json:"values"`
	}
	if err := b.getJSON(ctx, b.KoladaBase+"/municipality", &payload); err != nil {
		return "", fmt.Errorf("kolada municipalities: %w", err)
	}

	var sb strings.Builder
	n := 0
	for _, m := range payload.Values {
		if filter != "" && !strings.Contains(strings.ToLower(m.Title), filter) {
			continue
		}
		fmt.Fprintf(&sb, "%s %s\n", m.ID, m.Title)
		n++
	}
	return fmt.Sprintf("%d municipalities\n%s", n, sb.String()), nil
}

// KoladaSearchKPI searches KPI metadata by title. Discovery tool.
func (b *Builtins) KoladaSearchKPI(ctx context.Context, args map[string]any) (string, error) {
	query := argString(args, "query", "")
	if query == "" {
		return "", fmt.Errorf("%w: query", ErrMissingRequiredArg)
	}

	u := fmt.Sprintf("%s/kpi?title=%s", b.KoladaBase, url.QueryEscape(query))
	var payload struct {
		Values []struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"values"`
	}
	if err := b.getJSON(ctx, u, &payload); err != nil {
		return "", fmt.Errorf("kolada kpi search: %w", err)
	}

	var sb strings.Builder
	for i, k := range payload.Values {
		if i >= 20 {
			break
		}
		fmt.Fprintf(&sb, "%s: %s\n", k.ID, k.Title)
	}
	if sb.Len() == 0 {
		return "no KPIs matched " + query, nil
	}
	return sb.String(), nil
}

// RiksdagenDocuments searches parliament documents.
func (b *Builtins) RiksdagenDocuments(ctx context.Context, args map[string]any) (string, error) {
	query := argString(args, "query", "")
	docType := argString(args, "doktyp", "")

	u := fmt.Sprintf("%s/dokumentlista/?sok=%s&doktyp=%s&utformat=json&sort=datum&sortorder=desc",
		b.RiksdagenBase, url.QueryEscape(query), url.QueryEscape(docType))

	var payload struct {
		Dokumentlista struct {
			Dokument []struct {
				Titel  string `json:"titel"`
				Datum  string `json:"datum"`
				Doktyp string `json:"doktyp"`
				DokID  string `json:"dok_id"`
			} `json:"dokument"`
		} `json:"dokumentlista"`
	}
	if err := b.getJSON(ctx, u, &payload); err != nil {
		return "", fmt.Errorf("riksdagen documents: %w", err)
	}

	var sb strings.Builder
	for i, d := range payload.Dokumentlista.Dokument {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&sb, "%s [%s] %s (%s)\n", d.Datum, d.Doktyp, d.Titel, d.DokID)
	}
	if sb.Len() == 0 {
		return "no documents matched " + query, nil
	}
	return sb.String(), nil
}

// TrafikSituations fetches current traffic situations for a county.
func (b *Builtins) TrafikSituations(ctx context.Context, args map[string]any) (string, error) {
	county := argString(args, "county", "")

	// Trafikverket takes an XML POST query; the JSON answer keeps the
	// formatting uniform with the other sources.
	q := fmt.Sprintf(`<REQUEST><LOGIN authenticationkey="%s"/><QUERY objecttype="Situation" schemaversion="1.5" limit="10">`, argString(args, "api_key", "anonymous"))
	if county != "" {
		q += fmt.Sprintf(`<FILTER><EQ name="Deviation.CountyNo" value="%s"/></FILTER>`, county)
	}
	q += `</QUERY></REQUEST>`

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.TrafikBase+"/data.json", strings.NewReader(q))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("trafikverket situations: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("trafikverket returned %d", resp.StatusCode)
	}

	var payload struct {
		Response struct {
			Result []struct {
				Situation []struct {
					Deviation []struct {
						Message      string `json:"Message"`
						RoadNumber   string `json:"RoadNumber"`
						SeverityText string `json:"SeverityText"`
					} `json:"Deviation"`
				} `json:"Situation"`
			} `json:"RESULT"`
		} `json:"RESPONSE"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("trafikverket situations: %w", err)
	}

	var sb strings.Builder
	for _, r := range payload.Response.Result {
		for _, s := range r.Situation {
			for _, d := range s.Deviation {
				fmt.Fprintf(&sb, "[%s] %s %s\n", d.SeverityText, d.RoadNumber, d.Message)
			}
		}
	}
	if sb.Len() == 0 {
		return "no current situations", nil
	}
	return sb.String(), nil
}

// BolagsverketLookup looks up a company by organization number.
func (b *Builtins) BolagsverketLookup(ctx context.Context, args map[string]any) (string, error) {
	orgnr := argString(args, "orgnr", "")
	if orgnr == "" {
		return "", fmt.Errorf("%w: orgnr", ErrMissingRequiredArg)
	}

	u := fmt.Sprintf("%s/foretagsinformation/v1/organisationer/%s", b.BolagBase, url.PathEscape(orgnr))
	var payload struct {
		Namn      string `json:"namn"`
		OrgNummer string `json:"organisationsnummer"`
		Form      string `json:"organisationsform"`
		Status    string `json:"status"`
		Sate      string `json:"sate"`
	}
	if err := b.getJSON(ctx, u, &payload); err != nil {
		return "", fmt.Errorf("bolagsverket lookup: %w", err)
	}

	return fmt.Sprintf("%s (%s)\nform: %s\nstatus: %s\nsäte: %s",
		payload.Namn, payload.OrgNummer, payload.Form, payload.Status, payload.Sate), nil
}
