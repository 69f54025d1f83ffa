package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/banshee-data/compass.report/internal/db"
	"github.com/banshee-data/compass.report/internal/session"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// viridis ramps dark purple to yellow; low values read as "cold".
var viridisColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ChartHandlers serves the debug chart pages. These are debugging-only
// endpoints (no auth) to eyeball coverage and sample spread without a UI.
type ChartHandlers struct {
	recorder *session.Recorder
	db       *db.DB
}

// NewChartHandlers creates chart handlers over the recorder and database.
func NewChartHandlers(recorder *session.Recorder, database *db.DB) *ChartHandlers {
	return &ChartHandlers{recorder: recorder, db: database}
}

// Attach registers the chart pages on mux under /debug/charts/.
func (ch *ChartHandlers) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/debug/charts/", ch.handleDashboard)
	mux.HandleFunc("/debug/charts/coverage", ch.handleCoverageChart)
	mux.HandleFunc("/debug/charts/samples", ch.handleSamplesChart)
}

func (ch *ChartHandlers) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleCoverageChart renders the active run's mesh as a scatter of cell
// centroids in degree space, colored by sampled state.
func (ch *ChartHandlers) handleCoverageChart(w http.ResponseWriter, r *http.Request) {
	cells, sampled, err := ch.recorder.Coverage()
	if err != nil {
		ch.writeJSONError(w, http.StatusNotFound, "no active recording run")
		return
	}

	data := make([]opts.ScatterData, 0, len(cells))
	covered := 0
	for i, c := range cells {
		polarDeg, azDeg := cellCentroid(c)
		state := 0.0
		if i < len(sampled) && sampled[i] {
			state = 1.0
			covered++
		}
		data = append(data, opts.ScatterData{Value: []interface{}{azDeg, polarDeg, state}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Coverage Mesh", Theme: "dark", Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Coverage Mesh", Subtitle: fmt.Sprintf("cells=%d sampled=%d", len(cells), covered)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -180, Max: 180, Name: "Azimuth (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 180, Name: "Polar (deg)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisColors},
		}),
	)
	scatter.AddSeries("cells", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ch.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSamplesChart renders recorded samples projected onto the sphere
// parameter plane, colored by field strength.
// Query params:
//   - session (optional; defaults to most recent samples across sessions)
//   - max_points (optional; default 2000) to reduce payload size
func (ch *ChartHandlers) handleSamplesChart(w http.ResponseWriter, r *http.Request) {
	maxPoints := 2000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	var records []db.SampleRecord
	var err error
	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		records, err = ch.db.SamplesForSession(sessionID, maxPoints)
	} else {
		records, err = ch.db.LatestSamples(maxPoints)
	}
	if err != nil {
		ch.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load samples: %v", err))
		return
	}
	if len(records) == 0 {
		ch.writeJSONError(w, http.StatusNotFound, "no samples recorded")
		return
	}

	pts := make([]opts.ScatterData, 0, len(records))
	maxRadius := 0.0
	for _, rec := range records {
		azDeg := rec.Azimuth * 180 / math.Pi
		polarDeg := rec.Polar * 180 / math.Pi
		if rec.Radius > maxRadius {
			maxRadius = rec.Radius
		}
		pts = append(pts, opts.ScatterData{Value: []interface{}{azDeg, polarDeg, rec.Radius}})
	}
	if maxRadius == 0 {
		maxRadius = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sample Projections", Theme: "dark", Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Sample Projections", Subtitle: fmt.Sprintf("session=%s points=%d", sessionID, len(pts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -180, Max: 180, Name: "Azimuth (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 180, Name: "Polar (deg)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxRadius),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisColors},
		}),
	)
	scatter.AddSeries("samples", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ch.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDashboard renders a simple dashboard with iframes to the debug charts.
func (ch *ChartHandlers) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/debug/charts/" {
		http.NotFound(w, r)
		return
	}

	qs := ""
	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		qs = "?session=" + url.QueryEscape(sessionID)
	}
	safeQs := html.EscapeString(qs)

	doc := fmt.Sprintf(chartsDashboardHTML, safeQs)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

const chartsDashboardHTML = `<!DOCTYPE html>
<html>
<head>
<title>Calibration Charts</title>
<style>
body { margin: 0; background: #111; color: #eee; font-family: sans-serif; }
h1 { font-size: 16px; padding: 8px 12px; margin: 0; }
iframe { border: 0; width: 100%%; height: 660px; display: block; }
</style>
</head>
<body>
<h1>Calibration Charts</h1>
<iframe src="/debug/charts/coverage"></iframe>
<iframe src="/debug/charts/samples%s"></iframe>
</body>
</html>
`
