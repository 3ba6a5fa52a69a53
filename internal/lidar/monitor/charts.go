package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const defaultMaxScatterPoints = 8000

// handlePointsChart renders the points-per-frame history as an echarts line.
func (ws *WebServer) handlePointsChart(w http.ResponseWriter, r *http.Request) {
	samples := ws.history.Samples()

	x := make([]string, len(samples))
	y := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = strconv.FormatInt(s.Timestamp, 10)
		y[i] = opts.LineData{Value: s.Points}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "velocap points per frame", Theme: "dark", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Points per frame", Subtitle: fmt.Sprintf("session=%s frames=%d", ws.capture.SessionID(), len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "timestamp (us)", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "points"}),
	)
	line.SetXAxis(x).AddSeries("points", y, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLatestScatter renders the latest frame top-down as an echarts
// scatter, coloured by intensity. Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleLatestScatter(w http.ResponseWriter, r *http.Request) {
	f := ws.history.Latest()
	if f == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no frame captured yet")
		return
	}

	maxPoints := defaultMaxScatterPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}
	stride := 1
	if f.Len() > maxPoints {
		stride = int(math.Ceil(float64(f.Len()) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, f.Len()/stride+1)
	maxAbs := 0.0
	for i := 0; i < f.Len(); i += stride {
		p := f.Points[i]
		x, y := p.X/mmPerMetre, p.Y/mmPerMetre
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, int(p.Intensity)}})
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "velocap latest frame", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Latest frame", Subtitle: fmt.Sprintf("%s points=%d stride=%d", f.Model, len(data), stride)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        255,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
