package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"
)

// echartsAssetsPrefix points the chart pages at the public echarts asset
// bundle; the recorder ships no JS of its own.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachDebugRoutes mounts the chart endpoints on the root mux's debug
// handler, next to the serial and database admin routes.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("charts/bout", "Action timeline (durations and score progression)", http.HandlerFunc(s.handleBoutChart))
	debug.Handle("charts/durations.png", "Action durations plot (PNG)", http.HandlerFunc(s.handleDurationsPlot))
}

// handleBoutChart renders recent actions as a durations bar chart plus a
// score progression line chart.
// Query params:
//   - limit (optional; default 50) caps the number of actions charted
func (s *Server) handleBoutChart(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	actions, err := s.db.RecentActions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get actions: %v", err))
		return
	}
	if len(actions) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no actions recorded")
		return
	}

	// RecentActions returns newest first; chart oldest to newest.
	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}

	x := make([]string, len(actions))
	durations := make([]opts.BarData, len(actions))
	left := make([]opts.LineData, len(actions))
	right := make([]opts.LineData, len(actions))
	for i, a := range actions {
		x[i] = time.UnixMilli(a.StartedAt).Format("15:04:05")
		durations[i] = opts.BarData{Value: float64(a.DurationMillis()) / 1000.0}
		left[i] = opts.LineData{Value: a.LeftScore}
		right[i] = opts.LineData{Value: a.RightScore}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Bout Timeline", Theme: "dark", Width: "1200px", Height: "400px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Action Durations", Subtitle: fmt.Sprintf("last %d actions", len(actions))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Duration (s)"}),
	)
	bar.SetXAxis(x).
		AddSeries("duration", durations,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1200px", Height: "400px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Score Progression"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("left", left, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"})).
		AddSeries("right", right, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar, line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDurationsPlot renders the action duration series as a PNG.
// Query params:
//   - session (optional) restricts the series to one session
func (s *Server) handleDurationsPlot(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	durations, err := s.db.ActionDurationsMillis(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get durations: %v", err))
		return
	}
	if len(durations) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no actions recorded")
		return
	}

	pts := make(plotter.XYs, len(durations))
	for i, d := range durations {
		pts[i] = plotter.XY{X: float64(i + 1), Y: d / 1000.0}
	}

	p := plot.New()
	p.Title.Text = "Action Durations"
	p.X.Label.Text = "Action"
	p.Y.Label.Text = "Duration (s)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	line.Width = vg.Points(1)
	p.Add(line)

	wt, err := p.WriterTo(12*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}
