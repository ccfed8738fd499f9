package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/report"
	"github.com/banshee-data/ecg.report/internal/httputil"
	"github.com/banshee-data/ecg.report/internal/monitoring"
)

// medianBeatPNG handles GET /api/median-beat.png?lead=II.
func (s *Server) medianBeatPNG(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("lead")
	if name == "" {
		name = leads.II.String()
	}
	l, err := leads.Parse(name)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, ok := s.latest(w)
	if !ok {
		return
	}
	b, ok := res.Beats[l]
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no median beat for lead %s", l))
		return
	}
	var buf bytes.Buffer
	if err := report.WriteMedianBeatPNG(&buf, b, l); err != nil {
		monitoring.Logf("[api] median beat plot: %v", err)
		httputil.InternalServerError(w, "failed to render plot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// hrChart renders the heart rate trend of a session (default: the live
// one) from its stored snapshots.
func (s *Server) hrChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id := r.URL.Query().Get("session")
	if id == "" {
		id = s.sessionID
	}
	limit, err := limitParam(r, 600)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snaps, err := s.db.RecentSnapshots(r.Context(), id, limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to load snapshots")
		return
	}

	x := make([]string, 0, len(snaps))
	hr := make([]opts.LineData, 0, len(snaps))
	qtc := make([]opts.LineData, 0, len(snaps))
	for _, a := range snaps {
		x = append(x, a.GeneratedAt.Format("15:04:05"))
		hr = append(hr, lineValue(a.HR.Get()))
		qtc = append(qtc, lineValue(a.QTc.Get()))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "ECG Heart Rate", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Heart rate", Subtitle: fmt.Sprintf("session=%s snapshots=%d", id, len(snaps))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "bpm / ms"}),
	)
	line.SetXAxis(x).
		AddSeries("HR (bpm)", hr).
		AddSeries("QTc (ms)", qtc)
	renderChart(w, line)
}

// rrChart renders the RR tachogram of the newest analysis window.
func (s *Server) rrChart(w http.ResponseWriter, r *http.Request) {
	res, ok := s.latest(w)
	if !ok {
		return
	}
	x := make([]string, len(res.RR))
	y := make([]opts.BarData, len(res.RR))
	for i, rr := range res.RR {
		x[i] = fmt.Sprint(i + 1)
		y[i] = opts.BarData{Value: rr}
	}
	subtitle := fmt.Sprintf("%d intervals", len(res.RR))
	if c, ok := res.Rhythm.Get(); ok {
		findings := make([]string, len(c.Findings))
		for i, f := range c.Findings {
			findings[i] = string(f)
		}
		subtitle += " | " + strings.Join(findings, ", ")
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "RR Tachogram", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "RR intervals", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	bar.SetXAxis(x).AddSeries("RR", y)
	renderChart(w, bar)
}

// lineValue maps a missing measurement to a gap in the line.
func lineValue(v float64, ok bool) opts.LineData {
	if !ok {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}

type renderer interface {
	Render(w io.Writer) error
}

func renderChart(w http.ResponseWriter, c renderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
