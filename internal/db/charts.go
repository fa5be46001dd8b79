package db

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// defaultChartSamples is how many recent samples the chart reads without ?limit.
const defaultChartSamples = 500

// samplesChart plots present value against epoch, one line per status pair.
func samplesChart(samples []StoredSample) *charts.Line {
	series := SeriesByStatus(samples)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "TSPV samples", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "TSPV present values",
			Subtitle: fmt.Sprintf("%d samples, %d status pairs", len(samples), len(series)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "epoch (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "present value", NameLocation: "middle", NameGap: 40}),
	)
	for _, s := range series {
		data := make([]opts.LineData, 0, len(s.Points))
		for _, p := range s.Points {
			data = append(data, opts.LineData{Value: []interface{}{p.Epoch, p.Value}})
		}
		line.AddSeries(s.Label(), data)
	}
	return line
}

func (db *DB) handleSamplesChart(w http.ResponseWriter, r *http.Request) {
	limit := defaultChartSamples
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	samples, err := db.RecentSamples(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read samples: %v", err), http.StatusInternalServerError)
		return
	}

	page := components.NewPage()
	page.AddCharts(samplesChart(samples))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
