package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/hivemind/internal/db"
	"github.com/banshee-data/hivemind/internal/fsutil"
)

// lineChart builds one chart for a channel. Chart IDs are fixed so the page
// only changes when the data does.
func lineChart(ch Channel, records []db.Record) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: "hivemind_" + ch.Name,
			Width:   "100%",
			Height:  "360px",
		}),
		charts.WithTitleOpts(opts.Title{Title: ch.Name}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: ch.Unit}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)

	x := make([]string, 0, len(records))
	series := make([][]opts.LineData, len(ch.Series))
	for i := range records {
		vals, ok := ch.Values(&records[i])
		if !ok {
			continue
		}
		x = append(x, records[i].Time)
		for s := range series {
			series[s] = append(series[s], opts.LineData{Value: vals[s]})
		}
	}
	line.SetXAxis(x)
	for s, name := range ch.Series {
		line.AddSeries(name, series[s])
	}
	return line
}

// renderChart renders every channel onto one HTML page.
func renderChart(channels []Channel, records []db.Record) ([]byte, error) {
	page := components.NewPage()
	page.PageTitle = "Hive monitor"
	for _, ch := range channels {
		page.AddCharts(lineChart(ch, records))
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render chart page: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) writeChart(records []db.Record) error {
	data, err := renderChart(e.cfg.Channels, records)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(e.fsys, filepath.Join(e.cfg.Dir, ChartFile), data, 0o644)
}
