package report

import (
	"bytes"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/hivemind/internal/db"
	"github.com/banshee-data/hivemind/internal/fsutil"
)

var seriesColors = []color.Color{
	color.RGBA{R: 0xd9, G: 0x8c, B: 0x1f, A: 0xff},
	color.RGBA{R: 0x1f, G: 0x6f, B: 0xb4, A: 0xff},
}

// PlotFile is the PNG written for a channel.
func PlotFile(ch Channel) string { return ch.Name + ".png" }

// renderPlot draws a channel against hours relative to the newest record.
func renderPlot(ch Channel, records []db.Record) ([]byte, error) {
	p := plot.New()
	p.Title.Text = ch.Name
	p.X.Label.Text = "hours"
	p.Y.Label.Text = ch.Unit
	p.Add(plotter.NewGrid())

	var newest float64
	if n := len(records); n > 0 {
		newest = records[n-1].UnixTime
	}
	pts := make([]plotter.XYs, len(ch.Series))
	for i := range records {
		vals, ok := ch.Values(&records[i])
		if !ok {
			continue
		}
		x := (records[i].UnixTime - newest) / 3600
		for s := range pts {
			pts[s] = append(pts[s], plotter.XY{X: x, Y: vals[s]})
		}
	}

	for s, name := range ch.Series {
		if len(pts[s]) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts[s])
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", ch.Name, name, err)
		}
		line.Width = vg.Points(1)
		line.Color = seriesColors[s%len(seriesColors)]
		p.Add(line)
		p.Legend.Add(name, line)
	}

	w, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Exporter) writePlot(ch Channel, records []db.Record) error {
	data, err := renderPlot(ch, records)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(e.fsys, filepath.Join(e.cfg.Dir, PlotFile(ch)), data, 0o644)
}
