package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/banshee-data/hivemind/internal/config"
	"github.com/banshee-data/hivemind/internal/db"
)

// FrequencyType labels every row of the frequency table.
const FrequencyType = "Major Frequency"

// Channel is one report table: a fixed header and one row per record. A row
// is the record's time, its Values and then the constant Trailer cells.
type Channel struct {
	Name   string
	File   string
	Header []string
	// Series names each value column in charts and plots.
	Series []string
	// Values returns the numeric cells for r, or false when r lacks a
	// metric the channel needs.
	Values  func(r *db.Record) ([]float64, bool)
	Trailer []string
	// Unit labels the chart axis.
	Unit string
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pairChannel(name, unit string, pair config.MetricPair) Channel {
	return Channel{
		Name:   name,
		File:   name + ".tsv",
		Header: []string{"date", "Internal", "External"},
		Series: []string{"Internal", "External"},
		Unit:   unit,
		Values: func(r *db.Record) ([]float64, bool) {
			in, ok1 := r.Field(pair.Internal)
			ex, ok2 := r.Field(pair.External)
			if !ok1 || !ok2 {
				return nil, false
			}
			return []float64{in, ex}, true
		},
	}
}

// DefaultChannels returns the temperature, humidity, frequency and amplitude
// tables.
func DefaultChannels(temperature, humidity config.MetricPair) []Channel {
	return []Channel{
		pairChannel("temperature", "°C", temperature),
		pairChannel("humidity", "%", humidity),
		{
			Name:    "frequency",
			File:    "frequency.tsv",
			Header:  []string{"date", "frequency", "type"},
			Series:  []string{FrequencyType},
			Trailer: []string{FrequencyType},
			Unit:    "Hz",
			Values: func(r *db.Record) ([]float64, bool) {
				return []float64{r.Frequency}, true
			},
		},
		{
			Name:   "amplitude",
			File:   "amplitude.tsv",
			Header: []string{"date", "amplitude"},
			Series: []string{"Amplitude"},
			Unit:   "dB",
			Values: func(r *db.Record) ([]float64, bool) {
				return []float64{r.Amplitude}, true
			},
		},
	}
}

// Row returns the table cells for r.
func (c Channel) Row(r *db.Record) ([]string, bool) {
	vals, ok := c.Values(r)
	if !ok {
		return nil, false
	}
	row := make([]string, 0, 1+len(vals)+len(c.Trailer))
	row = append(row, r.Time)
	for _, v := range vals {
		row = append(row, formatValue(v))
	}
	return append(row, c.Trailer...), true
}

// Render builds the tab-separated table for records, which must already be
// sorted. It returns the encoded file and the number of records skipped.
func (c Channel) Render(records []db.Record) ([]byte, int, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'

	if err := w.Write(c.Header); err != nil {
		return nil, 0, err
	}
	skipped := 0
	for i := range records {
		row, ok := c.Row(&records[i])
		if !ok {
			skipped++
			continue
		}
		if err := w.Write(row); err != nil {
			return nil, skipped, fmt.Errorf("%s row %d: %w", c.Name, i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, skipped, err
	}
	return buf.Bytes(), skipped, nil
}
