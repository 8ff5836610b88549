// Package report turns the records of the trailing window into the flat
// tables the dashboard reads: one tab-separated file per channel plus an
// optional interactive chart page and PNG plots.
package report

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/hivemind/internal/db"
	"github.com/banshee-data/hivemind/internal/fsutil"
	"github.com/banshee-data/hivemind/internal/monitoring"
	"github.com/banshee-data/hivemind/internal/security"
	"github.com/banshee-data/hivemind/internal/timeutil"
)

// RecordQuerier is the read side of the record store.
type RecordQuerier interface {
	QuerySince(ctx context.Context, cutoff float64) ([]db.Record, error)
}

// ChartFile is the interactive chart page written next to the tables.
const ChartFile = "chart.html"

// Config configures an Exporter.
type Config struct {
	Dir      string
	Window   time.Duration
	Channels []Channel
	// Chart renders chart.html; PNG renders one plot per channel.
	Chart bool
	PNG   bool
}

// ChannelResult reports one table write.
type ChannelResult struct {
	Name    string `json:"name"`
	File    string `json:"file"`
	Rows    int    `json:"rows"`
	Skipped int    `json:"skipped"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// ExportResult describes one export cycle.
type ExportResult struct {
	Cutoff   float64         `json:"cutoff"`
	Records  int             `json:"records"`
	Channels []ChannelResult `json:"channels"`
	QueryErr error           `json:"-"`
	ChartErr error           `json:"-"`
	Duration time.Duration   `json:"duration"`
}

// Err joins the query, table and chart failures.
func (r ExportResult) Err() error {
	errs := []error{r.QueryErr}
	for _, c := range r.Channels {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, c.Err))
		}
	}
	if r.ChartErr != nil {
		errs = append(errs, fmt.Errorf("chart: %w", r.ChartErr))
	}
	return errors.Join(errs...)
}

// Exporter rewrites the report files from the store on every call.
type Exporter struct {
	store RecordQuerier
	fsys  fsutil.FileSystem
	clock timeutil.Clock
	cfg   Config

	mu   sync.Mutex
	last *ExportResult
}

// NewExporter returns an exporter writing into cfg.Dir through fsys.
func NewExporter(store RecordQuerier, fsys fsutil.FileSystem, clock timeutil.Clock, cfg Config) (*Exporter, error) {
	if store == nil {
		return nil, errors.New("exporter: store is required")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("exporter: window must be positive, got %v", cfg.Window)
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("exporter: no channels")
	}
	for _, ch := range cfg.Channels {
		if err := security.ValidateFileName(ch.File); err != nil {
			return nil, fmt.Errorf("exporter: channel %s: %w", ch.Name, err)
		}
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	return &Exporter{store: store, fsys: fsys, clock: clock, cfg: cfg}, nil
}

// SortRecords orders records by unix_time, keeping arrival order for ties.
func SortRecords(records []db.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UnixTime < records[j].UnixTime
	})
}

// Export queries the window, sorts it and rewrites every channel. A failure
// writing one channel is logged and the others are still written. When the
// query itself fails no file is touched.
func (e *Exporter) Export(ctx context.Context) ExportResult {
	start := e.clock.Now()
	cutoff := start.Add(-e.cfg.Window)
	res := ExportResult{Cutoff: timeutil.UnixSeconds(cutoff)}

	records, err := e.store.QuerySince(ctx, res.Cutoff)
	if err != nil {
		res.QueryErr = err
		monitoring.Logf("error: report query failed, keeping previous files: %v", err)
		e.finish(&res, start)
		return res
	}
	SortRecords(records)
	res.Records = len(records)

	if err := e.fsys.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		monitoring.Logf("error: failed to create report dir %s: %v", e.cfg.Dir, err)
	}

	for _, ch := range e.cfg.Channels {
		cr := e.writeChannel(ch, records)
		if cr.Err != nil {
			cr.Error = cr.Err.Error()
			monitoring.Logf("error: failed to write %s: %v", cr.File, cr.Err)
		} else if cr.Skipped > 0 {
			monitoring.Logf("warning: %s: skipped %d records missing its metrics", cr.File, cr.Skipped)
		}
		res.Channels = append(res.Channels, cr)
	}

	if e.cfg.Chart {
		if err := e.writeChart(records); err != nil {
			res.ChartErr = err
			monitoring.Logf("error: failed to write %s: %v", ChartFile, err)
		}
	}
	if e.cfg.PNG {
		for _, ch := range e.cfg.Channels {
			if err := e.writePlot(ch, records); err != nil {
				monitoring.Logf("warning: failed to plot %s: %v", ch.Name, err)
			}
		}
	}

	e.finish(&res, start)
	monitoring.Logf("exported %d records since %.3f to %s", res.Records, res.Cutoff, e.cfg.Dir)
	return res
}

func (e *Exporter) finish(res *ExportResult, start time.Time) {
	res.Duration = e.clock.Since(start)
	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
}

// Task adapts Export to the scheduler.
func (e *Exporter) Task(ctx context.Context) error {
	return e.Export(ctx).Err()
}

// Last returns the most recent export result.
func (e *Exporter) Last() (ExportResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return ExportResult{}, false
	}
	return *e.last, true
}

// Dir returns the report directory.
func (e *Exporter) Dir() string { return e.cfg.Dir }

func (e *Exporter) writeChannel(ch Channel, records []db.Record) ChannelResult {
	cr := ChannelResult{Name: ch.Name, File: ch.File}
	data, skipped, err := ch.Render(records)
	cr.Skipped = skipped
	if err != nil {
		cr.Err = err
		return cr
	}
	if err := fsutil.WriteFileAtomic(e.fsys, filepath.Join(e.cfg.Dir, ch.File), data, 0o644); err != nil {
		cr.Err = err
		return cr
	}
	cr.Rows = len(records) - skipped
	return cr
}
