// Package collector implements one sampling cycle of the hive monitor: read
// the sensor line, capture and analyse an audio block, merge both into a
// record and append it to the store. Each step degrades to documented
// defaults on failure so every cycle stores a record.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/hivemind/internal/audio"
	"github.com/banshee-data/hivemind/internal/db"
	"github.com/banshee-data/hivemind/internal/monitoring"
	"github.com/banshee-data/hivemind/internal/serialmux"
	"github.com/banshee-data/hivemind/internal/timeutil"
)

// ErrDisabled is reported by a step whose source was not configured.
var ErrDisabled = errors.New("source disabled")

// LineReader yields the newest line from the sensor link.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// SpectrumAnalyzer reduces an audio block to frequency and loudness.
type SpectrumAnalyzer interface {
	Analyze(block []int16) (audio.Spectrum, error)
}

// RecordAppender persists one record.
type RecordAppender interface {
	Append(ctx context.Context, r *db.Record) (id, rev string, err error)
}

// Options configures an UpdateTask. Zero values select the defaults used by
// the hive firmware.
type Options struct {
	// ExpectedMetrics are zero-filled when no sensor line can be read.
	ExpectedMetrics []string
	ClampMax        float64
	BlockSize       int
	// SerialTimeout bounds the sensor read; the reader applies its own
	// timeout as well.
	SerialTimeout time.Duration
	// AudioTimeout bounds capture plus analysis.
	AudioTimeout time.Duration
	TimeFormat   string
	Location     *time.Location
}

func (o Options) withDefaults() Options {
	if o.ClampMax == 0 {
		o.ClampMax = 100
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 1024
	}
	if o.SerialTimeout <= 0 {
		o.SerialTimeout = 5 * time.Second
	}
	if o.AudioTimeout <= 0 {
		o.AudioTimeout = 10 * time.Second
	}
	if o.TimeFormat == "" {
		o.TimeFormat = "2006-01-02-15-04-05"
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// SensorReading is the outcome of the serial step. On failure Fields holds
// zero for every expected metric and Err holds the cause.
type SensorReading struct {
	Line      string                 `json:"line,omitempty"`
	Fields    map[string]float64     `json:"fields"`
	Clamped   []serialmux.ClampEvent `json:"clamped,omitempty"`
	Defaulted bool                   `json:"defaulted"`
	Err       error                  `json:"-"`
}

// AudioReading is the outcome of the audio step. On failure the spectrum is
// zero and Err holds the cause.
type AudioReading struct {
	Spectrum  audio.Spectrum `json:"spectrum"`
	Defaulted bool           `json:"defaulted"`
	Err       error          `json:"-"`
}

// CycleResult describes one completed UpdateTask run.
type CycleResult struct {
	Record   db.Record     `json:"record"`
	Sensor   SensorReading `json:"sensor"`
	Audio    AudioReading  `json:"audio"`
	Stored   bool          `json:"stored"`
	StoreErr error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Err joins every step failure, or returns nil when all steps succeeded.
func (c CycleResult) Err() error {
	var errs []error
	if c.Sensor.Err != nil {
		errs = append(errs, fmt.Errorf("sensor: %w", c.Sensor.Err))
	}
	if c.Audio.Err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", c.Audio.Err))
	}
	if c.StoreErr != nil {
		errs = append(errs, fmt.Errorf("store: %w", c.StoreErr))
	}
	return errors.Join(errs...)
}

// UpdateTask runs one sampling cycle per call. Lines and Source may be nil,
// in which case their step always falls back to defaults.
type UpdateTask struct {
	clock    timeutil.Clock
	lines    LineReader
	source   audio.Source
	analyzer SpectrumAnalyzer
	store    RecordAppender
	opts     Options

	mu   sync.Mutex
	last *CycleResult
}

// NewUpdateTask wires the cycle's resources. The store and analyzer are
// required; the caller keeps ownership of every resource.
func NewUpdateTask(clock timeutil.Clock, lines LineReader, source audio.Source, analyzer SpectrumAnalyzer, store RecordAppender, opts Options) (*UpdateTask, error) {
	if store == nil {
		return nil, errors.New("update task: store is required")
	}
	if analyzer == nil {
		return nil, errors.New("update task: analyzer is required")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UpdateTask{
		clock:    clock,
		lines:    lines,
		source:   source,
		analyzer: analyzer,
		store:    store,
		opts:     opts.withDefaults(),
	}, nil
}

// Run executes one cycle. It never returns early: each failed step is
// replaced by its default and the record is still appended.
func (u *UpdateTask) Run(ctx context.Context) CycleResult {
	start := u.clock.Now()
	now := start.In(u.opts.Location)

	rec := db.Record{
		Time:     now.Format(u.opts.TimeFormat),
		UnixTime: timeutil.UnixSeconds(now),
	}

	sensor := u.readSensor(ctx)
	if sensor.Err != nil {
		monitoring.Logf("warning: sensor read failed, using defaults: %v", sensor.Err)
	}
	for _, ev := range sensor.Clamped {
		monitoring.Logf("warning: clamped %s from %g to %g", ev.Metric, ev.Raw, ev.Stored)
	}

	snd := u.readAudio(ctx)
	if snd.Err != nil {
		monitoring.Logf("warning: audio capture failed, using defaults: %v", snd.Err)
	}

	rec.Fields = sensor.Fields
	for _, ev := range sensor.Clamped {
		rec.Clamped = append(rec.Clamped, ev.Metric)
	}
	rec.Frequency = snd.Spectrum.Frequency
	rec.Amplitude = snd.Spectrum.Amplitude

	res := CycleResult{Sensor: sensor, Audio: snd}
	id, rev, err := u.store.Append(ctx, &rec)
	if err != nil {
		res.StoreErr = err
		monitoring.Logf("error: failed to store record at %s: %v", rec.Time, err)
	} else {
		res.Stored = true
		monitoring.Logf("stored record %s rev %s: %s", id, rev, summarize(&rec))
	}
	res.Record = rec
	res.Duration = u.clock.Since(start)

	u.mu.Lock()
	u.last = &res
	u.mu.Unlock()
	return res
}

// Task adapts Run to the scheduler. Only a store failure is reported as an
// error; sensor and audio failures are absorbed by their defaults.
func (u *UpdateTask) Task(ctx context.Context) error {
	return u.Run(ctx).StoreErr
}

// Last returns the most recent cycle result.
func (u *UpdateTask) Last() (CycleResult, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.last == nil {
		return CycleResult{}, false
	}
	return *u.last, true
}

func (u *UpdateTask) defaultFields() map[string]float64 {
	fields := make(map[string]float64, len(u.opts.ExpectedMetrics))
	for _, m := range u.opts.ExpectedMetrics {
		fields[m] = 0
	}
	return fields
}

func (u *UpdateTask) readSensor(ctx context.Context) SensorReading {
	fields := u.defaultFields()
	if u.lines == nil {
		return SensorReading{Fields: fields, Defaulted: true, Err: ErrDisabled}
	}

	ctx, cancel := context.WithTimeout(ctx, u.opts.SerialTimeout)
	defer cancel()

	line, err := u.lines.ReadLine(ctx)
	if err != nil {
		return SensorReading{Fields: fields, Defaulted: true, Err: err}
	}
	parsed, events, err := serialmux.ParseAndClamp(line, u.opts.ClampMax)
	if err != nil {
		return SensorReading{Line: line, Fields: fields, Defaulted: true, Err: err}
	}
	// expected metrics missing from the line stay at zero
	for k, v := range parsed {
		if reservedKey(k) {
			monitoring.Logf("warning: ignoring sensor field %q that collides with a record key", k)
			continue
		}
		fields[k] = v
	}
	kept := events[:0]
	for _, ev := range events {
		if !reservedKey(ev.Metric) {
			kept = append(kept, ev)
		}
	}
	return SensorReading{Line: line, Fields: fields, Clamped: kept}
}

func (u *UpdateTask) readAudio(ctx context.Context) AudioReading {
	if u.source == nil {
		return AudioReading{Spectrum: audio.Spectrum{Bin: -1}, Defaulted: true, Err: ErrDisabled}
	}

	ctx, cancel := context.WithTimeout(ctx, u.opts.AudioTimeout)
	defer cancel()

	block, err := u.source.Capture(ctx, u.opts.BlockSize)
	if err != nil {
		return AudioReading{Spectrum: audio.Spectrum{Bin: -1}, Defaulted: true, Err: err}
	}
	sp, err := u.analyzer.Analyze(block)
	if err != nil {
		return AudioReading{Spectrum: audio.Spectrum{Bin: -1}, Defaulted: true, Err: err}
	}
	if math.IsNaN(sp.Frequency) || math.IsInf(sp.Frequency, 0) ||
		math.IsNaN(sp.Amplitude) || math.IsInf(sp.Amplitude, 0) {
		return AudioReading{Spectrum: audio.Spectrum{Bin: -1}, Defaulted: true,
			Err: fmt.Errorf("non-finite spectrum %+v", sp)}
	}
	return AudioReading{Spectrum: sp}
}

func reservedKey(k string) bool {
	switch k {
	case db.KeyID, db.KeyRev, db.KeyTime, db.KeyUnixTime, db.KeyFrequency, db.KeyAmplitude, db.KeyClamped:
		return true
	}
	return false
}

func summarize(r *db.Record) string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names)+2)
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", k, r.Fields[k]))
	}
	parts = append(parts, fmt.Sprintf("frequency=%.1fHz", r.Frequency), fmt.Sprintf("amplitude=%.1fdB", r.Amplitude))
	return strings.Join(parts, " ")
}
