package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MockSource returns a fixed block or a fixed error. It is used in tests.
type MockSource struct {
	mu     sync.Mutex
	Block  []int16
	Err    error
	Calls  int
	Closed bool
}

// Capture returns the configured block, repeated or truncated to n samples.
func (m *MockSource) Capture(ctx context.Context, n int) ([]int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, m.Err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	out := make([]int16, n)
	if len(m.Block) > 0 {
		for i := range out {
			out[i] = m.Block[i%len(m.Block)]
		}
	}
	return out, nil
}

// Close marks the source closed.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SineSource synthesises a pure tone. Dev mode uses it in place of a
// microphone; a hive at rest hums somewhere around 200-300Hz.
type SineSource struct {
	Frequency  float64
	Amplitude  float64
	SampleRate int
}

// Capture returns n samples of the tone.
func (s SineSource) Capture(ctx context.Context, n int) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	return SineBlock(s.Frequency, s.Amplitude, s.SampleRate, n), nil
}

// Close is a no-op.
func (SineSource) Close() error { return nil }

// SineBlock renders n samples of a sine wave with the given peak amplitude.
func SineBlock(freq, amplitude float64, sampleRate, n int) []int16 {
	block := make([]int16, n)
	for i := range block {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		block[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
	}
	return block
}
