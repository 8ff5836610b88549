package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binFrequency(k, n, rate int) float64 {
	return float64(k) * float64(rate) / float64(n)
}

func TestAnalyze_PureToneAtBin(t *testing.T) {
	a, err := NewAnalyzer(44100, DefaultDominantRank)
	require.NoError(t, err)

	const n = 1024
	want := binFrequency(6, n, 44100)
	block := SineBlock(want, 1000, 44100, n)

	spec, err := a.Analyze(block)
	require.NoError(t, err)
	assert.InDelta(t, want, spec.Frequency, 1e-6)
	assert.False(t, spec.Silent())

	// A sine of peak A centred on a bin puts A*n/2 into it and its mirror.
	rms := 1000 * math.Sqrt(n/2.0)
	assert.InDelta(t, 10*math.Log10(rms), spec.Amplitude, 0.01)
}

func TestAnalyze_RankOneAndTwoFoldToSameTone(t *testing.T) {
	block := SineBlock(binFrequency(40, 1024, 44100), 5000, 44100, 1024)

	for _, rank := range []int{1, 2} {
		a, err := NewAnalyzer(44100, rank)
		require.NoError(t, err)
		spec, err := a.Analyze(block)
		require.NoError(t, err)
		assert.InDelta(t, binFrequency(40, 1024, 44100), spec.Frequency, 1e-6, "rank %d", rank)
	}
}

func TestAnalyze_NegativeBinsFoldToPositive(t *testing.T) {
	a, err := NewAnalyzer(8, 1)
	require.NoError(t, err)

	// Alternating 1,0,-1,0 is a quarter-rate tone with energy in bins 2 and 6.
	block := []int16{1000, 0, -1000, 0, 1000, 0, -1000, 0}
	spec, err := a.Analyze(block)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, spec.Frequency, 1e-9)
	assert.GreaterOrEqual(t, spec.Frequency, 0.0)
}

func TestAnalyze_Silence(t *testing.T) {
	a, err := NewAnalyzer(44100, DefaultDominantRank)
	require.NoError(t, err)

	spec, err := a.Analyze(make([]int16, 1024))
	require.NoError(t, err)
	assert.True(t, spec.Silent())
	assert.Equal(t, 0.0, spec.Amplitude)
	assert.Equal(t, 0.0, spec.Frequency)
	assert.Equal(t, -1, spec.Bin)
	assert.False(t, math.IsInf(spec.Amplitude, 0))
}

func TestAnalyze_DCOnlyBlock(t *testing.T) {
	a, err := NewAnalyzer(44100, 1)
	require.NoError(t, err)

	block := make([]int16, 256)
	for i := range block {
		block[i] = 100
	}
	spec, err := a.Analyze(block)
	require.NoError(t, err)
	assert.Equal(t, 0, spec.Bin)
	assert.Equal(t, 0.0, spec.Frequency)
}

func TestAnalyze_Errors(t *testing.T) {
	a, err := NewAnalyzer(44100, 4)
	require.NoError(t, err)

	_, err = a.Analyze(nil)
	assert.ErrorIs(t, err, ErrEmptyBlock)

	_, err = a.Analyze([]int16{1, 2})
	assert.Error(t, err)

	_, err = NewAnalyzer(0, 1)
	assert.Error(t, err)
}

func TestNewAnalyzer_DefaultsRank(t *testing.T) {
	a, err := NewAnalyzer(44100, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDominantRank, a.Rank())
	assert.Equal(t, 44100, a.SampleRate())
}

func TestAnalyze_ReusesPlanAcrossSizes(t *testing.T) {
	a, err := NewAnalyzer(1000, 1)
	require.NoError(t, err)

	for _, n := range []int{64, 128, 64} {
		spec, err := a.Analyze(SineBlock(binFrequency(4, n, 1000), 2000, 1000, n))
		require.NoError(t, err)
		assert.InDelta(t, binFrequency(4, n, 1000), spec.Frequency, 1e-6)
	}
	assert.Len(t, a.plans, 2)
}
