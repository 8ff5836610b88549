package audio

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// DefaultDominantRank selects the second-highest power bin. For a real
// signal every tone appears in a bin and its mirror image, so the two highest
// bins normally fold to the same frequency.
const DefaultDominantRank = 2

// ErrEmptyBlock is returned when Analyze is given no samples.
var ErrEmptyBlock = errors.New("empty audio block")

// Spectrum summarises one block.
type Spectrum struct {
	// Frequency is the dominant frequency in Hz, non-negative.
	Frequency float64
	// Amplitude is 10*log10 of the RMS spectral magnitude, 0 for silence.
	Amplitude float64
	// Bin is the FFT bin the frequency was taken from, -1 for silence.
	Bin int
	// RMS is sqrt(mean(|X|^2)) over all bins.
	RMS float64
}

// Silent reports whether the block had no energy.
func (s Spectrum) Silent() bool { return s.RMS == 0 }

// Analyzer computes spectra for fixed-size blocks. It caches one FFT plan
// per block length and is safe for concurrent use.
type Analyzer struct {
	sampleRate int
	rank       int

	mu    sync.Mutex
	plans map[int]*fourier.CmplxFFT
}

// NewAnalyzer returns an analyzer for the given sample rate. rank picks which
// power bin counts as dominant, counting down from the strongest (1).
func NewAnalyzer(sampleRate, rank int) (*Analyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if rank <= 0 {
		rank = DefaultDominantRank
	}
	return &Analyzer{sampleRate: sampleRate, rank: rank, plans: make(map[int]*fourier.CmplxFFT)}, nil
}

// SampleRate returns the configured rate in Hz.
func (a *Analyzer) SampleRate() int { return a.sampleRate }

// Rank returns the dominant-bin rank.
func (a *Analyzer) Rank() int { return a.rank }

// Analyze runs a full complex FFT over block and reports the dominant
// frequency and loudness. Bin frequencies follow the usual FFT layout: bins
// past the midpoint are negative frequencies and are reported by magnitude.
func (a *Analyzer) Analyze(block []int16) (Spectrum, error) {
	n := len(block)
	if n == 0 {
		return Spectrum{}, ErrEmptyBlock
	}
	if a.rank > n {
		return Spectrum{}, fmt.Errorf("dominant rank %d exceeds block length %d", a.rank, n)
	}

	seq := make([]complex128, n)
	for i, v := range block {
		seq[i] = complex(float64(v), 0)
	}

	a.mu.Lock()
	plan, ok := a.plans[n]
	if !ok {
		plan = fourier.NewCmplxFFT(n)
		a.plans[n] = plan
	}
	coeffs := plan.Coefficients(nil, seq)
	a.mu.Unlock()

	power := make([]float64, n)
	for i, c := range coeffs {
		m := cmplx.Abs(c)
		power[i] = m * m
	}

	rms := math.Sqrt(stat.Mean(power, nil))
	if rms == 0 || math.IsNaN(rms) {
		return Spectrum{Bin: -1}, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return power[order[i]] < power[order[j]] })
	bin := order[n-a.rank]

	return Spectrum{
		Frequency: math.Abs(plan.Freq(bin) * float64(a.sampleRate)),
		Amplitude: 10 * math.Log10(rms),
		Bin:       bin,
		RMS:       rms,
	}, nil
}
