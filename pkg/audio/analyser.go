package audio

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	minFFTSize = 32
	maxFFTSize = 32768

	// DefaultSmoothing is the time constant applied to successive spectra.
	DefaultSmoothing = 0.8

	// DefaultMinDecibels and DefaultMaxDecibels bound the range mapped onto
	// the byte frequency scale.
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

func validFFTSize(n int) bool {
	return n >= minFFTSize && n <= maxFFTSize && n&(n-1) == 0
}

// AnalyserOption configures an [Analyser].
type AnalyserOption func(*Analyser)

// WithSmoothing sets the spectral smoothing time constant in [0, 1).
func WithSmoothing(tau float64) AnalyserOption {
	return func(a *Analyser) {
		if tau >= 0 && tau < 1 {
			a.smoothing = tau
		}
	}
}

// WithDecibelRange sets the decibel range mapped onto [0, 255].
func WithDecibelRange(minDB, maxDB float64) AnalyserOption {
	return func(a *Analyser) {
		if minDB < maxDB {
			a.minDB = minDB
			a.maxDB = maxDB
		}
	}
}

// Analyser keeps the most recent FFTSize PCM samples of a mono stream and
// turns them into byte-scaled [AudioFrame] snapshots: a waveform centred on
// 128 and a Blackman-windowed, smoothed magnitude spectrum in decibels.
//
// Write is typically called from a capture callback and Frame from the
// analysis loop. All methods are safe for concurrent use.
type Analyser struct {
	fftSize    int
	sampleRate int
	smoothing  float64
	minDB      float64
	maxDB      float64

	mu       sync.Mutex
	ring     []float32
	head     int
	written  int64
	fft      *fourier.FFT
	window   []float64
	seq      []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser creates an analyser for a stream at sampleRate with an
// analysis window of fftSize samples. fftSize must be a power of two.
func NewAnalyser(fftSize, sampleRate int, opts ...AnalyserOption) (*Analyser, error) {
	if !validFFTSize(fftSize) {
		return nil, fmt.Errorf("audio: fft size %d must be a power of two in [%d, %d]", fftSize, minFFTSize, maxFFTSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate %d must be positive", sampleRate)
	}

	coef := make([]float64, fftSize)
	for i := range coef {
		coef[i] = 1
	}

	a := &Analyser{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		smoothing:  DefaultSmoothing,
		minDB:      DefaultMinDecibels,
		maxDB:      DefaultMaxDecibels,
		ring:       make([]float32, fftSize),
		fft:        fourier.NewFFT(fftSize),
		window:     window.Blackman(coef),
		seq:        make([]float64, fftSize),
		coeffs:     make([]complex128, fftSize/2+1),
		smoothed:   make([]float64, fftSize/2),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// BinCount returns the length of the arrays in every produced frame.
func (a *Analyser) BinCount() int {
	return a.fftSize / 2
}

// Write appends mono float samples in [-1, 1] to the analysis window,
// discarding the oldest samples once the window is full.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		a.ring[a.head] = s
		a.head++
		if a.head == a.fftSize {
			a.head = 0
		}
	}
	a.written += int64(len(samples))
}

// Frame returns a snapshot of the current window. Each call advances the
// spectral smoothing state, so consecutive frames of a steady signal
// converge towards its true spectrum.
func (a *Analyser) Frame() AudioFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	bins := a.fftSize / 2
	frame := AudioFrame{
		TimeDomain: make([]byte, bins),
		Frequency:  make([]byte, bins),
		SampleRate: a.sampleRate,
		Timestamp:  time.Duration(a.written) * time.Second / time.Duration(a.sampleRate),
	}

	// Unroll the ring oldest-first, windowing for the transform.
	for i := range a.fftSize {
		v := a.ring[(a.head+i)%a.fftSize]
		a.seq[i] = float64(v) * a.window[i]
		if i >= a.fftSize-bins {
			frame.TimeDomain[i-(a.fftSize-bins)] = timeDomainByte(v)
		}
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)
	scale := 255 / (a.maxDB - a.minDB)
	for k := range bins {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if a.smoothed[k] <= 0 {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		frame.Frequency[k] = clampByte(math.Floor(scale * (db - a.minDB)))
	}
	return frame
}

// Reset clears the window and the smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.ring)
	clear(a.smoothed)
	a.head = 0
	a.written = 0
}

func timeDomainByte(v float32) byte {
	return clampByte(math.Floor(128 * (1 + float64(v))))
}

func clampByte(v float64) byte {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}
