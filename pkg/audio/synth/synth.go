// Package synth provides a deterministic [audio.Device] that synthesises a
// tone with optional amplitude modulation and noise. It needs no audio
// hardware, which makes it the device of choice for demos, CI and load tests.
package synth

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/MrWong99/mindscope/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*stream)(nil)
)

// Config describes the synthesised signal.
type Config struct {
	// Frequency of the carrier tone in Hz.
	Frequency float64

	// Amplitude of the carrier in [0, 1].
	Amplitude float64

	// Noise is the amplitude of uniform white noise added to the carrier.
	Noise float64

	// Modulation is the amplitude-modulation rate in Hz. Zero disables it.
	Modulation float64

	// Seed makes the noise reproducible.
	Seed uint64

	// HopSize is the number of new samples generated per ReadFrame.
	// Zero means one tenth of a second at the stream's sample rate.
	HopSize int
}

// Device opens synthetic streams. It is safe for concurrent use.
type Device struct {
	cfg Config
}

// New creates a synthetic device producing cfg's signal.
func New(cfg Config) *Device {
	return &Device{cfg: cfg}
}

// Name implements [audio.Device].
func (d *Device) Name() string { return "synthetic" }

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	analyser, err := audio.NewAnalyser(c.FFTSize, c.SampleRate)
	if err != nil {
		return nil, err
	}
	hop := d.cfg.HopSize
	if hop <= 0 {
		hop = c.SampleRate / 10
	}
	return &stream{
		cfg:        d.cfg,
		sampleRate: float64(c.SampleRate),
		analyser:   analyser,
		buf:        make([]float32, hop),
		rng:        rand.New(rand.NewPCG(d.cfg.Seed, d.cfg.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

type stream struct {
	cfg        Config
	sampleRate float64
	analyser   *audio.Analyser

	mu     sync.Mutex
	buf    []float32
	rng    *rand.Rand
	n      int64
	closed bool
}

// ReadFrame implements [audio.Stream]. Every call advances the signal by one
// hop before taking the snapshot.
func (s *stream) ReadFrame() (audio.AudioFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.AudioFrame{}, audio.ErrStreamClosed
	}
	for i := range s.buf {
		t := float64(s.n) / s.sampleRate
		amp := s.cfg.Amplitude
		if s.cfg.Modulation > 0 {
			amp *= 0.5 * (1 + math.Sin(2*math.Pi*s.cfg.Modulation*t))
		}
		v := amp * math.Sin(2*math.Pi*s.cfg.Frequency*t)
		if s.cfg.Noise > 0 {
			v += s.cfg.Noise * (2*s.rng.Float64() - 1)
		}
		s.buf[i] = float32(max(-1, min(1, v)))
		s.n++
	}
	s.analyser.Write(s.buf)
	s.mu.Unlock()

	return s.analyser.Frame(), nil
}

// Close implements [audio.Stream].
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
