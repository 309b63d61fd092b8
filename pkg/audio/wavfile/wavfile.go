// Package wavfile provides an [audio.Device] that replays a WAV recording
// through the spectral analyser as if it were live microphone input.
//
// The file is decoded in full when a stream is opened. Every ReadFrame
// advances playback by one hop, so with the default hop a 100 ms analysis
// tick replays the recording in real time. Multi-channel recordings are
// downmixed to mono; the recording's own sample rate is kept.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-audio/wav"

	"github.com/MrWong99/mindscope/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*stream)(nil)
)

// ErrEndOfRecording is returned by ReadFrame once a non-looping recording
// has been played completely.
var ErrEndOfRecording = errors.New("wavfile: end of recording")

// Config describes the recording to replay.
type Config struct {
	// Path of the WAV file.
	Path string

	// Loop restarts playback from the beginning at the end of the file.
	Loop bool

	// HopSize is the number of samples played per ReadFrame. Zero means one
	// tenth of a second at the recording's sample rate.
	HopSize int
}

// Device opens replay streams of one recording. It is safe for concurrent
// use; every stream decodes the file independently.
type Device struct {
	cfg Config
}

// New creates a device replaying cfg.Path.
func New(cfg Config) *Device {
	return &Device{cfg: cfg}
}

// Name implements [audio.Device].
func (d *Device) Name() string { return "wav" }

// Open implements [audio.Device]. Only c.FFTSize is honoured; the
// recording's sample rate replaces c.SampleRate.
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	samples, rate, err := decode(d.cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rate != c.SampleRate {
		slog.Info("wavfile: replaying at the recording's sample rate",
			"path", d.cfg.Path, "file_rate", rate, "requested_rate", c.SampleRate)
	}

	analyser, err := audio.NewAnalyser(c.FFTSize, rate)
	if err != nil {
		return nil, err
	}
	hop := d.cfg.HopSize
	if hop <= 0 {
		hop = rate / 10
	}
	return &stream{
		samples:  samples,
		loop:     d.cfg.Loop,
		hop:      hop,
		analyser: analyser,
	}, nil
}

// decode reads the whole recording as mono samples in [-1, 1].
func decode(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("wavfile: %s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("wavfile: decode %s: %w", path, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("wavfile: %s holds no samples", path)
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	channels, rate := int(dec.NumChans), int(dec.SampleRate)
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			rate = buf.Format.SampleRate
		}
	}
	if rate <= 0 {
		return nil, 0, fmt.Errorf("wavfile: %s has no sample rate", path)
	}

	scale := float32(int64(1) << (depth - 1))
	pcm := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		// 8-bit WAV is unsigned.
		if depth == 8 {
			v -= 128
		}
		pcm[i] = max(-1, min(1, float32(v)/scale))
	}
	return audio.Downmix(pcm, channels), rate, nil
}

type stream struct {
	samples  []float32
	loop     bool
	hop      int
	analyser *audio.Analyser

	mu     sync.Mutex
	pos    int
	closed bool
}

// ReadFrame implements [audio.Stream].
func (s *stream) ReadFrame() (audio.AudioFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.AudioFrame{}, audio.ErrStreamClosed
	}
	if s.pos >= len(s.samples) {
		if !s.loop {
			s.mu.Unlock()
			return audio.AudioFrame{}, ErrEndOfRecording
		}
		s.pos = 0
	}
	end := min(s.pos+s.hop, len(s.samples))
	s.analyser.Write(s.samples[s.pos:end])
	s.pos = end
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
