// Package audio defines the capture abstractions and the spectral analyser
// used by the MindScope analysis engine.
//
// The two primary abstractions are:
//
//   - [Device] opens a capture stream under a set of [Constraints].
//   - [Stream] yields the latest [AudioFrame] snapshot on demand.
//
// Implementations are provided by adapter packages: audio/portaudio for real
// microphones, audio/synth for a deterministic signal generator,
// audio/wavfile for recordings and audio/mock for tests. The interfaces are
// intentionally narrow to keep the engine decoupled from capture details.
//
// This package lives under pkg/ because external code is expected to
// implement [Device] for other capture backends.
package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStreamClosed is returned by [Stream.ReadFrame] after [Stream.Close].
	ErrStreamClosed = errors.New("audio: stream closed")

	// ErrStreamStalled is returned by [Stream.ReadFrame] when the capture
	// backend has stopped delivering samples.
	ErrStreamStalled = errors.New("audio: stream stalled")
)

// Default capture parameters.
const (
	DefaultSampleRate = 44100
	DefaultFFTSize    = 2048
)

// Constraints describe the capture stream requested from a [Device].
type Constraints struct {
	// SampleRate is the target capture rate in Hz.
	SampleRate int

	// Channels is the capture channel count. The engine always requests mono.
	Channels int

	// FFTSize is the analysis window in samples. Each [AudioFrame] carries
	// FFTSize/2 time-domain and frequency-domain values.
	FFTSize int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints returns a mono, echo-cancelled, noise-suppressed stream
// at 44.1 kHz with automatic gain control disabled.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       DefaultSampleRate,
		Channels:         1,
		FFTSize:          DefaultFFTSize,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  false,
	}
}

// BinCount returns the number of values per frame array (FFTSize/2).
func (c Constraints) BinCount() int {
	return c.FFTSize / 2
}

// Validate reports whether c describes a stream the analyser can process.
func (c Constraints) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channel count %d must be positive", c.Channels))
	}
	if !validFFTSize(c.FFTSize) {
		errs = append(errs, fmt.Errorf("fft size %d must be a power of two in [%d, %d]", c.FFTSize, minFFTSize, maxFFTSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("audio: invalid constraints: %w", err)
	}
	return nil
}

// Device opens capture streams. Implementations must be safe for concurrent
// use, although the engine never holds more than one stream at a time.
type Device interface {
	// Name identifies the device in logs and metrics.
	Name() string

	// Open acquires a capture stream. It may block (for example while the
	// host asks for microphone permission) and must honour ctx cancellation.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open capture stream.
//
// ReadFrame and Close may be called concurrently; a ReadFrame racing with
// Close returns either a valid frame or [ErrStreamClosed].
type Stream interface {
	// ReadFrame returns a snapshot of the most recent analysis window.
	// It never blocks waiting for new samples.
	ReadFrame() (AudioFrame, error)

	// Close releases the underlying capture resources. It is idempotent.
	Close() error
}
