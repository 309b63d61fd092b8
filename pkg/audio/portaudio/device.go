// Package portaudio provides an [audio.Device] implementation backed by the
// host's default input device via the gordonklaus/portaudio bindings.
//
// Each call to [Device.Open] initialises PortAudio, opens a float32 input
// stream and feeds every callback buffer into an [audio.Analyser]. The stream
// terminates PortAudio again when closed, so devices can be opened and
// closed repeatedly.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/mindscope/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*stream)(nil)
)

const (
	defaultFramesPerBuffer = 512
	defaultStallTimeout    = 2 * time.Second
)

// Option configures a [Device].
type Option func(*Device)

// WithFramesPerBuffer sets the PortAudio callback buffer size in frames.
func WithFramesPerBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.framesPerBuffer = n
		}
	}
}

// WithStallTimeout sets how long the stream may go without a capture
// callback before ReadFrame reports [audio.ErrStreamStalled].
func WithStallTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		if timeout > 0 {
			d.stallTimeout = timeout
		}
	}
}

// WithHighLatency opens the stream with the device's high-latency defaults,
// which are more robust on loaded hosts.
func WithHighLatency() Option {
	return func(d *Device) {
		d.highLatency = true
	}
}

// Device opens capture streams on the default input device.
// Device is safe for concurrent use.
type Device struct {
	framesPerBuffer int
	stallTimeout    time.Duration
	highLatency     bool
	warnOnce        sync.Once
}

// New creates a PortAudio capture device.
func New(opts ...Option) *Device {
	d := &Device{
		framesPerBuffer: defaultFramesPerBuffer,
		stallTimeout:    defaultStallTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements [audio.Device].
func (d *Device) Name() string { return "portaudio" }

// Open implements [audio.Device]. The stream is started before Open returns.
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.EchoCancellation || c.NoiseSuppression {
		d.warnOnce.Do(func() {
			slog.Info("portaudio: echo cancellation and noise suppression are left to the host audio stack",
				"echo_cancellation", c.EchoCancellation,
				"noise_suppression", c.NoiseSuppression,
			)
		})
	}

	analyser, err := audio.NewAnalyser(c.FFTSize, c.SampleRate)
	if err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	in, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: default input device: %w", err)
	}

	var params portaudio.StreamParameters
	if d.highLatency {
		params = portaudio.HighLatencyParameters(in, nil)
	} else {
		params = portaudio.LowLatencyParameters(in, nil)
	}
	params.Input.Channels = c.Channels
	params.Output.Channels = 0
	params.SampleRate = float64(c.SampleRate)
	params.FramesPerBuffer = d.framesPerBuffer

	s := &stream{
		analyser:     analyser,
		channels:     c.Channels,
		stallTimeout: d.stallTimeout,
	}
	s.lastCallback.Store(time.Now().UnixNano())

	pa, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", in.Name, err)
	}
	if err := pa.Start(); err != nil {
		_ = pa.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream on %q: %w", in.Name, err)
	}
	s.pa = pa

	// The caller may have given up while the host was opening the device.
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return nil, err
	}

	slog.Debug("portaudio: capture stream started",
		"device", in.Name,
		"sample_rate", c.SampleRate,
		"channels", c.Channels,
		"frames_per_buffer", d.framesPerBuffer,
	)
	return s, nil
}

// stream adapts a running PortAudio input stream to [audio.Stream].
type stream struct {
	analyser     *audio.Analyser
	channels     int
	stallTimeout time.Duration
	pa           *portaudio.Stream

	lastCallback atomic.Int64
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
}

// process is the PortAudio input callback.
func (s *stream) process(in []float32) {
	s.analyser.Write(audio.Downmix(in, s.channels))
	s.lastCallback.Store(time.Now().UnixNano())
}

// ReadFrame implements [audio.Stream].
func (s *stream) ReadFrame() (audio.AudioFrame, error) {
	if s.closed.Load() {
		return audio.AudioFrame{}, audio.ErrStreamClosed
	}
	last := time.Unix(0, s.lastCallback.Load())
	if since := time.Since(last); since > s.stallTimeout {
		return audio.AudioFrame{}, fmt.Errorf("%w: no samples for %s", audio.ErrStreamStalled, since.Round(time.Millisecond))
	}
	return s.analyser.Frame(), nil
}

// Close implements [audio.Stream].
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.pa.Stop(); err != nil {
			s.closeErr = fmt.Errorf("portaudio: stop stream: %w", err)
		}
		if err := s.pa.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("portaudio: close stream: %w", err)
		}
		if err := portaudio.Terminate(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("portaudio: terminate: %w", err)
		}
	})
	return s.closeErr
}
