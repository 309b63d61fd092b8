// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.Stream{Frames: []audio.AudioFrame{mock.SilentFrame(1024)}}
//	dev := &mock.Device{StreamResult: stream}
//	s, err := dev.Open(ctx, audio.DefaultConstraints())
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mindscope/pkg/audio"
)

// SilentFrame returns a frame of n values with a flat waveform and an empty
// spectrum.
func SilentFrame(n int) audio.AudioFrame {
	return ConstantFrame(n, 128, 0)
}

// ConstantFrame returns a frame of n values where every time-domain value is
// td and every frequency value is freq.
func ConstantFrame(n int, td, freq byte) audio.AudioFrame {
	f := audio.AudioFrame{
		TimeDomain: make([]byte, n),
		Frequency:  make([]byte, n),
		SampleRate: audio.DefaultSampleRate,
	}
	for i := range n {
		f.TimeDomain[i] = td
		f.Frequency[i] = freq
	}
	return f
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
// Set the exported fields before use; inspect the CallCount* fields after.
type Stream struct {
	mu sync.Mutex

	// Frames are returned by ReadFrame in order, cycling back to the first
	// once exhausted. When empty, a 1024-value silent frame is returned.
	Frames []audio.AudioFrame

	// ReadError, when non-nil, is returned by ReadFrame once more than
	// FailAfter successful reads have happened.
	ReadError error

	// FailAfter is the number of successful reads before ReadError applies.
	FailAfter int

	// CloseError is returned by Close.
	CloseError error

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
	next   int
}

// ReadFrame implements [audio.Stream].
func (s *Stream) ReadFrame() (audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReadFrame++

	if s.closed {
		return audio.AudioFrame{}, audio.ErrStreamClosed
	}
	if s.ReadError != nil && s.CallCountReadFrame > s.FailAfter {
		return audio.AudioFrame{}, s.ReadError
	}
	if len(s.Frames) == 0 {
		return SilentFrame(1024), nil
	}
	f := s.Frames[s.next%len(s.Frames)]
	s.next++
	return f, nil
}

// Close implements [audio.Stream]. Returns CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reads returns the number of ReadFrame calls so far.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountReadFrame
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// StreamResult is returned by Open. A fresh [Stream] is created per call
	// when nil.
	StreamResult *Stream

	// OpenError is returned by Open when non-nil.
	OpenError error

	// OpenHook, when set, runs at the start of Open without the mock's lock
	// held. Use it to block acquisition or to observe ctx. A non-nil return
	// value is returned from Open.
	OpenHook func(ctx context.Context) error

	// OpenCalls records the constraints passed to each Open call.
	OpenCalls []audio.Constraints

	// Opened holds every stream handed out by Open, in order.
	Opened []*Stream
}

// Name implements [audio.Device].
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NameResult == "" {
		return "mock"
	}
	return d.NameResult
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, c)
	hook := d.OpenHook
	d.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := d.StreamResult
	if s == nil {
		s = &Stream{}
	}
	d.Opened = append(d.Opened, s)
	return s, nil
}

// CallCountOpen returns how many times Open was called.
func (d *Device) CallCountOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}
