package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/mindscope/internal/engine"
	"github.com/MrWong99/mindscope/pkg/audio"
	"github.com/MrWong99/mindscope/pkg/audio/mock"
)

func TestSessionManager_AcquireRelease(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{}
	dev := &mock.Device{NameResult: "mic", StreamResult: stream}
	m := engine.NewSessionManager(dev, testMetrics(t))

	c := audio.DefaultConstraints()
	c.SampleRate = 48000
	h, err := m.Acquire(context.Background(), c)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.ID == "" || h.Device != "mic" || h.AcquiredAt.IsZero() {
		t.Errorf("handle = %+v", h)
	}
	if dev.OpenCalls[0].SampleRate != 48000 {
		t.Errorf("device got sample rate %d, want 48000", dev.OpenCalls[0].SampleRate)
	}
	if m.Active() != h {
		t.Error("Active() does not return the acquired handle")
	}
	if _, err := h.ReadFrame(); err != nil {
		t.Errorf("ReadFrame: %v", err)
	}

	if _, err := m.Acquire(context.Background(), c); !errors.Is(err, engine.ErrAlreadyAcquired) {
		t.Errorf("second Acquire = %v, want ErrAlreadyAcquired", err)
	}

	m.Release(h)
	m.Release(h)
	m.Release(nil)
	if stream.CallCountClose != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CallCountClose)
	}
	if !h.Released() {
		t.Error("handle not marked released")
	}
	if _, err := h.ReadFrame(); !errors.Is(err, engine.ErrHandleReleased) {
		t.Errorf("ReadFrame after release = %v, want ErrHandleReleased", err)
	}

	h2, err := m.Acquire(context.Background(), c)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if h2.ID == h.ID {
		t.Error("session IDs repeat")
	}
}

func TestSessionManager_ReleaseIgnoresCloseError(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{CloseError: errors.New("already gone")}
	m := engine.NewSessionManager(&mock.Device{StreamResult: stream}, testMetrics(t))

	h, err := m.Acquire(context.Background(), audio.DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.Release(h)
	if m.Active() != nil {
		t.Error("device still held after a failed close")
	}
}

func TestSessionManager_AcquireErrors(t *testing.T) {
	t.Parallel()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		dev       *mock.Device
		wantErr   error
		unwrapped bool // want ErrDeviceUnavailable in the chain
	}{
		{
			name:      "device error",
			ctx:       context.Background(),
			dev:       &mock.Device{OpenError: errors.New("denied")},
			wantErr:   engine.ErrDeviceUnavailable,
			unwrapped: true,
		},
		{
			name:    "cancelled",
			ctx:     cancelled,
			dev:     &mock.Device{},
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := engine.NewSessionManager(tt.dev, testMetrics(t))
			_, err := m.Acquire(tt.ctx, audio.DefaultConstraints())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Acquire = %v, want %v", err, tt.wantErr)
			}
			if got := errors.Is(err, engine.ErrDeviceUnavailable); got != tt.unwrapped {
				t.Errorf("ErrDeviceUnavailable in chain = %v, want %v", got, tt.unwrapped)
			}
			if m.Active() != nil {
				t.Error("failed acquisition left a handle")
			}

			// The device is free again.
			tt.dev.OpenError = nil
			if _, err := m.Acquire(context.Background(), audio.DefaultConstraints()); err != nil {
				t.Errorf("Acquire after failure: %v", err)
			}
		})
	}
}
