package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/pkg/audio"
)

// Handle is an exclusive capture session. Obtain one with
// [SessionManager.Acquire] and give it back with [SessionManager.Release].
type Handle struct {
	// ID uniquely identifies the session.
	ID string

	// Device is the name of the capture device.
	Device string

	// AcquiredAt is when the device was opened.
	AcquiredAt time.Time

	stream   audio.Stream
	released atomic.Bool
	once     sync.Once
}

// ReadFrame reads the current analysis frame from the session's stream.
func (h *Handle) ReadFrame() (audio.AudioFrame, error) {
	if h.released.Load() {
		return audio.AudioFrame{}, ErrHandleReleased
	}
	return h.stream.ReadFrame()
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// SessionManager owns the capture device and hands out at most one live
// [Handle] at a time. All methods are safe for concurrent use.
type SessionManager struct {
	device  audio.Device
	metrics *observe.Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	busy   bool // acquisition in flight or handle live
	active *Handle
}

// deviceNamer is implemented by streams that were opened by a different
// device than the one the manager holds, e.g. a member of a fallback chain.
type deviceNamer interface {
	DeviceName() string
}

// NewSessionManager creates a SessionManager for device. A nil metrics
// uses [observe.DefaultMetrics].
func NewSessionManager(device audio.Device, metrics *observe.Metrics) *SessionManager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{device: device, metrics: metrics, tracer: observe.TracerFrom(nil)}
}

// Device returns the managed capture device.
func (m *SessionManager) Device() audio.Device {
	return m.device
}

// Acquire opens the capture device with the given constraints.
//
// It returns [ErrAlreadyAcquired] while another handle is live or another
// acquisition is in flight. Device failures are wrapped with
// [ErrDeviceUnavailable]. If ctx ends before the device is open, the ctx
// error is returned wrapped and nothing is held.
func (m *SessionManager) Acquire(ctx context.Context, c audio.Constraints) (*Handle, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return nil, ErrAlreadyAcquired
	}
	m.busy = true
	m.mu.Unlock()

	name := m.device.Name()
	ctx, span := m.tracer.Start(ctx, observe.SpanAcquire,
		trace.WithAttributes(observe.AttrDevice.String(name)),
	)
	defer span.End()

	start := time.Now()
	stream, err := m.device.Open(ctx, c)
	m.metrics.AcquireDuration.Record(ctx, time.Since(start).Seconds())

	if err == nil && ctx.Err() != nil {
		// Opened, but the caller gave up meanwhile.
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("engine: close abandoned stream", "device", name, "err", cerr)
		}
		err = ctx.Err()
	}
	if err != nil {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("engine: acquire %s: %w", name, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, name, err)
	}

	if ns, ok := stream.(deviceNamer); ok {
		name = ns.DeviceName()
		span.SetAttributes(observe.AttrDevice.String(name))
	}

	h := &Handle{
		ID:         uuid.NewString(),
		Device:     name,
		AcquiredAt: time.Now().UTC(),
		stream:     stream,
	}
	m.mu.Lock()
	m.active = h
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	span.SetAttributes(observe.AttrSessionID.String(h.ID))
	observe.Logger(ctx).Debug("engine: capture session acquired", "session_id", h.ID, "device", name)
	return h, nil
}

// Release closes the handle's stream and frees the device for the next
// [SessionManager.Acquire]. It is idempotent and safe to call with nil.
// Close errors are logged, never returned.
func (m *SessionManager) Release(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.released.Store(true)
		if err := h.stream.Close(); err != nil {
			slog.Warn("engine: close capture stream", "session_id", h.ID, "err", err)
		}

		m.mu.Lock()
		if m.active == h {
			m.active = nil
			m.busy = false
		}
		m.mu.Unlock()

		m.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Debug("engine: capture session released", "session_id", h.ID)
	})
}

// Active returns the live handle, or nil when none is held.
func (m *SessionManager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
