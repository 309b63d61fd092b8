package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/mindscope/internal/resilience"
	"github.com/MrWong99/mindscope/pkg/audio"
)

// FallbackDevice is an [audio.Device] that opens the first healthy member
// of an ordered device list. Each member sits behind its own circuit
// breaker, so a device that keeps refusing is skipped for a cool-down
// instead of delaying every Start.
type FallbackDevice struct {
	group *resilience.FallbackGroup[audio.Device]
}

// NewFallbackDevice creates a device that tries primary, then each fallback
// in order.
func NewFallbackDevice(primary audio.Device, fallbacks ...audio.Device) *FallbackDevice {
	g := resilience.NewFallbackGroup(primary.Name(), primary, resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  1,
	})
	for _, d := range fallbacks {
		g.Add(d.Name(), d)
	}
	return &FallbackDevice{group: g}
}

// Name implements [audio.Device]. It lists the members in order.
func (d *FallbackDevice) Name() string {
	return strings.Join(d.group.Names(), ">")
}

// Open implements [audio.Device]. The returned stream reports the member
// that served it through a DeviceName method, which sessions record instead
// of the chain's name.
func (d *FallbackDevice) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	stream, served, err := resilience.Do(ctx, d.group, func(ctx context.Context, dev audio.Device) (audio.Stream, error) {
		return dev.Open(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	if names := d.group.Names(); served != names[0] {
		slog.Warn("engine: capturing from fallback device", "device", served, "primary", names[0])
	}
	return servedStream{Stream: stream, device: served}, nil
}

// servedStream remembers which member of the chain opened it.
type servedStream struct {
	audio.Stream
	device string
}

// DeviceName reports the device that actually opened the stream.
func (s servedStream) DeviceName() string { return s.device }
