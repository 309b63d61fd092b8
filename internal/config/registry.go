package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/mindscope/pkg/audio"
)

// Built-in capture device names.
const (
	DevicePortAudio = "portaudio"
	DeviceSynthetic = "synthetic"
	DeviceWAV       = "wav"
)

// ErrDeviceNotRegistered is returned by [Registry.CreateDevice] when no
// factory has been registered under the requested name.
var ErrDeviceNotRegistered = errors.New("config: capture device not registered")

// DeviceFactory builds a capture device from the capture config.
type DeviceFactory func(CaptureConfig) (audio.Device, error)

// Registry maps capture device names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]DeviceFactory)}
}

// RegisterDevice registers a device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// CreateDevice instantiates the device registered under name.
// Returns [ErrDeviceNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateDevice(name string, cfg CaptureConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotRegistered, name)
	}
	d, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create device %q: %w", name, err)
	}
	return d, nil
}

// CreateDevices instantiates cfg.Device followed by every cfg.Fallback
// entry, in order.
func (r *Registry) CreateDevices(cfg CaptureConfig) ([]audio.Device, error) {
	names := append([]string{cfg.Device}, cfg.Fallback...)
	devices := make([]audio.Device, 0, len(names))
	for _, name := range names {
		d, err := r.CreateDevice(name, cfg)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Devices returns the registered device names, sorted.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
