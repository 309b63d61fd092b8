package app

import (
	"errors"
	"time"

	"github.com/MrWong99/mindscope/internal/config"
	"github.com/MrWong99/mindscope/pkg/audio"
	"github.com/MrWong99/mindscope/pkg/audio/portaudio"
	"github.com/MrWong99/mindscope/pkg/audio/synth"
	"github.com/MrWong99/mindscope/pkg/audio/wavfile"
)

// DefaultRegistry returns a registry holding the built-in capture devices.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterBuiltinDevices(reg)
	return reg
}

// RegisterBuiltinDevices wires the capture devices that ship with MindScope
// into reg.
func RegisterBuiltinDevices(reg *config.Registry) {
	reg.RegisterDevice(config.DevicePortAudio, func(config.CaptureConfig) (audio.Device, error) {
		return portaudio.New(), nil
	})

	reg.RegisterDevice(config.DeviceSynthetic, func(c config.CaptureConfig) (audio.Device, error) {
		s := c.Synthetic
		seed := s.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		return synth.New(synth.Config{
			Frequency:  s.Frequency,
			Amplitude:  s.Amplitude,
			Noise:      s.Noise,
			Modulation: s.Modulation,
			Seed:       seed,
		}), nil
	})

	reg.RegisterDevice(config.DeviceWAV, func(c config.CaptureConfig) (audio.Device, error) {
		if c.WAV.Path == "" {
			return nil, errors.New("capture.wav.path is empty")
		}
		return wavfile.New(wavfile.Config{
			Path: c.WAV.Path,
			Loop: c.WAV.Looping(),
		}), nil
	})
}
