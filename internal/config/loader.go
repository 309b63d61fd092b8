package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, expands ${VAR}
// references from the environment, applies defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in data and decodes it with
// [LoadFromReader].
func Parse(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults. No environment expansion happens here.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Call it on a config whose defaults have been applied.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}

	// Engine
	e := cfg.Engine
	if e.Interval <= 0 {
		errs = append(errs, fmt.Errorf("engine.interval %s must be positive", e.Interval))
	}
	if e.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("engine.history_size %d must be positive", e.HistorySize))
	}
	if f := e.ConfidenceFloor; f != nil && (*f <= 0 || *f > 1) {
		errs = append(errs, fmt.Errorf("engine.confidence_floor %.2f is out of range (0, 1]", *f))
	}
	if e.RecentWindow <= 0 || e.RecentWindow > e.HistorySize {
		errs = append(errs, fmt.Errorf("engine.recent_window %d is out of range [1, history_size=%d]", e.RecentWindow, e.HistorySize))
	}
	if r := e.Recovery; r.MaxRetries < 0 || r.Backoff < 0 || r.MaxBackoff < 0 {
		errs = append(errs, errors.New("engine.recovery: max_retries, backoff and max_backoff must not be negative"))
	}
	if r := e.Recovery; r.Backoff > 0 && r.MaxBackoff > 0 && r.MaxBackoff < r.Backoff {
		errs = append(errs, fmt.Errorf("engine.recovery.max_backoff %s is below backoff %s", r.MaxBackoff, r.Backoff))
	}

	// Capture
	c := cfg.Capture
	validateDeviceName("capture.device", c.Device)
	for i, name := range c.Fallback {
		if name == c.Device {
			errs = append(errs, fmt.Errorf("capture.fallback[%d] %q repeats capture.device", i, name))
		}
		validateDeviceName(fmt.Sprintf("capture.fallback[%d]", i), name)
	}
	if err := c.Constraints().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if s := c.Synthetic; s.Amplitude < 0 || s.Amplitude > 1 {
		errs = append(errs, fmt.Errorf("capture.synthetic.amplitude %.2f is out of range [0, 1]", s.Amplitude))
	}
	if s := c.Synthetic; s.Noise < 0 {
		errs = append(errs, fmt.Errorf("capture.synthetic.noise %.2f must not be negative", s.Noise))
	}
	if s := c.Synthetic; s.Modulation < 0 {
		errs = append(errs, fmt.Errorf("capture.synthetic.modulation %.2f must not be negative", s.Modulation))
	}
	if c.Uses(DeviceWAV) && c.WAV.Path == "" {
		errs = append(errs, errors.New("capture.wav.path is required when the wav device is used"))
	}
	if c.Synthetic.Frequency*2 > float64(c.SampleRate) {
		errs = append(errs, fmt.Errorf("capture.synthetic.frequency %.0f Hz is above the Nyquist limit of %d Hz", c.Synthetic.Frequency, c.SampleRate/2))
	}

	// Relays
	if cfg.Relays.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("relays.queue_size %d must be positive", cfg.Relays.QueueSize))
	}
	if n := cfg.Relays.NATS; n != nil && n.URL == "" {
		errs = append(errs, errors.New("relays.nats.url is required when the nats relay is configured"))
	}
	if m := cfg.Relays.MQTT; m != nil {
		if m.Broker == "" {
			errs = append(errs, errors.New("relays.mqtt.broker is required when the mqtt relay is configured"))
		}
		if m.QoS < 0 || m.QoS > 2 {
			errs = append(errs, fmt.Errorf("relays.mqtt.qos %d is invalid; valid values: 0, 1, 2", m.QoS))
		}
		if m.Password != "" && m.Username == "" {
			slog.Warn("relays.mqtt.password is set without a username and will be ignored")
		}
	}

	return errors.Join(errs...)
}

// KnownDevices lists the capture devices registered by the server. Used by
// [Validate] to warn about unrecognised device names.
var KnownDevices = []string{DevicePortAudio, DeviceSynthetic, DeviceWAV}

// validateDeviceName logs a warning if name is not a known device.
func validateDeviceName(field, name string) {
	if slices.Contains(KnownDevices, name) {
		return
	}
	slog.Warn("unknown capture device; it must be registered before startup",
		"field", field,
		"name", name,
		"known", KnownDevices,
	)
}
