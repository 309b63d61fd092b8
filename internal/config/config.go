// Package config provides the configuration schema, loader, hot-reload
// watcher and capture device registry for MindScope.
package config

import (
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/mindscope/internal/history"
	"github.com/MrWong99/mindscope/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the log handler.
type LogFormat string

const (
	// LogFormatText is slog's logfmt-style text handler.
	LogFormatText LogFormat = "text"

	// LogFormatJSON is slog's JSON handler.
	LogFormatJSON LogFormat = "json"

	// LogFormatPretty is a colourised console handler for local use.
	LogFormatPretty LogFormat = "pretty"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatPretty:
		return true
	}
	return false
}

// Config is the root configuration structure for MindScope.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Capture CaptureConfig `yaml:"capture"`
	Relays  RelaysConfig  `yaml:"relays"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the log handler.
	LogFormat LogFormat `yaml:"log_format"`
}

// EngineConfig tunes the sampling loop and the history buffer.
type EngineConfig struct {
	// Interval is the pause between analysis ticks.
	Interval time.Duration `yaml:"interval"`

	// HistorySize is the history buffer capacity.
	HistorySize int `yaml:"history_size"`

	// ConfidenceFloor is the minimum confidence for a sample to enter
	// history, in (0, 1]. Nil means [history.DefaultConfidenceFloor].
	ConfidenceFloor *float64 `yaml:"confidence_floor"`

	// RecentWindow is how many of the newest history entries the current
	// emotional state is taken from.
	RecentWindow int `yaml:"recent_window"`

	// AutoStart begins analysis as soon as the server is up.
	AutoStart bool `yaml:"auto_start"`

	// Recovery restarts analysis after a device failure.
	Recovery RecoveryConfig `yaml:"recovery"`
}

// RecoveryConfig controls automatic restarts after a device failure. Zero
// limits take the engine defaults.
type RecoveryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Floor returns the configured confidence floor or the history default.
func (e EngineConfig) Floor() float64 {
	if e.ConfidenceFloor == nil {
		return history.DefaultConfidenceFloor
	}
	return *e.ConfidenceFloor
}

// History converts the engine settings into a history buffer config.
func (e EngineConfig) History() history.Config {
	return history.Config{
		Capacity:        e.HistorySize,
		ConfidenceFloor: e.Floor(),
		RecentWindow:    e.RecentWindow,
	}
}

// CaptureConfig selects and configures the capture device.
type CaptureConfig struct {
	// Device names a device registered in the [Registry], e.g. "portaudio"
	// or "synthetic".
	Device string `yaml:"device"`

	// Fallback lists devices tried in order when Device cannot be opened.
	Fallback []string `yaml:"fallback"`

	SampleRate int `yaml:"sample_rate"`
	FFTSize    int `yaml:"fft_size"`

	// Processing hints. Nil means the default: echo cancellation and noise
	// suppression on, automatic gain control off.
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGainControl  *bool `yaml:"auto_gain_control"`

	// Synthetic configures the "synthetic" device.
	Synthetic SyntheticConfig `yaml:"synthetic"`

	// WAV configures the "wav" device.
	WAV WAVConfig `yaml:"wav"`
}

// Uses reports whether name is the primary device or one of the fallbacks.
func (c CaptureConfig) Uses(name string) bool {
	return c.Device == name || slices.Contains(c.Fallback, name)
}

// Constraints converts the capture settings into device constraints.
func (c CaptureConfig) Constraints() audio.Constraints {
	con := audio.DefaultConstraints()
	if c.SampleRate > 0 {
		con.SampleRate = c.SampleRate
	}
	if c.FFTSize > 0 {
		con.FFTSize = c.FFTSize
	}
	con.EchoCancellation = boolOr(c.EchoCancellation, con.EchoCancellation)
	con.NoiseSuppression = boolOr(c.NoiseSuppression, con.NoiseSuppression)
	con.AutoGainControl = boolOr(c.AutoGainControl, con.AutoGainControl)
	return con
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// SyntheticConfig configures the generated test signal.
type SyntheticConfig struct {
	// Frequency of the tone in Hz.
	Frequency float64 `yaml:"frequency"`

	// Amplitude of the tone in [0, 1].
	Amplitude float64 `yaml:"amplitude"`

	// Noise is the amplitude of added white noise.
	Noise float64 `yaml:"noise"`

	// Modulation is the amplitude-modulation rate in Hz. Zero disables it.
	Modulation float64 `yaml:"modulation"`

	// Seed makes the noise reproducible. Zero picks a time-based seed.
	Seed uint64 `yaml:"seed"`
}

// WAVConfig configures replay of a recording.
type WAVConfig struct {
	// Path of the WAV file. Required when the "wav" device is used.
	Path string `yaml:"path"`

	// Loop restarts playback at the end of the file. Nil means true.
	Loop *bool `yaml:"loop"`
}

// Looping reports whether playback restarts at the end of the file.
func (w WAVConfig) Looping() bool {
	return boolOr(w.Loop, true)
}

// RelaysConfig configures event forwarding to external brokers. A nil
// broker section disables that relay.
type RelaysConfig struct {
	// QueueSize bounds the events buffered for the relays.
	QueueSize int `yaml:"queue_size"`

	NATS *NATSConfig `yaml:"nats"`
	MQTT *MQTTConfig `yaml:"mqtt"`
}

// Enabled reports whether any relay is configured.
func (r RelaysConfig) Enabled() bool {
	return r.NATS != nil || r.MQTT != nil
}

// NATSConfig configures the NATS relay.
type NATSConfig struct {
	// URL is the server URL, e.g. "nats://localhost:4222".
	URL string `yaml:"url"`

	// Subject is the prefix; events go to "<subject>.<event>".
	Subject string `yaml:"subject"`
}

// MQTTConfig configures the MQTT relay.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string `yaml:"broker"`

	// Topic is the prefix; events go to "<topic>/<event>".
	Topic string `yaml:"topic"`

	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// QoS is the MQTT quality of service level (0, 1 or 2).
	QoS int `yaml:"qos"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = LogFormatText
	}

	if c.Engine.Interval == 0 {
		c.Engine.Interval = 100 * time.Millisecond
	}
	if c.Engine.HistorySize == 0 {
		c.Engine.HistorySize = history.DefaultCapacity
	}
	if c.Engine.RecentWindow == 0 {
		c.Engine.RecentWindow = history.DefaultRecentWindow
	}

	if c.Capture.Device == "" {
		c.Capture.Device = DevicePortAudio
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = audio.DefaultSampleRate
	}
	if c.Capture.FFTSize == 0 {
		c.Capture.FFTSize = audio.DefaultFFTSize
	}
	if c.Capture.Synthetic.Frequency == 0 {
		c.Capture.Synthetic.Frequency = 220
	}
	if c.Capture.Synthetic.Amplitude == 0 {
		c.Capture.Synthetic.Amplitude = 0.5
	}

	if c.Relays.QueueSize == 0 {
		c.Relays.QueueSize = 256
	}
	if n := c.Relays.NATS; n != nil && n.Subject == "" {
		n.Subject = "mindscope.emotion"
	}
	if m := c.Relays.MQTT; m != nil {
		if m.Topic == "" {
			m.Topic = "mindscope/emotion"
		}
		if m.ClientID == "" {
			m.ClientID = "mindscope"
		}
	}
}
