package config

import "slices"

// ConfigDiff describes what changed between two configs. The log level is
// applied live; everything else is reported so the operator knows a
// restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the changed sections that only take effect after
	// a restart, e.g. "capture" or "relays.nats".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("engine", !engineEqual(old.Engine, new.Engine))
	restart("capture", !captureEqual(old.Capture, new.Capture))
	restart("relays.queue_size", old.Relays.QueueSize != new.Relays.QueueSize)
	restart("relays.nats", !ptrEqual(old.Relays.NATS, new.Relays.NATS))
	restart("relays.mqtt", !ptrEqual(old.Relays.MQTT, new.Relays.MQTT))

	return d
}

// engineEqual compares the effective floor, so an explicit default equals
// an omitted one.
func engineEqual(a, b EngineConfig) bool {
	if a.Floor() != b.Floor() {
		return false
	}
	a.ConfidenceFloor, b.ConfidenceFloor = nil, nil
	return a == b
}

func captureEqual(a, b CaptureConfig) bool {
	return a.Device == b.Device &&
		slices.Equal(a.Fallback, b.Fallback) &&
		a.Constraints() == b.Constraints() &&
		a.Synthetic == b.Synthetic &&
		a.WAV.Path == b.WAV.Path &&
		a.WAV.Looping() == b.WAV.Looping()
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
