package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they take effect
// for sessions started after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoicesChanged       bool
	LipSyncChanged      bool
	ConversationChanged bool
	ListeningChanged    bool
	PlaybackChanged     bool
	WakeChanged         bool

	// RestartRequired lists sections that changed but only apply after a
	// restart, such as the listen address, providers or telemetry.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VoicesChanged || d.LipSyncChanged ||
		d.ConversationChanged || d.ListeningChanged || d.PlaybackChanged ||
		d.WakeChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VoicesChanged = !slices.Equal(old.Voices, new.Voices)
	d.LipSyncChanged = old.LipSync != new.LipSync
	d.ConversationChanged = !reflect.DeepEqual(old.Conversation, new.Conversation)
	d.ListeningChanged = old.Listening != new.Listening
	d.PlaybackChanged = old.Playback != new.Playback
	d.WakeChanged = old.Wake != new.Wake

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.StaticDir != new.Server.StaticDir {
		d.RestartRequired = append(d.RestartRequired, "server.static_dir")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if old.Server.ControlRate != new.Server.ControlRate || old.Server.ControlBurst != new.Server.ControlBurst {
		d.RestartRequired = append(d.RestartRequired, "server.control_rate")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "circuit_breaker")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
