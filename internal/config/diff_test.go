package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/mouthpiece/internal/config"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()

	if d := config.Diff(defaultConfig(t), defaultConfig(t)); d.Changed() {
		t.Errorf("identical configs reported a change: %+v", d)
	}
}

func TestDiff_HotReloadableSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, func(d config.ConfigDiff) bool {
			return d.LogLevelChanged && d.NewLogLevel == config.LogDebug
		}},
		{"voices", func(c *config.Config) { c.Voices[1].Rate = "+10%" }, func(d config.ConfigDiff) bool { return d.VoicesChanged }},
		{"lipsync", func(c *config.Config) { c.LipSync.Gain = 6 }, func(d config.ConfigDiff) bool { return d.LipSyncChanged }},
		{"conversation", func(c *config.Config) { c.Conversation.ExitWords = append(c.Conversation.ExitWords, "halt") }, func(d config.ConfigDiff) bool {
			return d.ConversationChanged
		}},
		{"listening", func(c *config.Config) { c.Listening.Timeout *= 2 }, func(d config.ConfigDiff) bool { return d.ListeningChanged }},
		{"playback", func(c *config.Config) { c.Playback.Mode = config.PlaybackTimed }, func(d config.ConfigDiff) bool { return d.PlaybackChanged }},
		{"wake", func(c *config.Config) { c.Wake.Enabled = true }, func(d config.ConfigDiff) bool { return d.WakeChanged }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := defaultConfig(t), defaultConfig(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !tt.check(d) {
				t.Errorf("change not detected: %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("hot-reloadable change flagged for restart: %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := defaultConfig(t), defaultConfig(t)
	new.Server.ListenAddr = ":9999"
	new.Providers.LLM.Model = "llama-3.1-8b-instant"

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}

func TestDiff_ServerLimitsNeedRestart(t *testing.T) {
	t.Parallel()

	old, new := defaultConfig(t), defaultConfig(t)
	new.Server.ControlBurst = 5
	new.Server.AllowedOrigins = []string{"example.com"}

	d := config.Diff(old, new)
	want := []string{"server.allowed_origins", "server.control_rate"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}

func TestDiff_TelemetryNeedsRestart(t *testing.T) {
	t.Parallel()

	old, new := defaultConfig(t), defaultConfig(t)
	new.Telemetry.TraceSampleRatio = 0.25

	d := config.Diff(old, new)
	if !slices.Equal(d.RestartRequired, []string{"telemetry"}) {
		t.Errorf("RestartRequired = %v, want [telemetry]", d.RestartRequired)
	}
}
