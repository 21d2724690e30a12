// Package config provides the configuration schema, loader, and provider registry
// for the mouthpiece voice front end.
package config

import "time"

// LogLevel controls log verbosity for the server.
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

// PlaybackMode selects where synthesized speech is rendered.
type PlaybackMode string

const (
	// PlaybackClient sends every clip to the browser, which plays it.
	PlaybackClient PlaybackMode = "client"

	// PlaybackTimed only runs the playback clock. Lip values are still
	// produced; no audio leaves the server.
	PlaybackTimed PlaybackMode = "timed"
)

// IsValid reports whether m is a recognised playback mode.
func (m PlaybackMode) IsValid() bool {
	return m == PlaybackClient || m == PlaybackTimed
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Providers      ProvidersConfig      `yaml:"providers"`
	Voices         []VoiceConfig        `yaml:"voices"`
	Listening      ListeningConfig      `yaml:"listening"`
	LipSync        LipSyncConfig        `yaml:"lipsync"`
	Conversation   ConversationConfig   `yaml:"conversation"`
	Playback       PlaybackConfig       `yaml:"playback"`
	Wake           WakeConfig           `yaml:"wake"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., "127.0.0.1:8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir is the directory served at "/". It must contain index.html.
	StaticDir string `yaml:"static_dir"`

	// AllowedOrigins lists host patterns accepted on the websocket in
	// addition to the request's own host.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ControlRate is the sustained number of typed turns per second a
	// connection may send. Excess turns and unrecognised messages are
	// ignored. start_listen and stop_listen are never limited.
	ControlRate float64 `yaml:"control_rate"`

	// ControlBurst is the text-message burst allowance.
	ControlBurst int `yaml:"control_burst"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	STT ProviderEntry `yaml:"stt"`

	// TTS is the synthesis provider used by voices that do not name one.
	TTS ProviderEntry `yaml:"tts"`

	// TTSExtra declares further synthesis providers voices may refer to.
	TTSExtra []ProviderEntry `yaml:"tts_extra"`

	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "vosk").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${ENV_VAR} references are expanded at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// VoiceConfig is one entry of the synthesis fallback chain. Voices are tried
// in the order listed.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier (e.g., "en-IE-EmilyNeural").
	ID string `yaml:"id"`

	// Provider names the TTS provider for this voice. Empty selects providers.tts.
	Provider string `yaml:"provider"`

	// Rate, Volume and Pitch are prosody adjustments such as "+5%", "+0%", "+0Hz".
	Rate   string `yaml:"rate"`
	Volume string `yaml:"volume"`
	Pitch  string `yaml:"pitch"`
}

// ListeningConfig controls capture and end-of-speech detection.
type ListeningConfig struct {
	// Timeout is how long to wait for speech onset before giving up.
	Timeout time.Duration `yaml:"timeout"`

	// Silence is how much audio the transcript must stay empty for after
	// onset before the final result is requested. It is measured against the
	// frames the client actually sends.
	Silence time.Duration `yaml:"silence"`

	// SampleRate is the recognizer input rate.
	SampleRate int `yaml:"sample_rate"`

	// InputSampleRate is the rate the browser sends. Frames are resampled
	// when it differs from SampleRate.
	InputSampleRate int `yaml:"input_sample_rate"`

	// FinalizeTimeout bounds the wait for the recognizer's final result.
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`

	// StallTimeout ends listening after speech onset when the recognizer
	// stops reporting altogether. Zero disables it.
	StallTimeout time.Duration `yaml:"stall_timeout"`

	// QueueSize is the frame queue capacity.
	QueueSize int `yaml:"queue_size"`
}

// LipSyncConfig controls the lip value stream. Floor, Idle and Mumble keep
// an explicit zero; only an absent lipsync section gets their defaults.
type LipSyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
	Floor    float64       `yaml:"floor"`
	Idle     float64       `yaml:"idle"`
	Mumble   float64       `yaml:"mumble"`
	Gain     float64       `yaml:"gain"`
}

// ConversationConfig controls response generation and session flow.
type ConversationConfig struct {
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	TopP         float64 `yaml:"top_p"`

	// HistoryTokens is the estimated token budget of the per-session history.
	// Older turns are summarised once it is exceeded.
	HistoryTokens int `yaml:"history_tokens"`

	// AutoListen re-arms listening after every reply.
	AutoListen bool `yaml:"auto_listen"`

	ExitWords    []string `yaml:"exit_words"`
	Farewell     string   `yaml:"farewell"`
	PhoneticExit bool     `yaml:"phonetic_exit"`
}

// PlaybackConfig selects where speech is played.
type PlaybackConfig struct {
	Mode PlaybackMode `yaml:"mode"`
}

// WakeConfig enables speech-triggered listening while idle.
type WakeConfig struct {
	Enabled          bool    `yaml:"enabled"`
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	StartFrames      int     `yaml:"start_frames"`
	EndFrames        int     `yaml:"end_frames"`
}

// CircuitBreakerConfig tunes the per-provider circuit breakers.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TelemetryConfig controls the metrics and trace providers. Changes need a
// restart.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default: "mouthpiece".
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of utterances traced, in [0, 1].
	// Default: 1. Zero keeps trace IDs in logs but records no spans.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}
