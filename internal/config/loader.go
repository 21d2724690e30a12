package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "groq", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"stt": {"vosk", "deepgram"},
	"tts": {"edge", "elevenlabs"},
	"vad": {"energy"},
}

// envRef matches ${NAME} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV_VAR} references,
// applies defaults and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = ExpandEnv(data)

	cfg := newConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${NAME} references with the value of the environment
// variable NAME. Unset variables expand to the empty string. Bare $NAME is
// left alone so prosody values and prompts may contain dollar signs.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ControlRate < 0 {
		errs = append(errs, fmt.Errorf("server.control_rate %.2f must not be negative", cfg.Server.ControlRate))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	ttsNames := map[string]bool{cfg.Providers.TTS.Name: true}
	for i, e := range cfg.Providers.TTSExtra {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_extra[%d].name is required", i))
			continue
		}
		validateProviderName("tts", e.Name)
		ttsNames[e.Name] = true
	}

	// Voices
	if len(cfg.Voices) == 0 {
		errs = append(errs, errors.New("voices: at least one voice is required"))
	}
	seen := make(map[string]int, len(cfg.Voices))
	for i, v := range cfg.Voices {
		prefix := fmt.Sprintf("voices[%d]", i)
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		key := v.Provider + "/" + v.ID
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of voices[%d]", prefix, v.ID, prev))
		}
		seen[key] = i
		if v.Provider != "" && !ttsNames[v.Provider] {
			errs = append(errs, fmt.Errorf("%s.provider %q is not declared in providers.tts or providers.tts_extra", prefix, v.Provider))
		}
	}

	// Listening
	l := cfg.Listening
	if l.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("listening.timeout %v must be positive", l.Timeout))
	}
	if l.Silence <= 0 {
		errs = append(errs, fmt.Errorf("listening.silence %v must be positive", l.Silence))
	}
	if l.SampleRate < 8000 || l.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("listening.sample_rate %d is out of range [8000, 48000]", l.SampleRate))
	}
	if l.InputSampleRate < 8000 || l.InputSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("listening.input_sample_rate %d is out of range [8000, 48000]", l.InputSampleRate))
	}
	if l.StallTimeout < 0 {
		errs = append(errs, fmt.Errorf("listening.stall_timeout %v must not be negative", l.StallTimeout))
	}

	// Lip-sync
	ls := cfg.LipSync
	if ls.Interval <= 0 || ls.Window <= 0 {
		errs = append(errs, errors.New("lipsync.interval and lipsync.window must be positive"))
	}
	for name, v := range map[string]float64{"floor": ls.Floor, "idle": ls.Idle, "mumble": ls.Mumble} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("lipsync.%s %.2f is out of range [0, 1]", name, v))
		}
	}
	if ls.Gain <= 0 {
		errs = append(errs, fmt.Errorf("lipsync.gain %.2f must be positive", ls.Gain))
	}

	// Conversation
	c := cfg.Conversation
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", c.Temperature))
	}
	if c.TopP < 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("conversation.top_p %.2f is out of range [0, 1]", c.TopP))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_tokens %d must not be negative", c.MaxTokens))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Playback
	if !cfg.Playback.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("playback.mode %q is invalid; valid values: client, timed", cfg.Playback.Mode))
	}

	// Wake
	if w := cfg.Wake; w.Enabled && w.SilenceThreshold > 0 && w.SpeechThreshold > 0 && w.SilenceThreshold > w.SpeechThreshold {
		errs = append(errs, fmt.Errorf("wake.silence_threshold %.3f exceeds wake.speech_threshold %.3f", w.SilenceThreshold, w.SpeechThreshold))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
