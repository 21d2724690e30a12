package config

import "time"

// Defaults for every tunable.
const (
	DefaultListenAddr      = "127.0.0.1:8000"
	DefaultStaticDir       = "web"
	DefaultControlRate     = 20.0
	DefaultControlBurst    = 40
	DefaultShutdownTimeout = 15 * time.Second

	DefaultLLMName    = "openai"
	DefaultLLMBaseURL = "https://api.groq.com/openai/v1"
	DefaultLLMModel   = "llama-3.3-70b-versatile"
	DefaultSTTName    = "vosk"
	DefaultSTTURL     = "ws://localhost:2700"
	DefaultTTSName    = "edge"
	DefaultVADName    = "energy"

	DefaultListenTimeout   = 5 * time.Second
	DefaultSilence         = 1500 * time.Millisecond
	DefaultSampleRate      = 16000
	DefaultFinalizeTimeout = 3 * time.Second
	DefaultQueueSize       = 64

	DefaultLipInterval = 30 * time.Millisecond
	DefaultLipWindow   = 100 * time.Millisecond
	DefaultLipFloor    = 0.2
	DefaultLipIdle     = 0.06
	DefaultLipMumble   = 0.08
	DefaultLipGain     = 8.0

	DefaultSystemPrompt  = "You are a friendly voice assistant. Answer in one to three short spoken sentences without lists or markup."
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 1024
	DefaultTopP          = 0.95
	DefaultHistoryTokens = 4000
	DefaultFarewell      = "Goodbye!"

	DefaultServiceName      = "mouthpiece"
	DefaultTraceSampleRatio = 1.0

	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 1
)

// DefaultExitWords end a session when spoken on their own.
var DefaultExitWords = []string{"exit", "quit", "bye", "goodbye", "stop"}

// DefaultVoices is the synthesis chain used when none is configured.
func DefaultVoices() []VoiceConfig {
	return []VoiceConfig{
		{ID: "en-IE-EmilyNeural", Rate: "+5%", Volume: "+0%", Pitch: "+0Hz"},
		{ID: "en-US-AriaNeural", Rate: "+5%", Volume: "+0%", Pitch: "+0Hz"},
		{ID: "en-US-JennyNeural", Rate: "+5%", Volume: "+0%", Pitch: "+0Hz"},
	}
}

// DefaultLipSync is the lip value shape used when no lipsync section is
// configured.
func DefaultLipSync() LipSyncConfig {
	return LipSyncConfig{
		Interval: DefaultLipInterval,
		Window:   DefaultLipWindow,
		Floor:    DefaultLipFloor,
		Idle:     DefaultLipIdle,
		Mumble:   DefaultLipMumble,
		Gain:     DefaultLipGain,
	}
}

// newConfig returns the starting point for decoding. Fields whose zero value
// is meaningful are preset here so an explicit zero in the file survives
// ApplyDefaults.
func newConfig() *Config {
	return &Config{
		LipSync:   DefaultLipSync(),
		Telemetry: TelemetryConfig{TraceSampleRatio: DefaultTraceSampleRatio},
	}
}

// ApplyDefaults fills every zero value in cfg. The lip levels are filled
// only when the whole lipsync section is empty, and the trace sample ratio
// is left alone, since zero is a valid setting for both.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.ListenAddr, DefaultListenAddr)
	setDefault(&s.LogLevel, LogInfo)
	setDefault(&s.StaticDir, DefaultStaticDir)
	setDefault(&s.ControlRate, DefaultControlRate)
	setDefault(&s.ControlBurst, DefaultControlBurst)
	setDefault(&s.ShutdownTimeout, DefaultShutdownTimeout)

	p := &cfg.Providers
	if p.LLM.Name == "" {
		p.LLM.Name = DefaultLLMName
		setDefault(&p.LLM.BaseURL, DefaultLLMBaseURL)
	}
	setDefault(&p.LLM.Model, DefaultLLMModel)
	if p.STT.Name == "" {
		p.STT.Name = DefaultSTTName
		setDefault(&p.STT.BaseURL, DefaultSTTURL)
	}
	setDefault(&p.TTS.Name, DefaultTTSName)
	setDefault(&p.VAD.Name, DefaultVADName)

	if len(cfg.Voices) == 0 {
		cfg.Voices = DefaultVoices()
	}

	l := &cfg.Listening
	setDefault(&l.Timeout, DefaultListenTimeout)
	setDefault(&l.Silence, DefaultSilence)
	setDefault(&l.SampleRate, DefaultSampleRate)
	setDefault(&l.InputSampleRate, l.SampleRate)
	setDefault(&l.FinalizeTimeout, DefaultFinalizeTimeout)
	setDefault(&l.QueueSize, DefaultQueueSize)

	ls := &cfg.LipSync
	if *ls == (LipSyncConfig{}) {
		*ls = DefaultLipSync()
	}
	setDefault(&ls.Interval, DefaultLipInterval)
	setDefault(&ls.Window, DefaultLipWindow)
	setDefault(&ls.Gain, DefaultLipGain)

	c := &cfg.Conversation
	setDefault(&c.SystemPrompt, DefaultSystemPrompt)
	setDefault(&c.Temperature, DefaultTemperature)
	setDefault(&c.MaxTokens, DefaultMaxTokens)
	setDefault(&c.TopP, DefaultTopP)
	setDefault(&c.HistoryTokens, DefaultHistoryTokens)
	setDefault(&c.Farewell, DefaultFarewell)
	if c.ExitWords == nil {
		c.ExitWords = append([]string(nil), DefaultExitWords...)
	}

	setDefault(&cfg.Playback.Mode, PlaybackClient)

	cb := &cfg.CircuitBreaker
	setDefault(&cb.MaxFailures, DefaultMaxFailures)
	setDefault(&cb.ResetTimeout, DefaultResetTimeout)
	setDefault(&cb.HalfOpenMax, DefaultHalfOpenMax)

	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
