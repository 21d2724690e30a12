package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/mouthpiece/internal/config"
	"github.com/MrWong99/mouthpiece/internal/conversation"
	"github.com/MrWong99/mouthpiece/internal/endpoint"
	"github.com/MrWong99/mouthpiece/internal/lipsync"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/internal/session"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	"github.com/MrWong99/mouthpiece/pkg/provider/vad"
)

// SessionInfo holds metadata about a connected session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Remote is the client's network address.
	Remote string

	// StartedAt is when the client connected.
	StartedAt time.Time
}

// SessionManager creates one [session.Session] per connection from the
// current configuration and keeps track of the open ones. Configuration
// changes apply to sessions created afterwards. All exported methods are safe
// for concurrent use.
type SessionManager struct {
	providers *Providers
	metrics   *observe.Metrics
	log       *slog.Logger

	mu     sync.Mutex
	cfg    *config.Config
	chain  *resilience.SynthesisChain
	active map[string]SessionInfo
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Metrics   *observe.Metrics
	Logger    *slog.Logger
}

// NewSessionManager validates the providers and builds the synthesis chain
// for the configured voices.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	p := cfg.Providers
	if cfg.Config == nil || p == nil {
		return nil, errors.New("app: session manager needs a config and providers")
	}
	if p.LLM == nil || p.STT == nil {
		return nil, errors.New("app: llm and stt providers are required")
	}
	if cfg.Config.Wake.Enabled && p.VAD == nil {
		return nil, errors.New("app: wake is enabled but no vad provider is configured")
	}

	sm := &SessionManager{
		providers: p,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		cfg:       cfg.Config,
		active:    make(map[string]SessionInfo),
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}

	chain, err := sm.buildChain(cfg.Config)
	if err != nil {
		return nil, err
	}
	sm.chain = chain
	return sm, nil
}

// NewSession implements [server.SessionFactory]. The session is forgotten
// when ctx ends, which the server ties to the connection's lifetime.
func (sm *SessionManager) NewSession(ctx context.Context, remote string) (*session.Session, error) {
	sm.mu.Lock()
	cfg, chain := sm.cfg, sm.chain
	sm.mu.Unlock()

	sess, err := session.New(sessionConfig(cfg, sm.providers.VAD != nil), session.Deps{
		STT:   sm.providers.STT,
		LLM:   sm.providers.LLM,
		Synth: chain,
		VAD:   sm.providers.VAD,
		History: conversation.New(conversation.Config{
			MaxTokens:  cfg.Conversation.HistoryTokens,
			Summariser: conversation.NewLLMSummariser(sm.providers.LLM),
		}),
		Metrics: sm.metrics,
		Logger:  sm.log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: new session: %w", err)
	}

	info := SessionInfo{SessionID: sess.ID(), Remote: remote, StartedAt: time.Now().UTC()}
	sm.mu.Lock()
	sm.active[info.SessionID] = info
	sm.mu.Unlock()
	context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		delete(sm.active, info.SessionID)
		sm.mu.Unlock()
	})
	sm.log.Debug("session created", "session_id", info.SessionID, "remote", remote)
	return sess, nil
}

// Active returns the open sessions ordered by start time.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.active))
	for _, info := range sm.active {
		out = append(out, info)
	}
	sm.mu.Unlock()
	slices.SortFunc(out, func(a, b SessionInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Voices returns the voice IDs of the current synthesis chain in try order.
func (sm *SessionManager) Voices() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.chain.Voices()
}

// SynthesisAvailable reports whether any voice's circuit breaker is closed
// or probing.
func (sm *SessionManager) SynthesisAvailable() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.chain.Available()
}

// Apply switches to cfg for sessions created from now on. The synthesis
// chain is rebuilt only when the voices changed; a failure keeps the
// previous configuration.
func (sm *SessionManager) Apply(cfg *config.Config) error {
	sm.mu.Lock()
	old := sm.cfg
	sm.mu.Unlock()

	var chain *resilience.SynthesisChain
	if config.Diff(old, cfg).VoicesChanged {
		c, err := sm.buildChain(cfg)
		if err != nil {
			return err
		}
		chain = c
	}

	sm.mu.Lock()
	sm.cfg = cfg
	if chain != nil {
		sm.chain = chain
	}
	sm.mu.Unlock()
	return nil
}

// buildChain resolves each configured voice to its TTS provider.
func (sm *SessionManager) buildChain(cfg *config.Config) (*resilience.SynthesisChain, error) {
	voices := make([]resilience.Voice, 0, len(cfg.Voices))
	for _, v := range cfg.Voices {
		name := v.Provider
		if name == "" {
			name = cfg.Providers.TTS.Name
		}
		p, ok := sm.providers.TTS[name]
		if !ok || p == nil {
			return nil, fmt.Errorf("app: voice %q: tts provider %q is not available", v.ID, name)
		}
		voices = append(voices, resilience.Voice{
			Profile: tts.VoiceProfile{
				ID:       v.ID,
				Provider: name,
				Rate:     v.Rate,
				Volume:   v.Volume,
				Pitch:    v.Pitch,
			},
			Provider: p,
		})
	}

	cb := cfg.CircuitBreaker
	chain, err := resilience.NewSynthesisChain(voices, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   cb.MaxFailures,
			ResetTimeout:  cb.ResetTimeout,
			HalfOpenMax:   cb.HalfOpenMax,
			OnStateChange: breakerObserver(sm.metrics, sm.log),
		},
		OnFailure: func(voice string, _ error) {
			sm.metrics.RecordSynthesisFailure(context.Background(), voice)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return chain, nil
}

// breakerObserver logs and counts circuit breaker transitions.
func breakerObserver(m *observe.Metrics, log *slog.Logger) func(name string, from, to resilience.State) {
	return func(name string, from, to resilience.State) {
		m.RecordBreakerTransition(context.Background(), name, to.String())
		if to == resilience.StateOpen {
			log.Warn("circuit breaker opened", "name", name, "from", from.String())
			return
		}
		log.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
	}
}

// sessionConfig maps the file configuration onto one session's settings.
func sessionConfig(cfg *config.Config, haveVAD bool) session.Config {
	l := cfg.Listening
	c := cfg.Conversation
	ls := cfg.LipSync
	w := cfg.Wake
	return session.Config{
		Listen: session.ListenConfig{
			SampleRate:      l.SampleRate,
			InputSampleRate: l.InputSampleRate,
			Endpoint: endpoint.Config{
				Timeout:      l.Timeout,
				Silence:      l.Silence,
				StallTimeout: l.StallTimeout,
			},
			FinalizeTimeout: l.FinalizeTimeout,
			QueueSize:       l.QueueSize,
		},
		Reply: session.ReplyConfig{
			SystemPrompt: c.SystemPrompt,
			Temperature:  c.Temperature,
			MaxTokens:    c.MaxTokens,
			TopP:         c.TopP,
			AutoListen:   c.AutoListen,
		},
		Exit: session.ExitConfig{
			Words:    c.ExitWords,
			Farewell: c.Farewell,
			Phonetic: c.PhoneticExit,
		},
		LipSync: lipsync.Config{
			Interval: ls.Interval,
			Window:   ls.Window,
			Floor:    ls.Floor,
			Idle:     ls.Idle,
			Mumble:   ls.Mumble,
			Gain:     ls.Gain,
		},
		Wake: w.Enabled && haveVAD,
		WakeDetector: vad.Config{
			SpeechThreshold:  w.SpeechThreshold,
			SilenceThreshold: w.SilenceThreshold,
			StartFrames:      w.StartFrames,
			EndFrames:        w.EndFrames,
		},
		StreamAudio: cfg.Playback.Mode == config.PlaybackClient,
	}
}
