// Package app wires providers, sessions and the HTTP server into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, ApplyConfig takes hot
// reloads, and Shutdown tears everything down in order.
//
// For testing, inject mock providers through [Providers] and a listener via
// [WithListener].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/MrWong99/mouthpiece/internal/config"
	"github.com/MrWong99/mouthpiece/internal/health"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/server"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	"github.com/MrWong99/mouthpiece/pkg/provider/vad"
)

// Providers holds the provider instances shared by all sessions. Populated
// by main.go via the config registry.
type Providers struct {
	// LLM generates replies. Usually a [resilience.LLMFallback].
	LLM llm.Provider

	STT stt.Provider

	// TTS maps provider names to instances. Voices refer to them by name.
	TTS map[string]tts.Provider

	// VAD detects speech while idle. Nil disables wake.
	VAD vad.Engine
}

// availability is implemented by providers wrapped in circuit breakers.
type availability interface {
	Available() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	sessions       *SessionManager
	server         *server.Server
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	listener       net.Listener
	log            *slog.Logger

	// closers are called in order during Shutdown.
	closers []func() error

	mu       sync.Mutex
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the instruments shared by sessions and the HTTP layer.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets ApplyConfig change verbosity at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It fails when a
// voice refers to a missing TTS provider or the static directory is unusable.
func New(_ context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Sessions ──────────────────────────────────────────────────────
	sm, err := NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Metrics:   a.metrics,
		Logger:    a.log,
	})
	if err != nil {
		return nil, err
	}
	a.sessions = sm

	// ── 2. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	// ── 3. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	// ── 4. Provider cleanup ──────────────────────────────────────────────
	a.collectClosers()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "synthesis",
		Check: func(context.Context) error {
			if !a.sessions.SynthesisAvailable() {
				return errors.New("every voice's circuit breaker is open")
			}
			return nil
		},
	}}
	if av, ok := a.providers.LLM.(availability); ok {
		checks = append(checks, health.Checker{
			Name: "llm",
			Check: func(context.Context) error {
				if !av.Available() {
					return errors.New("every generation backend's circuit breaker is open")
				}
				return nil
			},
		})
	}
	return checks
}

func (a *App) initServer() error {
	s := a.cfg.Server
	scfg := server.Config{
		Addr:           s.ListenAddr,
		StaticDir:      s.StaticDir,
		AllowedOrigins: s.AllowedOrigins,
		ControlRate:    s.ControlRate,
		ControlBurst:   s.ControlBurst,
	}
	if s.TLS != nil {
		scfg.CertFile = s.TLS.CertFile
		scfg.KeyFile = s.TLS.KeyFile
	}
	opts := []server.Option{
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithLogger(a.log),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	srv, err := server.New(scfg, a.sessions, opts...)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// collectClosers registers every provider that holds resources.
func (a *App) collectClosers() {
	seen := make(map[any]bool)
	add := func(v any) {
		c, ok := v.(io.Closer)
		if !ok || seen[v] {
			return
		}
		seen[v] = true
		a.closers = append(a.closers, c.Close)
	}
	add(a.providers.LLM)
	add(a.providers.STT)
	for _, p := range a.providers.TTS {
		add(p)
	}
	add(a.providers.VAD)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the HTTP handler with all routes.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled or the server fails. It returns ctx's
// error in the first case; call Shutdown afterwards either way.
func (a *App) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if a.listener != nil {
			errc <- a.server.Serve(a.listener)
			return
		}
		errc <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. Changes to
// RestartRequired sections are logged and otherwise ignored until the process
// restarts.
func (a *App) ApplyConfig(next *config.Config) error {
	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()

	d := config.Diff(prev, next)
	if !d.Changed() {
		return nil
	}
	for _, section := range d.RestartRequired {
		a.log.Warn("config change requires a restart to take effect", "section", section)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}

	// Sections that need a restart keep their old values so that later
	// diffs keep reporting them.
	applied := *next
	applied.Server = prev.Server
	applied.Server.LogLevel = next.Server.LogLevel
	applied.Server.ShutdownTimeout = next.Server.ShutdownTimeout
	applied.Providers = prev.Providers
	applied.CircuitBreaker = prev.CircuitBreaker
	applied.Telemetry = prev.Telemetry

	if err := a.sessions.Apply(&applied); err != nil {
		return fmt.Errorf("app: apply config: %w", err)
	}
	a.mu.Lock()
	a.cfg = &applied
	a.mu.Unlock()
	a.log.Info("configuration applied",
		"voices_changed", d.VoicesChanged,
		"listening_changed", d.ListeningChanged,
		"conversation_changed", d.ConversationChanged,
	)
	return nil
}

// slogLevel maps a config log level onto slog.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the server, closes open sessions and releases providers. It
// is safe to call more than once; only the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("app: shutdown: %w", errors.Join(errs...))
	}
	return nil
}
