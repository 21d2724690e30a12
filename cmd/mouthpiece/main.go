// Command mouthpiece is the main entry point for the mouthpiece voice front end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/mouthpiece/internal/app"
	"github.com/MrWong99/mouthpiece/internal/config"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm/anyllm"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm/openai"
	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
	"github.com/MrWong99/mouthpiece/pkg/provider/stt/deepgram"
	"github.com/MrWong99/mouthpiece/pkg/provider/stt/vosk"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts/edge"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/mouthpiece/pkg/provider/vad"
	"github.com/MrWong99/mouthpiece/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listVoices := flag.Bool("list-voices", false, "print the voices offered by the configured TTS providers and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mouthpiece: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mouthpiece: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(newLogger(cfg.Server.LogLevel, &level))

	slog.Info("mouthpiece starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Instance:       cfg.Server.ListenAddr,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	if *listVoices {
		if err := printVoices(ctx, providers.TTS); err != nil {
			slog.Error("failed to list voices", "err", err)
			return 1
		}
		return 0
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
		app.WithLogLevel(&level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		if err := application.ApplyConfig(next); err != nil {
			slog.Warn("config reload rejected", "err", err)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), application.Config().Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping", "open_sessions", len(application.Sessions().Active()))

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are served through any-llm-go. openai and groq use the
// OpenAI-compatible client directly.
var anyllmBackends = []string{"anthropic", "gemini", "deepseek", "mistral", "ollama", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, name := range []string{"openai", "groq"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []openai.Option
			if entry.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(entry.BaseURL))
			}
			if d := optDuration(entry.Options, "timeout"); d > 0 {
				opts = append(opts, openai.WithTimeout(d))
			}
			p, err := openai.New(entry.APIKey, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	for _, name := range anyllmBackends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(name, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("vosk", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []vosk.Option
		if n := optInt(entry.Options, "max_alternatives"); n > 0 {
			opts = append(opts, vosk.WithMaxAlternatives(n))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, vosk.WithSampleRate(rate))
		}
		p, err := vosk.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpointURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		if d := optDuration(entry.Options, "endpointing"); d > 0 {
			opts = append(opts, deepgram.WithEndpointing(d))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("edge", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []edge.Option
		if entry.BaseURL != "" {
			opts = append(opts, edge.WithEndpoint(entry.BaseURL))
		}
		if u := optString(entry.Options, "voices_url"); u != "" {
			opts = append(opts, edge.WithVoicesURL(u))
		}
		connect, receive := optDuration(entry.Options, "connect_timeout"), optDuration(entry.Options, "receive_timeout")
		if connect > 0 || receive > 0 {
			opts = append(opts, edge.WithTimeouts(connect, receive))
		}
		return edge.New(opts...), nil
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoints(entry.BaseURL, optString(entry.Options, "voices_url")))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for _, kind := range []string{"llm", "stt", "tts", "vad"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{TTS: make(map[string]tts.Provider)}

	// ── LLM with fallbacks ────────────────────────────────────────────────────
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	cb := cfg.CircuitBreaker
	fb := resilience.NewLLMFallback(primary, llmLabel(cfg.Providers.LLM), resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
				slog.Warn("llm circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
			},
		},
		OnFailure: func(name string, err error) {
			metrics.RecordProviderError(context.Background(), name, "llm")
			slog.Warn("llm backend failed, trying next", "backend", name, "err", err)
		},
	})
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(llmLabel(entry), p)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	ps.LLM = fb

	// ── STT ───────────────────────────────────────────────────────────────────
	ps.STT, err = reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	// ── TTS ───────────────────────────────────────────────────────────────────
	for _, entry := range append([]config.ProviderEntry{cfg.Providers.TTS}, cfg.Providers.TTSExtra...) {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.TTS[entry.Name] = p
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	// ── VAD (optional) ────────────────────────────────────────────────────────
	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("vad provider not available, wake disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	return ps, nil
}

// llmLabel names a generation backend in logs, metrics and breakers.
func llmLabel(entry config.ProviderEntry) string {
	if entry.Model == "" {
		return entry.Name
	}
	return entry.Name + "/" + entry.Model
}

// ── Voice listing ─────────────────────────────────────────────────────────────

func printVoices(ctx context.Context, providers map[string]tts.Provider) error {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lister, ok := providers[name].(tts.VoiceLister)
		if !ok {
			fmt.Printf("%s: voice listing not supported\n", name)
			continue
		}
		lctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		voices, err := lister.ListVoices(lctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Printf("%s (%d voices)\n", name, len(voices))
		for _, v := range voices {
			fmt.Printf("  %-36s %s\n", v.ID, v.Name)
		}
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

var (
	summaryBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00ff9f")).
			Padding(0, 1)
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	summaryLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Width(14)
)

func printStartupSummary(cfg *config.Config) {
	voices := make([]string, len(cfg.Voices))
	for i, v := range cfg.Voices {
		voices[i] = v.ID
	}
	fallbacks := make([]string, len(cfg.Providers.LLMFallbacks))
	for i, e := range cfg.Providers.LLMFallbacks {
		fallbacks[i] = llmLabel(e)
	}

	rows := [][2]string{
		{"LLM", llmLabel(cfg.Providers.LLM)},
		{"LLM fallback", orNone(strings.Join(fallbacks, ", "))},
		{"STT", cfg.Providers.STT.Name},
		{"TTS", cfg.Providers.TTS.Name},
		{"Voices", strings.Join(voices, " → ")},
		{"Playback", string(cfg.Playback.Mode)},
		{"Wake", fmt.Sprintf("%t", cfg.Wake.Enabled)},
		{"Static dir", cfg.Server.StaticDir},
		{"Listen addr", cfg.Server.ListenAddr},
	}
	lines := []string{summaryTitle.Render("mouthpiece " + version)}
	for _, r := range rows {
		lines = append(lines, summaryLabel.Render(r[0])+r[1])
	}
	fmt.Println(summaryBorder.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, lv *slog.LevelVar) *slog.Logger {
	switch level {
	case config.LogDebug:
		lv.Set(slog.LevelDebug)
	case config.LogWarn:
		lv.Set(slog.LevelWarn)
	case config.LogError:
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer; YAML numbers may decode as int or float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration string such as "10s".
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s)
		return 0
	}
	return d
}
