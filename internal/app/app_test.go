package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/mouthpiece/internal/app"
	"github.com/MrWong99/mouthpiece/internal/config"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	llmmock "github.com/MrWong99/mouthpiece/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/mouthpiece/pkg/provider/stt/mock"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mouthpiece/pkg/provider/tts/mock"
)

// testConfig returns a defaulted config serving a temporary web root.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	cfg.Server.StaticDir = dir
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns mock providers; TTS is registered as "edge".
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello."}}},
		STT: &sttmock.Provider{},
		TTS: map[string]tts.Provider{"edge": &ttsmock.Provider{Result: &tts.Result{
			Audio:    []byte{1, 2, 3},
			Format:   tts.FormatMP3,
			Duration: 10 * time.Millisecond,
		}}},
	}
}

func get(t *testing.T, h http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	for _, path := range []string{"/", "/healthz", "/readyz"} {
		if code := get(t, a.Handler(), path); code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, code)
		}
	}
	want := []string{"en-IE-EmilyNeural", "en-US-AriaNeural", "en-US-JennyNeural"}
	if got := a.Sessions().Voices(); !slices.Equal(got, want) {
		t.Errorf("voices = %v, want %v", got, want)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config, *app.Providers)
	}{
		{"missing llm", func(_ *config.Config, p *app.Providers) { p.LLM = nil }},
		{"missing stt", func(_ *config.Config, p *app.Providers) { p.STT = nil }},
		{"voice provider not built", func(c *config.Config, _ *app.Providers) { c.Voices[1].Provider = "elevenlabs" }},
		{"wake without vad", func(c *config.Config, _ *app.Providers) { c.Wake.Enabled = true }},
		{"missing static dir", func(c *config.Config, _ *app.Providers) { c.Server.StaticDir = filepath.Join(os.TempDir(), "mouthpiece-missing-web") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, p := testConfig(t), testProviders()
			tt.mutate(cfg, p)
			if _, err := app.New(context.Background(), cfg, p); err == nil {
				t.Fatal("New() succeeded, want error")
			}
		})
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithListener(ln))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if code := get(t, a.Handler(), "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("readyz after shutdown = %d, want 503", code)
	}
}

// closingSTT records Close.
type closingSTT struct {
	*sttmock.Provider
	closed atomic.Bool
}

func (c *closingSTT) Close() error {
	c.closed.Store(true)
	return nil
}

func TestShutdown_ClosesProviders(t *testing.T) {
	t.Parallel()

	p := testProviders()
	stt := &closingSTT{Provider: &sttmock.Provider{}}
	p.STT = stt
	a, err := app.New(context.Background(), testConfig(t), p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !stt.closed.Load() {
		t.Error("STT provider was not closed")
	}
}

func TestReadyz_AllGenerationBackendsOpen(t *testing.T) {
	t.Parallel()

	fb := resilience.NewLLMFallback(&llmmock.Provider{StreamErr: errors.New("503")}, "groq", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	p := testProviders()
	p.LLM = fb
	a, err := app.New(context.Background(), testConfig(t), p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if code := get(t, a.Handler(), "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz before failures = %d", code)
	}

	if _, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("StreamCompletion should fail")
	}
	if code := get(t, a.Handler(), "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("readyz with open breaker = %d, want 503", code)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, testProviders(), app.WithLogLevel(&level))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next := testConfig(t)
	next.Server.LogLevel = config.LogDebug
	next.Server.ListenAddr = "0.0.0.0:9000"
	next.Voices = next.Voices[2:]
	next.Conversation.Farewell = "Later!"
	if err := a.ApplyConfig(next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if got := a.Sessions().Voices(); !slices.Equal(got, []string{"en-US-JennyNeural"}) {
		t.Errorf("voices = %v", got)
	}
	cur := a.Config()
	if cur.Conversation.Farewell != "Later!" {
		t.Errorf("farewell = %q", cur.Conversation.Farewell)
	}
	if cur.Server.ListenAddr != cfg.Server.ListenAddr {
		t.Errorf("listen addr = %q, want the address the server was started with", cur.Server.ListenAddr)
	}
	if cur.Server.StaticDir != cfg.Server.StaticDir {
		t.Errorf("static dir changed to %q", cur.Server.StaticDir)
	}
}

func TestApplyConfig_BadVoicesKeepPrevious(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := a.Sessions().Voices()

	next := testConfig(t)
	next.Voices[0].Provider = "missing"
	if err := a.ApplyConfig(next); err == nil {
		t.Fatal("ApplyConfig accepted a voice with an unknown provider")
	}
	if got := a.Sessions().Voices(); !slices.Equal(got, before) {
		t.Errorf("voices = %v, want %v", got, before)
	}
}
