package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mouthpiece/internal/health"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/internal/server"
	"github.com/MrWong99/mouthpiece/internal/session"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	llmmock "github.com/MrWong99/mouthpiece/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/mouthpiece/pkg/provider/stt/mock"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mouthpiece/pkg/provider/tts/mock"
)

// sessionFactory builds sessions backed by mocks.
type sessionFactory struct {
	mu       sync.Mutex
	sessions []*session.Session
	err      error
}

func (f *sessionFactory) NewSession(_ context.Context, _ string) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	voice := &ttsmock.Provider{Result: &tts.Result{
		Audio:    []byte{0xff, 0xf3, 0x44},
		Format:   tts.FormatMP3,
		Markers:  []tts.Marker{{Offset: 0}},
		Duration: 40 * time.Millisecond,
	}}
	chain, err := resilience.NewSynthesisChain([]resilience.Voice{
		{Profile: tts.VoiceProfile{ID: "en-IE-EmilyNeural"}, Provider: voice},
	}, resilience.FallbackConfig{})
	if err != nil {
		return nil, err
	}
	sess, err := session.New(session.Config{StreamAudio: true}, session.Deps{
		STT:   &sttmock.Provider{},
		LLM:   &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello "}, {Text: "there."}}},
		Synth: chain,
	})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, sess)
	f.mu.Unlock()
	return sess, nil
}

func newServer(t *testing.T, f server.SessionFactory, opts ...server.Option) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{StaticDir: newWebRoot(t)}, f, opts...)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type received struct {
	Type     string   `json:"type"`
	State    string   `json:"state"`
	Text     string   `json:"text"`
	Message  string   `json:"message"`
	Value    *float64 `json:"value"`
	Format   string   `json:"format"`
	Duration float64  `json:"duration"`

	binary []byte
}

// readUntil reads messages up to and including the first that matches stop.
func readUntil(t *testing.T, conn *websocket.Conn, stop func(received) bool) []received {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []received
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read after %d messages: %v", len(out), err)
		}
		var m received
		if typ == websocket.MessageBinary {
			m = received{Type: "<binary>", binary: data}
		} else if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("server sent invalid JSON %q: %v", data, err)
		}
		out = append(out, m)
		if stop(m) {
			return out
		}
	}
}

func statusIs(state string) func(received) bool {
	return func(m received) bool { return m.Type == "status" && m.State == state }
}

func TestWebsocket_TextRoundTrip(t *testing.T) {
	t.Parallel()

	hs := httptest.NewServer(newServer(t, &sessionFactory{}).Handler())
	t.Cleanup(hs.Close)
	conn := dial(t, hs.URL)

	// Garbage and unknown messages are ignored without closing the socket.
	send(t, conn, "not json")
	send(t, conn, `{"type":"dance"}`)
	// Audio outside listening is ignored.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	send(t, conn, `{"type":"text","text":"hello"}`)

	msgs := readUntil(t, conn, statusIs("idle"))

	var types []string
	for _, m := range msgs {
		if m.Type != "lip" {
			types = append(types, m.Type)
		}
	}
	want := []string{"status", "assistant_chunk", "assistant_chunk", "audio", "<binary>", "assistant_final", "status"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("message types = %v, want %v", types, want)
	}
	if msgs[0].State != "thinking" {
		t.Errorf("first status = %q", msgs[0].State)
	}

	var audioIdx int
	for i, m := range msgs {
		if m.Type == "audio" {
			audioIdx = i
		}
	}
	if a := msgs[audioIdx]; a.Format != tts.FormatMP3 || a.Duration != 0.04 {
		t.Errorf("audio header = %+v", a)
	}
	if b := msgs[audioIdx+1]; len(b.binary) != 3 {
		t.Errorf("audio payload = %v", b.binary)
	}

	final := msgs[len(msgs)-2]
	if final.Text != "Hello there." {
		t.Errorf("assistant_final = %q", final.Text)
	}
	lastLip := msgs[len(msgs)-3]
	if lastLip.Type != "lip" || lastLip.Value == nil || *lastLip.Value != 0 {
		t.Errorf("message before assistant_final = %+v, want lip 0", lastLip)
	}
}

func TestWebsocket_FarewellClosesNormally(t *testing.T) {
	t.Parallel()

	hs := httptest.NewServer(newServer(t, &sessionFactory{}).Handler())
	t.Cleanup(hs.Close)
	conn := dial(t, hs.URL)

	send(t, conn, `{"type":"text","text":"Goodbye."}`)
	msgs := readUntil(t, conn, func(m received) bool { return m.Type == "assistant_final" })
	if got := msgs[len(msgs)-1].Text; got != "Goodbye!" {
		t.Errorf("farewell = %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Errorf("close status = %v (err %v), want normal closure", status, err)
	}
}

func TestWebsocket_SessionFactoryFailure(t *testing.T) {
	t.Parallel()

	hs := httptest.NewServer(newServer(t, &sessionFactory{err: errors.New("no voices")}).Handler())
	t.Cleanup(hs.Close)
	conn := dial(t, hs.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusInternalError {
		t.Errorf("close status = %v, want internal error", status)
	}
}

func TestWebsocket_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	hs := httptest.NewServer(newServer(t, &sessionFactory{}).Handler())
	t.Cleanup(hs.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	if err == nil {
		t.Fatal("dial with foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v, want 403", resp)
	}
}

func TestWebsocket_ControlRateLimited(t *testing.T) {
	t.Parallel()

	f := &sessionFactory{}
	srv, err := server.New(server.Config{StaticDir: newWebRoot(t), ControlRate: 0.001, ControlBurst: 1}, f)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	conn := dial(t, hs.URL)

	send(t, conn, `{"type":"text","text":"first"}`)
	readUntil(t, conn, statusIs("idle"))
	send(t, conn, `{"type":"text","text":"second"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, data, err := conn.Read(ctx); err == nil {
		t.Fatalf("rate-limited message produced %s", data)
	}
}

func TestWebsocket_ListenTogglesBypassRateLimit(t *testing.T) {
	t.Parallel()

	srv, err := server.New(server.Config{StaticDir: newWebRoot(t), ControlRate: 0.001, ControlBurst: 1}, &sessionFactory{})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	conn := dial(t, hs.URL)

	send(t, conn, `{"type":"text","text":"first"}`)
	readUntil(t, conn, statusIs("idle"))
	send(t, conn, `{"type":"text","text":"second"}`)
	send(t, conn, `not json`)

	send(t, conn, `{"type":"start_listen"}`)
	for _, m := range readUntil(t, conn, statusIs("listening")) {
		if m.Type == "assistant_chunk" || m.Type == "assistant_final" {
			t.Fatalf("rate-limited text produced %s", m.Type)
		}
	}
	send(t, conn, `{"type":"stop_listen"}`)
	readUntil(t, conn, func(m received) bool { return m.Type == "status" && m.State != "listening" })
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	srv := newServer(t, &sessionFactory{},
		server.WithHealth(health.New()),
		server.WithMetricsHandler(promhttp.Handler()),
	)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	tests := []struct {
		path string
		want int
	}{
		{"/", http.StatusOK},
		{"/app.js", http.StatusOK},
		{"/nope.css", http.StatusNotFound},
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/ws", http.StatusUpgradeRequired},
	}
	for _, tt := range tests {
		resp, err := http.Get(hs.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	h := health.New()
	srv := newServer(t, &sessionFactory{}, server.WithHealth(h))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	conn := dial(t, "http://"+ln.Addr().String())
	send(t, conn, `{"type":"start_listen"}`)
	readUntil(t, conn, statusIs("listening"))

	closed := make(chan websocket.StatusCode, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				closed <- websocket.CloseStatus(err)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
	if status := <-closed; status != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", status)
	}

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz after shutdown = %d, want 503", rec.Code)
	}
}
