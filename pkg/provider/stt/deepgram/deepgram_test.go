package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	want := map[string]string{
		"model":           "nova-3",
		"language":        "en",
		"interim_results": "true",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"endpointing":     "1500",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestBuildURL_Options(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000), WithEndpointing(300*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.Parse(rawURL)
	if q.Query().Get("model") != "base" || q.Query().Get("language") != "de-DE" ||
		q.Query().Get("sample_rate") != "48000" || q.Query().Get("endpointing") != "300" {
		t.Errorf("unexpected query: %s", q.RawQuery)
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	seg, ok := parseDeepgramResponse([]byte(`{
		"type": "Results", "is_final": true, "speech_final": true,
		"channel": {"alternatives": [{"transcript": "Hello world", "confidence": 0.95,
			"words": [{"word": "Hello", "start": 0.1, "end": 0.5, "confidence": 0.97}]}]}
	}`))
	if !ok {
		t.Fatal("expected ok for Results message")
	}
	if seg.Text != "Hello world" || !seg.IsFinal || !seg.endOfSpeech || len(seg.Words) != 1 {
		t.Errorf("unexpected segment: %+v", seg)
	}

	for _, raw := range []string{
		`{"type":"Metadata","request_id":"abc"}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		`{invalid`,
	} {
		if _, ok := parseDeepgramResponse([]byte(raw)); ok {
			t.Errorf("expected ok=false for %s", raw)
		}
	}
}

func TestAssembler(t *testing.T) {
	t.Parallel()

	var a assembler
	steps := []struct {
		seg       segment
		wantText  string
		wantFinal bool
	}{
		{segment{Transcript: stt.Transcript{Text: "hello"}}, "hello", false},
		{segment{Transcript: stt.Transcript{Text: "hello", IsFinal: true}}, "hello", false},
		{segment{Transcript: stt.Transcript{Text: "there"}}, "hello there", false},
		{segment{Transcript: stt.Transcript{Text: "there", IsFinal: true}, endOfSpeech: true}, "hello there", true},
		{segment{Transcript: stt.Transcript{Text: ""}}, "", false},
		{segment{Transcript: stt.Transcript{IsFinal: true}, endOfSpeech: true}, "", true},
	}
	for i, s := range steps {
		got := a.feed(s.seg)
		if got.Text != s.wantText || got.IsFinal != s.wantFinal {
			t.Errorf("step %d: got %q final=%v, want %q final=%v", i, got.Text, got.IsFinal, s.wantText, s.wantFinal)
		}
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestSession_FinalizeFlushes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			switch {
			case typ == websocket.MessageBinary:
				_ = c.Write(r.Context(), websocket.MessageText, []byte(
					`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"good morning"}]}}`))
			case strings.Contains(string(msg), "Finalize"):
				_ = c.Write(r.Context(), websocket.MessageText, []byte(
					`{"type":"Results","is_final":true,"from_finalize":true,"channel":{"alternatives":[{"transcript":"good morning"}]}}`))
			case strings.Contains(string(msg), "CloseStream"):
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	defer srv.Close()

	p, err := New("key", WithEndpointURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if err := h.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case p := <-h.Partials():
		if p.Text != "good morning" {
			t.Errorf("partial = %q", p.Text)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for partial")
	}

	if err := h.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	select {
	case f := <-h.Finals():
		if f.Text != "good morning" || !f.IsFinal {
			t.Errorf("final = %+v", f)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for final")
	}
}
