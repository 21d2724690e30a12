package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		check   func(*testing.T, any)
		wantErr bool
	}{
		{role: llm.RoleSystem},
		{role: llm.RoleUser},
		{role: llm.RoleAssistant},
		{role: "tool", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()
			got, err := convertMessage(llm.Message{Role: tt.role, Content: "x"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch tt.role {
			case llm.RoleSystem:
				if got.OfSystem == nil {
					t.Error("expected OfSystem")
				}
			case llm.RoleUser:
				if got.OfUser == nil {
					t.Error("expected OfUser")
				}
			case llm.RoleAssistant:
				if got.OfAssistant == nil {
					t.Error("expected OfAssistant")
				}
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := New("k", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

// sseServer replies to a streaming chat completion with the given deltas and
// captures the decoded request body.
func sseServer(t *testing.T, deltas []string, gotBody chan<- map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		gotBody <- body

		w.Header().Set("Content-Type", "text/event-stream")
		for i, d := range deltas {
			finish := "null"
			if i == len(deltas)-1 {
				finish = `"stop"`
			}
			content, _ := json.Marshal(d)
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%s},\"finish_reason\":%s}]}\n\n", content, finish)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamCompletion(t *testing.T) {
	t.Parallel()

	gotBody := make(chan map[string]any, 1)
	srv := sseServer(t, []string{"Hel", "lo *waves*", "!"}, gotBody)
	defer srv.Close()

	p, err := New("key", "llama-3.3-70b-versatile", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature:  0.7,
		MaxTokens:    1024,
		TopP:         0.95,
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var sb strings.Builder
	var finish string
	for c := range ch {
		if c.Err() != nil {
			t.Fatalf("stream error: %v", c.Err())
		}
		sb.WriteString(c.Text)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if sb.String() != "Hello *waves*!" {
		t.Errorf("reply = %q", sb.String())
	}
	if finish != "stop" {
		t.Errorf("finish = %q, want stop", finish)
	}

	body := <-gotBody
	if body["model"] != "llama-3.3-70b-versatile" {
		t.Errorf("model = %v", body["model"])
	}
	if body["top_p"] != 0.95 || body["temperature"] != 0.7 {
		t.Errorf("sampling params = top_p %v temperature %v", body["top_p"], body["temperature"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v, want system + user", body["messages"])
	}
}
