package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	llmmock "github.com/MrWong99/mouthpiece/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		primary     *llmmock.Provider
		secondary   *llmmock.Provider
		wantContent string
		wantErr     error
	}{
		{
			name:        "primary success",
			primary:     &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "primary"}},
			secondary:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}},
			wantContent: "primary",
		},
		{
			name:        "failover",
			primary:     &llmmock.Provider{CompleteErr: errors.New("primary down")},
			secondary:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}},
			wantContent: "secondary",
		},
		{
			name:      "all fail",
			primary:   &llmmock.Provider{CompleteErr: errors.New("primary down")},
			secondary: &llmmock.Provider{CompleteErr: errors.New("secondary down")},
			wantErr:   ErrAllFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fb := NewLLMFallback(tt.primary, "primary", FallbackConfig{})
			fb.AddFallback("secondary", tt.secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != tt.wantContent {
				t.Fatalf("content = %q, want %q", resp.Content, tt.wantContent)
			}
		})
	}
}

func TestLLMFallback_StreamCompletion_Failover(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{StreamErr: errors.New("stream failed")}
	secondary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "chunk1"}, {Text: "chunk2", FinishReason: "stop"}},
	}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var chunks []llm.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || chunks[0].Text != "chunk1" {
		t.Fatalf("chunks = %+v", chunks)
	}
	if got := fb.Backends(); len(got) != 2 || got[1] != "secondary" {
		t.Fatalf("Backends() = %v", got)
	}
}

func TestLLMFallback_CountTokensUsesPrimary(t *testing.T) {
	t.Parallel()

	fb := NewLLMFallback(&llmmock.Provider{TokenCount: 42}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{TokenCount: 7})

	n, err := fb.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "test"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Fatalf("count = %d, want 42", n)
	}
}
