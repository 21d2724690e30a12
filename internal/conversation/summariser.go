package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

const summarisationPrompt = `Summarise the following spoken conversation between a user and an assistant.
Keep names, facts the user shared, open questions and anything the assistant promised.
Write plain prose in at most five sentences.`

// Summariser condenses a run of turns into a short text.
type Summariser interface {
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser asks a generation backend for the summary.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser returns an [LLMSummariser] backed by provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats messages as a transcript and requests a summary.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
		MaxTokens:    256,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}
