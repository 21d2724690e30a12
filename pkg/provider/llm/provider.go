// Package llm defines the Provider interface for text-generation backends.
//
// A provider consumes an ordered message history and returns the reply as a
// stream of text chunks. The session pipeline relays each chunk to the client
// the moment it arrives, so StreamCompletion is the primary entry point;
// Complete exists for background work such as summarising old history.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed when the stream ends or ctx is cancelled.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a chunk that reports a failure after the stream
// started. Its Text holds the error message.
const FinishReasonError = "error"

// Message is a single entry in a conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// Messages is the ordered history. The last entry is usually the user turn
	// that drives the reply.
	Messages []Message

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int

	// TopP enables nucleus sampling when in (0, 1]. Zero leaves the provider
	// default. Providers that cannot honour it ignore it.
	TopP float64
}

// Chunk is one fragment of a streamed reply.
type Chunk struct {
	// Text is the incremental reply text. May be empty.
	Text string

	// FinishReason is set on the last chunk: "stop", "length", or
	// FinishReasonError.
	FinishReason string
}

// Err returns a non-nil error when the chunk reports a mid-stream failure.
func (c Chunk) Err() error {
	if c.FinishReason != FinishReasonError {
		return nil
	}
	return &StreamError{Message: c.Text}
}

// StreamError is a failure reported through the chunk stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llm: stream: " + e.Message }

// Usage holds token accounting for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// StreamCompletion starts generating a reply and returns a channel of
	// chunks. The initial error is non-nil only if the stream could not start;
	// later failures arrive as a chunk with FinishReasonError. The channel is
	// never nil when the error is nil, and callers must drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete generates a reply and waits for all of it.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages occupy in the model's
	// context window. It should not undercount.
	CountTokens(messages []Message) (int, error)
}

// EstimateTokens is the fallback token estimate shared by providers without
// a tokenizer: about four characters per token plus per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
