// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi"}, {FinishReason: "stop"}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider. Zero values produce empty
// results and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order by every StreamCompletion call.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned by StreamCompletion.
	StreamErr error

	// Gate, if non-nil, is received from before each chunk is sent. Tests use
	// it to hold a stream open.
	Gate <-chan struct{}

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount, when positive, is returned by CountTokens instead of the
	// shared estimate.
	TokenCount int

	StreamCalls   []llm.CompletionRequest
	CompleteCalls []llm.CompletionRequest
}

// StreamCompletion records the call and streams StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	gate := p.Gate
	p.mu.Unlock()

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns TokenCount or the shared estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// StreamCallCount returns the number of StreamCompletion calls. Thread-safe.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamRequest returns the most recent StreamCompletion request.
func (p *Provider) LastStreamRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.StreamCalls[len(p.StreamCalls)-1], true
}

// CompleteCallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

var _ llm.Provider = (*Provider)(nil)
