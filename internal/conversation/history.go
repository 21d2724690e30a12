// Package conversation keeps the per-session message history that is sent to
// the generation backend with every user turn.
//
// History is bounded by an estimated token budget. When a new turn pushes the
// estimate over budget, the oldest half of the turns is condensed by a
// [Summariser] into one system message. If summarising fails those turns are
// dropped instead, so a broken backend never lets the history grow without
// bound.
package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

const summaryPrefix = "Summary of the earlier conversation: "

// Config configures a [History].
type Config struct {
	// MaxTokens is the estimated budget for turns plus summary. Zero disables
	// trimming.
	MaxTokens int

	// Summariser condenses trimmed turns. Nil drops them.
	Summariser Summariser
}

// History is an ordered list of user and assistant messages plus an optional
// running summary. It is safe for concurrent use.
type History struct {
	maxTokens  int
	summariser Summariser

	mu       sync.Mutex
	summary  string
	messages []llm.Message
}

// New returns an empty history.
func New(cfg Config) *History {
	return &History{maxTokens: cfg.MaxTokens, summariser: cfg.Summariser}
}

// Messages returns a copy of the history ready to send to the backend. The
// summary, if any, comes first as a system message.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, 0, len(h.messages)+1)
	if h.summary != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: summaryPrefix + h.summary})
	}
	return append(out, h.messages...)
}

// With returns the history followed by extra, without modifying h.
func (h *History) With(extra ...llm.Message) []llm.Message {
	return append(h.Messages(), extra...)
}

// Len returns the number of stored turns, excluding the summary.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Summary returns the running summary.
func (h *History) Summary() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary
}

// TokenEstimate returns the estimated size of Messages.
func (h *History) TokenEstimate() int {
	return llm.EstimateTokens(h.Messages())
}

// Append adds msgs and trims the history if it is now over budget. The
// summariser is called without holding the lock.
func (h *History) Append(ctx context.Context, msgs ...llm.Message) {
	h.mu.Lock()
	h.messages = append(h.messages, msgs...)
	over := h.overBudgetLocked()
	h.mu.Unlock()

	for over {
		if !h.trim(ctx) {
			return
		}
		h.mu.Lock()
		over = h.overBudgetLocked()
		h.mu.Unlock()
	}
}

// Reset clears turns and summary.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.summary = ""
}

func (h *History) overBudgetLocked() bool {
	if h.maxTokens <= 0 || len(h.messages) < 2 {
		return false
	}
	all := h.messages
	if h.summary != "" {
		all = append([]llm.Message{{Role: llm.RoleSystem, Content: summaryPrefix + h.summary}}, all...)
	}
	return llm.EstimateTokens(all) > h.maxTokens
}

// trim condenses the oldest half of the turns. It reports whether anything
// was removed.
func (h *History) trim(ctx context.Context) bool {
	h.mu.Lock()
	half := len(h.messages) / 2
	if half == 0 {
		h.mu.Unlock()
		return false
	}
	oldest := make([]llm.Message, 0, half+1)
	if h.summary != "" {
		oldest = append(oldest, llm.Message{Role: llm.RoleSystem, Content: h.summary})
	}
	oldest = append(oldest, h.messages[:half]...)
	h.mu.Unlock()

	var summary string
	if h.summariser != nil {
		s, err := h.summariser.Summarise(ctx, oldest)
		if err != nil {
			slog.Warn("conversation: summary failed, dropping oldest turns", "turns", half, "err", err)
		} else {
			summary = s
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if half > len(h.messages) {
		half = len(h.messages)
	}
	h.messages = append([]llm.Message(nil), h.messages[half:]...)
	if summary != "" {
		h.summary = summary
	}
	slog.Debug("conversation: trimmed history", "removed", half, "remaining", len(h.messages))
	return half > 0
}
