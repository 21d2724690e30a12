package session

import (
	"context"
	"regexp"
	"strings"

	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

var emphasis = regexp.MustCompile(`\*.*?\*`)

// CleanForSpeech removes *emphasis* spans, which are stage directions rather
// than words to speak, and trims the result.
func CleanForSpeech(text string) string {
	return strings.TrimSpace(emphasis.ReplaceAllString(text, ""))
}

// Relay reads chunks until the stream closes, forwarding each non-empty chunk
// as it arrives and returning the concatenated reply. An error chunk ends the
// relay with that error; the text received so far is still returned. If
// forward fails or an error chunk arrives, the rest of the stream is drained
// in the background so the producer can finish; if ctx ends, the producer is
// expected to stop on its own.
func Relay(ctx context.Context, chunks <-chan llm.Chunk, forward func(text string) error) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if err := c.Err(); err != nil {
				go audio.Drain(chunks)
				return sb.String(), err
			}
			if c.Text == "" {
				continue
			}
			sb.WriteString(c.Text)
			if err := forward(c.Text); err != nil {
				go audio.Drain(chunks)
				return sb.String(), err
			}
		}
	}
}
