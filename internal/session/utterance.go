package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/mouthpiece/internal/lipsync"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

// beginUtterance moves to thinking and starts the worker for text. The loop
// guarantees no other utterance is in flight.
func (s *Session) beginUtterance(ctx context.Context, text string) {
	s.setState(StateThinking)
	s.emitStatus(ctx, StatusThinking)
	s.group.Go(func() error {
		s.utterDone <- s.runUtterance(ctx, text)
		return nil
	})
}

// runUtterance generates, synthesizes and plays the reply to text. Failures
// of collaborators are classified here; only generation failures are
// reported as errors.
func (s *Session) runUtterance(ctx context.Context, text string) utteranceResult {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "session.utterance")
	defer span.End()
	log := observe.WithTrace(ctx, s.log)

	if s.exit.Match(text) {
		log.Info("exit word heard", "text", text)
		s.speak(ctx, s.cfg.Exit.Farewell)
		s.emit(ctx, Event{Type: EventAssistantFinal, Text: s.cfg.Exit.Farewell})
		return utteranceResult{end: true}
	}

	user := llm.Message{Role: llm.RoleUser, Content: text}
	reply, err := s.generate(ctx, s.history.With(user))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return utteranceResult{err: err}
	}

	outcome := s.speak(ctx, CleanForSpeech(reply))
	if ctx.Err() != nil {
		return utteranceResult{err: ctx.Err()}
	}
	s.emit(ctx, Event{Type: EventAssistantFinal, Text: reply})

	if reply != "" {
		s.history.Append(ctx, user, llm.Message{Role: llm.RoleAssistant, Content: reply})
	}
	s.metrics.UtteranceDuration.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))
	log.Debug("utterance complete", "outcome", outcome, "reply_chars", len(reply))
	return utteranceResult{outcome: outcome}
}

// generate streams the reply, forwarding every chunk as it arrives.
func (s *Session) generate(ctx context.Context, history []llm.Message) (string, error) {
	ctx, span := observe.StartSpan(ctx, "session.generate")
	defer span.End()
	start := time.Now()

	req := llm.CompletionRequest{
		Messages:     history,
		SystemPrompt: s.cfg.Reply.SystemPrompt,
		Temperature:  s.cfg.Reply.Temperature,
		MaxTokens:    s.cfg.Reply.MaxTokens,
		TopP:         s.cfg.Reply.TopP,
	}
	chunks, err := s.deps.LLM.StreamCompletion(ctx, req)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "stream")
		return "", fmt.Errorf("session: generate: %w", err)
	}

	reply, err := Relay(ctx, chunks, func(chunk string) error {
		if !s.emit(ctx, Event{Type: EventAssistantChunk, Text: chunk}) {
			return ctx.Err()
		}
		return nil
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "stream")
		return reply, fmt.Errorf("session: generate: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "llm", "stream", "ok")
	return reply, nil
}

// speak synthesizes text and plays it with lip-sync. It returns the utterance
// outcome; running out of voices is a degraded outcome, not an error.
func (s *Session) speak(ctx context.Context, text string) string {
	ctx, span := observe.StartSpan(ctx, "session.synthesize")
	start := time.Now()
	out, err := s.deps.Synth.Synthesize(ctx, text)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	log := observe.WithTrace(ctx, s.log)
	span.End()
	if err != nil {
		return observe.OutcomeNoAudio
	}
	for _, f := range out.Failures {
		log.Debug("voice failed", "voice", f.Name, "err", f.Err)
	}
	if out.NoAudio() {
		if text != "" {
			log.Warn("no voice produced audio, replying with text only", "voices_tried", len(out.Failures))
		}
		return observe.OutcomeNoAudio
	}
	s.play(ctx, out.Voice, out.Result)
	return observe.OutcomeReplied
}

// play starts playback and drives lip values until it ends. The closing 0.0
// is emitted only after playback has stopped.
func (s *Session) play(ctx context.Context, voice string, res *tts.Result) {
	pb, err := s.player.Play(ctx, audio.Clip{Audio: res.Audio, Format: res.Format, Duration: res.Duration})
	if err != nil {
		s.log.Warn("playback failed", "voice", voice, "err", err)
		return
	}
	s.setState(StateSpeaking)

	// The lip loop is its own task; the reply waits for playback and then
	// for the loop's closing value.
	lips := make(chan lipsync.Stats, 1)
	s.group.Go(func() error {
		lips <- s.lip.Run(ctx, pb, res.Markers, func(v float64) {
			s.emit(ctx, Event{Type: EventLip, Value: v})
		})
		return nil
	})
	<-pb.Done()
	st := <-lips
	s.metrics.RecordLipValues(ctx, string(st.Mode), st.Samples+1)
}
