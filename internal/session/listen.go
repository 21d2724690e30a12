package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mouthpiece/internal/endpoint"
	"github.com/MrWong99/mouthpiece/internal/lipsync"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
)

// listening is the state of one listening phase. Only the loop goroutine
// touches it, except for queue and flush which the ingestion goroutine reads.
type listening struct {
	handle    stt.SessionHandle
	cancel    context.CancelFunc
	partials  <-chan stt.Transcript
	finals    <-chan stt.Transcript
	queue     *audio.FrameQueue
	resampler *audio.Resampler
	det       *endpoint.Detector
	timer     *time.Timer
	started   time.Time

	lastPartial string
	finalizing  bool
	finalizeBy  time.Time

	// flush tells the ingestion goroutine to request the final result once
	// the queue is drained.
	flush atomic.Bool
}

func (s *Session) startListening(ctx context.Context, trigger string) {
	rate := s.cfg.Listen.SampleRate
	lctx, cancel := context.WithCancel(ctx)
	h, err := s.deps.STT.StartStream(lctx, stt.StreamConfig{SampleRate: rate, Channels: audio.DefaultChannels})
	if err != nil {
		cancel()
		s.metrics.RecordProviderError(ctx, "stt", "start_stream")
		s.fail(ctx, fmt.Errorf("session: start recognizer: %w", err))
		return
	}
	s.metrics.RecordProviderRequest(ctx, "stt", "start_stream", "ok")

	now := time.Now()
	l := &listening{
		handle:    h,
		cancel:    cancel,
		partials:  h.Partials(),
		finals:    h.Finals(),
		resampler: &audio.Resampler{Target: rate},
		det:       endpoint.New(s.cfg.Listen.Endpoint, now),
		timer:     time.NewTimer(s.cfg.Listen.Endpoint.Timeout),
		started:   now,
		queue: audio.NewFrameQueue(s.cfg.Listen.QueueSize, audio.WithDropHook(func() {
			s.metrics.RecordDroppedFrames(context.Background(), 1)
		})),
	}
	s.listen = l
	s.group.Go(func() error {
		s.ingest(lctx, l)
		return nil
	})
	if s.wake != nil {
		s.wake.Reset()
	}

	s.setState(StateListening)
	s.log.Debug("listening", "trigger", trigger)
	s.emitStatus(ctx, StatusListening)
}

// ingest is the single consumer of the frame queue and the only writer to
// the recognizer.
func (s *Session) ingest(ctx context.Context, l *listening) {
	for f := range l.queue.Frames() {
		if ctx.Err() != nil {
			return
		}
		if err := l.handle.SendAudio(f.Data); err != nil {
			if errors.Is(err, stt.ErrSessionClosed) || ctx.Err() != nil {
				return
			}
			s.log.Debug("recognizer rejected audio", "err", err)
		}
	}
	if !l.flush.Load() || ctx.Err() != nil {
		return
	}
	if err := l.handle.Finalize(); err != nil {
		s.log.Warn("recognizer finalize failed", "err", err)
	}
}

// feed emits the amplitude lip value for a frame and queues it for the
// recognizer.
func (s *Session) feed(ctx context.Context, pcm []byte) {
	l := s.listen
	f := l.resampler.Convert(audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.cfg.Listen.InputSampleRate,
		Channels:   audio.DefaultChannels,
		Timestamp:  time.Since(l.started),
	})
	if len(f.Data) == 0 {
		return
	}
	l.det.Audio(f.Duration())
	s.emit(ctx, Event{Type: EventLip, Value: lipsync.Amplitude(f.Data, s.lip.Config().Gain)})
	s.metrics.RecordLipValues(ctx, string(lipsync.ModeAmplitude), 1)
	l.queue.Push(f)
}

func (s *Session) onPartial(ctx context.Context, t stt.Transcript, ok bool) {
	l := s.listen
	if !ok {
		l.partials = nil
		return
	}
	if l.finalizing {
		return
	}
	text := trimmed(t.Text)
	if text != "" && text != l.lastPartial {
		l.lastPartial = text
		s.emit(ctx, Event{Type: EventPartial, Text: text})
	}
	switch l.det.Partial(time.Now(), text) {
	case endpoint.NoSpeech:
		s.endListening(ctx, "")
	case endpoint.Finalize:
		s.finalize("silence")
	default:
		s.armTimer()
	}
}

func (s *Session) onFinal(ctx context.Context, t stt.Transcript, ok bool) {
	l := s.listen
	if !ok {
		if l.finalizing {
			s.endListening(ctx, "")
			return
		}
		s.stopListening()
		s.fail(ctx, errors.New("session: recognizer stream ended"))
		return
	}
	text := trimmed(t.Text)
	if text == "" && !l.finalizing {
		// The recognizer reports empty finals at its own pauses.
		return
	}
	l.det.Final()
	s.endListening(ctx, text)
}

func (s *Session) onTimer(ctx context.Context) {
	l := s.listen
	now := time.Now()
	if l.finalizing {
		if now.Before(l.finalizeBy) {
			s.armTimer()
			return
		}
		s.log.Warn("recognizer did not deliver a final result", "waited", s.cfg.Listen.FinalizeTimeout)
		s.endListening(ctx, "")
		return
	}
	switch l.det.Tick(now) {
	case endpoint.NoSpeech:
		s.endListening(ctx, "")
	case endpoint.Finalize:
		s.finalize("stall")
	default:
		s.armTimer()
	}
}

// finalize stops feeding audio and asks the recognizer for its final result.
func (s *Session) finalize(reason string) {
	l := s.listen
	l.finalizing = true
	l.finalizeBy = time.Now().Add(s.cfg.Listen.FinalizeTimeout)
	l.flush.Store(true)
	l.queue.Close()
	s.log.Debug("requesting final result", "reason", reason, "heard_speech", l.det.HeardSpeech())
	s.armTimer()
}

// armTimer points the timer at the next deadline of the current phase.
func (s *Session) armTimer() {
	l := s.listen
	deadline := l.det.Deadline()
	if l.finalizing {
		deadline = l.finalizeBy
	}
	if deadline.IsZero() {
		l.timer.Stop()
		return
	}
	l.timer.Reset(max(time.Until(deadline), 0))
}

// endListening closes the phase. A non-empty text starts an utterance.
func (s *Session) endListening(ctx context.Context, text string) {
	l := s.listen
	s.metrics.ListenDuration.Record(ctx, time.Since(l.started).Seconds())
	s.stopListening()

	if text == "" {
		s.metrics.RecordUtterance(ctx, observe.OutcomeNoSpeech)
		s.setState(StateIdle)
		s.emitStatus(ctx, StatusIdle)
		return
	}
	s.emit(ctx, Event{Type: EventFinal, Text: text})
	s.beginUtterance(ctx, text)
}

func (s *Session) stopListening() {
	l := s.listen
	s.listen = nil
	l.timer.Stop()
	l.queue.Close()
	l.cancel()
	if err := l.handle.Close(); err != nil {
		s.log.Debug("recognizer close failed", "err", err)
	}
}

func trimmed(s string) string { return strings.TrimSpace(s) }
