// Package session runs one spoken-dialogue session per client connection.
//
// A Session sequences idle, listening, thinking and speaking. A single loop
// goroutine owns all state; client controls and microphone frames reach it
// through one ordered inbox, recognizer results and timers through their own
// channels. Each utterance runs as a separate worker so audio capture never
// waits on generation or synthesis, and at most one utterance is in flight.
// Everything the client should see is published on Events in order.
//
//	sess, _ := session.New(cfg, deps)
//	go sess.Run(ctx)
//	for ev := range sess.Events() { ... }
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mouthpiece/internal/conversation"
	"github.com/MrWong99/mouthpiece/internal/endpoint"
	"github.com/MrWong99/mouthpiece/internal/lipsync"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/resilience"
	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
	"github.com/MrWong99/mouthpiece/pkg/provider/vad"
)

// ErrClosed is returned by Control once the session has ended.
var ErrClosed = errors.New("session: closed")

// errEnded stops the loop after a farewell.
var errEnded = errors.New("session: ended by user")

// ── Configuration ──

// ListenConfig controls the listening phase.
type ListenConfig struct {
	// SampleRate is the recognizer input rate. Default: 16000.
	SampleRate int

	// InputSampleRate is the rate of client frames. Frames are resampled
	// when it differs from SampleRate. Default: SampleRate.
	InputSampleRate int

	// Endpoint configures end-of-speech detection.
	Endpoint endpoint.Config

	// FinalizeTimeout bounds the wait for the recognizer's final result
	// after it has been requested. Default: 3s.
	FinalizeTimeout time.Duration

	// QueueSize is the frame queue capacity. Default: 64.
	QueueSize int
}

// ReplyConfig controls response generation.
type ReplyConfig struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	TopP         float64

	// AutoListen re-arms listening after every reply instead of going idle.
	AutoListen bool
}

// ExitConfig controls session-ending utterances.
type ExitConfig struct {
	// Words end the session. Default: [DefaultExitWords].
	Words []string

	// Farewell is spoken before the session ends. Default: "Goodbye!".
	Farewell string

	// Phonetic also accepts one-word utterances that sound like an exit word.
	Phonetic bool
}

// Config configures a Session.
type Config struct {
	// ID identifies the session in logs. Default: a random UUID.
	ID string

	Listen  ListenConfig
	Reply   ReplyConfig
	Exit    ExitConfig
	LipSync lipsync.Config

	// Wake lets speech detected while idle start listening.
	Wake bool

	// WakeDetector tunes the idle speech detector. SampleRate defaults to
	// Listen.SampleRate.
	WakeDetector vad.Config

	// StreamAudio publishes every synthesized clip as an EventAudio. When
	// false playback is only timed, which still drives lip-sync.
	StreamAudio bool

	// InboxSize bounds queued client input. Default: 256.
	InboxSize int

	// EventBuffer is the capacity of the Events channel. Default: 64.
	EventBuffer int
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Listen.SampleRate <= 0 {
		c.Listen.SampleRate = audio.DefaultSampleRate
	}
	if c.Listen.InputSampleRate <= 0 {
		c.Listen.InputSampleRate = c.Listen.SampleRate
	}
	if c.Listen.Endpoint.Timeout <= 0 {
		c.Listen.Endpoint.Timeout = 5 * time.Second
	}
	if c.Listen.Endpoint.Silence <= 0 {
		c.Listen.Endpoint.Silence = endpoint.DefaultSilence
	}
	if c.Listen.FinalizeTimeout <= 0 {
		c.Listen.FinalizeTimeout = 3 * time.Second
	}
	if c.Listen.QueueSize <= 0 {
		c.Listen.QueueSize = 64
	}
	if c.Exit.Words == nil {
		c.Exit.Words = DefaultExitWords
	}
	if c.Exit.Farewell == "" {
		c.Exit.Farewell = "Goodbye!"
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// Synthesizer renders reply text. [resilience.SynthesisChain] implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (resilience.SynthesisOutcome, error)
}

// Deps are the collaborators a Session uses. Shared clients are injected
// here; everything mutable is created per session.
type Deps struct {
	STT   stt.Provider
	LLM   llm.Provider
	Synth Synthesizer

	// Player renders clips. Default: an [audio.ClipPlayer] that publishes
	// clips as events when Config.StreamAudio is set.
	Player audio.Player

	// VAD detects speech while idle. Required when Config.Wake is set.
	VAD vad.Engine

	// History carries the conversation across utterances. Default: an
	// unbounded history.
	History *conversation.History

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// ── Session ──

type input struct {
	ctrl    Control
	frame   []byte
	isFrame bool
}

type utteranceResult struct {
	outcome string
	err     error
	end     bool
}

// Session is one client's dialogue. Create it with New, start it with Run and
// feed it with Control and Frame.
type Session struct {
	id      string
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics
	exit    *ExitMatcher
	lip     *lipsync.Driver
	player  audio.Player
	history *conversation.History

	inbox   chan input
	events  chan Event
	done    chan struct{}
	started atomic.Bool
	state   atomic.Int32

	// Owned by the loop goroutine.
	group     *errgroup.Group
	listen    *listening
	wake      vad.SessionHandle
	utterDone chan utteranceResult
}

// New validates deps and builds a Session.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.STT == nil || deps.LLM == nil || deps.Synth == nil {
		return nil, errors.New("session: STT, LLM and Synth are required")
	}
	if cfg.Wake && deps.VAD == nil {
		return nil, errors.New("session: wake requires a VAD engine")
	}
	cfg.applyDefaults()

	s := &Session{
		id:        cfg.ID,
		cfg:       cfg,
		deps:      deps,
		metrics:   deps.Metrics,
		exit:      NewExitMatcher(cfg.Exit.Words, cfg.Exit.Phonetic),
		lip:       lipsync.NewDriver(cfg.LipSync),
		history:   deps.History,
		inbox:     make(chan input, cfg.InboxSize),
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
		utterDone: make(chan utteranceResult, 1),
	}
	base := deps.Logger
	if base == nil {
		base = slog.Default()
	}
	s.log = base.With("session_id", s.id)
	if s.metrics == nil {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("session: metrics: %w", err)
		}
		s.metrics = m
	}
	if s.history == nil {
		s.history = conversation.New(conversation.Config{})
	}
	s.player = deps.Player
	if s.player == nil {
		var sink audio.Sink
		if cfg.StreamAudio {
			sink = s.publishClip
		}
		s.player = audio.NewClipPlayer(sink)
	}
	if cfg.Wake {
		vcfg := cfg.WakeDetector
		if vcfg.SampleRate <= 0 {
			vcfg.SampleRate = cfg.Listen.SampleRate
		}
		w, err := deps.VAD.NewSession(vcfg)
		if err != nil {
			return nil, fmt.Errorf("session: wake detector: %w", err)
		}
		s.wake = w
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Events returns the ordered client messages. It is closed when Run returns.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Control queues a client control message. It blocks while the inbox is full.
func (s *Session) Control(ctx context.Context, c Control) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- input{ctrl: c}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frame queues one microphone frame of 16-bit mono PCM. It never blocks; the
// frame is dropped if the inbox is full.
func (s *Session) Frame(pcm []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- input{frame: pcm, isFrame: true}:
		return true
	default:
		s.metrics.RecordDroppedFrames(context.Background(), 1)
		return false
	}
}

// Run drives the session until ctx is cancelled or the user says an exit
// word. It closes Events before returning. A session runs once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session: already running")
	}
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("session started")

	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	g.Go(func() error { return s.loop(gctx) })
	err := g.Wait()

	close(s.events)
	close(s.done)
	s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	if errors.Is(err, errEnded) {
		s.log.Info("session ended by user")
		return nil
	}
	s.log.Info("session closed")
	return err
}

// ── Loop ──

func (s *Session) loop(ctx context.Context) error {
	defer s.teardown()

	for {
		var (
			partials, finals <-chan stt.Transcript
			timer            <-chan time.Time
		)
		if l := s.listen; l != nil {
			partials, finals, timer = l.partials, l.finals, l.timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case in := <-s.inbox:
			if in.isFrame {
				s.onFrame(ctx, in.frame)
			} else {
				s.onControl(ctx, in.ctrl)
			}
		case t, ok := <-partials:
			s.onPartial(ctx, t, ok)
		case t, ok := <-finals:
			s.onFinal(ctx, t, ok)
		case <-timer:
			s.onTimer(ctx)
		case res := <-s.utterDone:
			if s.onUtteranceDone(ctx, res) {
				return errEnded
			}
		}
	}
}

func (s *Session) teardown() {
	if s.listen != nil {
		s.stopListening()
	}
	if s.wake != nil {
		_ = s.wake.Close()
	}
}

func (s *Session) onControl(ctx context.Context, c Control) {
	state := s.State()
	switch c.Type {
	case ControlStartListen:
		switch {
		case state == StateIdle:
			s.startListening(ctx, "client")
		case state.busy():
			s.log.Debug("start_listen ignored while reply in flight", "state", state)
		default:
			s.log.Debug("start_listen ignored", "state", state)
		}
	case ControlStopListen:
		if s.listen == nil || s.listen.finalizing {
			s.log.Debug("stop_listen ignored", "state", state)
			return
		}
		s.finalize("stop_listen")
	case ControlText:
		if state != StateIdle {
			s.log.Debug("text ignored", "state", state)
			return
		}
		if text := trimmed(c.Text); text != "" {
			s.beginUtterance(ctx, text)
		}
	default:
		s.log.Debug("unknown control ignored", "type", c.Type)
	}
}

func (s *Session) onFrame(ctx context.Context, pcm []byte) {
	switch {
	case s.listen != nil && !s.listen.finalizing:
		s.feed(ctx, pcm)
	case s.wake != nil && s.State() == StateIdle:
		ev, err := s.wake.ProcessFrame(pcm)
		if err != nil {
			s.log.Debug("wake detector failed", "err", err)
			return
		}
		if ev.Type == vad.SpeechStart {
			s.log.Debug("speech detected while idle", "level", ev.Level)
			s.startListening(ctx, "wake")
			if s.listen != nil {
				s.feed(ctx, pcm)
			}
		}
	}
}

func (s *Session) onUtteranceDone(ctx context.Context, res utteranceResult) bool {
	if res.end {
		s.metrics.RecordUtterance(ctx, observe.OutcomeFarewell)
		return true
	}
	if res.err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.metrics.RecordUtterance(ctx, observe.OutcomeFailed)
		s.fail(ctx, res.err)
		return false
	}
	if res.outcome != "" {
		s.metrics.RecordUtterance(ctx, res.outcome)
	}
	s.setState(StateIdle)
	if s.cfg.Reply.AutoListen {
		s.startListening(ctx, "auto")
		return false
	}
	s.emitStatus(ctx, StatusIdle)
	return false
}

// fail reports err to the client and returns to idle.
func (s *Session) fail(ctx context.Context, err error) {
	s.log.Warn("utterance failed", "err", err)
	s.setState(StateError)
	s.emitStatus(ctx, StatusError)
	s.emit(ctx, Event{Type: EventError, Text: err.Error()})
	s.setState(StateIdle)
	s.emitStatus(ctx, StatusIdle)
}

// ── Emission ──

func (s *Session) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		s.log.Debug("state changed", "from", prev, "to", st)
	}
}

// emit publishes ev, giving up when ctx ends.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) emitStatus(ctx context.Context, st Status) bool {
	return s.emit(ctx, Event{Type: EventStatus, Status: st})
}

func (s *Session) publishClip(ctx context.Context, clip audio.Clip) error {
	if !s.emit(ctx, Event{Type: EventAudio, Clip: &clip}) {
		return ctx.Err()
	}
	return nil
}
