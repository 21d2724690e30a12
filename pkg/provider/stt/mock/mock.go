// Package mock provides test doubles for the stt package interfaces.
//
// Use Session to script the transcripts a consumer receives:
//
//	sess := mock.NewSession()
//	sess.FinalizeResult = &stt.Transcript{Text: "hello", IsFinal: true}
//	p := &mock.Provider{Session: sess}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, every call returns a fresh
	// Session from NewSession.
	Session *Session

	// NewSessionFunc, if set, builds the session for each call and takes
	// precedence over Session.
	NewSessionFunc func() *Session

	// StartStreamErr, if non-nil, is returned by StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	sessions []*Session
}

// StartStream records the call and returns the configured session.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	var s *Session
	switch {
	case p.NewSessionFunc != nil:
		s = p.NewSessionFunc()
	case p.Session != nil:
		s = p.Session
	default:
		s = NewSession()
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns every session handed out so far. Thread-safe.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// StartStreamCallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartStreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. Tests push results
// through PartialsCh and FinalsCh (or the Emit helpers).
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// FinalizeResult, if non-nil, is delivered on FinalsCh by every
	// Finalize call.
	FinalizeResult *stt.Transcript

	// OnAudio, if set, runs for every SendAudio call after it is recorded.
	OnAudio func(chunk []byte)

	SendAudioErr error
	FinalizeErr  error
	CloseErr     error

	// Chunks holds a copy of every chunk passed to SendAudio, in order.
	Chunks [][]byte

	FinalizeCallCount int
	CloseCallCount    int
}

// NewSession returns a Session with buffered result channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 64),
		FinalsCh:   make(chan stt.Transcript, 64),
	}
}

// EmitPartial queues a partial result.
func (s *Session) EmitPartial(text string) {
	s.PartialsCh <- stt.Transcript{Text: text}
}

// EmitFinal queues a final result.
func (s *Session) EmitFinal(text string) {
	s.FinalsCh <- stt.Transcript{Text: text, IsFinal: true}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Chunks = append(s.Chunks, cp)
	err := s.SendAudioErr
	hook := s.OnAudio
	s.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return err
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Finalize records the call and delivers FinalizeResult, if set.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinalizeCallCount++
	if s.FinalizeErr != nil {
		return s.FinalizeErr
	}
	if s.FinalizeResult != nil {
		s.FinalsCh <- *s.FinalizeResult
	}
	return nil
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ChunkCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// FinalizeCalls returns the number of Finalize calls. Thread-safe.
func (s *Session) FinalizeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalizeCallCount
}

// Closed reports whether Close was called at least once. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

var _ stt.SessionHandle = (*Session)(nil)
