// Package mock provides test doubles for the vad package interfaces.
package mock

import (
	"sync"

	"github.com/MrWong99/mouthpiece/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil a fresh Session is returned.
	Session *Session

	NewSessionErr error

	Configs []vad.Config
}

// NewSession records cfg and returns Session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle. Events are returned
// in order, one per ProcessFrame call; once exhausted it reports Silence.
type Session struct {
	mu sync.Mutex

	Events []vad.Event

	ProcessFrameErr error

	Frames     int
	ResetCount int
	CloseCount int
}

// ProcessFrame returns the next scripted event.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames++
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}
	if len(s.Events) == 0 {
		return vad.Event{Type: vad.Silence}, nil
	}
	ev := s.Events[0]
	s.Events = s.Events[1:]
	return ev, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCount++
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// FrameCount returns the number of ProcessFrame calls. Thread-safe.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Frames
}

var _ vad.SessionHandle = (*Session)(nil)
