// Package energy provides a pure-Go vad.Engine that classifies frames by RMS
// energy with hysteresis, so brief dips inside a word do not end speech and
// brief clicks do not start it.
package energy

import (
	"errors"

	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/vad"
)

// Defaults tuned for 16 kHz microphone frames of roughly 20-250 ms.
const (
	DefaultSpeechThreshold  = 0.015
	DefaultSilenceThreshold = 0.008
	DefaultStartFrames      = 3
	DefaultEndFrames        = 6
)

// Engine implements vad.Engine.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

var _ vad.Engine = (*Engine)(nil)

// NewSession validates cfg, fills defaults and returns a detector.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.StartFrames <= 0 {
		cfg.StartFrames = DefaultStartFrames
	}
	if cfg.EndFrames <= 0 {
		cfg.EndFrames = DefaultEndFrames
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, errors.New("energy: silence threshold must not exceed speech threshold")
	}
	return &session{cfg: cfg}, nil
}

type session struct {
	cfg      vad.Config
	inSpeech bool
	speech   int
	silence  int
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, vad.ErrClosed
	}
	level := audio.RMS(frame)

	if !s.inSpeech {
		if level < s.cfg.SpeechThreshold {
			s.speech = 0
			return vad.Event{Type: vad.Silence, Level: level}, nil
		}
		s.speech++
		if s.speech < s.cfg.StartFrames {
			return vad.Event{Type: vad.Silence, Level: level}, nil
		}
		s.inSpeech, s.speech, s.silence = true, 0, 0
		return vad.Event{Type: vad.SpeechStart, Level: level}, nil
	}

	if level >= s.cfg.SilenceThreshold {
		s.silence = 0
		return vad.Event{Type: vad.SpeechContinue, Level: level}, nil
	}
	s.silence++
	if s.silence < s.cfg.EndFrames {
		return vad.Event{Type: vad.SpeechContinue, Level: level}, nil
	}
	s.inSpeech, s.silence = false, 0
	return vad.Event{Type: vad.SpeechEnd, Level: level}, nil
}

func (s *session) Reset() {
	s.inSpeech, s.speech, s.silence = false, 0, 0
}

func (s *session) Close() error {
	s.closed = true
	return nil
}
