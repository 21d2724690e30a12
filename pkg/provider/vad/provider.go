// Package vad defines the Engine interface for voice activity detection.
//
// The session pipeline uses a VAD session as its hands-free trigger: while a
// session is idle, microphone frames are fed to the detector and a
// SpeechStart event starts a listening phase, exactly like an explicit
// start_listen message would.
//
// ProcessFrame is synchronous and must not block. A SessionHandle belongs to a
// single goroutine.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session. Zero values select the
// engine's defaults.
type Config struct {
	// SampleRate of the PCM frames passed to ProcessFrame.
	SampleRate int

	// SpeechThreshold is the level at or above which a frame counts as speech.
	SpeechThreshold float64

	// SilenceThreshold is the level below which a frame counts as silence
	// once speech has started. Must not exceed SpeechThreshold.
	SilenceThreshold float64

	// StartFrames is how many consecutive speech frames trigger SpeechStart.
	StartFrames int

	// EndFrames is how many consecutive silent frames trigger SpeechEnd.
	EndFrames int
}

// EventType classifies a frame.
type EventType int

const (
	Silence EventType = iota
	SpeechStart
	SpeechContinue
	SpeechEnd
)

func (t EventType) String() string {
	switch t {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is the detection result for one frame.
type Event struct {
	Type EventType

	// Level is the frame's measured activity in the engine's scale.
	Level float64
}

// SessionHandle is the detection state for one audio stream.
type SessionHandle interface {
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears detection state without closing the session.
	Reset()

	Close() error
}

// Engine creates VAD sessions. Safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
