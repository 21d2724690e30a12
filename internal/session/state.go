package session

// State is the internal phase of a session.
type State int32

const (
	// StateIdle waits for a start trigger.
	StateIdle State = iota

	// StateListening feeds microphone frames to the recognizer.
	StateListening

	// StateThinking waits for the generated reply.
	StateThinking

	// StateSpeaking plays the synthesized reply.
	StateSpeaking

	// StateError is passed through on a failed utterance before returning
	// to idle.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// busy reports whether an utterance is in flight.
func (s State) busy() bool { return s == StateThinking || s == StateSpeaking }

// Status is the client-visible state. Speaking has no status of its own; the
// client sees lip values instead.
type Status string

const (
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusIdle      Status = "idle"
	StatusError     Status = "error"
)
