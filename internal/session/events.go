package session

import "github.com/MrWong99/mouthpiece/pkg/audio"

// EventType names a server-to-client message.
type EventType string

const (
	EventStatus         EventType = "status"
	EventPartial        EventType = "partial"
	EventFinal          EventType = "final"
	EventAssistantChunk EventType = "assistant_chunk"
	EventAssistantFinal EventType = "assistant_final"
	EventLip            EventType = "lip"
	EventError          EventType = "error"
	EventAudio          EventType = "audio"
)

// Event is one message for the client, in emission order.
type Event struct {
	Type EventType

	// Status is set for EventStatus.
	Status Status

	// Text carries partial, final, chunk and reply text, and the message of
	// EventError.
	Text string

	// Value is the lip value for EventLip.
	Value float64

	// Clip is the synthesized audio for EventAudio.
	Clip *audio.Clip
}

// ControlType names a client-to-server control message.
type ControlType string

const (
	ControlStartListen ControlType = "start_listen"
	ControlStopListen  ControlType = "stop_listen"
	ControlText        ControlType = "text"
)

// Control is a decoded client control message.
type Control struct {
	Type ControlType

	// Text is the typed user turn for ControlText.
	Text string
}
