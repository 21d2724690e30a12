package server

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/mouthpiece/internal/session"
)

// clientMessage is any JSON text message a browser may send.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverMessage is the JSON shape of every text message sent to a browser.
// Pointer fields distinguish "absent" from zero values such as a 0.0 lip
// value or an empty reply.
type serverMessage struct {
	Type     string   `json:"type"`
	State    string   `json:"state,omitempty"`
	Text     *string  `json:"text,omitempty"`
	Value    *float64 `json:"value,omitempty"`
	Message  string   `json:"message,omitempty"`
	Format   string   `json:"format,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

// decodeControl parses a client text message. It reports false for
// malformed JSON and unknown types, which are ignored.
func decodeControl(data []byte) (session.Control, bool) {
	var m clientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return session.Control{}, false
	}
	switch t := session.ControlType(m.Type); t {
	case session.ControlStartListen, session.ControlStopListen, session.ControlText:
		return session.Control{Type: t, Text: m.Text}, true
	default:
		return session.Control{}, false
	}
}

// encodeEvent renders ev as a JSON text message. For audio events the clip
// bytes are returned separately and must be sent as the next binary message.
func encodeEvent(ev session.Event) (text []byte, binary []byte, err error) {
	m := serverMessage{Type: string(ev.Type)}
	switch ev.Type {
	case session.EventStatus:
		m.State = string(ev.Status)
	case session.EventPartial, session.EventFinal, session.EventAssistantChunk, session.EventAssistantFinal:
		m.Text = &ev.Text
	case session.EventLip:
		m.Value = &ev.Value
	case session.EventError:
		m.Message = ev.Text
	case session.EventAudio:
		if ev.Clip == nil {
			return nil, nil, fmt.Errorf("server: audio event without clip")
		}
		secs := ev.Clip.Duration.Seconds()
		m.Format = ev.Clip.Format
		m.Duration = &secs
		binary = ev.Clip.Audio
	default:
		return nil, nil, fmt.Errorf("server: unknown event type %q", ev.Type)
	}
	text, err = json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("server: encode %s: %w", ev.Type, err)
	}
	return text, binary, nil
}
