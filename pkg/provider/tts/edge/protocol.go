package edge

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

const timestampLayout = "Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)"

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func speechConfigMessage(now time.Time) string {
	return "X-Timestamp:" + timestamp(now) + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{` +
		`"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"true"},` +
		`"outputFormat":"` + outputFormat + `"}}}}`
}

func ssmlMessage(requestID string, now time.Time, text string, voice tts.VoiceProfile) string {
	return "X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + timestamp(now) + "Z\r\n" +
		"Path:ssml\r\n\r\n" +
		ssml(text, voice)
}

func ssml(text string, voice tts.VoiceProfile) string {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(text))
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>"+
		"<voice name='%s'><prosody pitch='%s' rate='%s' volume='%s'>%s</prosody></voice></speak>",
		longVoiceName(voice.ID), orDefault(voice.Pitch, "+0Hz"), orDefault(voice.Rate, "+0%"),
		orDefault(voice.Volume, "+0%"), escaped.String())
}

// longVoiceName expands "en-US-AriaNeural" to the service's full voice name.
// Names already in long form pass through.
func longVoiceName(short string) string {
	if strings.HasPrefix(short, "Microsoft Server Speech") {
		return short
	}
	parts := strings.SplitN(short, "-", 3)
	if len(parts) != 3 {
		return short
	}
	return fmt.Sprintf("Microsoft Server Speech Text to Speech Voice (%s-%s, %s)", parts[0], parts[1], parts[2])
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// splitText separates a text frame into its header map and body.
func splitText(msg []byte) (map[string]string, []byte) {
	head, body, _ := bytes.Cut(msg, []byte("\r\n\r\n"))
	return parseHeaders(head), body
}

// splitBinary separates a binary frame: a big-endian uint16 header length,
// the headers, then the payload.
func splitBinary(msg []byte) (map[string]string, []byte, error) {
	if len(msg) < 2 {
		return nil, nil, errors.New("binary frame too short")
	}
	n := int(binary.BigEndian.Uint16(msg[:2]))
	if len(msg) < 2+n {
		return nil, nil, errors.New("binary frame header length exceeds frame")
	}
	return parseHeaders(msg[2 : 2+n]), msg[2+n:], nil
}

func parseHeaders(head []byte) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(string(head), "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

type metadataMessage struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   int64 `json:"Offset"`
			Duration int64 `json:"Duration"`
			Text     struct {
				Text string `json:"Text"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

// parseMetadata extracts word boundaries. Offsets arrive in 100 ns ticks.
func parseMetadata(body []byte) ([]tts.Marker, error) {
	var m metadataMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	var out []tts.Marker
	for _, e := range m.Metadata {
		if e.Type != "WordBoundary" {
			continue
		}
		out = append(out, tts.Marker{
			Offset: time.Duration(e.Data.Offset) * 100,
			Text:   e.Data.Text.Text,
		})
	}
	return out, nil
}
