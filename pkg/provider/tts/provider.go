// Package tts defines the Provider interface for speech synthesis backends.
//
// Synthesis is atomic from the caller's point of view: a provider turns the
// complete reply text into one clip plus the word-timing markers the lip-sync
// driver needs before playback can start. Providers may stream bytes from the
// backend internally.
package tts

import (
	"context"
	"errors"
	"time"
)

// ErrNoAudio reports that the backend finished without producing any audio.
var ErrNoAudio = errors.New("tts: no audio received")

// Audio formats produced by the bundled providers.
const (
	FormatMP3      = "audio/mpeg"
	FormatPCM16kHz = "audio/pcm;rate=16000"
)

// VoiceProfile selects a voice and its prosody.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier, e.g. "en-US-AriaNeural".
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the backend the voice belongs to (e.g. "edge").
	Provider string

	// Rate, Volume and Pitch are relative prosody adjustments in the
	// provider's notation, e.g. "+5%", "+0%", "+0Hz". Empty leaves defaults.
	Rate   string
	Volume string
	Pitch  string

	Metadata map[string]string
}

// Marker is the start of one spoken word, relative to the start of the clip.
type Marker struct {
	Offset time.Duration
	Text   string
}

// Result is a synthesized clip. Markers are ordered by Offset and may be
// empty.
type Result struct {
	Audio    []byte
	Format   string
	Markers  []Marker
	Duration time.Duration
}

// Provider synthesizes speech.
type Provider interface {
	// Synthesize renders text with voice. It returns ErrNoAudio (possibly
	// wrapped) when the backend produced nothing.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*Result, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
