package audio

import "time"

// Microphone input format. Clients stream raw little-endian PCM in exactly
// this shape; there is no framing header on the wire.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	BytesPerSample    = 2
)

// AudioFrame is one chunk of captured microphone audio. A frame is immutable
// once captured: consumers may read Data but never write to it.
type AudioFrame struct {
	// Data is 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (16000 for recognizer input).
	SampleRate int

	// Channels is always 1 for microphone input.
	Channels int

	// Timestamp marks when this frame was received, relative to the start of
	// the listening phase.
	Timestamp time.Duration
}

// Duration reports how much audio the frame holds.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// Clip is a complete synthesized audio clip ready for playback.
type Clip struct {
	// Audio holds the encoded clip bytes (format given by Format).
	Audio []byte

	// Format names the encoding, e.g. "audio/mpeg" or "audio/pcm;rate=16000".
	Format string

	// Duration is the playback length of the clip.
	Duration time.Duration
}
