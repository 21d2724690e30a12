// Package lipsync turns speech timing into a mouth-openness signal in [0, 1].
//
// While a synthesized clip plays, the Driver samples the playback clock on a
// fixed cadence and shapes a triangular pulse around every word boundary.
// Clips without word boundaries get a constant low "mumble" value instead.
// Live microphone input uses Amplitude, which maps frame loudness directly.
package lipsync

import (
	"time"

	"github.com/MrWong99/mouthpiece/pkg/audio"
)

// Mode identifies which algorithm produced a value.
type Mode string

const (
	ModeMarker    Mode = "marker"
	ModeMumble    Mode = "mumble"
	ModeAmplitude Mode = "amplitude"
)

// Config holds the signal shape. The zero Config means DefaultConfig.
// Otherwise Interval, Window and Gain fall back to their defaults when not
// positive, and Floor, Idle and Mumble are used as given.
type Config struct {
	// Interval is the sampling cadence during playback.
	Interval time.Duration

	// Window is how far from a word boundary the pulse reaches.
	Window time.Duration

	// Floor is the minimum value inside the window.
	Floor float64

	// Idle is the resting value between words.
	Idle float64

	// Mumble is the constant value for clips without markers.
	Mumble float64

	// Gain scales microphone RMS before clamping.
	Gain float64
}

// DefaultConfig returns the standard signal shape.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Millisecond,
		Window:   100 * time.Millisecond,
		Floor:    0.2,
		Idle:     0.06,
		Mumble:   0.08,
		Gain:     8.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c == (Config{}) {
		return d
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Gain <= 0 {
		c.Gain = d.Gain
	}
	return c
}

// MarkerValue computes the lip value at playback time now. offsets must be
// non-decreasing and non-empty; cursor is the index returned by the previous
// call (0 initially). The returned cursor points at the latest offset not
// after now, or at the first offset while now precedes it.
func MarkerValue(cfg Config, offsets []time.Duration, cursor int, now time.Duration) (float64, int) {
	if len(offsets) == 0 {
		return clamp(cfg.Idle), 0
	}
	if cursor < 0 || cursor >= len(offsets) {
		cursor = 0
	}
	for cursor+1 < len(offsets) && offsets[cursor+1] <= now {
		cursor++
	}

	delta := now - offsets[cursor]
	if delta < 0 {
		delta = -delta
	}
	if delta > cfg.Window {
		return clamp(cfg.Idle), cursor
	}
	v := 1.0 - float64(delta)/float64(cfg.Window)
	if v < cfg.Floor {
		v = cfg.Floor
	}
	return clamp(v), cursor
}

// Amplitude maps one microphone frame to a lip value: normalised RMS scaled
// by gain and clamped to [0, 1]. Empty frames yield 0.
func Amplitude(pcm []byte, gain float64) float64 {
	return clamp(audio.RMS(pcm) * gain)
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
