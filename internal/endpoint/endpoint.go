// Package endpoint decides when a speaker has finished an utterance.
//
// The Detector is fed the recognizer's results in arrival order and the
// current time on every timer tick. It applies two rules:
//
//   - Before any non-empty partial has been seen, an absolute timeout ends
//     listening with no transcript ("no speech").
//   - After speech onset, consecutive empty partial cycles are counted. Each
//     cycle spans one frame of audio, so the count times the mean frame
//     duration is the trailing silence. Once that exceeds the silence
//     threshold the recognizer must be asked for its own final result.
//
// Frame durations are reported through Audio, so the threshold holds for
// any frame size a client chooses.
//
// A final result from the recognizer ends listening immediately. A Detector is
// owned by a single goroutine.
package endpoint

import "time"

// DefaultSilence is the trailing silence that ends an utterance.
const DefaultSilence = 1500 * time.Millisecond

// Decision is the Detector's verdict after an input.
type Decision int

const (
	// Continue means keep listening.
	Continue Decision = iota

	// NoSpeech means the timeout elapsed before speech onset. Listening ends
	// without a transcript.
	NoSpeech

	// Finalize means trailing silence exceeded the threshold. The caller must
	// request the recognizer's final result and wait for it.
	Finalize

	// Complete means the recognizer delivered a final result.
	Complete
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case NoSpeech:
		return "no_speech"
	case Finalize:
		return "finalize"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Config parameterises a Detector.
type Config struct {
	// Timeout bounds the wait for speech onset.
	Timeout time.Duration

	// Silence is the trailing silence after onset that ends listening.
	Silence time.Duration

	// StallTimeout finalizes after onset when the recognizer produces no
	// results at all for this long, e.g. because the client stopped sending
	// audio. Zero disables it.
	StallTimeout time.Duration
}

// Detector tracks one listening phase.
type Detector struct {
	cfg Config

	start        time.Time
	lastActivity time.Time
	onset        bool
	silent       int
	done         bool

	// audio and frames measure the recognizer cycle length.
	audio  time.Duration
	frames int
}

// New starts a detector for a listening phase that began at start.
func New(cfg Config, start time.Time) *Detector {
	return &Detector{cfg: cfg, start: start, lastActivity: start}
}

// Partial records one partial result received at now.
func (d *Detector) Partial(now time.Time, text string) Decision {
	if d.done {
		return Continue
	}
	d.lastActivity = now
	if text != "" {
		d.onset = true
		d.silent = 0
		return Continue
	}
	if !d.onset {
		return d.checkTimeout(now)
	}
	d.silent++
	if d.TrailingSilence() > d.cfg.Silence {
		d.done = true
		return Finalize
	}
	return Continue
}

// Audio records one frame of dur sent to the recognizer.
func (d *Detector) Audio(dur time.Duration) {
	if dur <= 0 {
		return
	}
	d.audio += dur
	d.frames++
}

// Cycle returns the mean frame duration seen so far, or zero before the
// first frame.
func (d *Detector) Cycle() time.Duration {
	if d.frames == 0 {
		return 0
	}
	return d.audio / time.Duration(d.frames)
}

// TrailingSilence returns the audio covered by the consecutive empty
// partials since the last speech.
func (d *Detector) TrailingSilence() time.Duration {
	return time.Duration(d.silent) * d.Cycle()
}

// Final records the recognizer's final result. It always ends listening.
func (d *Detector) Final() Decision {
	d.done = true
	return Complete
}

// Tick evaluates the time-based rules at now.
func (d *Detector) Tick(now time.Time) Decision {
	if d.done {
		return Continue
	}
	if !d.onset {
		return d.checkTimeout(now)
	}
	if d.cfg.StallTimeout > 0 && now.Sub(d.lastActivity) >= d.cfg.StallTimeout {
		d.done = true
		return Finalize
	}
	return Continue
}

func (d *Detector) checkTimeout(now time.Time) Decision {
	if now.Sub(d.start) >= d.cfg.Timeout {
		d.done = true
		return NoSpeech
	}
	return Continue
}

// Deadline returns when the next time-based rule could fire.
func (d *Detector) Deadline() time.Time {
	if !d.onset {
		return d.start.Add(d.cfg.Timeout)
	}
	if d.cfg.StallTimeout > 0 {
		return d.lastActivity.Add(d.cfg.StallTimeout)
	}
	return time.Time{}
}

// HeardSpeech reports whether speech onset happened.
func (d *Detector) HeardSpeech() bool { return d.onset }

// SilentCycles returns the current count of consecutive empty partials after
// onset.
func (d *Detector) SilentCycles() int { return d.silent }
