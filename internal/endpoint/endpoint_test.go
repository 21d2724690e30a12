package endpoint_test

import (
	"testing"
	"time"

	"github.com/MrWong99/mouthpiece/internal/endpoint"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func defaultConfig() endpoint.Config {
	return endpoint.Config{
		Timeout: 5 * time.Second,
		Silence: endpoint.DefaultSilence,
	}
}

// cycle feeds one frame of dur and answers it with a partial.
func cycle(d *endpoint.Detector, now time.Time, dur time.Duration, text string) endpoint.Decision {
	d.Audio(dur)
	return d.Partial(now, text)
}

func TestDetector_SilenceFollowsFrameSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame time.Duration
		want  int // empty cycles until finalize
	}{
		{"4096 samples at 16 kHz", 256 * time.Millisecond, 6},
		{"browser 4096 at 48 kHz resampled", 85312500 * time.Nanosecond, 18},
		{"10 ms", 10 * time.Millisecond, 151},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := endpoint.New(defaultConfig(), t0)
			cycle(d, t0, tt.frame, "hello")
			for i := 1; i < tt.want; i++ {
				if got := cycle(d, t0, tt.frame, ""); got != endpoint.Continue {
					t.Fatalf("empty cycle %d (%v of silence): %s", i, d.TrailingSilence(), got)
				}
			}
			if got := cycle(d, t0, tt.frame, ""); got != endpoint.Finalize {
				t.Fatalf("empty cycle %d: %s, want finalize", tt.want, got)
			}
			if s := d.TrailingSilence(); s <= endpoint.DefaultSilence || s > endpoint.DefaultSilence+tt.frame {
				t.Errorf("finalized after %v of silence, want just over %v", s, endpoint.DefaultSilence)
			}
		})
	}
}

func TestDetector_CycleIsMeanFrame(t *testing.T) {
	t.Parallel()

	d := endpoint.New(defaultConfig(), t0)
	if d.Cycle() != 0 {
		t.Fatalf("Cycle before audio = %v, want 0", d.Cycle())
	}
	d.Audio(100 * time.Millisecond)
	d.Audio(200 * time.Millisecond)
	d.Audio(0)
	if got := d.Cycle(); got != 150*time.Millisecond {
		t.Errorf("Cycle = %v, want 150ms", got)
	}
}

func TestDetector_NoSpeechTimeout(t *testing.T) {
	t.Parallel()

	d := endpoint.New(defaultConfig(), t0)
	for i := range 20 {
		now := t0.Add(time.Duration(i) * 200 * time.Millisecond)
		if got := d.Partial(now, ""); got != endpoint.Continue {
			t.Fatalf("cycle %d before timeout: %s", i, got)
		}
	}
	if got := d.Tick(t0.Add(4999 * time.Millisecond)); got != endpoint.Continue {
		t.Fatalf("just before timeout: %s", got)
	}
	if got := d.Tick(t0.Add(5 * time.Second)); got != endpoint.NoSpeech {
		t.Fatalf("at timeout: %s, want no_speech", got)
	}
	if d.HeardSpeech() {
		t.Error("HeardSpeech should be false")
	}
	if got := d.Tick(t0.Add(6 * time.Second)); got != endpoint.Continue {
		t.Errorf("after decision Tick = %s, want continue", got)
	}
}

func TestDetector_EmptyPartialPastTimeout(t *testing.T) {
	t.Parallel()

	d := endpoint.New(defaultConfig(), t0)
	if got := d.Partial(t0.Add(5100*time.Millisecond), ""); got != endpoint.NoSpeech {
		t.Fatalf("got %s, want no_speech", got)
	}
}

func TestDetector_SilenceAfterSpeech(t *testing.T) {
	t.Parallel()

	d := endpoint.New(defaultConfig(), t0)
	now := t0
	step := func() time.Time { now = now.Add(256 * time.Millisecond); return now }
	const frame = 256 * time.Millisecond

	cycle(d, step(), frame, "hello")
	cycle(d, step(), frame, "hello there")
	// Five empty cycles are 1.28 s of silence, the sixth exceeds 1.5 s.
	for i := range 5 {
		if got := cycle(d, step(), frame, ""); got != endpoint.Continue {
			t.Fatalf("empty cycle %d: %s", i+1, got)
		}
	}
	if got := cycle(d, step(), frame, ""); got != endpoint.Finalize {
		t.Fatalf("sixth empty cycle: %s, want finalize", got)
	}
	if !d.HeardSpeech() {
		t.Error("HeardSpeech should be true")
	}
}

func TestDetector_SpeechResetsSilence(t *testing.T) {
	t.Parallel()

	const frame = 256 * time.Millisecond
	d := endpoint.New(defaultConfig(), t0)
	cycle(d, t0, frame, "hi")
	for range 5 {
		cycle(d, t0, frame, "")
	}
	cycle(d, t0, frame, "hi again")
	if d.SilentCycles() != 0 || d.TrailingSilence() != 0 {
		t.Fatalf("SilentCycles = %d, TrailingSilence = %v, want 0 after speech", d.SilentCycles(), d.TrailingSilence())
	}
	for range 5 {
		if got := cycle(d, t0, frame, ""); got != endpoint.Continue {
			t.Fatalf("got %s, want continue", got)
		}
	}
}

func TestDetector_NoAudioNeverFinalizesOnSilence(t *testing.T) {
	t.Parallel()

	d := endpoint.New(defaultConfig(), t0)
	d.Partial(t0, "hello")
	for range 50 {
		if got := d.Partial(t0, ""); got != endpoint.Continue {
			t.Fatalf("got %s without any audio, want continue", got)
		}
	}
}

func TestDetector_TimeoutIgnoredAfterOnset(t *testing.T) {
	t.Parallel()

	d := endpoint.New(defaultConfig(), t0)
	d.Partial(t0.Add(time.Second), "slow starter")
	if got := d.Tick(t0.Add(time.Minute)); got != endpoint.Continue {
		t.Fatalf("Tick after onset = %s, want continue", got)
	}
	if !d.Deadline().IsZero() {
		t.Errorf("Deadline = %v, want zero without stall timeout", d.Deadline())
	}
}

func TestDetector_FinalAlwaysCompletes(t *testing.T) {
	t.Parallel()

	d := endpoint.New(defaultConfig(), t0)
	if got := d.Final(); got != endpoint.Complete {
		t.Fatalf("Final = %s, want complete", got)
	}
	if got := d.Partial(t0, "late"); got != endpoint.Continue {
		t.Errorf("Partial after Final = %s, want continue", got)
	}
}

func TestDetector_StallTimeout(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.StallTimeout = 2 * time.Second
	d := endpoint.New(cfg, t0)

	d.Partial(t0.Add(time.Second), "hello")
	if want := t0.Add(3 * time.Second); !d.Deadline().Equal(want) {
		t.Fatalf("Deadline = %v, want %v", d.Deadline(), want)
	}
	if got := d.Tick(t0.Add(2 * time.Second)); got != endpoint.Continue {
		t.Fatalf("before stall: %s", got)
	}
	if got := d.Tick(t0.Add(3 * time.Second)); got != endpoint.Finalize {
		t.Fatalf("at stall: %s, want finalize", got)
	}
}

func TestDecision_String(t *testing.T) {
	t.Parallel()
	if endpoint.Finalize.String() != "finalize" || endpoint.Decision(42).String() != "unknown" {
		t.Error("unexpected Decision strings")
	}
}
