package lipsync

import (
	"context"
	"time"

	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

// Ticker is the subset of time.Ticker the Driver uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Driver produces lip values for one playback at a time. It only reads the
// playback clock; the player owns it.
type Driver struct {
	cfg       Config
	newTicker func(time.Duration) Ticker
}

// Option configures a Driver.
type Option func(*Driver)

// WithTicker replaces the wall-clock ticker. Tests use it to step the driver.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(d *Driver) { d.newTicker = fn }
}

// NewDriver returns a Driver for cfg.
func NewDriver(cfg Config, opts ...Option) *Driver {
	d := &Driver{
		cfg:       cfg.withDefaults(),
		newTicker: func(iv time.Duration) Ticker { return realTicker{time.NewTicker(iv)} },
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Driver) Config() Config { return d.cfg }

// Stats summarises one Run.
type Stats struct {
	Mode    Mode
	Samples int
}

// Run emits lip values for pb until it finishes, then emits exactly one 0.0.
// The first value is emitted immediately. If ctx is cancelled, playback is
// stopped first and the closing 0.0 follows once it has ended.
func (d *Driver) Run(ctx context.Context, pb audio.Playback, markers []tts.Marker, emit func(float64)) Stats {
	offsets := make([]time.Duration, len(markers))
	for i, m := range markers {
		offsets[i] = m.Offset
	}
	st := Stats{Mode: ModeMarker}
	if len(offsets) == 0 {
		st.Mode = ModeMumble
	}

	cursor := 0
	sample := func() {
		v := d.cfg.Mumble
		if st.Mode == ModeMarker {
			v, cursor = MarkerValue(d.cfg, offsets, cursor, pb.Elapsed())
		}
		emit(clamp(v))
		st.Samples++
	}
	finish := func() Stats {
		emit(0)
		return st
	}

	ticker := d.newTicker(d.cfg.Interval)
	defer ticker.Stop()

	select {
	case <-pb.Done():
		return finish()
	default:
	}
	sample()

	for {
		select {
		case <-pb.Done():
			return finish()
		case <-ctx.Done():
			pb.Stop()
			<-pb.Done()
			return finish()
		case <-ticker.C():
			select {
			case <-pb.Done():
				return finish()
			default:
			}
			sample()
		}
	}
}
