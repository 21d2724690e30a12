package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Playback is a clip that has started playing. The playback clock is owned by
// the Player that created it; everything else only reads it.
type Playback interface {
	// Elapsed returns the time since playback started, capped at the clip
	// duration.
	Elapsed() time.Duration

	// Done is closed once playback has stopped, either because the clip ended
	// or because Stop was called.
	Done() <-chan struct{}

	// Stop halts playback. Calling Stop after playback ended is a no-op.
	Stop()
}

// Player starts playback of synthesized clips.
type Player interface {
	// Play begins playing clip and returns immediately. The returned Playback
	// stops on its own when ctx is cancelled.
	Play(ctx context.Context, clip Clip) (Playback, error)
}

// Sink delivers a clip to wherever it is actually heard, usually the remote
// client of a session.
type Sink func(ctx context.Context, clip Clip) error

// ClipPlayer hands each clip to a Sink and then runs a playback clock for the
// clip's duration. Only one clip plays at a time: starting a new clip stops
// the previous one. A ClipPlayer without a Sink is silent but still keeps
// time, which drives lip-sync when audio is rendered elsewhere.
type ClipPlayer struct {
	sink Sink
	now  func() time.Time

	mu      sync.Mutex
	current *timedPlayback
}

// PlayerOption configures a ClipPlayer.
type PlayerOption func(*ClipPlayer)

// WithClock overrides the wall clock used by playbacks.
func WithClock(now func() time.Time) PlayerOption {
	return func(p *ClipPlayer) { p.now = now }
}

// NewClipPlayer returns a player that delivers clips to sink. sink may be nil.
func NewClipPlayer(sink Sink, opts ...PlayerOption) *ClipPlayer {
	p := &ClipPlayer{sink: sink, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play implements Player.
func (p *ClipPlayer) Play(ctx context.Context, clip Clip) (Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.current != nil {
		p.current.Stop()
		<-p.current.Done()
	}
	p.mu.Unlock()

	if p.sink != nil {
		if err := p.sink(ctx, clip); err != nil {
			return nil, fmt.Errorf("audio: deliver clip: %w", err)
		}
	}

	pb := &timedPlayback{
		start:    p.now(),
		duration: clip.Duration,
		now:      p.now,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	p.mu.Lock()
	p.current = pb
	p.mu.Unlock()

	go pb.run(ctx)
	return pb, nil
}

var _ Player = (*ClipPlayer)(nil)

type timedPlayback struct {
	start    time.Time
	duration time.Duration
	now      func() time.Time

	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func (pb *timedPlayback) run(ctx context.Context) {
	defer close(pb.done)
	if pb.duration <= 0 {
		return
	}
	timer := time.NewTimer(pb.duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-pb.stop:
	case <-ctx.Done():
	}
}

func (pb *timedPlayback) Elapsed() time.Duration {
	e := pb.now().Sub(pb.start)
	if e < 0 {
		return 0
	}
	if e > pb.duration {
		return pb.duration
	}
	return e
}

func (pb *timedPlayback) Done() <-chan struct{} { return pb.done }

func (pb *timedPlayback) Stop() {
	pb.stopOnce.Do(func() { close(pb.stop) })
}
