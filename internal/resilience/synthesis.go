package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

// Voice pairs a voice profile with the engine that renders it.
type Voice struct {
	Profile  tts.VoiceProfile
	Provider tts.Provider
}

// SynthesisOutcome is the classified result of one [SynthesisChain.Synthesize]
// call. A nil Result means no voice produced audio; that is a degraded but
// valid outcome, not an error.
type SynthesisOutcome struct {
	// Result is the first successful synthesis, or nil.
	Result *tts.Result

	// Voice is the ID of the profile that produced Result.
	Voice string

	// Failures collects every attempt that failed before Result, or all of
	// them when Result is nil.
	Failures []Attempt
}

// NoAudio reports whether the chain produced nothing playable.
func (o SynthesisOutcome) NoAudio() bool {
	return o.Result == nil || len(o.Result.Audio) == 0
}

// SynthesisChain tries an ordered list of voice profiles until one yields
// audio. Each voice sits behind its own circuit breaker so a voice that keeps
// failing is skipped without a network round trip.
type SynthesisChain struct {
	group *FallbackGroup[Voice]
}

// NewSynthesisChain builds a chain over voices in the given order. voices must
// not be empty.
func NewSynthesisChain(voices []Voice, cfg FallbackConfig) (*SynthesisChain, error) {
	if len(voices) == 0 {
		return nil, errors.New("resilience: synthesis chain needs at least one voice")
	}
	seen := make(map[string]bool, len(voices))
	for _, v := range voices {
		if v.Provider == nil {
			return nil, fmt.Errorf("resilience: voice %q has no provider", v.Profile.ID)
		}
		if seen[v.Profile.ID] {
			return nil, fmt.Errorf("resilience: voice %q listed twice", v.Profile.ID)
		}
		seen[v.Profile.ID] = true
	}
	g := NewFallbackGroup(voices[0], voices[0].Profile.ID, cfg)
	for _, v := range voices[1:] {
		g.AddFallback(v.Profile.ID, v)
	}
	return &SynthesisChain{group: g}, nil
}

// Voices returns the voice IDs in try order.
func (c *SynthesisChain) Voices() []string { return c.group.Names() }

// Available reports whether any voice's breaker is not open.
func (c *SynthesisChain) Available() bool { return c.group.Available() }

// Synthesize renders text with the first voice that succeeds. Voices after the
// successful one are never attempted. A provider that returns an empty clip
// counts as [tts.ErrNoAudio]. Blank text yields a no-audio outcome without
// calling any provider. The only error returned is ctx's, once it is done.
func (c *SynthesisChain) Synthesize(ctx context.Context, text string) (SynthesisOutcome, error) {
	var out SynthesisOutcome
	if strings.TrimSpace(text) == "" {
		return out, nil
	}

	res, voice, err := executeNamed(c.group, func(v Voice) (*tts.Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := v.Provider.Synthesize(ctx, text, v.Profile)
		if err != nil {
			out.Failures = append(out.Failures, Attempt{Name: v.Profile.ID, Err: err})
			return nil, err
		}
		if r == nil || len(r.Audio) == 0 {
			out.Failures = append(out.Failures, Attempt{Name: v.Profile.ID, Err: tts.ErrNoAudio})
			return nil, tts.ErrNoAudio
		}
		return r, nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return SynthesisOutcome{Failures: out.Failures}, ctxErr
	}
	if err != nil {
		return out, nil
	}
	out.Result = res
	out.Voice = voice
	return out, nil
}
