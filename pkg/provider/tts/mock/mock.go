// Package mock provides a test double for the tts.Provider interface.
//
// Results and errors can be scripted per voice ID:
//
//	p := &mock.Provider{
//	    Errs:    map[string]error{"en-IE-EmilyNeural": tts.ErrNoAudio},
//	    Results: map[string]*tts.Result{"en-US-AriaNeural": {Audio: []byte{1}}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Results maps a voice ID to its result. Result is used for voices that
	// are not in the map.
	Results map[string]*tts.Result
	Result  *tts.Result

	// Errs maps a voice ID to an error. Err applies to voices not in the map.
	Errs map[string]error
	Err  error

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	Calls []SynthesizeCall
}

// Synthesize records the call and returns the scripted outcome.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := p.Errs[voice.ID]; ok {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if r, ok := p.Results[voice.ID]; ok {
		return r, nil
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return nil, tts.ErrNoAudio
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tts.VoiceProfile(nil), p.Voices...), nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// VoicesTried returns the voice IDs passed to Synthesize, in order.
func (p *Provider) VoicesTried() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Voice.ID
	}
	return out
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
