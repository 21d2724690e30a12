// Package elevenlabs provides a tts.Provider backed by the ElevenLabs
// stream-input websocket API.
//
// The whole reply is sent in one go and the audio chunks are collected into a
// single clip. Character alignment returned with each chunk is folded into
// word markers so the clip drives marker-mode lip-sync.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"unicode"

	"github.com/coder/websocket"

	"github.com/MrWong99/mouthpiece/pkg/audio"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

const (
	wsEndpoint       = "wss://api.elevenlabs.io/v1/text-to-speech"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	outputFormat     = "pcm_16000"
	outputSampleRate = 16000
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithEndpoints overrides the websocket and voice list base URLs. Empty
// values keep the defaults.
func WithEndpoints(ws, voices string) Option {
	return func(p *Provider) {
		if ws != "" {
			p.wsEndpoint = ws
		}
		if voices != "" {
			p.voicesEndpoint = voices
		}
	}
}

// Provider implements tts.Provider backed by ElevenLabs.
type Provider struct {
	apiKey         string
	model          string
	wsEndpoint     string
	voicesEndpoint string
	httpClient     *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:         apiKey,
		model:          defaultModel,
		wsEndpoint:     wsEndpoint,
		voicesEndpoint: voicesEndpoint,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// ── websocket messages ──

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type alignment struct {
	Chars            []string `json:"chars"`
	CharStartTimesMs []int    `json:"charStartTimesMs"`
}

type audioResponse struct {
	Audio     string     `json:"audio"`
	IsFinal   bool       `json:"isFinal"`
	Alignment *alignment `json:"alignment"`
	Message   string     `json:"message"`
	Error     string     `json:"error"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Result, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(8 << 20)

	msgs := []textMessage{
		{Text: " ", XiAPIKey: p.apiKey, VoiceSettings: settingsFor(voice)},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	var col collector
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("elevenlabs: receive: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if err := col.add(resp); err != nil {
			return nil, fmt.Errorf("elevenlabs: %w", err)
		}
		if resp.IsFinal {
			conn.Close(websocket.StatusNormalClosure, "")
			break
		}
	}

	if len(col.pcm) == 0 {
		return nil, fmt.Errorf("elevenlabs: voice %s: %w", voice.ID, tts.ErrNoAudio)
	}
	return &tts.Result{
		Audio:    col.pcm,
		Format:   tts.FormatPCM16kHz,
		Markers:  col.markers,
		Duration: audio.PCMDuration(len(col.pcm), outputSampleRate, 1),
	}, nil
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", outputFormat)
	q.Set("sync_alignment", "true")
	return fmt.Sprintf("%s/%s/stream-input?%s", p.wsEndpoint, url.PathEscape(voiceID), q.Encode())
}

// settingsFor maps a relative rate such as "+10%" to the speed multiplier.
func settingsFor(v tts.VoiceProfile) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	var pct float64
	if _, err := fmt.Sscanf(v.Rate, "%f%%", &pct); err == nil && pct != 0 {
		vs.Speed = 1 + pct/100
	}
	return vs
}

// collector accumulates audio chunks and converts per-chunk character
// alignment into clip-relative word markers.
type collector struct {
	pcm      []byte
	markers  []tts.Marker
	prevChar string
}

func (c *collector) add(resp audioResponse) error {
	chunkStart := audio.PCMDuration(len(c.pcm), outputSampleRate, 1)
	if resp.Audio != "" {
		b, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			return fmt.Errorf("decode audio: %w", err)
		}
		c.pcm = append(c.pcm, b...)
	}
	if resp.Alignment == nil {
		return nil
	}
	a := resp.Alignment
	for i, ch := range a.Chars {
		if i >= len(a.CharStartTimesMs) {
			break
		}
		if isWordStart(c.prevChar, ch) {
			c.markers = append(c.markers, tts.Marker{
				Offset: chunkStart + time.Duration(a.CharStartTimesMs[i])*time.Millisecond,
			})
		}
		if n := len(c.markers); n > 0 && !isSpace(ch) {
			c.markers[n-1].Text += ch
		}
		c.prevChar = ch
	}
	return nil
}

func isWordStart(prev, cur string) bool {
	return !isSpace(cur) && (prev == "" || isSpace(prev))
}

func isSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// ── voice list ──

type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices available to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return profiles, nil
}
