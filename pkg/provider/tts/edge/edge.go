// Package edge provides a tts.Provider backed by the Microsoft Edge
// read-aloud service. It needs no API key and reports a WordBoundary event
// for every spoken word, which gives the lip-sync driver exact markers.
package edge

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
)

const (
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	secMSGECVersion    = "1-130.0.2849.68"

	baseHost        = "speech.platform.bing.com/consumer/speech/synthesize/readaloud"
	defaultEndpoint = "wss://" + baseHost + "/edge/v1"
	defaultVoices   = "https://" + baseHost + "/voices/list"

	edgeOrigin    = "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"
	edgeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0"

	outputFormat = "audio-24khz-48kbitrate-mono-mp3"
	bitrate      = 48000

	// Seconds between 1601-01-01 and the Unix epoch.
	windowsEpochOffset = 11644473600

	defaultConnectTimeout = 5 * time.Second
	defaultReceiveTimeout = 10 * time.Second
)

// Option is a functional option for configuring the Edge Provider.
type Option func(*Provider)

// WithEndpoint overrides the synthesis websocket URL. Intended for tests.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithVoicesURL overrides the voice list URL. Intended for tests.
func WithVoicesURL(u string) Option {
	return func(p *Provider) { p.voicesURL = u }
}

// WithTimeouts sets the connect timeout and the maximum wait for each
// message from the service. Zero keeps a default.
func WithTimeouts(connect, receive time.Duration) Option {
	return func(p *Provider) {
		if connect > 0 {
			p.connectTimeout = connect
		}
		if receive > 0 {
			p.receiveTimeout = receive
		}
	}
}

// WithHTTPClient sets the client used for the voice list.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against the Edge read-aloud service.
type Provider struct {
	endpoint       string
	voicesURL      string
	connectTimeout time.Duration
	receiveTimeout time.Duration
	httpClient     *http.Client
	now            func() time.Time
}

// New creates an Edge Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		endpoint:       defaultEndpoint,
		voicesURL:      defaultVoices,
		connectTimeout: defaultConnectTimeout,
		receiveTimeout: defaultReceiveTimeout,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		now:            time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// Synthesize renders text in one request and collects the MP3 stream plus
// word boundaries.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Result, error) {
	if voice.ID == "" {
		return nil, errors.New("edge: voice ID must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("edge: empty text: %w", tts.ErrNoAudio)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	conn, _, err := websocket.Dial(dialCtx, p.synthURL(), &websocket.DialOptions{HTTPHeader: p.headers()})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("edge: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	now := p.now()
	if err := conn.Write(ctx, websocket.MessageText, []byte(speechConfigMessage(now))); err != nil {
		return nil, fmt.Errorf("edge: send speech config: %w", err)
	}
	reqID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := conn.Write(ctx, websocket.MessageText, []byte(ssmlMessage(reqID, now, text, voice))); err != nil {
		return nil, fmt.Errorf("edge: send ssml: %w", err)
	}

	res := &tts.Result{Format: tts.FormatMP3}
	for {
		readCtx, cancel := context.WithTimeout(ctx, p.receiveTimeout)
		typ, msg, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("edge: receive: %w", err)
		}

		if typ == websocket.MessageBinary {
			headers, body, err := splitBinary(msg)
			if err != nil {
				return nil, fmt.Errorf("edge: %w", err)
			}
			if headers["Path"] == "audio" && len(body) > 0 {
				res.Audio = append(res.Audio, body...)
			}
			continue
		}

		headers, body := splitText(msg)
		switch headers["Path"] {
		case "audio.metadata":
			markers, err := parseMetadata(body)
			if err != nil {
				return nil, fmt.Errorf("edge: %w", err)
			}
			res.Markers = append(res.Markers, markers...)
		case "turn.end":
			conn.Close(websocket.StatusNormalClosure, "")
			if len(res.Audio) == 0 {
				return nil, fmt.Errorf("edge: voice %s: %w", voice.ID, tts.ErrNoAudio)
			}
			slices.SortStableFunc(res.Markers, func(a, b tts.Marker) int { return cmp.Compare(a.Offset, b.Offset) })
			res.Duration = clipDuration(len(res.Audio), res.Markers)
			return res, nil
		}
	}
}

func (p *Provider) synthURL() string {
	return fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s&ConnectionId=%s",
		p.endpoint, trustedClientToken, secMSGEC(p.now()), secMSGECVersion,
		strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (p *Provider) headers() http.Header {
	h := http.Header{}
	h.Set("Origin", edgeOrigin)
	h.Set("User-Agent", edgeUserAgent)
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

// secMSGEC derives the rolling access token: Windows file-time ticks rounded
// down to five minutes, hashed with the client token.
func secMSGEC(now time.Time) string {
	secs := now.Unix() + windowsEpochOffset
	secs -= secs % 300
	ticks := secs * 10_000_000
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s", ticks, trustedClientToken)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// clipDuration derives the length of a constant-bitrate MP3 clip, never
// shorter than the last word boundary.
func clipDuration(n int, markers []tts.Marker) time.Duration {
	d := time.Duration(int64(n) * 8 * int64(time.Second) / bitrate)
	if len(markers) > 0 {
		if last := markers[len(markers)-1].Offset; last > d {
			d = last
		}
	}
	return d
}

// ── voice list ──

type edgeVoice struct {
	Name      string `json:"Name"`
	ShortName string `json:"ShortName"`
	Gender    string `json:"Gender"`
	Locale    string `json:"Locale"`
}

// ListVoices returns every voice the service offers.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	u := fmt.Sprintf("%s?trustedclienttoken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		p.voicesURL, trustedClientToken, secMSGEC(p.now()), secMSGECVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices: %w", err)
	}
	req.Header.Set("User-Agent", edgeUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge: list voices: unexpected status %d", resp.StatusCode)
	}

	var voices []edgeVoice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("edge: list voices decode: %w", err)
	}
	out := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		out = append(out, tts.VoiceProfile{
			ID:       v.ShortName,
			Name:     v.Name,
			Provider: "edge",
			Metadata: map[string]string{"gender": v.Gender, "locale": v.Locale},
		})
	}
	return out, nil
}
