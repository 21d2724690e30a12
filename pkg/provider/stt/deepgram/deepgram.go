// Package deepgram provides a Deepgram-backed stt.Provider using the Deepgram
// streaming websocket API.
//
// Deepgram commits recognized speech in segments (is_final) and marks the end
// of an utterance with speech_final, or with from_finalize after a Finalize
// request. The session stitches committed segments together so that callers
// see growing partials and exactly one final per utterance.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultEndpointMS = 1500
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpointing sets how much trailing silence Deepgram waits for before it
// marks speech_final.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) { p.endpointMS = int(d / time.Millisecond) }
}

// WithEndpointURL overrides the streaming endpoint. Intended for tests.
func WithEndpointURL(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	endpointMS int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		endpointMS: defaultEndpointMS,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 8),
		audio:    make(chan []byte, 256),
		control:  make(chan []byte, 4),
		done:     make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)
	return sess, nil
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("endpointing", strconv.Itoa(p.endpointMS))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ──

type deepgramResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// segment is one parsed Results message.
type segment struct {
	stt.Transcript
	endOfSpeech bool
}

type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte
	control  chan []byte

	asm assembler // owned by readLoop

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("deepgram: %w", stt.ErrSessionClosed)
	case s.audio <- chunk:
		return nil
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Finalize flushes Deepgram's buffer; the next Results message carries
// from_finalize and becomes the final.
func (s *session) Finalize() error {
	select {
	case <-s.done:
		return fmt.Errorf("deepgram: %w", stt.ErrSessionClosed)
	case s.control <- []byte(`{"type":"Finalize"}`):
		return nil
	}
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		// Audio queued before a control message goes out first.
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			continue
		default:
		}
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case msg := <-s.control:
			if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		seg, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		t := s.asm.feed(seg)
		ch := s.partials
		if t.IsFinal {
			ch = s.finals
		}
		select {
		case ch <- t:
		case <-s.done:
			return
		}
	}
}

// assembler joins committed segments into one utterance.
type assembler struct {
	committed []string
	words     []stt.WordDetail
}

// feed folds seg into the utterance and returns the transcript to publish.
func (a *assembler) feed(seg segment) stt.Transcript {
	if !seg.IsFinal {
		return stt.Transcript{Text: a.join(seg.Text), Confidence: seg.Confidence}
	}
	if seg.Text != "" {
		a.committed = append(a.committed, seg.Text)
		a.words = append(a.words, seg.Words...)
	}
	if !seg.endOfSpeech {
		return stt.Transcript{Text: a.join(""), Confidence: seg.Confidence}
	}
	t := stt.Transcript{
		Text:       a.join(""),
		IsFinal:    true,
		Confidence: seg.Confidence,
		Words:      a.words,
	}
	a.committed, a.words = nil, nil
	return t
}

func (a *assembler) join(pending string) string {
	parts := a.committed
	if pending != "" {
		parts = append(append([]string(nil), parts...), pending)
	}
	return strings.Join(parts, " ")
}

// parseDeepgramResponse parses a raw Deepgram message. It returns false for
// messages that should be ignored.
func parseDeepgramResponse(data []byte) (segment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return segment{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return segment{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return segment{
		Transcript: stt.Transcript{
			Text:       alt.Transcript,
			IsFinal:    resp.IsFinal,
			Confidence: alt.Confidence,
			Words:      words,
		},
		endOfSpeech: resp.SpeechFinal || resp.FromFinalize,
	}, true
}
