// Package vosk provides an stt.Provider backed by a Vosk recognition server
// (alphacep/vosk-server) speaking its websocket protocol.
//
// The server decodes every binary chunk it receives and answers with exactly
// one JSON message: {"partial": "..."} while an utterance is in progress, or
// {"text": "...", "result": [...]} once it detects an endpoint. Sending
// {"eof": 1} flushes the recognizer and yields a final result, after which
// the server closes the connection.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mouthpiece/pkg/provider/stt"
)

const (
	defaultURL        = "ws://localhost:2700"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Vosk Provider.
type Option func(*Provider)

// WithSampleRate sets the default sample rate announced to the server.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithMaxAlternatives asks the server for n recognition alternatives. Only the
// best one is surfaced.
func WithMaxAlternatives(n int) Option {
	return func(p *Provider) { p.alternatives = n }
}

// Provider implements stt.Provider against a Vosk server.
type Provider struct {
	url          string
	sampleRate   int
	alternatives int
}

// New creates a Vosk Provider. An empty url selects ws://localhost:2700.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		url = defaultURL
	}
	p := &Provider{url: url, sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(p)
	}
	if p.sampleRate <= 0 {
		return nil, errors.New("vosk: sample rate must be positive")
	}
	return p, nil
}

// StartStream dials the server and sends the recognizer configuration.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("vosk: dial: %w", err)
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	if err := conn.Write(ctx, websocket.MessageText, configMessage(sr, p.alternatives)); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("vosk: send config: %w", err)
	}

	s := &session{
		conn:     conn,
		start:    time.Now(),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 8),
		out:      make(chan outbound, 256),
		done:     make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)
	return s, nil
}

var _ stt.Provider = (*Provider)(nil)

func configMessage(sampleRate, alternatives int) []byte {
	type recognizerConfig struct {
		SampleRate      int `json:"sample_rate"`
		MaxAlternatives int `json:"max_alternatives,omitempty"`
	}
	b, _ := json.Marshal(struct {
		Config recognizerConfig `json:"config"`
	}{recognizerConfig{SampleRate: sampleRate, MaxAlternatives: alternatives}})
	return b
}

// ── session ──

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

type session struct {
	conn  *websocket.Conn
	start time.Time

	partials chan stt.Transcript
	finals   chan stt.Transcript
	out      chan outbound

	finalizing atomic.Bool
	done       chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	if s.finalizing.Load() {
		return fmt.Errorf("vosk: %w", stt.ErrSessionClosed)
	}
	return s.enqueue(outbound{typ: websocket.MessageBinary, data: chunk})
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Finalize sends the end-of-stream marker after all queued audio. Repeated
// calls are no-ops.
func (s *session) Finalize() error {
	if !s.finalizing.CompareAndSwap(false, true) {
		return nil
	}
	return s.enqueue(outbound{typ: websocket.MessageText, data: []byte(`{"eof":1}`)})
}

func (s *session) enqueue(m outbound) error {
	select {
	case <-s.done:
		return fmt.Errorf("vosk: %w", stt.ErrSessionClosed)
	default:
	}
	select {
	case s.out <- m:
		return nil
	case <-s.done:
		return fmt.Errorf("vosk: %w", stt.ErrSessionClosed)
	}
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case m := <-s.out:
			if err := s.conn.Write(ctx, m.typ, m.data); err != nil {
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
		t, ok := parseVoskResponse(msg)
		if !ok {
			continue
		}
		t.Timestamp = time.Since(s.start)

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

type voskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

type voskResponse struct {
	Partial *string    `json:"partial"`
	Text    *string    `json:"text"`
	Result  []voskWord `json:"result"`

	// Present instead of Text/Result when max_alternatives > 0.
	Alternatives []struct {
		Text       string     `json:"text"`
		Confidence float64    `json:"confidence"`
		Result     []voskWord `json:"result"`
	} `json:"alternatives"`
}

// parseVoskResponse converts one server message into a Transcript. It returns
// false for messages that carry no recognition result.
func parseVoskResponse(data []byte) (stt.Transcript, bool) {
	var resp voskResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}

	switch {
	case resp.Partial != nil:
		return stt.Transcript{Text: *resp.Partial}, true
	case resp.Text != nil:
		return stt.Transcript{Text: *resp.Text, IsFinal: true, Words: words(resp.Result)}, true
	case len(resp.Alternatives) > 0:
		best := resp.Alternatives[0]
		return stt.Transcript{
			Text:       best.Text,
			IsFinal:    true,
			Confidence: best.Confidence,
			Words:      words(best.Result),
		}, true
	}
	return stt.Transcript{}, false
}

func words(in []voskWord) []stt.WordDetail {
	if len(in) == 0 {
		return nil
	}
	out := make([]stt.WordDetail, 0, len(in))
	for _, w := range in {
		out = append(out, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Conf,
		})
	}
	return out
}
