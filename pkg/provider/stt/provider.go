// Package stt defines the Provider interface for streaming speech recognition.
//
// A recognition engine consumes raw PCM frames and produces two streams of
// Transcript values: partials, which are superseded by later results, and
// finals, which end an utterance. The session pipeline never depends on an
// engine's internals; it only sees a SessionHandle.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SessionHandle methods called after Close or
// after the engine ended the stream.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio fed into a new recognition session.
type StreamConfig struct {
	// SampleRate in Hz. Microphone input is 16000.
	SampleRate int

	// Channels is 1 for microphone input.
	Channels int

	// Language is a BCP-47 tag. Empty lets the engine use its default model.
	Language string
}

// SessionHandle is one open recognition stream.
//
// Callers must call Close when the stream is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one chunk of PCM audio matching StreamConfig.
	SendAudio(chunk []byte) error

	// Partials emits interim results. Engines that decode per chunk emit one
	// partial per decode cycle, including empty ones. Closed when the
	// stream ends.
	Partials() <-chan Transcript

	// Finals emits authoritative results. Closed when the stream ends.
	Finals() <-chan Transcript

	// Finalize asks the engine to flush buffered audio and deliver its own
	// final result on Finals, even if it has not detected an endpoint.
	// The final may carry empty text.
	Finalize() error

	// Close terminates the stream and releases resources. Safe to call more
	// than once.
	Close() error
}

// Provider opens recognition streams.
type Provider interface {
	// StartStream opens a new recognition session ready to accept audio.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
