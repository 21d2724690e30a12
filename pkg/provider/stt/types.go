package stt

import "time"

// Transcript is a recognition result. Partial and final results share the
// type; IsFinal tells them apart. Empty Text is valid and means the
// recognizer heard nothing it could decode in the latest cycle.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal marks an authoritative result that ends an utterance.
	IsFinal bool

	// Confidence in [0, 1]. Zero when the engine does not report it.
	Confidence float64

	// Words holds per-word timing when the engine reports it.
	Words []WordDetail

	// Timestamp is when the result arrived, relative to stream start.
	Timestamp time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
