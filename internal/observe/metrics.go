// Package observe provides the observability primitives shared by every
// subsystem: OpenTelemetry metrics, tracing helpers, a trace-aware logger and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [DefaultMetrics] returns a process-wide
// instance; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/mouthpiece"

// Utterance outcomes used with [Metrics.RecordUtterance].
const (
	OutcomeReplied  = "replied"
	OutcomeNoAudio  = "no_audio"
	OutcomeFailed   = "failed"
	OutcomeFarewell = "farewell"
	OutcomeNoSpeech = "no_speech"
)

// Metrics holds all OpenTelemetry instruments. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// ── Latency histograms ──

	// ListenDuration is the time from start_listen to the end of listening.
	ListenDuration metric.Float64Histogram

	// LLMDuration is the time from request to the last generated chunk.
	LLMDuration metric.Float64Histogram

	// TTSDuration is the time spent in the synthesis chain.
	TTSDuration metric.Float64Histogram

	// UtteranceDuration is the time from final transcript to the end of
	// playback.
	UtteranceDuration metric.Float64Histogram

	// ── Counters ──

	// Utterances counts finished utterances by attribute "outcome".
	Utterances metric.Int64Counter

	// SynthesisFailures counts voices that failed inside the synthesis chain,
	// by attribute "voice".
	SynthesisFailures metric.Int64Counter

	// ProviderRequests counts collaborator calls by "provider", "kind" and
	// "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts collaborator errors by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by "name" and
	// "state".
	BreakerTransitions metric.Int64Counter

	// LipValues counts emitted lip values by "mode".
	LipValues metric.Int64Counter

	// DroppedFrames counts microphone frames discarded because a consumer
	// fell behind.
	DroppedFrames metric.Int64Counter

	// ── Gauges ──

	// ActiveSessions tracks connected sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ── HTTP ──

	// HTTPRequestDuration by "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.ListenDuration, "mouthpiece.listen.duration", "Duration of the listening phase."},
		{&met.LLMDuration, "mouthpiece.llm.duration", "Latency of response generation."},
		{&met.TTSDuration, "mouthpiece.tts.duration", "Latency of the synthesis chain."},
		{&met.UtteranceDuration, "mouthpiece.utterance.duration", "Final transcript to end of playback."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Utterances, "mouthpiece.utterances", "Finished utterances by outcome."},
		{&met.SynthesisFailures, "mouthpiece.synthesis.failures", "Synthesis attempts that failed, by voice."},
		{&met.ProviderRequests, "mouthpiece.provider.requests", "Collaborator requests by provider, kind and status."},
		{&met.ProviderErrors, "mouthpiece.provider.errors", "Collaborator errors by provider and kind."},
		{&met.BreakerTransitions, "mouthpiece.breaker.transitions", "Circuit breaker state changes."},
		{&met.LipValues, "mouthpiece.lip.values", "Lip values emitted, by mode."},
		{&met.DroppedFrames, "mouthpiece.audio.dropped_frames", "Microphone frames dropped under backpressure."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("mouthpiece.active_sessions",
		metric.WithDescription("Number of connected sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("mouthpiece.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route class and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider as it is at first use. Components fall back to it when no
// [Telemetry] instruments are injected.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one collaborator call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one collaborator error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordUtterance counts a finished utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSynthesisFailure counts a voice that failed in the synthesis chain.
func (m *Metrics) RecordSynthesisFailure(ctx context.Context, voice string) {
	m.SynthesisFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", voice)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("state", state),
	))
}

// RecordLipValues counts n lip values emitted in mode.
func (m *Metrics) RecordLipValues(ctx context.Context, mode string, n int) {
	if n <= 0 {
		return
	}
	m.LipValues.Add(ctx, int64(n), metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordDroppedFrames counts n dropped microphone frames.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.DroppedFrames.Add(ctx, int64(n))
}
