// Package observe provides application-wide observability primitives for
// Ansim: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Ansim metrics.
const meterName = "github.com/momtouch/ansim"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BackendRequestDuration tracks backend HTTP call latency. Use with
	// attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	BackendRequestDuration metric.Float64Histogram

	// RecognitionDuration tracks food image recognition latency.
	RecognitionDuration metric.Float64Histogram

	// VoiceConnectDuration tracks how long a full voice session
	// establishment takes, from media acquisition to the applied answer.
	VoiceConnectDuration metric.Float64Histogram

	// --- Counters ---

	// ChatMessagesSent counts user messages written to the chat socket.
	ChatMessagesSent metric.Int64Counter

	// ChatEventsReceived counts server events by type. Use with attribute:
	//   attribute.String("type", ...)
	ChatEventsReceived metric.Int64Counter

	// ChatReconnects counts reconnect attempts scheduled after a lost
	// socket. Use with attribute:
	//   attribute.String("reason", ...)
	ChatReconnects metric.Int64Counter

	// TranscriptEvents counts realtime transcript events by type. Use with
	// attribute:
	//   attribute.String("type", ...)
	TranscriptEvents metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts failed backend calls. Use with attribute:
	//   attribute.String("operation", ...)
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveChatSessions tracks the number of open chat sockets.
	ActiveChatSessions metric.Int64UpDownCounter

	// ActiveVoiceSessions tracks the number of live voice sessions.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin endpoint processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// interactive request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.BackendRequestDuration, err = m.Float64Histogram("ansim.backend.request.duration",
		metric.WithDescription("Latency of backend HTTP calls by operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("ansim.recognition.duration",
		metric.WithDescription("Latency of food image recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VoiceConnectDuration, err = m.Float64Histogram("ansim.voice.connect.duration",
		metric.WithDescription("Time to establish a voice session end to end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChatMessagesSent, err = m.Int64Counter("ansim.chat.messages_sent",
		metric.WithDescription("Total user messages written to the chat socket."),
	); err != nil {
		return nil, err
	}
	if met.ChatEventsReceived, err = m.Int64Counter("ansim.chat.events_received",
		metric.WithDescription("Total chat server events by event type."),
	); err != nil {
		return nil, err
	}
	if met.ChatReconnects, err = m.Int64Counter("ansim.chat.reconnects",
		metric.WithDescription("Total chat reconnect attempts by close reason."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEvents, err = m.Int64Counter("ansim.transcript.events",
		metric.WithDescription("Total realtime transcript events by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("ansim.backend.errors",
		metric.WithDescription("Total failed backend calls by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveChatSessions, err = m.Int64UpDownCounter("ansim.active_chat_sessions",
		metric.WithDescription("Number of open chat sockets."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("ansim.active_voice_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ansim.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBackendRequest records one backend call with its latency. Calls with
// a status other than "ok" also increment the backend error counter.
func (m *Metrics) RecordBackendRequest(ctx context.Context, operation, status string, seconds float64) {
	m.BackendRequestDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.BackendErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("operation", operation)),
		)
	}
}

// RecordChatEvent records one received chat server event.
func (m *Metrics) RecordChatEvent(ctx context.Context, eventType string) {
	m.ChatEventsReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordChatReconnect records one scheduled reconnect attempt.
func (m *Metrics) RecordChatReconnect(ctx context.Context, reason string) {
	m.ChatReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTranscriptEvent records one realtime transcript event.
func (m *Metrics) RecordTranscriptEvent(ctx context.Context, eventType string) {
	m.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}
