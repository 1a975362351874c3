package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"ansim.backend.request.duration", m.BackendRequestDuration},
		{"ansim.recognition.duration", m.RecognitionDuration},
		{"ansim.voice.connect.duration", m.VoiceConnectDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestChatEventCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChatEvent(ctx, "assistant.reply")
	m.RecordChatEvent(ctx, "assistant.reply")
	m.RecordChatEvent(ctx, "chat.status")

	rm := collect(t, reader)
	met := findMetric(rm, "ansim.chat.events_received")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "type" && kv.Value.AsString() == "assistant.reply" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with type=assistant.reply not found")
}

func TestRecordBackendRequest_CountsErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBackendRequest(ctx, "recognize_food", "ok", 0.2)
	m.RecordBackendRequest(ctx, "recognize_food", "error", 1.5)
	m.RecordBackendRequest(ctx, "create_voice_session", "error", 0.4)

	rm := collect(t, reader)

	hist := findMetric(rm, "ansim.backend.request.duration")
	if hist == nil {
		t.Fatal("duration metric not found")
	}

	met := findMetric(rm, "ansim.backend.errors")
	if met == nil {
		t.Fatal("error metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("error metric is not a sum")
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("total backend errors = %d, want 2", total)
	}
}

func TestReconnectCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChatReconnect(ctx, "abnormal_closure")
	m.RecordChatReconnect(ctx, "abnormal_closure")
	m.RecordChatReconnect(ctx, "missing_subject")

	rm := collect(t, reader)
	met := findMetric(rm, "ansim.chat.reconnects")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("distinct reason series = %d, want 2", len(sum.DataPoints))
	}
}

func TestGauges_UpAndDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveChatSessions.Add(ctx, 1)
	m.ActiveChatSessions.Add(ctx, 1)
	m.ActiveChatSessions.Add(ctx, -1)
	m.ActiveVoiceSessions.Add(ctx, 1)

	rm := collect(t, reader)

	chatMet := findMetric(rm, "ansim.active_chat_sessions")
	if chatMet == nil {
		t.Fatal("chat gauge not found")
	}
	sum, ok := chatMet.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("gauge is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active chat sessions = %+v, want 1", sum.DataPoints)
	}

	voiceMet := findMetric(rm, "ansim.active_voice_sessions")
	if voiceMet == nil {
		t.Fatal("voice gauge not found")
	}
}

func TestTranscriptEventCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscriptEvent(ctx, "response.output_text.delta")
	m.RecordTranscriptEvent(ctx, "response.done")

	rm := collect(t, reader)
	met := findMetric(rm, "ansim.transcript.events")
	if met == nil {
		t.Fatal("metric not found")
	}
}

func TestDefaultMetrics_SamePointer(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned distinct instances")
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("operation", "list_styles")
	if kv != attribute.String("operation", "list_styles") {
		t.Errorf("Attr = %v", kv)
	}
}
