package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"dryday/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	mu        sync.Mutex
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (m *mockCloudWatchClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %s = %q, want %q", name, *d.Value, value)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}

func TestRecordRequest_BufferedUntilFlush(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "", discardLogger())

	m.RecordRequest("POST", "/api/predict/{variant}", "200", 250*time.Millisecond)
	if cw.callCount() != 0 {
		t.Fatalf("expected no calls before flush, got %d", cw.callCount())
	}

	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if cw.callCount() != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", cw.callCount())
	}

	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	if len(input.MetricData) != 2 {
		t.Fatalf("expected 2 datums, got %d", len(input.MetricData))
	}

	latency := input.MetricData[0]
	if *latency.MetricName != types.MetricAPILatency {
		t.Errorf("expected %s, got %s", types.MetricAPILatency, *latency.MetricName)
	}
	if *latency.Value != 250 {
		t.Errorf("expected 250ms, got %f", *latency.Value)
	}
	if latency.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected unit Milliseconds, got %s", latency.Unit)
	}
	assertDimension(t, latency.Dimensions, types.DimEndpoint, "/api/predict/{variant}")
	assertDimension(t, latency.Dimensions, types.DimMethod, "POST")
	assertDimension(t, latency.Dimensions, types.DimStatus, "200")

	if *input.MetricData[1].MetricName != types.MetricAPIRequestCount {
		t.Errorf("expected %s, got %s", types.MetricAPIRequestCount, *input.MetricData[1].MetricName)
	}

	// A second flush has nothing to send.
	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if cw.callCount() != 1 {
		t.Errorf("expected no further calls, got %d", cw.callCount())
	}
}

func TestRecordPrediction(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "Custom", discardLogger())

	m.RecordPrediction(context.Background(), "xgboost", false)
	m.RecordRowsAdded(context.Background(), "London", 3)
	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	input := cw.calls[0]
	if *input.Namespace != "Custom" {
		t.Errorf("expected namespace Custom, got %q", *input.Namespace)
	}
	pred := input.MetricData[0]
	if *pred.MetricName != types.MetricPredictionCount {
		t.Errorf("expected %s, got %s", types.MetricPredictionCount, *pred.MetricName)
	}
	assertDimension(t, pred.Dimensions, types.DimVariant, "xgboost")
	assertDimension(t, pred.Dimensions, types.DimSafe, "false")

	rows := input.MetricData[1]
	if *rows.Value != 3 {
		t.Errorf("expected 3 rows, got %f", *rows.Value)
	}
	assertDimension(t, rows.Dimensions, types.DimCity, "London")
}

func TestFlush_BatchesAndReportsErrors(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := NewCloudWatchMetrics(cw, "", discardLogger())

	for range maxBatch + 1 {
		m.RecordPrediction(context.Background(), "rule", true)
	}

	err := m.Flush(context.Background())
	if err == nil {
		t.Fatal("expected flush error")
	}
	if cw.callCount() != 2 {
		t.Fatalf("expected 2 batches, got %d", cw.callCount())
	}
	if n := len(cw.calls[1].MetricData); n != 1 {
		t.Errorf("expected 1 datum in the second batch, got %d", n)
	}

	// Failed datums are not retried.
	cw.returnErr = nil
	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if cw.callCount() != 2 {
		t.Errorf("expected no further calls, got %d", cw.callCount())
	}
}

func TestRecord_DropsWhenBufferFull(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "", discardLogger())

	for range maxBuffered + 10 {
		m.RecordPrediction(context.Background(), "rule", true)
	}

	m.mu.Lock()
	buffered, dropped := len(m.buf), m.dropped
	m.mu.Unlock()
	if buffered != maxBuffered {
		t.Errorf("expected %d buffered, got %d", maxBuffered, buffered)
	}
	if dropped != 10 {
		t.Errorf("expected 10 dropped, got %d", dropped)
	}
}

func TestRun_FlushesOnCancel(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(cw, "", discardLogger())
	m.RecordPrediction(context.Background(), "rule", true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if cw.callCount() != 1 {
		t.Errorf("expected final flush, got %d calls", cw.callCount())
	}
}

func TestNopMetrics(t *testing.T) {
	var m Metrics = NopMetrics{}
	m.RecordRequest("GET", "/", "200", time.Second)
	m.RecordPrediction(context.Background(), "rule", true)
	if err := m.Flush(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
