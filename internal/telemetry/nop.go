package telemetry

import (
	"context"
	"time"
)

// Metrics is everything the service records.
type Metrics interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
	RecordPrediction(ctx context.Context, variant string, safe bool)
	RecordRowsAdded(ctx context.Context, city string, rows int)
	RecordUpstreamFailure(ctx context.Context, city string)
	Flush(ctx context.Context) error
}

var (
	_ Metrics = (*CloudWatchMetrics)(nil)
	_ Metrics = NopMetrics{}
)

// NopMetrics discards every metric. It is used when METRICS_ENABLED is off.
type NopMetrics struct{}

func (NopMetrics) RecordRequest(_, _, _ string, _ time.Duration) {}

func (NopMetrics) RecordPrediction(context.Context, string, bool) {}

func (NopMetrics) RecordRowsAdded(context.Context, string, int) {}

func (NopMetrics) RecordUpstreamFailure(context.Context, string) {}

func (NopMetrics) Flush(context.Context) error { return nil }
