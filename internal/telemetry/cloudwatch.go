// Package telemetry publishes service metrics. CloudWatchMetrics buffers
// datums and ships them in batches; NopMetrics discards everything.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"dryday/internal/config"
	"dryday/internal/types"
)

const (
	// DefaultFlushInterval is how often Run ships buffered datums.
	DefaultFlushInterval = 10 * time.Second

	// maxBatch is the number of datums sent per PutMetricData call.
	maxBatch = 500
	// maxBuffered bounds memory when CloudWatch is unreachable.
	maxBuffered = 5000
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// NewCloudWatchClient builds a client from the default AWS credential chain.
// A non-empty AWSEndpointURL (LocalStack) overrides the service endpoint.
func NewCloudWatchClient(ctx context.Context, cfg config.ObservabilityConfig) (*cloudwatch.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}), nil
}

// CloudWatchMetrics records request, prediction and dataset metrics.
//
// Metrics emitted:
//   - APILatency: Dims {Endpoint, Method, Status}, milliseconds
//   - APIRequestCount: Dims {Endpoint, Method, Status}
//   - PredictionCount: Dims {Variant, SafeToDry}
//   - DatasetRowsAdded: Dims {City}
//
// Recording never blocks on the network. Datums are sent by Flush, which
// Run calls periodically. Send failures are logged, not returned to callers
// of the Record methods.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	buf     []cwtypes.MetricDatum
	dropped int
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
// An empty namespace uses types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest implements core.MetricsCollector.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimEndpoint, endpoint),
		dim(types.DimMethod, method),
		dim(types.DimStatus, status),
	}
	m.add(
		m.datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims),
		m.datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims),
	)
}

// RecordPrediction counts a served prediction.
func (m *CloudWatchMetrics) RecordPrediction(_ context.Context, variant string, safe bool) {
	m.add(m.datum(types.MetricPredictionCount, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		dim(types.DimVariant, variant),
		dim(types.DimSafe, strconv.FormatBool(safe)),
	}))
}

// RecordRowsAdded counts the days a dataset update appended for city.
func (m *CloudWatchMetrics) RecordRowsAdded(_ context.Context, city string, rows int) {
	m.add(m.datum(types.MetricDatasetRowsAdded, float64(rows), cwtypes.StandardUnitCount, []cwtypes.Dimension{
		dim(types.DimCity, city),
	}))
}

// RecordUpstreamFailure counts a failed forecast fetch.
func (m *CloudWatchMetrics) RecordUpstreamFailure(_ context.Context, city string) {
	m.add(m.datum(types.MetricUpstreamFailure, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		dim(types.DimCity, city),
	}))
}

// Flush sends every buffered datum. Batches that fail are logged and
// discarded; the joined errors are returned.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := m.buf
	m.buf = nil
	dropped := m.dropped
	m.dropped = 0
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.Warn("metric buffer overflowed", "dropped", dropped)
	}

	var errs []error
	for start := 0; start < len(pending); start += maxBatch {
		end := min(start+maxBatch, len(pending))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			m.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"datums", end-start,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run flushes every interval until ctx is done, then flushes once more.
func (m *CloudWatchMetrics) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = m.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = m.Flush(ctx)
		}
	}
}

func (m *CloudWatchMetrics) add(datums ...cwtypes.MetricDatum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf)+len(datums) > maxBuffered {
		m.dropped += len(datums)
		return
	}
	m.buf = append(m.buf, datums...)
}

func (m *CloudWatchMetrics) datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
