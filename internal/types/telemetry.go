package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAPILatency       = "APILatency"
	MetricAPIRequestCount  = "APIRequestCount"
	MetricPredictionCount  = "PredictionCount"
	MetricUpstreamFailure  = "UpstreamFailure"
	MetricDatasetRowsAdded = "DatasetRowsAdded"

	// Dimension Keys
	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimVariant  = "Variant"
	DimSafe     = "SafeToDry"
	DimCity     = "City"

	// Metric Namespace
	MetricNamespace = "DryDay"
)
