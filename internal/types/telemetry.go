package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names. Delivery outcomes are a Result dimension on
	// DeliveryAttempt, not separate metrics.
	MetricDeliveryAttempt  = "DeliveryAttempt"
	MetricDeliveryLatency  = "DeliveryLatency"
	MetricDispatchLag      = "DispatchLag"
	MetricSchedulesDue     = "SchedulesDue"
	MetricRetentionPurged  = "RetentionPurged"
	MetricGeneratorFailure = "GeneratorFailure"

	// Dimension Keys
	DimReportType = "ReportType"
	DimFormat     = "Format"
	DimResult     = "Result"

	// Metric Namespace
	MetricNamespace = "ReportFlow"
)
