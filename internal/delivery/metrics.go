package delivery

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"reportflow/internal/types"
)

// MetricResult labels the outcome dimension on delivery metrics.
type MetricResult string

const (
	ResultSuccess   MetricResult = "success"
	ResultFailure   MetricResult = "failure"
	ResultPermanent MetricResult = "permanent_failure"
	ResultSkipped   MetricResult = "skipped"
)

// Metrics records pipeline telemetry. Recording must never fail a
// delivery; implementations log and swallow their own errors.
type Metrics interface {
	RecordDeliveryOutcome(ctx context.Context, reportType string, format types.ReportFormat, result MetricResult)
	RecordSendLatency(ctx context.Context, reportType string, elapsed time.Duration)
	RecordGeneratorFailure(ctx context.Context, reportType string)
	RecordSchedulesDue(ctx context.Context, count int)
	RecordDispatchLag(ctx context.Context, lag time.Duration)
	RecordRetentionPurged(ctx context.Context, count int)
}

// NoopMetrics discards all telemetry. Used in tests and when metrics are
// disabled by configuration.
type NoopMetrics struct{}

func (NoopMetrics) RecordDeliveryOutcome(context.Context, string, types.ReportFormat, MetricResult) {
}
func (NoopMetrics) RecordSendLatency(context.Context, string, time.Duration) {}
func (NoopMetrics) RecordGeneratorFailure(context.Context, string)           {}
func (NoopMetrics) RecordSchedulesDue(context.Context, int)                  {}
func (NoopMetrics) RecordDispatchLag(context.Context, time.Duration)         {}
func (NoopMetrics) RecordRetentionPurged(context.Context, int)               {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes pipeline telemetry to CloudWatch. Publish
// errors are logged and swallowed so a metrics outage never blocks a
// delivery.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// compile-time assertion
var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the
// ReportFlow namespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordDeliveryOutcome emits a DeliveryAttempt count with ReportType,
// Format and Result dimensions.
func (m *CloudWatchMetrics) RecordDeliveryOutcome(ctx context.Context, reportType string, format types.ReportFormat, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimReportType), Value: aws.String(reportType)},
			{Name: aws.String(types.DimFormat), Value: aws.String(string(format))},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

// RecordSendLatency emits the wall time of one send attempt.
func (m *CloudWatchMetrics) RecordSendLatency(ctx context.Context, reportType string, elapsed time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(elapsed.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimReportType), Value: aws.String(reportType)},
		},
	})
}

// RecordGeneratorFailure counts upstream generation failures.
func (m *CloudWatchMetrics) RecordGeneratorFailure(ctx context.Context, reportType string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricGeneratorFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimReportType), Value: aws.String(reportType)},
		},
	})
}

// RecordSchedulesDue reports how many schedules one tick found due.
func (m *CloudWatchMetrics) RecordSchedulesDue(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricSchedulesDue),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordDispatchLag reports how far behind its nextRunAt the most overdue
// schedule of a tick was.
func (m *CloudWatchMetrics) RecordDispatchLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDispatchLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// RecordRetentionPurged counts rows removed by the retention sweep.
func (m *CloudWatchMetrics) RecordRetentionPurged(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricRetentionPurged),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.Warn("failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}
