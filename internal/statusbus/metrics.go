package statusbus

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"eventplane/internal/types"
)

// Metric and dimension names.
const (
	MetricTransition       = "LifecycleTransition"
	MetricLifecycleFailure = "LifecycleFailure"
	DimStatus              = "Status"
	DimOrchestration       = "OrchestrationType"
)

// CloudWatchAPI abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics emits lifecycle telemetry to CloudWatch. Emission is best-effort:
// a metric failure is logged and never surfaced to the workflow, since
// telemetry must not fail a lifecycle.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	logger    *slog.Logger
}

// NewMetrics creates a Metrics publisher for the given namespace.
func NewMetrics(client CloudWatchAPI, namespace string, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordTransition emits one LifecycleTransition count with the status and
// orchestration type as dimensions.
func (m *Metrics) RecordTransition(ctx context.Context, status types.EventStatus, orchestration types.OrchestrationType) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwTypes.MetricDatum{
			{
				MetricName: aws.String(MetricTransition),
				Value:      aws.Float64(1),
				Unit:       cwTypes.StandardUnitCount,
				Dimensions: []cwTypes.Dimension{
					{Name: aws.String(DimStatus), Value: aws.String(string(status))},
					{Name: aws.String(DimOrchestration), Value: aws.String(string(orchestration))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to record transition metric",
			"status", string(status),
			"error", err,
		)
	}
}

// RecordFailure emits one LifecycleFailure count tagged with the failing
// error code.
func (m *Metrics) RecordFailure(ctx context.Context, code types.ErrorCode, orchestration types.OrchestrationType) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwTypes.MetricDatum{
			{
				MetricName: aws.String(MetricLifecycleFailure),
				Value:      aws.Float64(1),
				Unit:       cwTypes.StandardUnitCount,
				Dimensions: []cwTypes.Dimension{
					{Name: aws.String("ErrorCode"), Value: aws.String(string(code))},
					{Name: aws.String(DimOrchestration), Value: aws.String(string(orchestration))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to record failure metric",
			"error_code", string(code),
			"error", err,
		)
	}
}
