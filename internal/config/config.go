// Package config defines the global configuration structure for the
// eventplane platform. Configuration is loaded once at process
// initialization (Lambda cold start or daemon boot) and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to
// exit immediately on startup (fail fast).
package config

import "time"

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"eventplane"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Database  DatabaseConfig
	AWS       AWSConfig
	Scheduler SchedulerConfig
	Discovery DiscoveryConfig
	Workflow  WorkflowConfig
	Ops       OpsConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EventQueueURL is the work queue both scheduler paths enqueue to.
	EventQueueURL string `envconfig:"SQS_EVENT_QUEUE" validate:"required,url"`
	// EventBusName is the status bus lifecycle notifications are published to.
	EventBusName string `envconfig:"EVENT_BUS_NAME" validate:"required"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"EventPlane"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SchedulerConfig holds the dispatch eligibility tuning for both scheduler
// paths. The lookahead window is deliberately configuration, not a package
// constant, so environments and tests can tune it.
type SchedulerConfig struct {
	LookaheadWindow time.Duration `envconfig:"SCHEDULER_LOOKAHEAD_WINDOW" default:"24h"`
}

// DiscoveryConfig holds the tag filter and rate-limit discipline for the
// resource discovery service. The inter-call delay is a correctness
// requirement (downstream API quotas), not an optimization.
type DiscoveryConfig struct {
	TagKey   string `envconfig:"DISCOVERY_TAG_KEY" default:"application"`
	TagValue string `envconfig:"DISCOVERY_TAG_VALUE" default:"eventplane"`

	DocumentPageSize int32         `envconfig:"DISCOVERY_DOCUMENT_PAGE_SIZE" default:"50" validate:"min=1,max=50"`
	ProductPageSize  int32         `envconfig:"DISCOVERY_PRODUCT_PAGE_SIZE" default:"20" validate:"min=1,max=20"`
	InterCallDelay   time.Duration `envconfig:"DISCOVERY_INTER_CALL_DELAY" default:"1s"`
	MaxAttempts      int           `envconfig:"DISCOVERY_MAX_ATTEMPTS" default:"5"`
}

// WorkflowConfig holds the workflow engine's timing parameters.
type WorkflowConfig struct {
	// PollInterval is the suspension between backend poll probes.
	PollInterval time.Duration `envconfig:"WORKFLOW_POLL_INTERVAL" default:"30s"`
	// PollTimeout bounds each backend operation; exceeding it fails the step.
	PollTimeout time.Duration `envconfig:"WORKFLOW_POLL_TIMEOUT" default:"2h"`
	// ResumeInterval is how often the orchestrator scans for runnable
	// executions (due wake_at).
	ResumeInterval time.Duration `envconfig:"WORKFLOW_RESUME_INTERVAL" default:"15s"`
	// ResumeBatchSize caps how many executions one scan drives.
	ResumeBatchSize int `envconfig:"WORKFLOW_RESUME_BATCH_SIZE" default:"50"`
}

// OpsConfig holds the orchestrator daemon's operational endpoints.
type OpsConfig struct {
	HealthPort string `envconfig:"HEALTH_PORT" default:"8081"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
