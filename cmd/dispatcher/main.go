// Package main is the entrypoint for the Dispatcher Lambda function.
//
// The Dispatcher consumes work-queue batches and starts one lifecycle
// workflow execution per message, using the event id as the execution's
// idempotency key. Messages for terminal events are dropped; transient
// failures are reported as partial batch failures so the queue redelivers
// only those messages.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"eventplane/internal/config"
	"eventplane/internal/db"
	"eventplane/internal/dispatch"
	"eventplane/internal/provision"
	"eventplane/internal/statusbus"
	"eventplane/internal/types"
	"eventplane/internal/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("dispatcher Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	ssmClient := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	scClient := servicecatalog.NewFromConfig(awsCfg, func(o *servicecatalog.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	ebClient := eventbridge.NewFromConfig(awsCfg, func(o *eventbridge.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	backends := map[types.OrchestrationType]provision.Backend{
		types.OrchestrationAutomation: provision.NewAutomationBackend(ssmClient, logger),
		types.OrchestrationCatalog:    provision.NewCatalogBackend(scClient, logger),
	}

	bus := statusbus.NewPublisher(ebClient, cfg.AWS.EventBusName, logger)
	metrics := statusbus.NewMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	eventRepo := db.NewEventRepository(pool)
	lifecycle := workflow.NewLifecycle(eventRepo, backends, bus, metrics, cfg.Workflow, logger)

	registry, err := workflow.NewRegistry(lifecycle.Definitions()...)
	if err != nil {
		logger.Error("failed to compile workflow registry", "error", err)
		os.Exit(1)
	}

	executionRepo := db.NewExecutionRepository(pool)
	engine := workflow.NewEngine(registry, executionRepo, lifecycle.OnFailure, logger)

	handler := dispatch.NewHandler(engine, logger)

	logger.Info("dispatcher Lambda initialized",
		"event_bus", cfg.AWS.EventBusName,
		"metric_namespace", cfg.AWS.MetricNamespace,
	)

	lambda.Start(handler.Handle)
}
