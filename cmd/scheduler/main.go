// Package main is the entrypoint for the Scheduler Lambda function.
//
// The Scheduler runs once per day via an EventBridge rule. It range-queries
// the event store for every event starting inside the lookahead window and
// enqueues each to the work queue. Duplicate enqueues across cycles are
// harmless: the dispatcher's idempotency key collapses them.
//
// This file handles dependency wiring (cold start) and delegates the
// eligibility logic to internal/scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"eventplane/internal/config"
	"eventplane/internal/db"
	"eventplane/internal/queue"
	"eventplane/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("scheduler Lambda initializing (cold start)")

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

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	dispatcher := queue.NewEventDispatcher(sqsClient, cfg.AWS.EventQueueURL, logger)
	eventRepo := db.NewEventRepository(pool)
	sched := scheduler.NewScheduler(eventRepo, dispatcher, cfg.Scheduler.LookaheadWindow, logger)

	logger.Info("scheduler Lambda initialized",
		"lookahead_window", cfg.Scheduler.LookaheadWindow.String(),
		"queue_url", cfg.AWS.EventQueueURL,
	)

	lambda.Start(func(ctx context.Context) (string, error) {
		sent, err := sched.RunPeriodic(ctx, time.Now().UTC())
		if err != nil {
			logger.ErrorContext(ctx, "periodic scheduling cycle failed",
				"error", err, "enqueued_before_error", sent)
			return "", err
		}
		return fmt.Sprintf("scheduling cycle complete: %d events enqueued", sent), nil
	})
}
