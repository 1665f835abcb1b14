// Package main is the entrypoint for the Event Stream Lambda function.
//
// The Event Stream Lambda is the scheduler's immediate path. The API layer
// invokes it with a change notification carrying newly created event records;
// each record inside the lookahead window is enqueued to the work queue right
// away instead of waiting for the next daily cycle.
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
	"eventplane/internal/queue"
	"eventplane/internal/scheduler"
	"eventplane/internal/types"
)

// ChangeNotification is the invocation payload: the event records inserted
// since the last notification.
type ChangeNotification struct {
	Events []types.Event `json:"events"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("event-stream Lambda initializing (cold start)")

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

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	dispatcher := queue.NewEventDispatcher(sqsClient, cfg.AWS.EventQueueURL, logger)
	sched := scheduler.NewScheduler(nil, dispatcher, cfg.Scheduler.LookaheadWindow, logger)

	logger.Info("event-stream Lambda initialized",
		"lookahead_window", cfg.Scheduler.LookaheadWindow.String(),
		"queue_url", cfg.AWS.EventQueueURL,
	)

	lambda.Start(func(ctx context.Context, notification ChangeNotification) (string, error) {
		now := time.Now().UTC()
		enqueued := 0
		for _, ev := range notification.Events {
			sent, err := sched.HandleChange(ctx, ev, now)
			if err != nil {
				logger.ErrorContext(ctx, "failed to handle change notification",
					"event_id", ev.ID, "error", err)
				return "", err
			}
			if sent {
				enqueued++
			}
		}
		return fmt.Sprintf("change notification processed: %d of %d events enqueued",
			enqueued, len(notification.Events)), nil
	})
}
