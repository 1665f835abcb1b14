// Package queue provides the SQS-based producer that both scheduler paths use
// to hand event snapshots to the dispatcher.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"eventplane/internal/types"
)

// Reason values recorded as a message attribute so queue consumers and
// operators can tell which scheduler path produced a message.
const (
	ReasonPeriodic = "periodic"
	ReasonStream   = "stream"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventDispatcher serializes EventMessages and sends them to the work queue.
// The queue delivers at least once; de-duplication is not attempted here.
// The workflow engine's idempotency key is the sole de-duplication mechanism,
// so both scheduler paths may enqueue the same event freely.
type EventDispatcher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEventDispatcher creates a new EventDispatcher targeting the given work
// queue URL.
func NewEventDispatcher(client SQSSender, queueURL string, logger *slog.Logger) *EventDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventDispatcher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Send serializes the message to JSON and dispatches it to the work queue
// with the producing path recorded as a message attribute.
func (d *EventDispatcher) Send(ctx context.Context, msg types.EventMessage, reason string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal event message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeQueueSend,
			fmt.Sprintf("failed to send event %s to work queue", msg.ID), err)
	}

	d.logger.InfoContext(ctx, "event message sent",
		"queue_url", d.queueURL,
		"event_id", msg.ID,
		"orchestration_type", string(msg.Orchestration),
		"event_starts_ts", msg.StartsTS,
		"reason", reason,
	)

	return nil
}
