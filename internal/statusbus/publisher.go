// Package statusbus publishes lifecycle and error notifications from the
// workflow engine. Messages fan out through an event bus to the
// store-mutation path and any external notification collaborators.
package statusbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebTypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"eventplane/internal/types"
)

// Source identifies this platform's orchestration engine on the bus.
const Source = "com.eventplane.orchestration"

// DetailType is the bus detail-type for lifecycle notifications.
const DetailType = "Status Notification"

// EventBusAPI abstracts the EventBridge PutEvents operation for testability.
type EventBusAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher emits StatusMessages onto the status bus. One message is emitted
// per lifecycle transition, in transition order; consumers must treat the
// embedded status as authoritative because delivery order is not guaranteed
// downstream.
type Publisher struct {
	client  EventBusAPI
	busName string
	logger  *slog.Logger
}

// NewPublisher creates a Publisher targeting the named event bus.
func NewPublisher(client EventBusAPI, busName string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		busName: busName,
		logger:  logger,
	}
}

// Publish sends one StatusMessage to the bus.
func (p *Publisher) Publish(ctx context.Context, msg types.StatusMessage) error {
	detail, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("statusbus: failed to marshal status message: %w", err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebTypes.PutEventsRequestEntry{
			{
				Source:       aws.String(Source),
				DetailType:   aws.String(DetailType),
				Detail:       aws.String(string(detail)),
				EventBusName: aws.String(p.busName),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeStatusBusPublish,
			fmt.Sprintf("failed to publish %s status for event %s", msg.Status, msg.PK), err)
	}
	if out.FailedEntryCount > 0 {
		return types.NewAppError(types.ErrCodeStatusBusPublish,
			fmt.Sprintf("status bus rejected %s status for event %s", msg.Status, msg.PK), nil)
	}

	p.logger.InfoContext(ctx, "status notification published",
		"event_id", msg.PK,
		"status", string(msg.Status),
		"has_outputs", msg.Outputs != "",
	)

	return nil
}
