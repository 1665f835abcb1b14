// Package dispatch consumes the work queue and starts lifecycle workflow
// executions. It is the idempotency boundary between at-least-once queue
// delivery and exactly-once orchestration: duplicate deliveries collapse on
// the execution id, which is the event id.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"eventplane/internal/types"
	"eventplane/internal/workflow"
)

// Starter is the slice of the workflow engine the dispatcher needs.
type Starter interface {
	StartExecution(ctx context.Context, workflowName, executionID string, input []byte) (bool, error)
}

// Handler processes work-queue batches. Messages that fail transiently are
// reported as partial batch failures so the queue redelivers only those;
// malformed or non-dispatchable messages are acknowledged and dropped,
// redelivery cannot fix them.
type Handler struct {
	engine Starter
	logger *slog.Logger
}

// NewHandler creates a dispatch handler over the given engine.
func NewHandler(engine Starter, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Handle processes one SQS batch, returning partial batch failures for
// messages whose dispatch should be retried.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to dispatch work-queue message",
				"message_id", record.MessageId,
				"error_code", string(types.CodeOf(err)),
				"error", err)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}

	return response, nil
}

// processRecord dispatches a single work-queue message. A nil return
// acknowledges the message; an error marks it for redelivery.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.EventMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Malformed body never deserializes on redelivery either.
		h.logger.Error("dropping unparseable work-queue message",
			"message_id", record.MessageId, "error", err)
		return nil
	}

	logger := h.logger.With("event_id", msg.ID, "event_status", string(msg.Status))

	// An event that reached a terminal state after enqueue must not restart
	// its lifecycle. This covers late redeliveries and stale periodic scans.
	if msg.Status.Terminal() {
		logger.Warn("dropping dispatch for terminal event",
			"error_code", string(types.ErrCodeDispatchTerminalEvent))
		return nil
	}

	if !msg.Orchestration.Valid() {
		logger.Error("dropping dispatch with unsupported orchestration type",
			"orchestration", string(msg.Orchestration))
		return nil
	}

	created, err := h.engine.StartExecution(ctx, workflow.MainWorkflow, msg.ID, []byte(record.Body))
	if err != nil {
		return err
	}
	if created {
		logger.Info("dispatched event to lifecycle workflow")
	}
	return nil
}
