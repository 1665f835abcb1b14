package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"eventplane/internal/types"
	"eventplane/internal/workflow"
)

// mockStarter records StartExecution calls.
type mockStarter struct {
	calls   []string // execution ids
	created bool
	err     error
}

func (m *mockStarter) StartExecution(_ context.Context, workflowName, executionID string, _ []byte) (bool, error) {
	if workflowName != workflow.MainWorkflow {
		return false, errors.New("unexpected workflow " + workflowName)
	}
	m.calls = append(m.calls, executionID)
	return m.created, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqsRecord(t *testing.T, id string, msg types.EventMessage) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestHandle_StartsExecutionPerMessage(t *testing.T) {
	starter := &mockStarter{created: true}
	h := NewHandler(starter, discardLogger())

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "m1", types.EventMessage{ID: "ev1", Status: types.StatusRegistered, Orchestration: types.OrchestrationAutomation}),
		sqsRecord(t, "m2", types.EventMessage{ID: "ev2", Status: types.StatusRegistered, Orchestration: types.OrchestrationCatalog}),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("unexpected batch failures: %v", resp.BatchItemFailures)
	}
	if len(starter.calls) != 2 || starter.calls[0] != "ev1" || starter.calls[1] != "ev2" {
		t.Errorf("started executions %v, want [ev1 ev2]", starter.calls)
	}
}

func TestHandle_TerminalEventsDropped(t *testing.T) {
	starter := &mockStarter{created: true}
	h := NewHandler(starter, discardLogger())

	for _, status := range []types.EventStatus{types.StatusEnded, types.StatusFailed} {
		resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
			sqsRecord(t, "m1", types.EventMessage{ID: "ev1", Status: status, Orchestration: types.OrchestrationAutomation}),
		}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Dropped means acknowledged: no batch failure, no execution.
		if len(resp.BatchItemFailures) != 0 {
			t.Errorf("terminal event reported for retry with status %s", status)
		}
	}
	if len(starter.calls) != 0 {
		t.Errorf("terminal events started %d executions, want 0", len(starter.calls))
	}
}

func TestHandle_MalformedBodyAcknowledged(t *testing.T) {
	starter := &mockStarter{created: true}
	h := NewHandler(starter, discardLogger())

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: "not json"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Error("unparseable message must be acknowledged, redelivery cannot fix it")
	}
	if len(starter.calls) != 0 {
		t.Error("unparseable message started an execution")
	}
}

func TestHandle_InvalidOrchestrationAcknowledged(t *testing.T) {
	starter := &mockStarter{created: true}
	h := NewHandler(starter, discardLogger())

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "m1", types.EventMessage{ID: "ev1", Status: types.StatusRegistered, Orchestration: "FTP"}),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 || len(starter.calls) != 0 {
		t.Error("unsupported orchestration type must be dropped without dispatch")
	}
}

func TestHandle_TransientFailureReportedForRetry(t *testing.T) {
	starter := &mockStarter{err: types.NewAppError(types.ErrCodeInternalDB, "connection refused", nil)}
	h := NewHandler(starter, discardLogger())

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "m1", types.EventMessage{ID: "ev1", Status: types.StatusRegistered, Orchestration: types.OrchestrationAutomation}),
		sqsRecord(t, "m2", types.EventMessage{ID: "ev2", Status: types.StatusRegistered, Orchestration: types.OrchestrationAutomation}),
	}})
	if err != nil {
		t.Fatalf("the batch itself must not fail: %v", err)
	}

	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("got %d batch failures, want 2", len(resp.BatchItemFailures))
	}
	if resp.BatchItemFailures[0].ItemIdentifier != "m1" {
		t.Errorf("failure identifies %q, want m1", resp.BatchItemFailures[0].ItemIdentifier)
	}
}

func TestHandle_DuplicateDeliveryIsNoOp(t *testing.T) {
	starter := &mockStarter{created: false} // execution already exists
	h := NewHandler(starter, discardLogger())

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "m1", types.EventMessage{ID: "ev1", Status: types.StatusRegistered, Orchestration: types.OrchestrationAutomation}),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Error("duplicate delivery must be acknowledged, not retried")
	}
}
