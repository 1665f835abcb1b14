package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"eventplane/internal/config"
	"eventplane/internal/provision"
	"eventplane/internal/types"
)

// MainWorkflow is the registry name of the event lifecycle workflow.
const MainWorkflow = "event-lifecycle"

// EventStore is the slice of the event repository the lifecycle needs.
type EventStore interface {
	UpdateEventStatus(ctx context.Context, id string, status types.EventStatus, outputs string) (*types.Event, error)
}

// StatusNotifier publishes lifecycle transitions to the status bus.
type StatusNotifier interface {
	Publish(ctx context.Context, msg types.StatusMessage) error
}

// TransitionRecorder emits operational metrics for transitions and failures.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, status types.EventStatus, orchestration types.OrchestrationType)
	RecordFailure(ctx context.Context, code types.ErrorCode, orchestration types.OrchestrationType)
}

// lifecycleState is the scratch state persisted between lifecycle steps.
type lifecycleState struct {
	// Handle identifies the in-flight deploy operation.
	Handle types.ExecutionHandle `json:"handle,omitempty"`
	// TeardownHandle identifies the in-flight destroy operation.
	TeardownHandle types.ExecutionHandle `json:"teardown_handle,omitempty"`
	// Outputs is the deploy result carried to the scaled transition.
	Outputs string `json:"outputs,omitempty"`
	// PollDeadline bounds the current backend operation.
	PollDeadline time.Time `json:"poll_deadline,omitempty"`
}

// Lifecycle owns the event lifecycle steps: the status transitions against
// the event store, the status-bus notifications, and the provisioning calls
// through the backend matching the event's orchestration type.
type Lifecycle struct {
	events   EventStore
	backends map[types.OrchestrationType]provision.Backend
	bus      StatusNotifier
	metrics  TransitionRecorder
	logger   *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
	now          func() time.Time
}

// NewLifecycle wires the lifecycle steps. backends must contain an entry per
// supported orchestration type.
func NewLifecycle(events EventStore, backends map[types.OrchestrationType]provision.Backend,
	bus StatusNotifier, metrics TransitionRecorder, cfg config.WorkflowConfig, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		events:       events,
		backends:     backends,
		bus:          bus,
		metrics:      metrics,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Definitions returns the lifecycle workflow and its sub-workflows for
// registration. The main workflow inlines preroll, a deploy branch per
// orchestration type, the durable live wait, a destroy branch, and postroll.
func (l *Lifecycle) Definitions() []Definition {
	return []Definition{
		{
			Name: MainWorkflow,
			Elements: []Element{
				Call("preroll"),
				Run("route-deploy", l.routeDeploy),
				CallThen("deploy-automation", MainWorkflow+"/mark-scaled"),
				CallThen("deploy-catalog", MainWorkflow+"/mark-scaled"),
				Run("mark-scaled", l.markScaled),
				Run("wait-until-end", l.waitUntilEnd),
				Run("route-destroy", l.routeDestroy),
				CallThen("destroy-automation", "postroll/mark-ended"),
				CallThen("destroy-catalog", "postroll/mark-ended"),
				Call("postroll"),
			},
		},
		{
			Name:     "preroll",
			Elements: []Element{Run("mark-deploy", l.markDeploy)},
		},
		{
			Name: "deploy-automation",
			Elements: []Element{
				Run("start", l.deployStart(types.OrchestrationAutomation)),
				Run("poll", l.deployPoll(types.OrchestrationAutomation)),
			},
		},
		{
			Name: "deploy-catalog",
			Elements: []Element{
				Run("start", l.deployStart(types.OrchestrationCatalog)),
				Run("poll", l.deployPoll(types.OrchestrationCatalog)),
			},
		},
		{
			Name: "destroy-automation",
			Elements: []Element{
				Run("start", l.teardownStart(types.OrchestrationAutomation)),
				Run("poll", l.teardownPoll(types.OrchestrationAutomation)),
			},
		},
		{
			Name: "destroy-catalog",
			Elements: []Element{
				Run("start", l.teardownStart(types.OrchestrationCatalog)),
				Run("poll", l.teardownPoll(types.OrchestrationCatalog)),
			},
		},
		{
			Name:     "postroll",
			Elements: []Element{Run("mark-ended", l.markEnded)},
		},
	}
}

// OnFailure is the engine failure hook: it moves the event to failed and
// publishes an error notification. Failures past this point are logged only,
// the execution row still goes terminal.
func (l *Lifecycle) OnFailure(ctx context.Context, executionID string, input json.RawMessage, stepErr error) {
	msg, err := decodeMessage(input)
	if err != nil {
		l.logger.Error("failure hook could not decode execution input",
			"execution_id", executionID, "error", err)
		return
	}

	l.metrics.RecordFailure(ctx, types.CodeOf(stepErr), msg.Orchestration)

	writeErr := retryStoreWrite(ctx, func() error {
		_, err := l.events.UpdateEventStatus(ctx, msg.ID, types.StatusFailed, "")
		return err
	})
	if writeErr != nil {
		l.logger.Error("failed to mark event failed",
			"event_id", msg.ID, "error", writeErr)
	}

	notice := types.StatusMessage{
		Status: types.StatusFailed,
		PK:     msg.PK,
		SK:     msg.SK,
		Error:  stepErr.Error(),
	}
	if err := l.bus.Publish(ctx, notice); err != nil {
		l.logger.Error("failed to publish failure notification",
			"event_id", msg.ID, "error", err)
	}
}

// markDeploy is the preroll step: the event leaves registered.
func (l *Lifecycle) markDeploy(ctx context.Context, sc *StepContext) (StepResult, error) {
	msg, err := decodeMessage(sc.Input)
	if err != nil {
		return StepResult{}, err
	}
	if err := l.transition(ctx, msg, types.StatusDeploy, ""); err != nil {
		return StepResult{}, err
	}
	return StepResult{}, nil
}

// routeDeploy branches to the deploy sub-workflow matching the event's
// orchestration type.
func (l *Lifecycle) routeDeploy(ctx context.Context, sc *StepContext) (StepResult, error) {
	msg, err := decodeMessage(sc.Input)
	if err != nil {
		return StepResult{}, err
	}
	switch msg.Orchestration {
	case types.OrchestrationAutomation:
		return StepResult{Next: "deploy-automation/start"}, nil
	case types.OrchestrationCatalog:
		return StepResult{Next: "deploy-catalog/start"}, nil
	default:
		return StepResult{}, types.NewAppError(types.ErrCodeBackendInvalidTarget,
			fmt.Sprintf("unsupported orchestration type %q", msg.Orchestration), nil)
	}
}

// deployStart begins provisioning and records the handle and poll deadline.
func (l *Lifecycle) deployStart(orch types.OrchestrationType) StepFunc {
	return func(ctx context.Context, sc *StepContext) (StepResult, error) {
		msg, err := decodeMessage(sc.Input)
		if err != nil {
			return StepResult{}, err
		}
		var state lifecycleState
		if err := sc.LoadState(&state); err != nil {
			return StepResult{}, err
		}

		// A re-run after a crash between start and cursor advance would
		// double-provision; the stored handle makes the step a no-op then.
		if state.Handle == "" {
			handle, err := l.backends[orch].Start(ctx, provision.StartRequest{
				ExecutionName:        msg.ID,
				Target:               msg.DocumentName,
				Version:              msg.VersionID,
				AutomationParameters: msg.AutomationParameters,
				CatalogParameters:    msg.CatalogParameters,
			})
			if err != nil {
				return StepResult{}, err
			}
			state.Handle = handle
			l.logger.Info("deploy started", "event_id", msg.ID,
				"orchestration", string(orch), "handle", string(handle))
		}

		state.PollDeadline = l.now().Add(l.pollTimeout)
		if err := sc.SaveState(&state); err != nil {
			return StepResult{}, err
		}
		return StepResult{}, nil
	}
}

// deployPoll probes the deploy operation until it reaches a terminal status,
// suspending durably between probes.
func (l *Lifecycle) deployPoll(orch types.OrchestrationType) StepFunc {
	return func(ctx context.Context, sc *StepContext) (StepResult, error) {
		var state lifecycleState
		if err := sc.LoadState(&state); err != nil {
			return StepResult{}, err
		}

		res, err := l.pollOnce(ctx, orch, state.Handle, state.PollDeadline, "deploy")
		if err != nil {
			return StepResult{}, err
		}
		if res == nil {
			return StepResult{Repeat: true, SleepUntil: l.now().Add(l.pollInterval)}, nil
		}

		state.Outputs = res.Outputs
		if err := sc.SaveState(&state); err != nil {
			return StepResult{}, err
		}
		return StepResult{}, nil
	}
}

// markScaled records the scaled transition, attaching the deploy outputs to
// both the stored event and the status notification.
func (l *Lifecycle) markScaled(ctx context.Context, sc *StepContext) (StepResult, error) {
	msg, err := decodeMessage(sc.Input)
	if err != nil {
		return StepResult{}, err
	}
	var state lifecycleState
	if err := sc.LoadState(&state); err != nil {
		return StepResult{}, err
	}
	if err := l.transition(ctx, msg, types.StatusScaled, state.Outputs); err != nil {
		return StepResult{}, err
	}
	return StepResult{}, nil
}

// waitUntilEnd suspends the execution until the event's end timestamp. The
// wait is durable: it lives in the execution row's wake time, so restarts
// and deploy rollouts during a multi-day event change nothing.
func (l *Lifecycle) waitUntilEnd(ctx context.Context, sc *StepContext) (StepResult, error) {
	msg, err := decodeMessage(sc.Input)
	if err != nil {
		return StepResult{}, err
	}
	endsAt, err := time.Parse(time.RFC3339, msg.EndsTS)
	if err != nil {
		return StepResult{}, types.NewAppError(types.ErrCodeScheduleInvalidTimestamp,
			"event has an unparseable end timestamp", err)
	}
	if !endsAt.After(l.now()) {
		return StepResult{}, nil
	}
	return StepResult{SleepUntil: endsAt}, nil
}

// routeDestroy records the destroy transition and branches to the teardown
// sub-workflow for the event's orchestration type.
func (l *Lifecycle) routeDestroy(ctx context.Context, sc *StepContext) (StepResult, error) {
	msg, err := decodeMessage(sc.Input)
	if err != nil {
		return StepResult{}, err
	}
	if err := l.transition(ctx, msg, types.StatusDestroy, ""); err != nil {
		return StepResult{}, err
	}
	switch msg.Orchestration {
	case types.OrchestrationAutomation:
		return StepResult{Next: "destroy-automation/start"}, nil
	case types.OrchestrationCatalog:
		return StepResult{Next: "destroy-catalog/start"}, nil
	default:
		return StepResult{}, types.NewAppError(types.ErrCodeBackendInvalidTarget,
			fmt.Sprintf("unsupported orchestration type %q", msg.Orchestration), nil)
	}
}

// teardownStart begins tearing down what deploy provisioned. A resource that
// is already gone skips straight to postroll.
func (l *Lifecycle) teardownStart(orch types.OrchestrationType) StepFunc {
	return func(ctx context.Context, sc *StepContext) (StepResult, error) {
		msg, err := decodeMessage(sc.Input)
		if err != nil {
			return StepResult{}, err
		}
		var state lifecycleState
		if err := sc.LoadState(&state); err != nil {
			return StepResult{}, err
		}

		if state.TeardownHandle == "" {
			handle, err := l.backends[orch].Terminate(ctx, provision.TerminateRequest{
				ExecutionName: msg.ID,
				Target:        msg.DocumentName,
				Handle:        state.Handle,
			})
			if err != nil {
				code := types.CodeOf(err)
				if code == types.ErrCodeBackendAlreadyTerminated || code == types.ErrCodeBackendNotFound {
					l.logger.Warn("teardown target already gone, skipping to postroll",
						"event_id", msg.ID, "error_code", string(code))
					return StepResult{Next: "postroll/mark-ended"}, nil
				}
				return StepResult{}, err
			}
			state.TeardownHandle = handle
			l.logger.Info("teardown started", "event_id", msg.ID,
				"orchestration", string(orch), "handle", string(handle))
		}

		state.PollDeadline = l.now().Add(l.pollTimeout)
		if err := sc.SaveState(&state); err != nil {
			return StepResult{}, err
		}
		return StepResult{}, nil
	}
}

// teardownPoll probes the destroy operation until it reaches a terminal
// status.
func (l *Lifecycle) teardownPoll(orch types.OrchestrationType) StepFunc {
	return func(ctx context.Context, sc *StepContext) (StepResult, error) {
		var state lifecycleState
		if err := sc.LoadState(&state); err != nil {
			return StepResult{}, err
		}

		res, err := l.pollOnce(ctx, orch, state.TeardownHandle, state.PollDeadline, "destroy")
		if err != nil {
			return StepResult{}, err
		}
		if res == nil {
			return StepResult{Repeat: true, SleepUntil: l.now().Add(l.pollInterval)}, nil
		}
		return StepResult{}, nil
	}
}

// markEnded is the postroll step: the lifecycle's successful terminal
// transition.
func (l *Lifecycle) markEnded(ctx context.Context, sc *StepContext) (StepResult, error) {
	msg, err := decodeMessage(sc.Input)
	if err != nil {
		return StepResult{}, err
	}
	if err := l.transition(ctx, msg, types.StatusEnded, ""); err != nil {
		return StepResult{}, err
	}
	return StepResult{}, nil
}

// pollOnce probes one backend operation. It returns nil with no error while
// the operation is still in progress, the poll result once it succeeds, and
// an error when it fails or the deadline has passed.
func (l *Lifecycle) pollOnce(ctx context.Context, orch types.OrchestrationType,
	handle types.ExecutionHandle, deadline time.Time, phase string) (*types.PollResult, error) {
	if l.now().After(deadline) {
		return nil, types.NewAppError(types.ErrCodeWorkflowPollTimeout,
			phase+" operation did not finish before the poll deadline", nil)
	}

	res, err := l.backends[orch].Poll(ctx, handle)
	if err != nil {
		// A transient backend outage is not a workflow failure; probe again.
		if types.CodeOf(err) == types.ErrCodeBackendUnavailable {
			l.logger.Warn("backend unavailable during poll, will retry",
				"handle", string(handle), "phase", phase, "error", err)
			return nil, nil
		}
		return nil, err
	}

	switch res.Status {
	case types.ExecutionSucceeded:
		return &res, nil
	case types.ExecutionFailed:
		return nil, types.NewAppError(types.ErrCodeWorkflowStepFailed,
			fmt.Sprintf("%s operation failed: %s", phase, res.Detail), nil)
	default:
		return nil, nil
	}
}

// transition writes the status to the event store with bounded retry, emits
// the status-bus notification, and records the transition metric. The store
// write is the authoritative part; a notification that cannot be published
// is logged and the lifecycle proceeds.
func (l *Lifecycle) transition(ctx context.Context, msg types.EventMessage, status types.EventStatus, outputs string) error {
	err := retryStoreWrite(ctx, func() error {
		_, err := l.events.UpdateEventStatus(ctx, msg.ID, status, outputs)
		return err
	})
	if err != nil {
		return err
	}

	l.logger.Info("event transitioned", "event_id", msg.ID, "status", string(status))
	l.metrics.RecordTransition(ctx, status, msg.Orchestration)

	notice := types.StatusMessage{
		Status:  status,
		PK:      msg.PK,
		SK:      msg.SK,
		Outputs: outputs,
	}
	if err := l.bus.Publish(ctx, notice); err != nil {
		l.logger.Error("failed to publish status notification",
			"event_id", msg.ID, "status", string(status), "error", err)
	}
	return nil
}

// decodeMessage unmarshals the execution input back into the work-queue
// message shape.
func decodeMessage(input json.RawMessage) (types.EventMessage, error) {
	var msg types.EventMessage
	if err := json.Unmarshal(input, &msg); err != nil {
		return types.EventMessage{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode execution input", err)
	}
	return msg, nil
}
