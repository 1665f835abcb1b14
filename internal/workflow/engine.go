package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"eventplane/internal/db"
	"eventplane/internal/types"
)

// ExecutionStore is the persistence the engine needs, satisfied by
// db.ExecutionRepository.
type ExecutionStore interface {
	Create(ctx context.Context, id, workflow, step string, input []byte) (bool, error)
	ClaimRunnable(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]db.ExecutionState, error)
	Advance(ctx context.Context, id, step string, state []byte, wakeAt time.Time) error
	Finish(ctx context.Context, id string, status db.ExecutionRunStatus, state []byte) error
}

// FailureHook runs once when an execution fails, before the row goes
// terminal. The lifecycle wires this to the failed-event transition and the
// status-bus error notification.
type FailureHook func(ctx context.Context, executionID string, input json.RawMessage, stepErr error)

const (
	storeWriteAttempts = 3
	storeWriteBackoff  = 250 * time.Millisecond

	// executionLease is how long a claimed execution stays invisible to other
	// replicas. It must exceed the longest synchronous step chain; a replica
	// that dies mid-drive releases its claims when the lease expires.
	executionLease = 5 * time.Minute
)

// Engine drives durable workflow executions. It is stateless between calls:
// all progress lives in the execution store, so any replica can pick up any
// runnable execution.
type Engine struct {
	registry  *Registry
	store     ExecutionStore
	onFailure FailureHook
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an engine over the given registry and store. onFailure
// may be nil.
func NewEngine(registry *Registry, store ExecutionStore, onFailure FailureHook, logger *slog.Logger) *Engine {
	return &Engine{
		registry:  registry,
		store:     store,
		onFailure: onFailure,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartExecution starts the named workflow under the given execution id,
// runnable immediately. A second start for an id that already has an
// execution row is a no-op and returns false: this is the dispatcher's
// idempotency guarantee, the store's primary key is the deduplication.
func (e *Engine) StartExecution(ctx context.Context, workflowName, executionID string, input []byte) (bool, error) {
	w, ok := e.registry.Lookup(workflowName)
	if !ok {
		return false, types.NewAppError(types.ErrCodeWorkflowUnknownStep, "unknown workflow "+workflowName, nil)
	}

	created, err := e.store.Create(ctx, executionID, workflowName, w.Entry(), input)
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Info("started workflow execution",
			"execution_id", executionID, "workflow", workflowName)
	} else {
		e.logger.Info("duplicate start suppressed, execution already exists",
			"execution_id", executionID, "workflow", workflowName)
	}
	return created, nil
}

// RunDue claims and drives every execution whose wake time has passed, up to
// limit. It returns the number of executions driven. A failing execution is
// marked failed and does not stop the batch. The claim leases each row, so
// concurrent replicas scanning the same store never drive one execution
// twice.
func (e *Engine) RunDue(ctx context.Context, limit int) (int, error) {
	due, err := e.store.ClaimRunnable(ctx, e.now(), executionLease, limit)
	if err != nil {
		return 0, err
	}

	for _, ex := range due {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		e.drive(ctx, ex)
	}
	return len(due), nil
}

// drive advances one execution until it suspends, finishes, or fails. Steps
// that neither sleep nor finish chain synchronously, with the cursor
// persisted after each one so a crash mid-chain resumes at the right step.
func (e *Engine) drive(ctx context.Context, ex db.ExecutionState) {
	w, ok := e.registry.Lookup(ex.Workflow)
	if !ok {
		e.fail(ctx, ex, types.NewAppError(types.ErrCodeWorkflowUnknownStep,
			"execution references unknown workflow "+ex.Workflow, nil))
		return
	}

	sc := &StepContext{
		ExecutionID: ex.ID,
		Input:       ex.Input,
		state:       ex.State,
	}

	current := ex.Step
	for {
		step, ok := w.steps[current]
		if !ok {
			e.fail(ctx, ex, types.NewAppError(types.ErrCodeWorkflowUnknownStep,
				"execution positioned at unknown step "+current, nil))
			return
		}

		res, err := step.run(ctx, sc)
		if err != nil {
			ex.State = sc.state
			e.fail(ctx, ex, err)
			return
		}

		if res.Done {
			e.finish(ctx, ex.ID, db.ExecutionDone, sc.state)
			return
		}

		if res.Repeat {
			// A polling step must name its wake time.
			wake := res.SleepUntil
			if wake.IsZero() {
				e.fail(ctx, ex, types.NewAppError(types.ErrCodeWorkflowStepFailed,
					"step "+current+" repeated without a wake time", nil))
				return
			}
			e.advance(ctx, ex.ID, current, sc.state, wake)
			return
		}

		next := step.next
		if res.Next != "" {
			next = res.Next
			if _, ok := w.steps[next]; !ok {
				e.fail(ctx, ex, types.NewAppError(types.ErrCodeWorkflowUnknownStep,
					"step "+current+" branched to unknown step "+next, nil))
				return
			}
		}
		if next == "" {
			e.finish(ctx, ex.ID, db.ExecutionDone, sc.state)
			return
		}

		if !res.SleepUntil.IsZero() && res.SleepUntil.After(e.now()) {
			// Durable suspension: persist the cursor past the sleep so
			// the wait completes by waking, not by re-running the step.
			e.advance(ctx, ex.ID, next, sc.state, res.SleepUntil)
			return
		}

		e.advance(ctx, ex.ID, next, sc.state, e.now())
		current = next
	}
}

// fail runs the failure hook and marks the execution failed.
func (e *Engine) fail(ctx context.Context, ex db.ExecutionState, stepErr error) {
	e.logger.Error("workflow execution failed",
		"execution_id", ex.ID, "workflow", ex.Workflow, "step", ex.Step,
		"error_code", types.CodeOf(stepErr), "error", stepErr)

	if e.onFailure != nil {
		e.onFailure(ctx, ex.ID, ex.Input, stepErr)
	}
	e.finish(ctx, ex.ID, db.ExecutionFailedStatus, ex.State)
}

// advance persists the cursor with bounded retry. Losing the write would
// re-run the step on the next scan, which every step tolerates, but retrying
// here keeps that path rare.
func (e *Engine) advance(ctx context.Context, id, step string, state []byte, wakeAt time.Time) {
	err := retryStoreWrite(ctx, func() error {
		return e.store.Advance(ctx, id, step, state, wakeAt)
	})
	if err != nil {
		e.logger.Error("failed to persist execution cursor",
			"execution_id", id, "step", step, "error", err)
	}
}

func (e *Engine) finish(ctx context.Context, id string, status db.ExecutionRunStatus, state []byte) {
	err := retryStoreWrite(ctx, func() error {
		return e.store.Finish(ctx, id, status, state)
	})
	if err != nil {
		e.logger.Error("failed to persist execution outcome",
			"execution_id", id, "status", string(status), "error", err)
		return
	}
	e.logger.Info("workflow execution finished", "execution_id", id, "status", string(status))
}

// retryStoreWrite retries a store write with linear backoff.
func retryStoreWrite(ctx context.Context, write func() error) error {
	var err error
	for attempt := 1; attempt <= storeWriteAttempts; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		if attempt == storeWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * storeWriteBackoff):
		}
	}
	return err
}
