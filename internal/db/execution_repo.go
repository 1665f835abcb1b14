package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"eventplane/internal/types"
)

// ExecutionState is one persisted workflow execution. The execution id is the
// Event id, which is what makes dispatch idempotent: at most one row, and so
// at most one live execution, can ever exist per event.
type ExecutionState struct {
	// ID is the execution's idempotency key (the Event id).
	ID string
	// Workflow is the registry name the execution runs.
	Workflow string
	// Status is running, succeeded, or failed.
	Status ExecutionRunStatus
	// Step is the qualified name of the next step to run.
	Step string
	// WakeAt is when the execution becomes runnable again. Durable
	// suspensions (backend polling, the wait until event end) are persisted
	// here, never held as in-process timers.
	WakeAt time.Time
	// Input is the serialized work-queue message the execution started with.
	Input []byte
	// State is the serialized step-to-step scratch state (handle, outputs,
	// poll deadline, resolved artifact and path).
	State []byte

	StartedAt time.Time
	UpdatedAt time.Time
}

// ExecutionRunStatus is the coarse status of a workflow execution row.
type ExecutionRunStatus string

const (
	ExecutionRunning      ExecutionRunStatus = "running"
	ExecutionDone         ExecutionRunStatus = "succeeded"
	ExecutionFailedStatus ExecutionRunStatus = "failed"
)

// ExecutionRepository provides data access for the workflow_executions table,
// the workflow engine's durable state.
type ExecutionRepository struct {
	db DBTX
}

// NewExecutionRepository creates a new ExecutionRepository backed by the
// given database connection (pool or transaction).
func NewExecutionRepository(db DBTX) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts a new running execution. The INSERT ... ON CONFLICT DO
// NOTHING on the primary key is the idempotent-dispatch primitive: a second
// start request for the same id affects zero rows and Create returns false
// without error.
func (r *ExecutionRepository) Create(ctx context.Context, id, workflow, step string, input []byte) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO workflow_executions
		   (id, workflow, status, step, wake_at, input, state, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '{}', $5, $5)
		 ON CONFLICT (id) DO NOTHING`,
		id, workflow, ExecutionRunning, step, now, input,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create workflow execution", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns the execution with the given id, or nil if none exists.
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*ExecutionState, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, workflow, status, step, wake_at, input, state, started_at, updated_at
		 FROM workflow_executions
		 WHERE id = $1`,
		id,
	)

	var ex ExecutionState
	err := row.Scan(&ex.ID, &ex.Workflow, &ex.Status, &ex.Step, &ex.WakeAt,
		&ex.Input, &ex.State, &ex.StartedAt, &ex.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan workflow execution", err)
	}
	return &ex, nil
}

// ClaimRunnable claims up to limit running executions whose wake time has
// passed, oldest wake first. The claim pushes wake_at forward by lease in the
// same statement, so a row handed to one orchestrator replica is invisible to
// the others until the lease elapses; FOR UPDATE SKIP LOCKED keeps concurrent
// claim statements from selecting the same rows. A replica that dies mid-drive
// releases its claims when the lease expires, and every step tolerates that
// re-run.
func (r *ExecutionRepository) ClaimRunnable(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]ExecutionState, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE workflow_executions
		 SET wake_at = $2, updated_at = $2
		 WHERE id IN (
		   SELECT id FROM workflow_executions
		   WHERE status = $1 AND wake_at <= $3
		   ORDER BY wake_at
		   LIMIT $4
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, workflow, status, step, wake_at, input, state, started_at, updated_at`,
		ExecutionRunning, now.Add(lease), now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim runnable executions", err)
	}
	defer rows.Close()

	var out []ExecutionState
	for rows.Next() {
		var ex ExecutionState
		if err := rows.Scan(&ex.ID, &ex.Workflow, &ex.Status, &ex.Step, &ex.WakeAt,
			&ex.Input, &ex.State, &ex.StartedAt, &ex.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan runnable execution", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate runnable executions", err)
	}

	return out, nil
}

// Advance persists the cursor, scratch state, and next wake time for a
// running execution. Called after every completed step so a process restart
// resumes exactly where the previous run left off.
func (r *ExecutionRepository) Advance(ctx context.Context, id, step string, state []byte, wakeAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE workflow_executions
		 SET step = $2, state = $3, wake_at = $4, updated_at = $5
		 WHERE id = $1 AND status = $6`,
		id, step, state, wakeAt, time.Now().UTC(), ExecutionRunning,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to advance workflow execution", err)
	}
	return nil
}

// Finish marks the execution terminal. Exactly one terminal outcome is ever
// recorded per execution because the row can only leave running once.
func (r *ExecutionRepository) Finish(ctx context.Context, id string, status ExecutionRunStatus, state []byte) error {
	_, err := r.db.Exec(ctx,
		`UPDATE workflow_executions
		 SET status = $2, state = $3, updated_at = $4
		 WHERE id = $1 AND status = $5`,
		id, status, state, time.Now().UTC(), ExecutionRunning,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish workflow execution", err)
	}
	return nil
}
