package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"eventplane/internal/db"
)

// fakeExecutionStore is an in-memory ExecutionStore tracking every write.
type fakeExecutionStore struct {
	executions map[string]*db.ExecutionState

	advances []string // step names persisted via Advance
	finishes []db.ExecutionRunStatus

	failAdvances int // number of leading Advance calls to fail
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{executions: map[string]*db.ExecutionState{}}
}

func (s *fakeExecutionStore) Create(_ context.Context, id, workflowName, step string, input []byte) (bool, error) {
	if _, exists := s.executions[id]; exists {
		return false, nil
	}
	s.executions[id] = &db.ExecutionState{
		ID:       id,
		Workflow: workflowName,
		Status:   db.ExecutionRunning,
		Step:     step,
		Input:    input,
		State:    []byte("{}"),
	}
	return true, nil
}

func (s *fakeExecutionStore) ClaimRunnable(_ context.Context, now time.Time, lease time.Duration, limit int) ([]db.ExecutionState, error) {
	var out []db.ExecutionState
	for _, ex := range s.executions {
		if ex.Status == db.ExecutionRunning && !ex.WakeAt.After(now) && len(out) < limit {
			// Claiming pushes the wake time forward, as the store does.
			ex.WakeAt = now.Add(lease)
			out = append(out, *ex)
		}
	}
	return out, nil
}

func (s *fakeExecutionStore) Advance(_ context.Context, id, step string, state []byte, wakeAt time.Time) error {
	if s.failAdvances > 0 {
		s.failAdvances--
		return errors.New("store unavailable")
	}
	ex := s.executions[id]
	ex.Step, ex.State, ex.WakeAt = step, state, wakeAt
	s.advances = append(s.advances, step)
	return nil
}

func (s *fakeExecutionStore) Finish(_ context.Context, id string, status db.ExecutionRunStatus, state []byte) error {
	ex := s.executions[id]
	if ex.Status != db.ExecutionRunning {
		return nil
	}
	ex.Status, ex.State = status, state
	s.finishes = append(s.finishes, status)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()
	r, err := NewRegistry(defs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestStartExecution_Idempotent(t *testing.T) {
	store := newFakeExecutionStore()
	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{Run("only", noopStep)}})
	e := NewEngine(r, store, nil, testLogger())

	created, err := e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`))
	if err != nil || !created {
		t.Fatalf("first start: created=%v err=%v, want true/nil", created, err)
	}

	created, err = e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`))
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if created {
		t.Error("second start with the same id must be a no-op")
	}
	if len(store.executions) != 1 {
		t.Errorf("got %d executions, want 1", len(store.executions))
	}
}

func TestRunDue_ChainsStepsAndFinishes(t *testing.T) {
	var order []string
	step := func(name string) StepFunc {
		return func(_ context.Context, _ *StepContext) (StepResult, error) {
			order = append(order, name)
			return StepResult{}, nil
		}
	}

	store := newFakeExecutionStore()
	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{
		Run("a", step("a")), Run("b", step("b")), Run("c", step("c")),
	}})
	e := NewEngine(r, store, nil, testLogger())

	if _, err := e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	driven, err := e.RunDue(context.Background(), 10)
	if err != nil || driven != 1 {
		t.Fatalf("driven=%d err=%v", driven, err)
	}

	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("step order = %v, want [a b c]", order)
	}
	if store.executions["ev1"].Status != db.ExecutionDone {
		t.Errorf("status = %s, want succeeded", store.executions["ev1"].Status)
	}
	// One terminal outcome per execution.
	if len(store.finishes) != 1 {
		t.Errorf("finish recorded %d times, want once", len(store.finishes))
	}
}

func TestRunDue_RepeatSuspendsAtSameStep(t *testing.T) {
	wake := time.Now().UTC().Add(30 * time.Second)
	polls := 0
	poll := func(_ context.Context, _ *StepContext) (StepResult, error) {
		polls++
		return StepResult{Repeat: true, SleepUntil: wake}, nil
	}

	store := newFakeExecutionStore()
	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{Run("poll", poll)}})
	e := NewEngine(r, store, nil, testLogger())

	_, _ = e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`))
	if _, err := e.RunDue(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	if polls != 1 {
		t.Fatalf("poll ran %d times in one scan, want 1", polls)
	}
	ex := store.executions["ev1"]
	if ex.Status != db.ExecutionRunning {
		t.Errorf("execution went terminal during a repeat suspension")
	}
	if ex.Step != "wf/poll" {
		t.Errorf("cursor = %q, want wf/poll (repeat keeps position)", ex.Step)
	}
	if !ex.WakeAt.Equal(wake) {
		t.Errorf("wake_at = %v, want %v", ex.WakeAt, wake)
	}

	// Not runnable again before the wake time.
	driven, _ := e.RunDue(context.Background(), 10)
	if driven != 0 {
		t.Errorf("suspended execution was driven before its wake time")
	}
}

func TestRunDue_SleepAdvancesCursorPastWait(t *testing.T) {
	wake := time.Now().UTC().Add(48 * time.Hour)
	wait := func(_ context.Context, _ *StepContext) (StepResult, error) {
		return StepResult{SleepUntil: wake}, nil
	}
	afterRan := false
	after := func(_ context.Context, _ *StepContext) (StepResult, error) {
		afterRan = true
		return StepResult{}, nil
	}

	store := newFakeExecutionStore()
	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{Run("wait", wait), Run("after", after)}})
	e := NewEngine(r, store, nil, testLogger())

	_, _ = e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`))
	if _, err := e.RunDue(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	if afterRan {
		t.Error("step after the wait ran before the wake time")
	}
	ex := store.executions["ev1"]
	// The cursor is persisted past the sleep: the wait completes by waking,
	// not by re-running the wait step.
	if ex.Step != "wf/after" {
		t.Errorf("cursor = %q, want wf/after", ex.Step)
	}
	if !ex.WakeAt.Equal(wake) {
		t.Errorf("wake_at = %v, want %v", ex.WakeAt, wake)
	}
}

func TestRunDue_ClaimHidesExecutionFromConcurrentReplicas(t *testing.T) {
	store := newFakeExecutionStore()

	// The step simulates a second replica scanning the store while the first
	// one is mid-drive. The claim must already have leased the row, so the
	// second scan finds nothing.
	var other *Engine
	drivenByOther := -1
	step := func(ctx context.Context, _ *StepContext) (StepResult, error) {
		driven, err := other.RunDue(ctx, 10)
		if err != nil {
			t.Fatalf("concurrent scan: %v", err)
		}
		drivenByOther = driven
		return StepResult{Done: true}, nil
	}

	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{Run("only", step)}})
	e := NewEngine(r, store, nil, testLogger())
	other = NewEngine(r, store, nil, testLogger())

	_, _ = e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`))
	if _, err := e.RunDue(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	if drivenByOther != 0 {
		t.Errorf("second replica drove %d claimed executions, want 0", drivenByOther)
	}
	if store.executions["ev1"].Status != db.ExecutionDone {
		t.Errorf("status = %s, want succeeded", store.executions["ev1"].Status)
	}
	if len(store.finishes) != 1 {
		t.Errorf("finish recorded %d times, want once", len(store.finishes))
	}
}

func TestRunDue_StepErrorFailsExecutionAndRunsHook(t *testing.T) {
	boom := errors.New("backend exploded")
	failing := func(_ context.Context, _ *StepContext) (StepResult, error) {
		return StepResult{}, boom
	}

	var hookErr error
	var hookInput json.RawMessage
	hook := func(_ context.Context, _ string, input json.RawMessage, stepErr error) {
		hookInput, hookErr = input, stepErr
	}

	store := newFakeExecutionStore()
	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{Run("fail", failing)}})
	e := NewEngine(r, store, hook, testLogger())

	_, _ = e.StartExecution(context.Background(), "wf", "ev1", []byte(`{"id":"ev1"}`))
	if _, err := e.RunDue(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	if !errors.Is(hookErr, boom) {
		t.Errorf("failure hook got %v, want the step error", hookErr)
	}
	if string(hookInput) != `{"id":"ev1"}` {
		t.Errorf("failure hook input = %s", hookInput)
	}
	if store.executions["ev1"].Status != db.ExecutionFailedStatus {
		t.Errorf("status = %s, want failed", store.executions["ev1"].Status)
	}
}

func TestRunDue_BranchTargetsResolved(t *testing.T) {
	route := func(_ context.Context, _ *StepContext) (StepResult, error) {
		return StepResult{Next: "wf/right"}, nil
	}
	var taken string
	branch := func(name string) StepFunc {
		return func(_ context.Context, _ *StepContext) (StepResult, error) {
			taken = name
			return StepResult{Done: true}, nil
		}
	}

	store := newFakeExecutionStore()
	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{
		Run("route", route), Run("left", branch("left")), Run("right", branch("right")),
	}})
	e := NewEngine(r, store, nil, testLogger())

	_, _ = e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`))
	if _, err := e.RunDue(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	if taken != "right" {
		t.Errorf("branch taken = %q, want right", taken)
	}
	if store.executions["ev1"].Status != db.ExecutionDone {
		t.Errorf("Done result must finish the execution")
	}
}

func TestRetryStoreWrite_RetriesTransientFailures(t *testing.T) {
	store := newFakeExecutionStore()
	store.failAdvances = 2

	r := mustRegistry(t, Definition{Name: "wf", Elements: []Element{Run("a", noopStep), Run("b", noopStep)}})
	e := NewEngine(r, store, nil, testLogger())

	_, _ = e.StartExecution(context.Background(), "wf", "ev1", []byte(`{}`))
	if _, err := e.RunDue(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	// Two transient failures are absorbed by the bounded retry.
	if len(store.advances) == 0 {
		t.Error("cursor advance never succeeded despite retry budget")
	}
	if store.executions["ev1"].Status != db.ExecutionDone {
		t.Errorf("status = %s, want succeeded", store.executions["ev1"].Status)
	}
}
