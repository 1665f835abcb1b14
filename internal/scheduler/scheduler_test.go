package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventplane/internal/queue"
	"eventplane/internal/types"
)

// mockEventSource returns a fixed event list or error.
type mockEventSource struct {
	events []types.Event
	err    error

	gotT0, gotT1 time.Time
}

func (m *mockEventSource) GetEventsStartingBetween(_ context.Context, t0, t1 time.Time) ([]types.Event, error) {
	m.gotT0, m.gotT1 = t0, t1
	return m.events, m.err
}

// mockEnqueuer records every Send call; failAfter makes the nth call fail.
type mockEnqueuer struct {
	sent    []types.EventMessage
	reasons []string

	failAfter int // fail the call with this 0-based index; -1 never fails
}

func (m *mockEnqueuer) Send(_ context.Context, msg types.EventMessage, reason string) error {
	if m.failAfter >= 0 && len(m.sent) == m.failAfter {
		return errors.New("send failed")
	}
	m.sent = append(m.sent, msg)
	m.reasons = append(m.reasons, reason)
	return nil
}

func newTestEvent(id string, starts time.Time) types.Event {
	return types.Event{
		PK:            id,
		SK:            types.EventSortKey,
		ID:            id,
		Name:          "load test " + id,
		StartsTS:      starts,
		EndsTS:        starts.Add(2 * time.Hour),
		Orchestration: types.OrchestrationAutomation,
		DocumentName:  "deploy-stack",
		Status:        types.StatusRegistered,
	}
}

func TestHandleChange_WindowBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		startsIn  time.Duration
		wantQueue bool
	}{
		{"one hour in the past", -time.Hour, false},
		{"exactly now", 0, true},
		{"two hours out", 2 * time.Hour, true},
		{"just inside the window", 24*time.Hour - time.Minute, true},
		{"exactly at the window edge", 24 * time.Hour, false},
		{"thirty hours out", 30 * time.Hour, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &mockEnqueuer{failAfter: -1}
			s := NewScheduler(nil, q, 24*time.Hour, nil)

			sent, err := s.HandleChange(context.Background(), newTestEvent("ev1", now.Add(tc.startsIn)), now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sent != tc.wantQueue {
				t.Errorf("enqueued = %v, want %v", sent, tc.wantQueue)
			}
			if got := len(q.sent); got != boolToInt(tc.wantQueue) {
				t.Errorf("queue received %d messages, want %d", got, boolToInt(tc.wantQueue))
			}
			if tc.wantQueue && q.reasons[0] != queue.ReasonStream {
				t.Errorf("reason = %q, want %q", q.reasons[0], queue.ReasonStream)
			}
		})
	}
}

func TestHandleChange_MissingTimestampSkipped(t *testing.T) {
	q := &mockEnqueuer{failAfter: -1}
	s := NewScheduler(nil, q, 24*time.Hour, nil)

	ev := newTestEvent("ev-no-ts", time.Time{})
	sent, err := s.HandleChange(context.Background(), ev, time.Now().UTC())
	if err != nil {
		t.Fatalf("a missing timestamp must be skipped, not surfaced: %v", err)
	}
	if sent || len(q.sent) != 0 {
		t.Errorf("event without start timestamp was enqueued")
	}
}

func TestRunPeriodic_EnqueuesWindowContents(t *testing.T) {
	now := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	src := &mockEventSource{events: []types.Event{
		newTestEvent("ev1", now.Add(time.Hour)),
		newTestEvent("ev2", now.Add(20*time.Hour)),
	}}
	q := &mockEnqueuer{failAfter: -1}
	s := NewScheduler(src, q, 24*time.Hour, nil)

	sent, err := s.RunPeriodic(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if src.gotT0 != now || src.gotT1 != now.Add(24*time.Hour) {
		t.Errorf("queried [%v, %v), want [%v, %v)", src.gotT0, src.gotT1, now, now.Add(24*time.Hour))
	}
	for _, reason := range q.reasons {
		if reason != queue.ReasonPeriodic {
			t.Errorf("reason = %q, want %q", reason, queue.ReasonPeriodic)
		}
	}
}

func TestRunPeriodic_PartialFailureKeepsEarlierSends(t *testing.T) {
	now := time.Now().UTC()
	src := &mockEventSource{events: []types.Event{
		newTestEvent("ev1", now.Add(time.Hour)),
		newTestEvent("ev2", now.Add(2*time.Hour)),
		newTestEvent("ev3", now.Add(3*time.Hour)),
	}}
	q := &mockEnqueuer{failAfter: 1}
	s := NewScheduler(src, q, 24*time.Hour, nil)

	sent, err := s.RunPeriodic(context.Background(), now)
	if err == nil {
		t.Fatal("expected an error from the failing send")
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1 (the send before the failure)", sent)
	}
}

func TestBuildMessage_AutomationParameterShape(t *testing.T) {
	ev := newTestEvent("ev1", time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	ev.Parameters = []types.ProvisioningParameter{
		{ParameterKey: "InstanceCount", DefaultValue: "4"},
		{ParameterKey: "Region", DefaultValue: "eu-west-1"},
		{ParameterKey: "", DefaultValue: "orphan"},
		{ParameterKey: "Empty", DefaultValue: ""},
	}

	msg := BuildMessage(ev)

	if msg.CatalogParameters != nil {
		t.Error("automation event must not carry catalog parameters")
	}
	if len(msg.AutomationParameters) != 2 {
		t.Fatalf("got %d automation parameters, want 2 (empty key/value skipped)", len(msg.AutomationParameters))
	}
	if got := msg.AutomationParameters["InstanceCount"]; len(got) != 1 || got[0] != "4" {
		t.Errorf("InstanceCount = %v, want single-element [4]", got)
	}
	if msg.StartsTS != "2026-03-14T12:00:00Z" {
		t.Errorf("StartsTS = %q, want RFC3339 UTC", msg.StartsTS)
	}
}

func TestBuildMessage_CatalogParameterOrder(t *testing.T) {
	ev := newTestEvent("ev1", time.Now().UTC())
	ev.Orchestration = types.OrchestrationCatalog
	ev.Parameters = []types.ProvisioningParameter{
		{ParameterKey: "VpcId", DefaultValue: "vpc-1"},
		{ParameterKey: "SubnetId", DefaultValue: "subnet-9"},
	}

	msg := BuildMessage(ev)

	if msg.AutomationParameters != nil {
		t.Error("catalog event must not carry automation parameters")
	}
	want := []types.CatalogParameter{
		{Key: "VpcId", Value: "vpc-1"},
		{Key: "SubnetId", Value: "subnet-9"},
	}
	if len(msg.CatalogParameters) != len(want) {
		t.Fatalf("got %d catalog parameters, want %d", len(msg.CatalogParameters), len(want))
	}
	for i := range want {
		if msg.CatalogParameters[i] != want[i] {
			t.Errorf("parameter %d = %+v, want %+v (order must be preserved)", i, msg.CatalogParameters[i], want[i])
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
