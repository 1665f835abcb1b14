// Package scheduler implements event dispatch eligibility: finding events
// whose start lies within the rolling lookahead window and handing them to
// the work queue.
//
// Two independent paths feed the queue:
//   - The periodic path runs once per day and range-queries the event store
//     for everything starting inside the window.
//   - The change path reacts to every newly created event and enqueues it
//     immediately when it already falls inside the window.
//
// Both paths can observe the same event. No de-duplication is attempted at
// enqueue time: the workflow engine's idempotency key (the event id) is the
// single source of truth for at-most-one execution per event.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventplane/internal/queue"
	"eventplane/internal/types"
)

// EventSource abstracts the event store read the periodic path needs.
type EventSource interface {
	GetEventsStartingBetween(ctx context.Context, t0, t1 time.Time) ([]types.Event, error)
}

// Enqueuer abstracts the work-queue producer.
type Enqueuer interface {
	Send(ctx context.Context, msg types.EventMessage, reason string) error
}

// Scheduler decides which events are due for dispatch. The lookahead window
// is injected configuration so environments and tests can tune it.
type Scheduler struct {
	events EventSource
	queue  Enqueuer
	window time.Duration
	logger *slog.Logger
}

// NewScheduler creates a Scheduler with the given lookahead window.
func NewScheduler(events EventSource, q Enqueuer, window time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		events: events,
		queue:  q,
		window: window,
		logger: logger,
	}
}

// RunPeriodic queries the event store for all events starting in
// [now, now+window) and enqueues each. Returns the number of events enqueued.
//
// On an enqueue failure the cycle stops with the error; messages already sent
// stand; partial enqueue is permitted because the engine's idempotency key
// absorbs any re-enqueue on the next cycle.
func (s *Scheduler) RunPeriodic(ctx context.Context, now time.Time) (int, error) {
	t0 := now.UTC()
	t1 := t0.Add(s.window)

	events, err := s.events.GetEventsStartingBetween(ctx, t0, t1)
	if err != nil {
		return 0, fmt.Errorf("scheduler: querying events in window: %w", err)
	}

	s.logger.InfoContext(ctx, "periodic scheduling cycle",
		"window_start", t0.Format(time.RFC3339),
		"window_end", t1.Format(time.RFC3339),
		"candidates", len(events),
	)

	sent := 0
	for _, ev := range events {
		if err := s.queue.Send(ctx, BuildMessage(ev), queue.ReasonPeriodic); err != nil {
			return sent, fmt.Errorf("scheduler: enqueueing event %s: %w", ev.ID, err)
		}
		sent++
	}

	return sent, nil
}

// HandleChange is the immediate path, invoked once per newly created event.
// It enqueues the event iff 0 <= (starts - now) < window. Events outside the
// window are logged and skipped: future ones will be picked up by a periodic
// cycle once in range, past ones are never dispatched by this path.
//
// A missing start timestamp is logged and skipped rather than surfaced: a
// malformed record must not poison the change stream.
func (s *Scheduler) HandleChange(ctx context.Context, ev types.Event, now time.Time) (bool, error) {
	if ev.StartsTS.IsZero() {
		s.logger.WarnContext(ctx, "event start timestamp missing, skipping",
			"event_id", ev.ID,
		)
		return false, nil
	}

	hoursDiff := ev.StartsTS.Sub(now).Hours()
	s.logger.InfoContext(ctx, "evaluating new event",
		"event_id", ev.ID,
		"hours_diff", hoursDiff,
	)

	if hoursDiff < 0 || hoursDiff >= s.window.Hours() {
		s.logger.InfoContext(ctx, "event outside lookahead window, not enqueued",
			"event_id", ev.ID,
			"hours_diff", hoursDiff,
			"window_hours", s.window.Hours(),
		)
		return false, nil
	}

	if err := s.queue.Send(ctx, BuildMessage(ev), queue.ReasonStream); err != nil {
		return false, fmt.Errorf("scheduler: enqueueing new event %s: %w", ev.ID, err)
	}
	return true, nil
}

// BuildMessage converts a stored event into the work-queue snapshot, shaping
// the provisioning parameters into the form the event's backend expects:
// single-element string lists keyed by name for the automation variant, an
// ordered key/value list for the catalog variant.
func BuildMessage(ev types.Event) types.EventMessage {
	msg := types.EventMessage{
		PK:              ev.PK,
		SK:              ev.SK,
		ID:              ev.ID,
		Name:            ev.Name,
		AdditionalNotes: ev.AdditionalNotes,
		StartsTS:        ev.StartsTS.UTC().Format(time.RFC3339),
		EndsTS:          ev.EndsTS.UTC().Format(time.RFC3339),
		Orchestration:   ev.Orchestration,
		DocumentName:    ev.DocumentName,
		VersionID:       ev.VersionID,
		Status:          ev.Status,
	}
	if !ev.Created.IsZero() {
		msg.Created = ev.Created.UTC().Format(time.RFC3339)
	}
	if !ev.Updated.IsZero() {
		msg.Updated = ev.Updated.UTC().Format(time.RFC3339)
	}

	switch ev.Orchestration {
	case types.OrchestrationAutomation:
		params := make(map[string][]string, len(ev.Parameters))
		for _, p := range ev.Parameters {
			if p.ParameterKey == "" || p.DefaultValue == "" {
				continue
			}
			params[p.ParameterKey] = []string{p.DefaultValue}
		}
		msg.AutomationParameters = params
	default:
		params := make([]types.CatalogParameter, 0, len(ev.Parameters))
		for _, p := range ev.Parameters {
			params = append(params, types.CatalogParameter{
				Key:   p.ParameterKey,
				Value: p.DefaultValue,
			})
		}
		msg.CatalogParameters = params
	}

	return msg
}
