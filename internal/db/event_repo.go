package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"eventplane/internal/types"
)

// EventRepository provides data access for the events table.
//
// Events are stored under the composite key (pk=<event id>, sk='Event'); the
// sk column doubles as the type marker for the start-time range query used by
// the scheduler's periodic path. The provisioning parameter list is stored as
// a JSONB column in creation order.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository backed by the given
// database connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `pk, sk, id, name, additional_notes,
	event_starts_ts, event_ends_ts, orchestration_type,
	document_name, version_id, provisioning_parameters,
	event_status, created, updated, outputs`

// GetEventsStartingBetween returns all events whose start timestamp lies in
// [t0, t1), restricted to the Event sort-key marker. Results are ordered by
// start time so enqueue order is deterministic.
func (r *EventRepository) GetEventsStartingBetween(ctx context.Context, t0, t1 time.Time) ([]types.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE sk = $1 AND event_starts_ts >= $2 AND event_starts_ts < $3
		 ORDER BY event_starts_ts`,
		types.EventSortKey, t0, t1,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query events by start window", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate event rows", err)
	}

	return events, nil
}

// GetEvent returns the event with the given id, or nil if it does not exist.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE pk = $1 AND sk = $2`,
		id, types.EventSortKey,
	)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

// UpdateEventStatus sets event_status (and outputs, when non-empty) for the
// event with the given id, bumping the updated timestamp. Returns the updated
// event.
//
// Concurrent updates to the same event are serialized by the caller: the
// workflow engine never issues two concurrent updates for one event.
func (r *EventRepository) UpdateEventStatus(ctx context.Context, id string, status types.EventStatus, outputs string) (*types.Event, error) {
	var row pgx.Row
	if outputs != "" {
		row = r.db.QueryRow(ctx,
			`UPDATE events
			 SET event_status = $3, outputs = $4, updated = $5
			 WHERE pk = $1 AND sk = $2
			 RETURNING `+eventColumns,
			id, types.EventSortKey, status, outputs, time.Now().UTC(),
		)
	} else {
		row = r.db.QueryRow(ctx,
			`UPDATE events
			 SET event_status = $3, updated = $4
			 WHERE pk = $1 AND sk = $2
			 RETURNING `+eventColumns,
			id, types.EventSortKey, status, time.Now().UTC(),
		)
	}

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeInternalDB,
				fmt.Sprintf("event %s not found for status update", id), pgx.ErrNoRows)
		}
		return nil, err
	}
	return &ev, nil
}

// DeleteEvent removes the event with the given id. Deletion is permitted only
// when the event is in a deletable state (registered, ended, failed); the
// guard is enforced in SQL so a concurrent transition cannot race the check.
// Returns true if a row was deleted.
func (r *EventRepository) DeleteEvent(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM events
		 WHERE pk = $1 AND sk = $2
		   AND event_status IN ($3, $4, $5)`,
		id, types.EventSortKey,
		types.StatusRegistered, types.StatusEnded, types.StatusFailed,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanEvent reads one event row. The provisioning_parameters JSONB column may
// be NULL for parameterless events.
func scanEvent(row pgx.Row) (types.Event, error) {
	var (
		ev          types.Event
		notes       *string
		versionID   *string
		paramsJSON  []byte
		outputs     *string
	)

	err := row.Scan(
		&ev.PK, &ev.SK, &ev.ID, &ev.Name, &notes,
		&ev.StartsTS, &ev.EndsTS, &ev.Orchestration,
		&ev.DocumentName, &versionID, &paramsJSON,
		&ev.Status, &ev.Created, &ev.Updated, &outputs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Event{}, err
		}
		return types.Event{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event row", err)
	}

	if notes != nil {
		ev.AdditionalNotes = *notes
	}
	if versionID != nil {
		ev.VersionID = *versionID
	}
	if outputs != nil {
		ev.Outputs = *outputs
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &ev.Parameters); err != nil {
			return types.Event{}, types.NewAppError(types.ErrCodeInternalDB,
				"failed to decode provisioning parameters", err)
		}
	}

	return ev, nil
}
