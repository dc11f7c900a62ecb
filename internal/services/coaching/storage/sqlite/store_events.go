package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
)

// Event methods (append-only log)

const tracerName = "coaching"

const eventColumns = `session_id, seq, event_id, kind, t_video_ms, logged_at,
	rule_id, checkpoint_id, ap_id, intervention_id, result, payload_json`

// AppendEvent atomically appends an event and returns it with its sequence
// and logged-at time set. Re-appending a logged event ID returns the stored
// event without a new row, so delivery retries never duplicate the log.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, false, fmt.Errorf("storage is not configured")
	}
	evt.SessionID = strings.TrimSpace(evt.SessionID)
	evt.EventID = strings.TrimSpace(evt.EventID)
	if evt.SessionID == "" {
		return event.Event{}, false, fmt.Errorf("session id is required")
	}
	if evt.EventID == "" {
		return event.Event{}, false, fmt.Errorf("event id is required")
	}
	if !evt.Kind.IsValid() {
		return event.Event{}, false, fmt.Errorf("event kind %q is not valid", evt.Kind)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "coaching.AppendEvent",
		trace.WithAttributes(
			attribute.String("session_id", evt.SessionID),
			attribute.String("event_kind", string(evt.Kind)),
		),
	)
	defer span.End()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stored, err := getEventByEventID(ctx, tx, evt.SessionID, evt.EventID)
	if err == nil {
		return stored, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return event.Event{}, false, err
	}

	sess, err := getSession(ctx, tx, evt.SessionID)
	if err != nil {
		return event.Event{}, false, err
	}
	if sess.Status.Terminal() {
		return event.Event{}, false, storage.ErrSessionEnded
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO coaching_event_seq (session_id, next_seq) VALUES (?, 1)
		 ON CONFLICT(session_id) DO NOTHING`,
		evt.SessionID,
	); err != nil {
		return event.Event{}, false, fmt.Errorf("init event seq: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(
		ctx,
		`SELECT next_seq FROM coaching_event_seq WHERE session_id = ?`,
		evt.SessionID,
	).Scan(&seq); err != nil {
		return event.Event{}, false, fmt.Errorf("get event seq: %w", err)
	}
	evt.Seq = uint64(seq)

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE coaching_event_seq SET next_seq = next_seq + 1 WHERE session_id = ?`,
		evt.SessionID,
	); err != nil {
		return event.Event{}, false, fmt.Errorf("increment event seq: %w", err)
	}

	if evt.LoggedAt.IsZero() {
		evt.LoggedAt = time.Now().UTC()
	}
	evt.LoggedAt = evt.LoggedAt.UTC().Truncate(time.Millisecond)

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO coaching_events (
		   session_id, seq, event_id, kind, t_video_ms, logged_at,
		   rule_id, checkpoint_id, ap_id, intervention_id, result, payload_json
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.SessionID,
		int64(evt.Seq),
		evt.EventID,
		string(evt.Kind),
		evt.TVideoMs,
		toMillis(evt.LoggedAt),
		evt.RuleID,
		evt.CheckpointID,
		evt.APID,
		evt.InterventionID,
		string(evt.Result),
		evt.PayloadJSON,
	); err != nil {
		if isConstraintError(err) {
			stored, lookupErr := getEventByEventID(ctx, s.sqlDB, evt.SessionID, evt.EventID)
			if lookupErr == nil {
				return stored, false, nil
			}
		}
		return event.Event{}, false, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, false, fmt.Errorf("commit: %w", err)
	}
	return evt, true, nil
}

// ListEvents returns a session's full log in canonical order: timeline
// position ascending, append sequence as the tie-break.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	return listEvents(ctx, s.sqlDB, sessionID)
}

func listEvents(ctx context.Context, q dbtx, sessionID string) ([]event.Event, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT `+eventColumns+` FROM coaching_events
		 WHERE session_id = ?
		 ORDER BY t_video_ms ASC, seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// GetIntervention retrieves the delivery event for an intervention ID.
func (s *Store) GetIntervention(ctx context.Context, sessionID, interventionID string) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return event.Event{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(interventionID) == "" {
		return event.Event{}, fmt.Errorf("intervention id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+eventColumns+` FROM coaching_events
		 WHERE session_id = ? AND kind = ? AND intervention_id = ?
		 ORDER BY seq ASC
		 LIMIT 1`,
		sessionID,
		string(event.KindIntervention),
		interventionID,
	)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Event{}, storage.ErrNotFound
		}
		return event.Event{}, fmt.Errorf("get intervention: %w", err)
	}
	return evt, nil
}

func getEventByEventID(ctx context.Context, q dbtx, sessionID, eventID string) (event.Event, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT `+eventColumns+` FROM coaching_events
		 WHERE session_id = ? AND event_id = ?`,
		sessionID,
		eventID,
	)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Event{}, storage.ErrNotFound
		}
		return event.Event{}, fmt.Errorf("get event by id: %w", err)
	}
	return evt, nil
}

func scanEvent(row scanner) (event.Event, error) {
	var evt event.Event
	var seq, loggedAt int64
	var kind, result string

	if err := row.Scan(
		&evt.SessionID,
		&seq,
		&evt.EventID,
		&kind,
		&evt.TVideoMs,
		&loggedAt,
		&evt.RuleID,
		&evt.CheckpointID,
		&evt.APID,
		&evt.InterventionID,
		&result,
		&evt.PayloadJSON,
	); err != nil {
		return event.Event{}, err
	}

	evt.Seq = uint64(seq)
	evt.Kind = event.Kind(kind)
	evt.Result = event.Result(result)
	evt.LoggedAt = fromMillis(loggedAt)
	return evt, nil
}
