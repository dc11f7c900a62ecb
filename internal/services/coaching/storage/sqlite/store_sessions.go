package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/analysis"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
)

// Session methods

const sessionColumns = `id, pattern_id, mode, assignment, holdout, status, degraded,
	language, voice_style, device_id, end_reason, progress_score, log_gaps,
	created_at, expires_at, ended_at`

// CreateSession stores a session with its seeded checklist and claims its
// capture device.
func (s *Store) CreateSession(ctx context.Context, sess session.Session, checklist []rule.ChecklistItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(sess.PatternID) == "" {
		return fmt.Errorf("pattern id is required")
	}
	if strings.TrimSpace(sess.DeviceID) == "" {
		return fmt.Errorf("device id is required")
	}
	createdAt := sess.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var expiresAt sql.NullInt64
	if !sess.ExpiresAt.IsZero() {
		expiresAt = sql.NullInt64{Int64: toMillis(sess.ExpiresAt), Valid: true}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if sess.Status == session.StatusActive {
		var busy int
		err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(1) FROM coaching_sessions WHERE device_id = ? AND status = ?`,
			sess.DeviceID,
			string(session.StatusActive),
		).Scan(&busy)
		if err != nil {
			return fmt.Errorf("check active device session: %w", err)
		}
		if busy != 0 {
			return storage.ErrActiveSessionExists
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO coaching_sessions (
		   id, pattern_id, mode, assignment, holdout, status, degraded,
		   language, voice_style, device_id, end_reason, progress_score,
		   log_gaps, created_at, expires_at, ended_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.PatternID,
		string(sess.Mode),
		string(sess.Assignment),
		string(sess.Holdout),
		string(sess.Status),
		boolToInt(sess.Degraded),
		sess.Language,
		sess.VoiceStyle,
		sess.DeviceID,
		string(sess.EndReason),
		sess.ProgressScore,
		sess.LogGaps,
		toMillis(createdAt),
		expiresAt,
		toNullMillis(sess.EndedAt),
	); err != nil {
		if isActiveDeviceViolation(err) {
			return storage.ErrActiveSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}

	for i, item := range checklist {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO coaching_checklist_items (session_id, position, rule_id, status)
			 VALUES (?, ?, ?, ?)`,
			sess.ID,
			i,
			item.RuleID,
			string(item.Status),
		); err != nil {
			return fmt.Errorf("seed checklist item %s: %w", item.RuleID, err)
		}
	}

	return tx.Commit()
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return session.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return session.Session{}, fmt.Errorf("session id is required")
	}
	return getSession(ctx, s.sqlDB, sessionID)
}

func getSession(ctx context.Context, q dbtx, sessionID string) (session.Session, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+` FROM coaching_sessions WHERE id = ?`,
		sessionID,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// EndSession moves a live session to a terminal status and freezes its event
// counters in the same transaction. Ending an already terminal session is a
// no-op reporting transitioned=false.
func (s *Store) EndSession(ctx context.Context, sessionID string, status session.Status, reason session.EndReason, endedAt time.Time) (session.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return session.Session{}, false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return session.Session{}, false, fmt.Errorf("session id is required")
	}
	if !status.Terminal() {
		return session.Session{}, false, fmt.Errorf("end status %q is not terminal", status)
	}
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return session.Session{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := getSession(ctx, tx, sessionID)
	if err != nil {
		return session.Session{}, false, err
	}
	if sess.Status.Terminal() {
		return sess, false, nil
	}

	updated, err := sess.Transition(status, endedAt)
	if err != nil {
		return session.Session{}, false, err
	}
	updated.EndReason = reason

	events, err := listEvents(ctx, tx, sessionID)
	if err != nil {
		return session.Session{}, false, err
	}
	tally, err := analysis.TallyEvents(events)
	if err != nil {
		return session.Session{}, false, fmt.Errorf("tally session events: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE coaching_sessions SET
		   status = ?, end_reason = ?, ended_at = ?,
		   total_events = ?, rules_evaluated = ?, interventions = ?,
		   outcomes = ?, joined_interventions = ?, unknown_interventions = ?,
		   negative_interventions = ?
		 WHERE id = ?`,
		string(updated.Status),
		string(updated.EndReason),
		toNullMillis(updated.EndedAt),
		tally.TotalEvents,
		tally.RulesEvaluated,
		tally.Interventions,
		tally.Outcomes,
		tally.JoinedInterventions,
		tally.UnknownInterventions,
		tally.NegativeInterventions,
		sessionID,
	); err != nil {
		return session.Session{}, false, fmt.Errorf("update session status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return session.Session{}, false, fmt.Errorf("commit: %w", err)
	}
	return updated, true, nil
}

// ListExpiredSessions returns active sessions whose expiry has passed.
func (s *Store) ListExpiredSessions(ctx context.Context, cutoff time.Time, limit int) ([]session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+sessionColumns+` FROM coaching_sessions
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		string(session.StatusActive),
		toMillis(cutoff),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read expired sessions: %w", err)
	}
	return sessions, nil
}

// SetProgressScore stores the current progress score for a session.
func (s *Store) SetProgressScore(ctx context.Context, sessionID string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE coaching_sessions SET progress_score = ? WHERE id = ?`,
		score,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("set progress score: %w", err)
	}
	return requireRowMatched(res, "set progress score")
}

// IncrementLogGaps records one event lost after append retries were exhausted.
func (s *Store) IncrementLogGaps(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE coaching_sessions SET log_gaps = log_gaps + 1 WHERE id = ?`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("increment log gaps: %w", err)
	}
	return requireRowMatched(res, "increment log gaps")
}

// requireRowMatched maps zero-row updates to ErrNotFound.
func requireRowMatched(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (session.Session, error) {
	var sess session.Session
	var mode, assignment, holdout, status, endReason string
	var degraded int
	var createdAt int64
	var expiresAt, endedAt sql.NullInt64

	if err := row.Scan(
		&sess.ID,
		&sess.PatternID,
		&mode,
		&assignment,
		&holdout,
		&status,
		&degraded,
		&sess.Language,
		&sess.VoiceStyle,
		&sess.DeviceID,
		&endReason,
		&sess.ProgressScore,
		&sess.LogGaps,
		&createdAt,
		&expiresAt,
		&endedAt,
	); err != nil {
		return session.Session{}, err
	}

	sess.Mode = session.Mode(mode)
	sess.Assignment = session.Assignment(assignment)
	sess.Holdout = session.HoldoutLabel(holdout)
	sess.Status = session.Status(status)
	sess.EndReason = session.EndReason(endReason)
	sess.Degraded = degraded != 0
	sess.CreatedAt = fromMillis(createdAt)
	if expiresAt.Valid {
		sess.ExpiresAt = fromMillis(expiresAt.Int64)
	}
	sess.EndedAt = fromNullMillis(endedAt)
	return sess, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
