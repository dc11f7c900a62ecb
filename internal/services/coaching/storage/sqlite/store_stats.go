package sqlite

import (
	"context"
	"fmt"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
)

// Stats methods

// ListSessionStats returns one counter row per session across all sessions.
func (s *Store) ListSessionStats(ctx context.Context) ([]storage.SessionStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, assignment, holdout, status, degraded, log_gaps,
		        total_events, rules_evaluated, interventions, outcomes,
		        joined_interventions, unknown_interventions, negative_interventions
		 FROM coaching_sessions
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list session stats: %w", err)
	}
	defer rows.Close()

	var stats []storage.SessionStats
	for rows.Next() {
		var row storage.SessionStats
		var assignment, holdout, status string
		var degraded int
		if err := rows.Scan(
			&row.SessionID,
			&assignment,
			&holdout,
			&status,
			&degraded,
			&row.LogGaps,
			&row.TotalEvents,
			&row.RulesEvaluated,
			&row.Interventions,
			&row.Outcomes,
			&row.JoinedInterventions,
			&row.UnknownInterventions,
			&row.NegativeInterventions,
		); err != nil {
			return nil, fmt.Errorf("scan session stats: %w", err)
		}
		row.Assignment = session.Assignment(assignment)
		row.Holdout = session.HoldoutLabel(holdout)
		row.Status = session.Status(status)
		row.Degraded = degraded != 0
		stats = append(stats, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read session stats: %w", err)
	}
	return stats, nil
}
