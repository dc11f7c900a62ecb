package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
)

// Checklist methods

// GetChecklist returns the session's checklist in seeded order.
func (s *Store) GetChecklist(ctx context.Context, sessionID string) ([]rule.ChecklistItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT rule_id, status FROM coaching_checklist_items
		 WHERE session_id = ?
		 ORDER BY position ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get checklist: %w", err)
	}
	defer rows.Close()

	var items []rule.ChecklistItem
	for rows.Next() {
		var item rule.ChecklistItem
		var status string
		if err := rows.Scan(&item.RuleID, &status); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		item.Status = rule.ItemStatus(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checklist: %w", err)
	}
	return items, nil
}

// SetChecklistItemStatus updates one rule's checklist status.
func (s *Store) SetChecklistItemStatus(ctx context.Context, sessionID, ruleID string, status rule.ItemStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(ruleID) == "" {
		return fmt.Errorf("rule id is required")
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE coaching_checklist_items SET status = ?
		 WHERE session_id = ? AND rule_id = ?`,
		string(status),
		sessionID,
		ruleID,
	)
	if err != nil {
		return fmt.Errorf("set checklist item status: %w", err)
	}
	return requireRowMatched(res, "set checklist item status")
}

// ResetChecklist returns every item of the session's checklist to pending.
func (s *Store) ResetChecklist(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE coaching_checklist_items SET status = ?
		 WHERE session_id = ?`,
		string(rule.ItemStatusPending),
		sessionID,
	); err != nil {
		return fmt.Errorf("reset checklist: %w", err)
	}
	return nil
}
