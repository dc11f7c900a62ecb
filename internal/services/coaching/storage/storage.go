// Package storage defines the persistence boundary for coaching sessions,
// their checklists, and the append-only event log.
package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity" states
// and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrActiveSessionExists indicates a create tried to claim a capture device
// that already has an active session, which would violate the one-session-per-
// device rule.
var ErrActiveSessionExists = apperrors.New(apperrors.CodeActiveSessionExists, "active session already exists for capture device")

// ErrSessionEnded indicates an append arrived for a session in a terminal
// status. Late ticks are rejected, not queued.
var ErrSessionEnded = apperrors.New(apperrors.CodeSessionEnded, "session is no longer accepting events")

// SessionStats captures the per-session counters the cohort aggregator folds.
// Event counters are written once when the session reaches a terminal status
// and stay zero while it is live.
type SessionStats struct {
	SessionID             string
	Assignment            session.Assignment
	Holdout               session.HoldoutLabel
	Status                session.Status
	Degraded              bool
	LogGaps               int64
	TotalEvents           int64
	RulesEvaluated        int64
	Interventions         int64
	Outcomes              int64
	JoinedInterventions   int64
	UnknownInterventions  int64
	NegativeInterventions int64
}

// SessionStore owns session lifecycle rows and their per-session counters.
type SessionStore interface {
	// CreateSession stores a session with its seeded checklist and claims
	// its capture device, all in one transaction.
	// Returns ErrActiveSessionExists if the device already has an active session.
	CreateSession(ctx context.Context, s session.Session, checklist []rule.ChecklistItem) error
	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (session.Session, error)
	// EndSession moves a live session to a terminal status, records the
	// reason, and freezes the session's event counters in the same
	// transaction. The boolean reports whether the session transitioned;
	// it is false when the session was already terminal.
	EndSession(ctx context.Context, sessionID string, status session.Status, reason session.EndReason, endedAt time.Time) (session.Session, bool, error)
	// ListExpiredSessions returns active sessions whose expiry has passed.
	ListExpiredSessions(ctx context.Context, cutoff time.Time, limit int) ([]session.Session, error)
	// SetProgressScore stores the current progress score for a live session.
	SetProgressScore(ctx context.Context, sessionID string, score float64) error
	// IncrementLogGaps records one event that was lost after retries.
	IncrementLogGaps(ctx context.Context, sessionID string) error
}

// ChecklistStore owns the per-session checklist seeded at creation.
type ChecklistStore interface {
	// GetChecklist returns the session's checklist in seeded order.
	GetChecklist(ctx context.Context, sessionID string) ([]rule.ChecklistItem, error)
	// SetChecklistItemStatus updates one rule's checklist status.
	SetChecklistItemStatus(ctx context.Context, sessionID, ruleID string, status rule.ItemStatus) error
	// ResetChecklist returns every item of the session's checklist to pending.
	ResetChecklist(ctx context.Context, sessionID string) error
}

// EventStore owns the append-only event log; this is the source of truth for
// every derived measurement.
type EventStore interface {
	// AppendEvent atomically appends an event and returns it with its
	// sequence number and logged-at time set. Appending an event ID that
	// was already logged returns the stored event unchanged, so retries
	// are safe; the boolean reports whether this call appended a new row.
	// Returns ErrSessionEnded when the session is terminal.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, bool, error)
	// ListEvents returns a session's full log ordered by timeline position
	// ascending with append sequence as the tie-break.
	ListEvents(ctx context.Context, sessionID string) ([]event.Event, error)
	// GetIntervention retrieves the delivery event for an intervention ID.
	// Returns ErrNotFound when the session never delivered it.
	GetIntervention(ctx context.Context, sessionID, interventionID string) (event.Event, error)
}

// StatsStore centralizes the aggregate reads behind the stats endpoint.
type StatsStore interface {
	// ListSessionStats returns one row per session across all sessions.
	ListSessionStats(ctx context.Context) ([]SessionStats, error)
}

// Store is a composite interface for all coaching persistence concerns.
type Store interface {
	SessionStore
	ChecklistStore
	EventStore
	StatsStore
	Close() error
}
