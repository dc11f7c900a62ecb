package session

import (
	"time"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
)

// Session captures the lifecycle state and immutable cohort descriptor for
// one guided filming run.
type Session struct {
	// ID is the canonical session identifier.
	ID string
	// PatternID names the outlier pattern or source video being filmed against.
	PatternID string
	// Mode selects the checklist the session was seeded from.
	Mode Mode
	// Assignment is the experimental group, drawn once and never re-rolled.
	Assignment Assignment
	// Holdout excludes the session from downstream decision use when exempt.
	Holdout HoldoutLabel
	// Status is the lifecycle label.
	Status Status
	// Degraded marks sessions whose cohort came from the local fallback
	// instead of the assignment source. Ratio stats filter these out.
	Degraded bool
	// Language is the BCP-47 tag used to select coaching command text.
	Language string
	// VoiceStyle names the delivery style for surfaced feedback.
	VoiceStyle string
	// DeviceID names the capture device leased for the session's lifetime.
	DeviceID string
	// EndReason records why a session reached a terminal status.
	EndReason EndReason
	// ProgressScore accumulates in [0,1] as rules pass. UI feedback only,
	// never part of causal analysis.
	ProgressScore float64
	// LogGaps counts events that were lost after retries were exhausted.
	LogGaps int
	// CreatedAt is when the session was created.
	CreatedAt time.Time
	// ExpiresAt bounds how long the session may stay active.
	ExpiresAt time.Time
	// EndedAt is set when the session reaches a terminal status.
	EndedAt *time.Time
}

// Transition validates and applies a lifecycle move, returning the updated
// session. Terminal states reject all moves.
func (s Session) Transition(next Status, at time.Time) (Session, error) {
	if !s.Status.CanTransitionTo(next) {
		return s, apperrors.WithMetadata(
			apperrors.CodeSessionInvalidStatusTransition,
			"session status transition is not allowed",
			map[string]string{"from": string(s.Status), "to": string(next)},
		)
	}
	s.Status = next
	if next.Terminal() {
		at = at.UTC()
		s.EndedAt = &at
	}
	return s, nil
}

// Expired reports whether the session's active window has passed.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}
