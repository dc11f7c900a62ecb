package session

import (
	"strings"
)

// Status identifies the session lifecycle label.
type Status string

const (
	StatusUnspecified Status = ""
	StatusCreated     Status = "created"
	StatusActive      Status = "active"
	StatusEnded       Status = "ended"
	StatusError       Status = "error"
)

// Terminal reports whether no further transitions may leave this status.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusError
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// The machine is created -> active -> {ended, error}; terminal states
// have no outgoing transitions.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusActive
	case StatusActive:
		return next == StatusEnded || next == StatusError
	default:
		return false
	}
}

// NormalizeStatus parses a session status label into a canonical value.
func NormalizeStatus(value string) (Status, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch Status(trimmed) {
	case StatusCreated, StatusActive, StatusEnded, StatusError:
		return Status(trimmed), true
	default:
		return StatusUnspecified, false
	}
}

// Assignment identifies the experimental group drawn at session creation.
type Assignment string

const (
	AssignmentUnspecified Assignment = ""
	AssignmentCoached     Assignment = "coached"
	AssignmentControl     Assignment = "control"
)

// NormalizeAssignment parses an assignment label into a canonical value.
func NormalizeAssignment(value string) (Assignment, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch Assignment(trimmed) {
	case AssignmentCoached, AssignmentControl:
		return Assignment(trimmed), true
	default:
		return AssignmentUnspecified, false
	}
}

// HoldoutLabel identifies whether a session's outcomes may feed downstream
// promotion or decision use.
type HoldoutLabel string

const (
	// HoldoutMeasured sessions participate in downstream analysis.
	HoldoutMeasured HoldoutLabel = "measured"
	// HoldoutExempt sessions are excluded from all downstream decision use.
	HoldoutExempt HoldoutLabel = "holdout"
)

// IsHoldout reports whether the label excludes the session from decisions.
func (h HoldoutLabel) IsHoldout() bool {
	return h == HoldoutExempt
}

// HoldoutFromBool maps the wire-level holdout_group flag to a label.
func HoldoutFromBool(holdout bool) HoldoutLabel {
	if holdout {
		return HoldoutExempt
	}
	return HoldoutMeasured
}

// Mode identifies the guided-filming mode the checklist is seeded from.
type Mode string

const (
	ModeUnspecified Mode = ""
	ModeHomage      Mode = "homage"
	ModeVariation   Mode = "variation"
	ModeCampaign    Mode = "campaign"
)

// NormalizeMode parses a filming mode label into a canonical value.
func NormalizeMode(value string) (Mode, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch Mode(trimmed) {
	case ModeHomage, ModeVariation, ModeCampaign:
		return Mode(trimmed), true
	default:
		return ModeUnspecified, false
	}
}

// EndReason identifies why a session left the active state.
type EndReason string

const (
	EndReasonUnspecified    EndReason = ""
	EndReasonCompleted      EndReason = "completed"
	EndReasonExpired        EndReason = "expired"
	EndReasonCaptureFailure EndReason = "capture_failure"
)

// NormalizeEndReason parses an end reason into a canonical value. An empty
// input normalizes to EndReasonCompleted so plain end requests stay terse.
func NormalizeEndReason(value string) (EndReason, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return EndReasonCompleted, true
	}
	switch EndReason(trimmed) {
	case EndReasonCompleted, EndReasonExpired, EndReasonCaptureFailure:
		return EndReason(trimmed), true
	default:
		return EndReasonUnspecified, false
	}
}
