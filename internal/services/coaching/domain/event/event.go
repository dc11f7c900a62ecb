// Package event defines the append-only coaching event taxonomy.
//
// Exactly three kinds exist: rule evaluations, interventions, and outcomes.
// Every derived measurement (compliance, summaries, cohort stats) reads these
// events and nothing else, so the envelope carries the columns those readers
// join on.
package event

import (
	"strings"
	"time"
)

// Kind identifies the type of a coaching event.
type Kind string

const (
	// KindRuleEvaluated records one checklist rule tick. Logged for every
	// tick regardless of assignment; the only kind guaranteed present for
	// control sessions.
	KindRuleEvaluated Kind = "rule.evaluated"
	// KindIntervention records delivered feedback. Only coached sessions
	// may carry these.
	KindIntervention Kind = "intervention.delivered"
	// KindOutcome records a later signal confirming or failing to confirm
	// compliance with a prior intervention.
	KindOutcome Kind = "outcome.observed"
)

// IsValid reports whether the kind is one of the three taxonomy members.
func (k Kind) IsValid() bool {
	switch k {
	case KindRuleEvaluated, KindIntervention, KindOutcome:
		return true
	default:
		return false
	}
}

// Result is a rule evaluation verdict.
type Result string

const (
	ResultUnspecified Result = ""
	ResultPassed      Result = "passed"
	ResultViolated    Result = "violated"
	ResultUnknown     Result = "unknown"
)

// NormalizeResult parses a result label into a canonical value.
func NormalizeResult(value string) (Result, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch Result(trimmed) {
	case ResultPassed, ResultViolated, ResultUnknown:
		return Result(trimmed), true
	default:
		return ResultUnspecified, false
	}
}

// Event represents an immutable entry in a session's event log.
//
// Ordering within a session is by TVideoMs ascending with Seq as the stable
// arrival-order tie-break. Events are never edited or removed once appended;
// corrections are modeled as new events.
type Event struct {
	// SessionID is the session this event belongs to.
	SessionID string
	// Seq is the event sequence number within the session (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// EventID is the caller-supplied idempotency key. Appending the same
	// EventID twice returns the stored event instead of a duplicate row.
	EventID string
	// Kind identifies the taxonomy member.
	Kind Kind
	// TVideoMs is the position on the video timeline in milliseconds.
	TVideoMs int64
	// LoggedAt is when the event was appended.
	LoggedAt time.Time
	// RuleID names the checklist rule for evaluations and interventions.
	RuleID string
	// CheckpointID names the filming-sequence checkpoint, when known.
	CheckpointID string
	// APID names the evaluated action point, when known.
	APID string
	// InterventionID links interventions to their outcomes.
	InterventionID string
	// Result is the verdict for rule evaluations.
	Result Result
	// PayloadJSON holds the full kind-specific body as JSON.
	PayloadJSON []byte
}
