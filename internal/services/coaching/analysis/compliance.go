// Package analysis derives measurements from a session's event log.
//
// Everything here is a pure function over recorded events: no clocks, no
// storage, no randomness. The same log always produces the same compliance
// classification, summary, and cohort aggregate.
package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
)

const (
	// UnknownReasonNoOutcome marks interventions that reached the end of a
	// session without any outcome observation referencing them.
	UnknownReasonNoOutcome = "no_outcome_observed"
	// NegativeReasonNonCompliance marks interventions whose earliest outcome
	// observed the behavior unchanged.
	NegativeReasonNonCompliance = "compliance_not_detected"
)

// InterventionOutcome is the compliance classification of one intervention.
type InterventionOutcome struct {
	// InterventionID identifies the classified intervention.
	InterventionID string
	// RuleID is the checklist rule the intervention coached.
	RuleID string
	// TVideoMs is the timeline position the intervention was delivered at.
	TVideoMs int64
	// Joined reports whether any outcome referenced the intervention.
	Joined bool
	// ComplianceDetected is the earliest joined outcome's verdict.
	ComplianceDetected bool
	// NegativeEvidence is set when the earliest joined outcome found the
	// behavior unchanged.
	NegativeEvidence bool
	// NegativeReason is NegativeReasonNonCompliance when NegativeEvidence.
	NegativeReason string
	// UnknownReason is UnknownReasonNoOutcome when no outcome joined, or
	// the observation's own reason when the joined outcome could not
	// resolve compliance.
	UnknownReason string
	// ObservedTVideoMs is the timeline position of the joining outcome.
	ObservedTVideoMs int64
}

// ClassifyOutcome maps one outcome observation to its evidence label.
// An observation that could not resolve compliance is unknown, not negative;
// only a definite non-compliant observation is negative evidence.
func ClassifyOutcome(payload event.OutcomePayload) (negative bool, reason string) {
	if payload.ComplianceDetected || strings.TrimSpace(payload.ComplianceUnknownReason) != "" {
		return false, ""
	}
	return true, NegativeReasonNonCompliance
}

// JoinOutcomes classifies every intervention in the log against the earliest
// subsequent outcome that references it. Interventions appear in log order.
// Outcomes that reference no intervention in the log are ignored here; the
// append path is responsible for rejecting them.
func JoinOutcomes(events []event.Event) ([]InterventionOutcome, error) {
	ordered := sortedByTimeline(events)

	outcomes := make([]InterventionOutcome, 0)
	joinedAt := make(map[string]int)
	for _, evt := range ordered {
		switch evt.Kind {
		case event.KindIntervention:
			joinedAt[evt.InterventionID] = len(outcomes)
			outcomes = append(outcomes, InterventionOutcome{
				InterventionID: evt.InterventionID,
				RuleID:         evt.RuleID,
				TVideoMs:       evt.TVideoMs,
				UnknownReason:  UnknownReasonNoOutcome,
			})
		case event.KindOutcome:
			idx, ok := joinedAt[evt.InterventionID]
			if !ok || outcomes[idx].Joined {
				continue
			}
			var payload event.OutcomePayload
			if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
				return nil, fmt.Errorf("decode outcome payload %s: %w", evt.EventID, err)
			}
			outcomes[idx].Joined = true
			outcomes[idx].UnknownReason = strings.TrimSpace(payload.ComplianceUnknownReason)
			outcomes[idx].ComplianceDetected = payload.ComplianceDetected
			outcomes[idx].ObservedTVideoMs = evt.TVideoMs
			negative, reason := ClassifyOutcome(payload)
			outcomes[idx].NegativeEvidence = negative
			outcomes[idx].NegativeReason = reason
		}
	}
	return outcomes, nil
}

// sortedByTimeline returns a copy ordered by the canonical log order:
// timeline position ascending with append sequence as the tie-break.
func sortedByTimeline(events []event.Event) []event.Event {
	ordered := make([]event.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TVideoMs != ordered[j].TVideoMs {
			return ordered[i].TVideoMs < ordered[j].TVideoMs
		}
		return ordered[i].Seq < ordered[j].Seq
	})
	return ordered
}
