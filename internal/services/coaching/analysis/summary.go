package analysis

import (
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
)

// Tally holds the raw per-session event counts every rate derives from.
type Tally struct {
	TotalEvents         int64
	RulesEvaluated      int64
	Interventions       int64
	Outcomes            int64
	JoinedInterventions int64
	// UnknownInterventions counts interventions whose compliance stayed
	// unresolved: no outcome joined, or the joined outcome reported an
	// unknown reason.
	UnknownInterventions  int64
	NegativeInterventions int64
}

// TallyEvents counts a session's log and resolves the intervention joins.
func TallyEvents(events []event.Event) (Tally, error) {
	var tally Tally
	for _, evt := range events {
		tally.TotalEvents++
		switch evt.Kind {
		case event.KindRuleEvaluated:
			tally.RulesEvaluated++
		case event.KindIntervention:
			tally.Interventions++
		case event.KindOutcome:
			tally.Outcomes++
		}
	}

	joins, err := JoinOutcomes(events)
	if err != nil {
		return Tally{}, err
	}
	for _, join := range joins {
		if join.Joined {
			tally.JoinedInterventions++
		}
		if join.UnknownReason != "" {
			tally.UnknownInterventions++
		}
		if join.NegativeEvidence {
			tally.NegativeInterventions++
		}
	}
	return tally, nil
}

// Summary is the derived end-of-session report. It is computed from the
// event log on demand and never stored as source data.
type Summary struct {
	SessionID              string
	TotalEvents            int64
	RulesEvaluated         int64
	InterventionsDelivered int64
	OutcomesObserved       int64
	// InterventionOutcomeJoinRate is the share of interventions that any
	// outcome referenced.
	InterventionOutcomeJoinRate float64
	// ComplianceUnknownRate is the share of interventions whose compliance
	// was never resolved.
	ComplianceUnknownRate float64
	// NegativeEvidenceRate is the share of interventions whose earliest
	// outcome found the behavior unchanged.
	NegativeEvidenceRate float64
	// LogGaps counts events lost after append retries were exhausted.
	LogGaps int64
}

// Summarize folds a tally into the session summary. All rates are 0 when the
// session delivered no interventions.
func Summarize(sessionID string, tally Tally, logGaps int64) Summary {
	join, unknown, negative := rates(tally)
	return Summary{
		SessionID:                   sessionID,
		TotalEvents:                 tally.TotalEvents,
		RulesEvaluated:              tally.RulesEvaluated,
		InterventionsDelivered:      tally.Interventions,
		OutcomesObserved:            tally.Outcomes,
		InterventionOutcomeJoinRate: join,
		ComplianceUnknownRate:       unknown,
		NegativeEvidenceRate:        negative,
		LogGaps:                     logGaps,
	}
}

// rates computes the three intervention rates with a zero denominator
// yielding zero rates.
func rates(tally Tally) (join, unknown, negative float64) {
	if tally.Interventions == 0 {
		return 0, 0, 0
	}
	total := float64(tally.Interventions)
	join = float64(tally.JoinedInterventions) / total
	unknown = float64(tally.UnknownInterventions) / total
	negative = float64(tally.NegativeInterventions) / total
	return join, unknown, negative
}
