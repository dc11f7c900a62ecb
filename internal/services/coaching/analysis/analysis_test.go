package analysis

import (
	"math"
	"testing"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

const sessionID = "sess-analysis"

func ruleEvaluated(t *testing.T, eventID string, seq uint64, tVideo int64, result string) event.Event {
	t.Helper()
	evt, err := event.NewRuleEvaluated(sessionID, eventID, event.RuleEvaluatedPayload{
		RuleID:   "hook_first_3s",
		Result:   result,
		TVideoMs: tVideo,
	})
	if err != nil {
		t.Fatalf("build rule evaluation: %v", err)
	}
	evt.Seq = seq
	return evt
}

func intervention(t *testing.T, eventID string, seq uint64, tVideo int64, interventionID string) event.Event {
	t.Helper()
	evt, err := event.NewIntervention(sessionID, eventID, event.InterventionPayload{
		InterventionID: interventionID,
		RuleID:         "hook_first_3s",
		TVideoMs:       tVideo,
		CommandText:    "Say the hook now.",
	})
	if err != nil {
		t.Fatalf("build intervention: %v", err)
	}
	evt.Seq = seq
	return evt
}

func outcome(t *testing.T, eventID string, seq uint64, tVideo int64, interventionID string, compliance bool) event.Event {
	t.Helper()
	evt, err := event.NewOutcome(sessionID, eventID, event.OutcomePayload{
		InterventionID:     interventionID,
		ComplianceDetected: compliance,
		TVideoMs:           tVideo,
	})
	if err != nil {
		t.Fatalf("build outcome: %v", err)
	}
	evt.Seq = seq
	return evt
}

func TestJoinOutcomesPicksEarliestOutcome(t *testing.T) {
	events := []event.Event{
		ruleEvaluated(t, "e1", 1, 1000, "violated"),
		intervention(t, "e2", 2, 1000, "int-1"),
		outcome(t, "e3", 3, 4000, "int-1", false),
		outcome(t, "e4", 4, 2500, "int-1", true),
	}

	joins, err := JoinOutcomes(events)
	if err != nil {
		t.Fatalf("join outcomes: %v", err)
	}
	if len(joins) != 1 {
		t.Fatalf("joins = %d, want 1", len(joins))
	}
	got := joins[0]
	if !got.Joined {
		t.Fatal("expected join")
	}
	if !got.ComplianceDetected {
		t.Fatal("earliest outcome at 2500ms detected compliance; later one must not override")
	}
	if got.NegativeEvidence {
		t.Fatal("compliant join must not count as negative evidence")
	}
	if got.ObservedTVideoMs != 2500 {
		t.Fatalf("observed at %d, want 2500", got.ObservedTVideoMs)
	}
}

func TestJoinOutcomesMarksUnjoinedUnknown(t *testing.T) {
	events := []event.Event{
		ruleEvaluated(t, "e1", 1, 1000, "violated"),
		intervention(t, "e2", 2, 1000, "int-1"),
	}

	joins, err := JoinOutcomes(events)
	if err != nil {
		t.Fatalf("join outcomes: %v", err)
	}
	if len(joins) != 1 {
		t.Fatalf("joins = %d, want 1", len(joins))
	}
	if joins[0].Joined {
		t.Fatal("expected unjoined intervention")
	}
	if joins[0].UnknownReason != UnknownReasonNoOutcome {
		t.Fatalf("unknown reason = %q, want %q", joins[0].UnknownReason, UnknownReasonNoOutcome)
	}
}

func TestJoinOutcomesFlagsNegativeEvidence(t *testing.T) {
	events := []event.Event{
		intervention(t, "e1", 1, 1000, "int-1"),
		outcome(t, "e2", 2, 3000, "int-1", false),
	}

	joins, err := JoinOutcomes(events)
	if err != nil {
		t.Fatalf("join outcomes: %v", err)
	}
	if !joins[0].NegativeEvidence {
		t.Fatal("expected negative evidence")
	}
	if joins[0].NegativeReason != NegativeReasonNonCompliance {
		t.Fatalf("negative reason = %q, want %q", joins[0].NegativeReason, NegativeReasonNonCompliance)
	}
}

func TestJoinOutcomesUnresolvedObservationIsNotNegative(t *testing.T) {
	unresolved, err := event.NewOutcome(sessionID, "e2", event.OutcomePayload{
		InterventionID:          "int-1",
		ComplianceDetected:      false,
		ComplianceUnknownReason: "subject_occluded",
		TVideoMs:                3000,
	})
	if err != nil {
		t.Fatalf("build outcome: %v", err)
	}
	unresolved.Seq = 2
	events := []event.Event{
		intervention(t, "e1", 1, 1000, "int-1"),
		unresolved,
	}

	joins, err := JoinOutcomes(events)
	if err != nil {
		t.Fatalf("join outcomes: %v", err)
	}
	got := joins[0]
	if !got.Joined {
		t.Fatal("expected join")
	}
	if got.NegativeEvidence {
		t.Fatal("an unresolved observation must not count as negative evidence")
	}
	if got.UnknownReason != "subject_occluded" {
		t.Fatalf("unknown reason = %q", got.UnknownReason)
	}

	tally, err := TallyEvents(events)
	if err != nil {
		t.Fatalf("tally events: %v", err)
	}
	if tally.UnknownInterventions != 1 || tally.NegativeInterventions != 0 {
		t.Fatalf("tally = %+v", tally)
	}
}

func TestJoinOutcomesOrdersByTimelineThenSeq(t *testing.T) {
	// Same timeline position: the append sequence decides which outcome
	// counts as earliest.
	events := []event.Event{
		intervention(t, "e1", 1, 1000, "int-1"),
		outcome(t, "e3", 3, 2000, "int-1", false),
		outcome(t, "e2", 2, 2000, "int-1", true),
	}

	joins, err := JoinOutcomes(events)
	if err != nil {
		t.Fatalf("join outcomes: %v", err)
	}
	if !joins[0].ComplianceDetected {
		t.Fatal("seq 2 outcome must win the tie at 2000ms")
	}
}

func TestTallyCountsKinds(t *testing.T) {
	events := []event.Event{
		ruleEvaluated(t, "e1", 1, 1000, "violated"),
		intervention(t, "e2", 2, 1000, "int-1"),
		ruleEvaluated(t, "e3", 3, 4000, "passed"),
		outcome(t, "e4", 4, 4000, "int-1", true),
	}

	tally, err := TallyEvents(events)
	if err != nil {
		t.Fatalf("tally events: %v", err)
	}
	want := Tally{
		TotalEvents:         4,
		RulesEvaluated:      2,
		Interventions:       1,
		Outcomes:            1,
		JoinedInterventions: 1,
	}
	if tally != want {
		t.Fatalf("tally = %+v, want %+v", tally, want)
	}
}

func TestSummarizeRates(t *testing.T) {
	tests := []struct {
		name         string
		tally        Tally
		wantJoin     float64
		wantUnknown  float64
		wantNegative float64
	}{
		{
			name: "no interventions yields zero rates",
			tally: Tally{
				TotalEvents:    3,
				RulesEvaluated: 3,
			},
		},
		{
			name: "joined compliant intervention",
			tally: Tally{
				TotalEvents:         4,
				RulesEvaluated:      2,
				Interventions:       1,
				Outcomes:            1,
				JoinedInterventions: 1,
			},
			wantJoin: 1,
		},
		{
			name: "unjoined intervention",
			tally: Tally{
				TotalEvents:          3,
				RulesEvaluated:       2,
				Interventions:        1,
				UnknownInterventions: 1,
			},
			wantUnknown: 1,
		},
		{
			name: "mixed outcomes",
			tally: Tally{
				Interventions:         4,
				JoinedInterventions:   3,
				UnknownInterventions:  1,
				NegativeInterventions: 1,
				Outcomes:              3,
			},
			wantJoin:     0.75,
			wantUnknown:  0.25,
			wantNegative: 0.25,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			summary := Summarize(sessionID, tc.tally, 0)
			if summary.InterventionOutcomeJoinRate != tc.wantJoin {
				t.Fatalf("join rate = %v, want %v", summary.InterventionOutcomeJoinRate, tc.wantJoin)
			}
			if summary.ComplianceUnknownRate != tc.wantUnknown {
				t.Fatalf("unknown rate = %v, want %v", summary.ComplianceUnknownRate, tc.wantUnknown)
			}
			if summary.NegativeEvidenceRate != tc.wantNegative {
				t.Fatalf("negative rate = %v, want %v", summary.NegativeEvidenceRate, tc.wantNegative)
			}
			for _, rate := range []float64{
				summary.InterventionOutcomeJoinRate,
				summary.ComplianceUnknownRate,
				summary.NegativeEvidenceRate,
			} {
				if rate < 0 || rate > 1 {
					t.Fatalf("rate %v outside [0,1]", rate)
				}
			}
		})
	}
}

func TestSummarizeCarriesCountsAndGaps(t *testing.T) {
	tally := Tally{TotalEvents: 7, RulesEvaluated: 5, Interventions: 1, Outcomes: 1, JoinedInterventions: 1}
	summary := Summarize("sess-1", tally, 2)
	if summary.SessionID != "sess-1" {
		t.Fatalf("session id = %q", summary.SessionID)
	}
	if summary.TotalEvents != 7 || summary.RulesEvaluated != 5 {
		t.Fatalf("counts not carried: %+v", summary)
	}
	if summary.InterventionsDelivered != 1 || summary.OutcomesObserved != 1 {
		t.Fatalf("intervention counts not carried: %+v", summary)
	}
	if summary.LogGaps != 2 {
		t.Fatalf("log gaps = %d, want 2", summary.LogGaps)
	}
}

func TestAggregateCohortsRatioExcludesDegraded(t *testing.T) {
	rollups := []SessionRollup{
		{Assignment: session.AssignmentCoached, Holdout: session.HoldoutMeasured},
		{Assignment: session.AssignmentCoached, Holdout: session.HoldoutMeasured},
		{Assignment: session.AssignmentCoached, Holdout: session.HoldoutExempt},
		{Assignment: session.AssignmentControl, Holdout: session.HoldoutMeasured},
		{Assignment: session.AssignmentCoached, Holdout: session.HoldoutMeasured, Degraded: true},
	}

	stats := AggregateCohorts(rollups)
	if stats.TotalSessions != 5 {
		t.Fatalf("total = %d, want 5", stats.TotalSessions)
	}
	if stats.DegradedSessions != 1 {
		t.Fatalf("degraded = %d, want 1", stats.DegradedSessions)
	}
	if stats.HoldoutSessions != 1 {
		t.Fatalf("holdout = %d, want 1", stats.HoldoutSessions)
	}
	if want := 0.25; stats.ControlRatio != want {
		t.Fatalf("control ratio = %v, want %v (degraded session must not dilute it)", stats.ControlRatio, want)
	}
}

func TestAggregateCohortsAveragesEndedSessions(t *testing.T) {
	rollups := []SessionRollup{
		{
			Assignment: session.AssignmentCoached,
			Holdout:    session.HoldoutMeasured,
			Ended:      true,
			Tally:      Tally{Interventions: 1, JoinedInterventions: 1, Outcomes: 1},
		},
		{
			Assignment: session.AssignmentCoached,
			Holdout:    session.HoldoutMeasured,
			Ended:      true,
			Tally:      Tally{Interventions: 1, UnknownInterventions: 1},
			LogGaps:    1,
		},
		{
			// Still active: its rates must not enter the averages.
			Assignment: session.AssignmentCoached,
			Holdout:    session.HoldoutMeasured,
			Tally:      Tally{Interventions: 4},
		},
	}

	stats := AggregateCohorts(rollups)
	if stats.EndedSessions != 2 {
		t.Fatalf("ended = %d, want 2", stats.EndedSessions)
	}
	if math.Abs(stats.AvgInterventionOutcomeJoinRate-0.5) > 1e-9 {
		t.Fatalf("avg join rate = %v, want 0.5", stats.AvgInterventionOutcomeJoinRate)
	}
	if math.Abs(stats.AvgComplianceUnknownRate-0.5) > 1e-9 {
		t.Fatalf("avg unknown rate = %v, want 0.5", stats.AvgComplianceUnknownRate)
	}
	if stats.AvgNegativeEvidenceRate != 0 {
		t.Fatalf("avg negative rate = %v, want 0", stats.AvgNegativeEvidenceRate)
	}
	if stats.TotalLogGaps != 1 {
		t.Fatalf("log gaps = %d, want 1", stats.TotalLogGaps)
	}
}

func TestAggregateCohortsEmpty(t *testing.T) {
	stats := AggregateCohorts(nil)
	if stats.TotalSessions != 0 || stats.ControlRatio != 0 {
		t.Fatalf("empty aggregate = %+v", stats)
	}
}
