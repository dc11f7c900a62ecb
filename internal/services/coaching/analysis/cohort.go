package analysis

import (
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

// SessionRollup is one session's contribution to the cohort aggregate.
type SessionRollup struct {
	Assignment session.Assignment
	Holdout    session.HoldoutLabel
	Degraded   bool
	// Ended marks sessions in a terminal status; only those carry final
	// rates and contribute to the averages.
	Ended   bool
	Tally   Tally
	LogGaps int64
}

// CohortStats is the all-sessions aggregate read by the stats endpoint.
type CohortStats struct {
	TotalSessions    int64
	CoachedSessions  int64
	ControlSessions  int64
	DegradedSessions int64
	HoldoutSessions  int64
	EndedSessions    int64
	// ControlRatio is control sessions over all non-degraded sessions.
	// Degraded sessions were assigned locally, not drawn, so counting them
	// would understate the realized ratio.
	ControlRatio float64
	// Averages are means of per-session rates across ended sessions.
	AvgInterventionOutcomeJoinRate float64
	AvgComplianceUnknownRate       float64
	AvgNegativeEvidenceRate        float64
	TotalLogGaps                   int64
}

// AggregateCohorts folds per-session rollups into the cohort aggregate.
func AggregateCohorts(rollups []SessionRollup) CohortStats {
	var stats CohortStats
	var joinSum, unknownSum, negativeSum float64

	for _, rollup := range rollups {
		stats.TotalSessions++
		stats.TotalLogGaps += rollup.LogGaps
		if rollup.Holdout.IsHoldout() {
			stats.HoldoutSessions++
		}
		switch {
		case rollup.Degraded:
			stats.DegradedSessions++
		case rollup.Assignment == session.AssignmentControl:
			stats.ControlSessions++
		case rollup.Assignment == session.AssignmentCoached:
			stats.CoachedSessions++
		}
		if rollup.Ended {
			stats.EndedSessions++
			join, unknown, negative := rates(rollup.Tally)
			joinSum += join
			unknownSum += unknown
			negativeSum += negative
		}
	}

	if drawn := stats.CoachedSessions + stats.ControlSessions; drawn > 0 {
		stats.ControlRatio = float64(stats.ControlSessions) / float64(drawn)
	}
	if stats.EndedSessions > 0 {
		ended := float64(stats.EndedSessions)
		stats.AvgInterventionOutcomeJoinRate = joinSum / ended
		stats.AvgComplianceUnknownRate = unknownSum / ended
		stats.AvgNegativeEvidenceRate = negativeSum / ended
	}
	return stats
}
