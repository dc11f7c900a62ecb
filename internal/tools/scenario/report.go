package scenario

import (
	"fmt"
	"io"

	"github.com/louisbranch/outtake.studio/internal/services/scoring"
)

// Report is what one scenario run produced.
type Report struct {
	Sessions int64
	Coached  int64
	Control  int64
	Holdout  int64
	Degraded int64

	// ControlRatio is the realized control share over drawn sessions.
	ControlRatio float64

	TotalEvents            int64
	InterventionsDelivered int64
	OutcomesObserved       int64

	AvgJoinRate     float64
	AvgUnknownRate  float64
	AvgNegativeRate float64
	LogGaps         int64

	// Score and Simulation are set only when the run submitted to the
	// scoring engine.
	Score      *scoring.QuickScoreResult
	Simulation *scoring.SimulateResult
}

// WriteReport renders a run report as plain text.
func WriteReport(w io.Writer, report Report) {
	fmt.Fprintf(w, "sessions: %d (coached %d, control %d, holdout %d, degraded %d)\n",
		report.Sessions, report.Coached, report.Control, report.Holdout, report.Degraded)
	fmt.Fprintf(w, "realized control ratio: %.3f\n", report.ControlRatio)
	fmt.Fprintf(w, "events: %d (interventions %d, outcomes %d)\n",
		report.TotalEvents, report.InterventionsDelivered, report.OutcomesObserved)
	fmt.Fprintf(w, "avg rates: join %.3f unknown %.3f negative %.3f\n",
		report.AvgJoinRate, report.AvgUnknownRate, report.AvgNegativeRate)
	if report.LogGaps > 0 {
		fmt.Fprintf(w, "log gaps: %d\n", report.LogGaps)
	}
	if report.Score != nil {
		fmt.Fprintf(w, "quick score: %.2f", report.Score.Score)
		if report.Score.Band != "" {
			fmt.Fprintf(w, " (%s)", report.Score.Band)
		}
		fmt.Fprintln(w)
	}
	if report.Simulation != nil {
		fmt.Fprintf(w, "simulation: %d trials mean %.2f p05 %.2f p95 %.2f\n",
			report.Simulation.Trials, report.Simulation.MeanScore,
			report.Simulation.P05, report.Simulation.P95)
	}
}
