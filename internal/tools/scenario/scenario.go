// Package scenario drives synthetic coaching cohorts end to end against a
// real store: it creates sessions, replays scripted rule verdicts through the
// dispatcher, ends every session, and aggregates what the cohort produced.
// Runs exist to observe realized assignment ratios and rate aggregates at
// volume; a run can hand its measured aggregate to the scoring engine
// afterwards. Holdout sessions count in the report but are never part of
// what is submitted.
package scenario

import (
	"context"
	"log"
)

// Config controls a scenario run.
type Config struct {
	// Sessions is how many sessions the run creates.
	Sessions int
	// ControlRatio is the probability a session draws the control group.
	ControlRatio float64
	// HoldoutRatio is the probability a session draws the holdout group.
	HoldoutRatio float64
	// PatternID names the outlier pattern every session films against.
	PatternID string
	// Mode selects the checklist. Empty falls back to the default mode.
	Mode string
	// Language is the BCP-47 tag for coaching command text.
	Language string
	// DBPath locates the sqlite store. Empty runs against a throwaway
	// store that is removed when the runner closes.
	DBPath string
	// Seed fixes the run's randomness so reruns replay the same cohort.
	// Zero seeds from the wall clock.
	Seed int64
	// ScoringBaseURL switches on score submission after the run.
	ScoringBaseURL string
	// ScoringTrials sizes the Monte-Carlo run when scoring is on.
	ScoringTrials int
	// Verbose switches per-session progress logging on.
	Verbose bool
	// Logger receives progress output. Nil means stderr.
	Logger *log.Logger
}

// DefaultConfig returns default runner configuration.
func DefaultConfig() Config {
	return Config{
		Sessions:      200,
		ControlRatio:  0.10,
		HoldoutRatio:  0,
		PatternID:     "pattern-demo",
		Language:      "en",
		ScoringTrials: 2000,
	}
}

// Run executes one full scenario and returns its report.
func Run(ctx context.Context, cfg Config) (Report, error) {
	runner, err := NewRunner(cfg)
	if err != nil {
		return Report{}, err
	}
	defer runner.Close()

	return runner.Run(ctx)
}
