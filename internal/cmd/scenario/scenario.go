// Package scenario parses scenario runner flags and executes a run.
package scenario

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/outtake.studio/internal/tools/scenario"
)

// Config holds scenario command configuration.
type Config struct {
	Sessions       int     `env:"OUTTAKE_STUDIO_SCENARIO_SESSIONS" envDefault:"200"`
	ControlRatio   float64 `env:"OUTTAKE_STUDIO_CONTROL_RATIO"     envDefault:"0.10"`
	HoldoutRatio   float64 `env:"OUTTAKE_STUDIO_HOLDOUT_RATIO"     envDefault:"0"`
	PatternID      string  `env:"OUTTAKE_STUDIO_SCENARIO_PATTERN"  envDefault:"pattern-demo"`
	Mode           string  `env:"OUTTAKE_STUDIO_SCENARIO_MODE"`
	Language       string  `env:"OUTTAKE_STUDIO_SCENARIO_LANGUAGE" envDefault:"en"`
	DBPath         string  `env:"OUTTAKE_STUDIO_SCENARIO_DB_PATH"`
	Seed           int64   `env:"OUTTAKE_STUDIO_SCENARIO_SEED"`
	ScoringBaseURL string  `env:"OUTTAKE_STUDIO_SCORING_URL"`
	ScoringTrials  int     `env:"OUTTAKE_STUDIO_SCORING_TRIALS"    envDefault:"2000"`
	Verbose        bool    `env:"OUTTAKE_STUDIO_SCENARIO_VERBOSE"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.IntVar(&cfg.Sessions, "sessions", cfg.Sessions, "number of sessions to simulate")
	fs.Float64Var(&cfg.ControlRatio, "control-ratio", cfg.ControlRatio, "probability a session draws the control group")
	fs.Float64Var(&cfg.HoldoutRatio, "holdout-ratio", cfg.HoldoutRatio, "probability a session draws the holdout group")
	fs.StringVar(&cfg.PatternID, "pattern", cfg.PatternID, "outlier pattern the cohort films against")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "session mode (homage, variation, campaign)")
	fs.StringVar(&cfg.Language, "language", cfg.Language, "BCP-47 tag for coaching command text")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite path (empty uses a throwaway store)")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed (0 seeds from the clock)")
	fs.StringVar(&cfg.ScoringBaseURL, "scoring-url", cfg.ScoringBaseURL, "scoring engine base URL (empty skips submission)")
	fs.IntVar(&cfg.ScoringTrials, "trials", cfg.ScoringTrials, "Monte-Carlo trials when scoring is on")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable per-session logging")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the scenario command and writes the report to out.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	report, err := scenario.Run(ctx, scenario.Config{
		Sessions:       cfg.Sessions,
		ControlRatio:   cfg.ControlRatio,
		HoldoutRatio:   cfg.HoldoutRatio,
		PatternID:      cfg.PatternID,
		Mode:           cfg.Mode,
		Language:       cfg.Language,
		DBPath:         cfg.DBPath,
		Seed:           cfg.Seed,
		ScoringBaseURL: cfg.ScoringBaseURL,
		ScoringTrials:  cfg.ScoringTrials,
		Verbose:        cfg.Verbose,
		Logger:         log.New(errOut, "", 0),
	})
	if err != nil {
		return err
	}
	scenario.WriteReport(out, report)
	return nil
}
