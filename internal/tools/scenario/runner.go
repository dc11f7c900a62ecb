package scenario

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/analysis"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/capture"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/dispatch"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/manager"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/recorder"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage/sqlite"
	"github.com/louisbranch/outtake.studio/internal/services/scoring"
)

// Runner owns one scenario's store and service wiring. Sessions run
// in-process against the real manager, recorder, and dispatcher; nothing is
// stubbed below the tick source.
type Runner struct {
	cfg        Config
	mode       session.Mode
	store      *sqlite.Store
	manager    *manager.Manager
	dispatcher *dispatch.Dispatcher
	rng        *rand.Rand
	logger     *log.Logger
	cleanup    func() error
}

// NewRunner opens the store and wires the coaching services for a run.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Sessions < 1 {
		return nil, errors.New("session count must be at least 1")
	}
	if cfg.PatternID == "" {
		return nil, errors.New("pattern id is required")
	}
	mode := session.ModeUnspecified
	if cfg.Mode != "" {
		parsed, ok := session.NormalizeMode(cfg.Mode)
		if !ok {
			return nil, fmt.Errorf("mode %q is not recognized", cfg.Mode)
		}
		mode = parsed
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	dbPath := cfg.DBPath
	cleanup := func() error { return nil }
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "coaching-scenario-")
		if err != nil {
			return nil, fmt.Errorf("create scratch store dir: %w", err)
		}
		dbPath = filepath.Join(dir, "coaching.db")
		cleanup = func() error { return os.RemoveAll(dir) }
	} else if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("open scenario store: %w", err)
	}

	registry, err := rule.DefaultRegistry()
	if err != nil {
		_ = store.Close()
		_ = cleanup()
		return nil, fmt.Errorf("load rule catalog: %w", err)
	}

	cohorts, err := session.NewRatioSource(cfg.ControlRatio, cfg.HoldoutRatio, rng)
	if err != nil {
		_ = store.Close()
		_ = cleanup()
		return nil, err
	}

	rec := recorder.New(store, registry, nil, nil)
	mgr := manager.New(store, registry, cohorts, capture.NewRegistry(), nil, manager.Config{})

	return &Runner{
		cfg:        cfg,
		mode:       mode,
		store:      store,
		manager:    mgr,
		dispatcher: dispatch.New(rec, store, registry, dispatch.Config{}),
		rng:        rng,
		logger:     logger,
		cleanup:    cleanup,
	}, nil
}

// Close releases the store and removes a throwaway database.
func (r *Runner) Close() error {
	if r == nil {
		return nil
	}
	err := r.store.Close()
	if cleanupErr := r.cleanup(); err == nil {
		err = cleanupErr
	}
	return err
}

// Run creates, drives, and ends every session, then aggregates the cohort.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	measured := make([]analysis.Summary, 0, r.cfg.Sessions)
	var report Report

	for i := 0; i < r.cfg.Sessions; i++ {
		summary, holdout, err := r.runSession(ctx, i)
		if err != nil {
			return Report{}, fmt.Errorf("session %d/%d: %w", i+1, r.cfg.Sessions, err)
		}
		report.TotalEvents += summary.TotalEvents
		report.InterventionsDelivered += summary.InterventionsDelivered
		report.OutcomesObserved += summary.OutcomesObserved
		if !holdout {
			measured = append(measured, summary)
		}
	}

	stats, err := r.manager.CohortStats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("aggregate cohorts: %w", err)
	}
	report.Sessions = stats.TotalSessions
	report.Coached = stats.CoachedSessions
	report.Control = stats.ControlSessions
	report.Holdout = stats.HoldoutSessions
	report.Degraded = stats.DegradedSessions
	report.ControlRatio = stats.ControlRatio
	report.AvgJoinRate = stats.AvgInterventionOutcomeJoinRate
	report.AvgUnknownRate = stats.AvgComplianceUnknownRate
	report.AvgNegativeRate = stats.AvgNegativeEvidenceRate
	report.LogGaps = stats.TotalLogGaps

	if r.cfg.ScoringBaseURL != "" {
		if err := r.submitScores(ctx, measured, &report); err != nil {
			return Report{}, fmt.Errorf("submit scores: %w", err)
		}
	}
	return report, nil
}

// runSession runs one session from creation to terminal status and returns
// its summary and holdout membership.
func (r *Runner) runSession(ctx context.Context, index int) (analysis.Summary, bool, error) {
	sess, _, err := r.manager.CreateSession(ctx, manager.CreateParams{
		PatternID: r.cfg.PatternID,
		Mode:      r.mode,
		Language:  r.cfg.Language,
		DeviceID:  fmt.Sprintf("sim-rig-%03d", index),
	})
	if err != nil {
		return analysis.Summary{}, false, fmt.Errorf("create: %w", err)
	}
	r.logf("session %d/%d start: %s assignment=%s holdout=%s",
		index+1, r.cfg.Sessions, sess.ID, sess.Assignment, sess.Holdout)

	runCtx, cancel := context.WithCancel(ctx)
	r.manager.TrackDispatch(sess.ID, cancel)
	err = r.dispatcher.Run(runCtx, sess, dispatch.NewScript(r.takeScript()...))
	cancel()
	if err != nil {
		return analysis.Summary{}, false, fmt.Errorf("dispatch: %w", err)
	}

	if _, _, err := r.manager.EndSession(ctx, sess.ID, session.EndReasonCompleted); err != nil {
		return analysis.Summary{}, false, fmt.Errorf("end: %w", err)
	}

	summary, err := r.manager.Summary(ctx, sess.ID)
	if err != nil {
		return analysis.Summary{}, false, fmt.Errorf("summarize: %w", err)
	}
	r.logf("session %d/%d done: %s events=%d interventions=%d",
		index+1, r.cfg.Sessions, sess.ID, summary.TotalEvents, summary.InterventionsDelivered)
	return summary, sess.Holdout.IsHoldout(), nil
}

// takeScript replays one filming take: an early hook violation, clean
// mid-take signal, and a recovery that lands for most takes. Draws vary the
// tail so a cohort produces a spread of join and unknown rates.
func (r *Runner) takeScript() []dispatch.Tick {
	ticks := []dispatch.Tick{
		{RuleID: "hook_first_3s", Result: event.ResultViolated, Confidence: 0.9, TVideoMs: 1800},
		{RuleID: "face_in_frame", Result: event.ResultPassed, TVideoMs: 2600},
		{RuleID: "audio_clipping", Result: event.ResultPassed, TVideoMs: 3400},
	}
	switch draw := r.rng.Float64(); {
	case draw < 0.7:
		ticks = append(ticks, dispatch.Tick{
			RuleID: "hook_first_3s", Result: event.ResultPassed, TVideoMs: 5200,
		})
	case draw < 0.85:
		// A low-confidence repeat neither re-triggers nor discharges, so
		// the first intervention stays unresolved.
		ticks = append(ticks, dispatch.Tick{
			RuleID: "hook_first_3s", Result: event.ResultViolated, Confidence: 0.2, TVideoMs: 5200,
		})
	}
	if r.rng.Float64() < 0.3 {
		ticks = append(ticks,
			dispatch.Tick{RuleID: "steady_framing", Result: event.ResultViolated, Confidence: 0.8, TVideoMs: 6400},
			dispatch.Tick{RuleID: "steady_framing", Result: event.ResultPassed, TVideoMs: 7800},
		)
	}
	return ticks
}

// submitScores averages the measured sessions and hands the aggregate to the
// scoring engine. Holdout sessions were filtered out before this point.
func (r *Runner) submitScores(ctx context.Context, measured []analysis.Summary, report *Report) error {
	if len(measured) == 0 {
		return errors.New("no measured sessions to score")
	}

	var joinSum, unknownSum, negativeSum float64
	for _, summary := range measured {
		joinSum += summary.InterventionOutcomeJoinRate
		unknownSum += summary.ComplianceUnknownRate
		negativeSum += summary.NegativeEvidenceRate
	}
	count := float64(len(measured))
	join := joinSum / count
	unknown := unknownSum / count
	negative := negativeSum / count

	client, err := scoring.New(scoring.Config{BaseURL: r.cfg.ScoringBaseURL})
	if err != nil {
		return err
	}

	score, err := client.QuickScore(ctx, scoring.QuickScoreRequest{
		PatternID: r.cfg.PatternID,
		Metrics: map[string]float64{
			"join_rate":     join,
			"unknown_rate":  unknown,
			"negative_rate": negative,
		},
	})
	if err != nil {
		return fmt.Errorf("quick score: %w", err)
	}
	report.Score = &score

	trials := r.cfg.ScoringTrials
	if trials <= 0 {
		trials = DefaultConfig().ScoringTrials
	}
	simulation, err := client.Simulate(ctx, scoring.SimulateRequest{
		PatternID:    r.cfg.PatternID,
		Trials:       trials,
		JoinRate:     join,
		UnknownRate:  unknown,
		NegativeRate: negative,
	})
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	report.Simulation = &simulation
	return nil
}

func (r *Runner) logf(format string, args ...any) {
	if !r.cfg.Verbose || r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
