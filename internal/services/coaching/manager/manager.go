// Package manager orchestrates the session lifecycle: creation with cohort
// assignment and capture leasing, idempotent teardown, checklist reset, the
// expiry sweep, and the derived summary and stats reads.
package manager

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/platform/id"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/analysis"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/capture"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
)

// sweepBatchSize caps how many expired sessions one sweep pass ends.
const sweepBatchSize = 50

// Notifier receives session lifecycle changes for live stream subscribers.
type Notifier interface {
	SessionEnded(sessionID string, status session.Status, reason session.EndReason)
}

// Config tunes lifecycle behavior.
type Config struct {
	// SessionTTL bounds how long a session may stay active.
	SessionTTL time.Duration
	// SweepInterval is the pause between expiry sweep passes.
	SweepInterval time.Duration
	// Now supplies the clock. Nil means time.Now.
	Now func() time.Time
}

func (cfg Config) withDefaults() Config {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// Manager owns session lifecycle operations.
type Manager struct {
	store    storage.Store
	registry *rule.Registry
	cohorts  session.Source
	devices  *capture.Registry
	notifier Notifier
	cfg      Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires a manager. The notifier may be nil.
func New(store storage.Store, registry *rule.Registry, cohorts session.Source, devices *capture.Registry, notifier Notifier, cfg Config) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		cohorts:  cohorts,
		devices:  devices,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// CreateParams carries the client-supplied session descriptor.
type CreateParams struct {
	// PatternID names the outlier pattern or source video being filmed against.
	PatternID string
	// Mode selects the checklist. Unspecified defaults to homage.
	Mode session.Mode
	// Language is the BCP-47 tag for coaching command text.
	Language string
	// VoiceStyle names the delivery style for surfaced feedback.
	VoiceStyle string
	// DeviceID names the capture device. Empty maps to the default device.
	DeviceID string
}

// CreateSession claims the capture device, draws the cohort once, seeds the
// checklist for the mode, and stores the session already active. The cohort
// is drawn exactly here and never re-rolled.
func (m *Manager) CreateSession(ctx context.Context, params CreateParams) (session.Session, []rule.ChecklistItem, error) {
	patternID := strings.TrimSpace(params.PatternID)
	if patternID == "" {
		return session.Session{}, nil, apperrors.New(apperrors.CodeSessionVideoIDEmpty, "pattern id is required")
	}
	mode := params.Mode
	if mode == session.ModeUnspecified {
		mode = session.ModeHomage
	}
	rules, err := m.registry.Rules(mode)
	if err != nil {
		return session.Session{}, nil, err
	}
	language := strings.TrimSpace(params.Language)
	if language == "" {
		language = rule.FallbackLocale
	}

	sessionID, err := id.NewID()
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("generate session id: %w", err)
	}

	lease, err := m.devices.Acquire(capture.NormalizeDevice(params.DeviceID), sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}

	cohort, err := m.cohorts.Draw(ctx)
	degraded := false
	if err != nil {
		if ctx.Err() != nil {
			lease.Release()
			return session.Session{}, nil, ctx.Err()
		}
		// The assignment source is unavailable. Filming still starts, under
		// a local coached draw; ratio stats exclude degraded sessions.
		log.Printf("coaching: cohort draw failed, using degraded fallback session=%s err=%v", sessionID, err)
		cohort = session.Cohort{Assignment: session.AssignmentCoached, Holdout: session.HoldoutMeasured}
		degraded = true
	}

	now := m.cfg.Now().UTC()
	sess := session.Session{
		ID:         sessionID,
		PatternID:  patternID,
		Mode:       mode,
		Assignment: cohort.Assignment,
		Holdout:    cohort.Holdout,
		Status:     session.StatusCreated,
		Degraded:   degraded,
		Language:   language,
		VoiceStyle: strings.TrimSpace(params.VoiceStyle),
		DeviceID:   lease.Device(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.SessionTTL),
	}
	sess, err = sess.Transition(session.StatusActive, now)
	if err != nil {
		lease.Release()
		return session.Session{}, nil, err
	}

	checklist := rule.Checklist(rules)
	if err := m.store.CreateSession(ctx, sess, checklist); err != nil {
		lease.Release()
		return session.Session{}, nil, err
	}
	return sess, checklist, nil
}

// EndSession moves a session to its terminal status and tears down its
// resources: the capture lease is released, any tracked tick loop is
// cancelled, and subscribers are notified. Ending an already terminal
// session returns the stored session unchanged; the boolean reports whether
// this call performed the transition.
func (m *Manager) EndSession(ctx context.Context, sessionID string, reason session.EndReason) (session.Session, bool, error) {
	status := session.StatusEnded
	switch reason {
	case session.EndReasonCompleted, session.EndReasonExpired:
	case session.EndReasonCaptureFailure:
		status = session.StatusError
	default:
		return session.Session{}, false, apperrors.New(apperrors.CodeSessionInvalidEndReason, "end reason is not recognized")
	}

	sess, transitioned, err := m.store.EndSession(ctx, sessionID, status, reason, m.cfg.Now().UTC())
	if err != nil {
		return session.Session{}, false, err
	}
	if !transitioned {
		return sess, false, nil
	}

	m.cancelDispatch(sess.ID)
	m.devices.Release(sess.DeviceID, sess.ID)
	if m.notifier != nil {
		m.notifier.SessionEnded(sess.ID, sess.Status, sess.EndReason)
	}
	return sess, true, nil
}

// GetSession returns the session descriptor with its live checklist.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (session.Session, []rule.ChecklistItem, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}
	checklist, err := m.store.GetChecklist(ctx, sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}
	return sess, checklist, nil
}

// ResetChecklist returns every checklist item to pending and zeroes the
// progress score. Only live sessions may reset.
func (m *Manager) ResetChecklist(ctx context.Context, sessionID string) ([]rule.ChecklistItem, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, storage.ErrSessionEnded
	}
	if err := m.store.ResetChecklist(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := m.store.SetProgressScore(ctx, sessionID, 0); err != nil {
		return nil, err
	}
	return m.store.GetChecklist(ctx, sessionID)
}

// Summary recomputes the session summary from the full event log.
func (m *Manager) Summary(ctx context.Context, sessionID string) (analysis.Summary, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return analysis.Summary{}, err
	}
	events, err := m.store.ListEvents(ctx, sessionID)
	if err != nil {
		return analysis.Summary{}, err
	}
	tally, err := analysis.TallyEvents(events)
	if err != nil {
		return analysis.Summary{}, err
	}
	return analysis.Summarize(sess.ID, tally, int64(sess.LogGaps)), nil
}

// CohortStats folds every session's counters into the all-sessions view.
func (m *Manager) CohortStats(ctx context.Context) (analysis.CohortStats, error) {
	rows, err := m.store.ListSessionStats(ctx)
	if err != nil {
		return analysis.CohortStats{}, err
	}
	rollups := make([]analysis.SessionRollup, 0, len(rows))
	for _, row := range rows {
		rollups = append(rollups, analysis.SessionRollup{
			Assignment: row.Assignment,
			Holdout:    row.Holdout,
			Degraded:   row.Degraded,
			Ended:      row.Status.Terminal(),
			Tally: analysis.Tally{
				TotalEvents:           row.TotalEvents,
				RulesEvaluated:        row.RulesEvaluated,
				Interventions:         row.Interventions,
				Outcomes:              row.Outcomes,
				JoinedInterventions:   row.JoinedInterventions,
				UnknownInterventions:  row.UnknownInterventions,
				NegativeInterventions: row.NegativeInterventions,
			},
			LogGaps: row.LogGaps,
		})
	}
	return analysis.AggregateCohorts(rollups), nil
}

// TrackDispatch registers the cancel hook for a session's tick loop. Ending
// the session invokes it, so in-flight evaluation stops with the session.
func (m *Manager) TrackDispatch(sessionID string, cancel context.CancelFunc) {
	if strings.TrimSpace(sessionID) == "" || cancel == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[sessionID] = cancel
}

func (m *Manager) cancelDispatch(sessionID string) {
	m.mu.Lock()
	cancel := m.cancels[sessionID]
	delete(m.cancels, sessionID)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SweepExpired ends sessions whose active window has passed, reporting how
// many this pass ended. Expired sessions share the standard teardown path.
func (m *Manager) SweepExpired(ctx context.Context) int {
	expired, err := m.store.ListExpiredSessions(ctx, m.cfg.Now().UTC(), sweepBatchSize)
	if err != nil {
		log.Printf("coaching: list expired sessions: %v", err)
		return 0
	}
	ended := 0
	for _, sess := range expired {
		if _, transitioned, err := m.EndSession(ctx, sess.ID, session.EndReasonExpired); err != nil {
			log.Printf("coaching: expire session %s: %v", sess.ID, err)
		} else if transitioned {
			ended++
		}
	}
	return ended
}

// RunExpirySweeper sweeps on the configured interval until ctx is cancelled.
func (m *Manager) RunExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepExpired(ctx)
		}
	}
}
