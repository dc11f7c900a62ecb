package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/capture"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage/sqlite"
)

type endedCall struct {
	sessionID string
	status    session.Status
	reason    session.EndReason
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []endedCall
}

func (n *fakeNotifier) SessionEnded(sessionID string, status session.Status, reason session.EndReason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, endedCall{sessionID: sessionID, status: status, reason: reason})
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	manager  *Manager
	store    storage.Store
	registry *rule.Registry
	devices  *capture.Registry
	notifier *fakeNotifier
	clock    *fakeClock
}

func newHarness(t *testing.T, src session.Source) *harness {
	t.Helper()
	store, err := sqlite.Open(t.TempDir() + "/coaching.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry, err := rule.DefaultRegistry()
	if err != nil {
		t.Fatalf("load rule catalog: %v", err)
	}
	devices := capture.NewRegistry()
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}

	mgr := New(store, registry, src, devices, notifier, Config{
		SessionTTL: 30 * time.Minute,
		Now:        clock.Now,
	})
	return &harness{manager: mgr, store: store, registry: registry, devices: devices, notifier: notifier, clock: clock}
}

func coachedSource() session.Source {
	return session.FixedSource{Cohort: session.Cohort{Assignment: session.AssignmentCoached, Holdout: session.HoldoutMeasured}}
}

func TestCreateSessionSeedsActiveSession(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, checklist, err := h.manager.CreateSession(ctx, CreateParams{
		PatternID:  "vid-outlier-7",
		Mode:       session.ModeHomage,
		VoiceStyle: "hype",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Status != session.StatusActive {
		t.Fatalf("expected active session, got %s", sess.Status)
	}
	if sess.Assignment != session.AssignmentCoached || sess.Degraded {
		t.Fatalf("unexpected cohort: %+v", sess)
	}
	if sess.Language != "en" {
		t.Fatalf("expected fallback language en, got %q", sess.Language)
	}
	if sess.DeviceID != capture.DefaultDevice {
		t.Fatalf("expected default device, got %q", sess.DeviceID)
	}
	wantExpiry := h.clock.Now().Add(30 * time.Minute)
	if !sess.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %s, got %s", wantExpiry, sess.ExpiresAt)
	}

	rules, err := h.registry.Rules(session.ModeHomage)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(checklist) != len(rules) {
		t.Fatalf("expected %d checklist items, got %d", len(rules), len(checklist))
	}
	for _, item := range checklist {
		if item.Status != rule.ItemStatusPending {
			t.Fatalf("expected pending item, got %+v", item)
		}
	}

	holder, ok := h.devices.Holder(capture.DefaultDevice)
	if !ok || holder != sess.ID {
		t.Fatalf("expected device held by %s, got %s ok=%v", sess.ID, holder, ok)
	}

	stored, err := h.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != session.StatusActive || stored.PatternID != "vid-outlier-7" {
		t.Fatalf("unexpected stored session: %+v", stored)
	}
}

func TestCreateSessionRequiresPatternID(t *testing.T) {
	h := newHarness(t, coachedSource())

	_, _, err := h.manager.CreateSession(context.Background(), CreateParams{PatternID: "   "})
	if !errors.Is(err, apperrors.New(apperrors.CodeSessionVideoIDEmpty, "")) {
		t.Fatalf("expected video id error, got %v", err)
	}
}

func TestCreateSessionDeviceBusy(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	first, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1", DeviceID: "rig-a"})
	if err != nil {
		t.Fatalf("create first session: %v", err)
	}

	if _, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-2", DeviceID: "rig-a"}); !errors.Is(err, apperrors.New(apperrors.CodeCaptureDeviceBusy, "")) {
		t.Fatalf("expected busy device error, got %v", err)
	}

	if _, _, err := h.manager.EndSession(ctx, first.ID, session.EndReasonCompleted); err != nil {
		t.Fatalf("end first session: %v", err)
	}
	if _, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-3", DeviceID: "rig-a"}); err != nil {
		t.Fatalf("create after release: %v", err)
	}
}

func TestCreateSessionDegradedFallback(t *testing.T) {
	h := newHarness(t, session.FixedSource{Err: errors.New("assignment source down")})
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Assignment != session.AssignmentCoached || !sess.Degraded {
		t.Fatalf("expected degraded coached fallback, got %+v", sess)
	}

	stored, err := h.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !stored.Degraded {
		t.Fatal("expected degraded flag persisted")
	}
}

func TestCreateSessionReleasesLeaseWhenStoreFails(t *testing.T) {
	h := newHarness(t, coachedSource())
	h.store.Close()

	if _, _, err := h.manager.CreateSession(context.Background(), CreateParams{PatternID: "vid-1"}); err == nil {
		t.Fatal("expected error from closed store")
	}
	if holder, ok := h.devices.Holder(capture.DefaultDevice); ok {
		t.Fatalf("expected lease released, still held by %s", holder)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ended, transitioned, err := h.manager.EndSession(ctx, sess.ID, session.EndReasonCompleted)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if !transitioned || ended.Status != session.StatusEnded || ended.EndReason != session.EndReasonCompleted {
		t.Fatalf("unexpected end state: transitioned=%v %+v", transitioned, ended)
	}
	if ended.EndedAt == nil {
		t.Fatal("expected ended at set")
	}
	if _, ok := h.devices.Holder(capture.DefaultDevice); ok {
		t.Fatal("expected capture device released")
	}
	if got := h.notifier.count(); got != 1 {
		t.Fatalf("expected 1 lifecycle notification, got %d", got)
	}
	if call := h.notifier.calls[0]; call.sessionID != sess.ID || call.status != session.StatusEnded || call.reason != session.EndReasonCompleted {
		t.Fatalf("unexpected notification: %+v", call)
	}

	again, transitioned, err := h.manager.EndSession(ctx, sess.ID, session.EndReasonCompleted)
	if err != nil {
		t.Fatalf("end session again: %v", err)
	}
	if transitioned || again.Status != session.StatusEnded {
		t.Fatalf("expected idempotent end, got transitioned=%v %+v", transitioned, again)
	}
	if got := h.notifier.count(); got != 1 {
		t.Fatalf("expected no second notification, got %d", got)
	}
}

func TestEndSessionCaptureFailureMapsToError(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ended, transitioned, err := h.manager.EndSession(ctx, sess.ID, session.EndReasonCaptureFailure)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if !transitioned || ended.Status != session.StatusError || ended.EndReason != session.EndReasonCaptureFailure {
		t.Fatalf("unexpected end state: %+v", ended)
	}
}

func TestEndSessionRejectsUnknownReason(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, _, err := h.manager.EndSession(ctx, sess.ID, session.EndReason("abandoned")); !errors.Is(err, apperrors.New(apperrors.CodeSessionInvalidEndReason, "")) {
		t.Fatalf("expected invalid end reason error, got %v", err)
	}
	if _, _, err := h.manager.EndSession(ctx, sess.ID, session.EndReasonUnspecified); !errors.Is(err, apperrors.New(apperrors.CodeSessionInvalidEndReason, "")) {
		t.Fatalf("expected invalid end reason error, got %v", err)
	}
}

func TestEndSessionCancelsTrackedDispatch(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.manager.TrackDispatch(sess.ID, cancel)

	if _, _, err := h.manager.EndSession(ctx, sess.ID, session.EndReasonCompleted); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if !errors.Is(tickCtx.Err(), context.Canceled) {
		t.Fatal("expected tick context cancelled on end")
	}
}

func TestResetChecklistOnlyWhileActive(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := h.store.SetChecklistItemStatus(ctx, sess.ID, "hook_first_3s", rule.ItemStatusPassed); err != nil {
		t.Fatalf("set checklist item: %v", err)
	}
	if err := h.store.SetProgressScore(ctx, sess.ID, 0.5); err != nil {
		t.Fatalf("set progress: %v", err)
	}

	checklist, err := h.manager.ResetChecklist(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reset checklist: %v", err)
	}
	for _, item := range checklist {
		if item.Status != rule.ItemStatusPending {
			t.Fatalf("expected pending after reset, got %+v", item)
		}
	}
	stored, err := h.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.ProgressScore != 0 {
		t.Fatalf("expected progress reset to 0, got %v", stored.ProgressScore)
	}

	if _, _, err := h.manager.EndSession(ctx, sess.ID, session.EndReasonCompleted); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, err := h.manager.ResetChecklist(ctx, sess.ID); !errors.Is(err, apperrors.New(apperrors.CodeSessionEnded, "")) {
		t.Fatalf("expected session ended error, got %v", err)
	}
}

func TestSweepExpiredEndsSessions(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	h.clock.Advance(31 * time.Minute)
	if got := h.manager.SweepExpired(ctx); got != 1 {
		t.Fatalf("expected 1 expired session, got %d", got)
	}

	stored, err := h.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != session.StatusEnded || stored.EndReason != session.EndReasonExpired {
		t.Fatalf("unexpected swept state: %+v", stored)
	}
	if got := h.notifier.count(); got != 1 {
		t.Fatalf("expected expiry notification, got %d", got)
	}

	// A fresh session is not swept before its window passes.
	if _, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-2"}); err != nil {
		t.Fatalf("create second session: %v", err)
	}
	if got := h.manager.SweepExpired(ctx); got != 0 {
		t.Fatalf("expected no expired sessions, got %d", got)
	}
}

func TestSummaryRecomputesFromLog(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	sess, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	evaluated, err := event.NewRuleEvaluated(sess.ID, "evt-1", event.RuleEvaluatedPayload{
		RuleID: "hook_first_3s", Result: string(event.ResultViolated), TVideoMs: 1000, InterventionTriggered: true,
	})
	if err != nil {
		t.Fatalf("build evaluation: %v", err)
	}
	delivered, err := event.NewIntervention(sess.ID, "evt-2", event.InterventionPayload{
		InterventionID: "int-1", RuleID: "hook_first_3s", TVideoMs: 1200, CommandText: "Say the hook now.",
	})
	if err != nil {
		t.Fatalf("build intervention: %v", err)
	}
	outcome, err := event.NewOutcome(sess.ID, "evt-3", event.OutcomePayload{
		InterventionID: "int-1", ComplianceDetected: true, TVideoMs: 4000,
	})
	if err != nil {
		t.Fatalf("build outcome: %v", err)
	}
	for _, evt := range []event.Event{evaluated, delivered, outcome} {
		if _, _, err := h.store.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append %s: %v", evt.Kind, err)
		}
	}

	summary, err := h.manager.Summary(ctx, sess.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalEvents != 3 || summary.RulesEvaluated != 1 || summary.InterventionsDelivered != 1 || summary.OutcomesObserved != 1 {
		t.Fatalf("unexpected summary counts: %+v", summary)
	}
	if summary.InterventionOutcomeJoinRate != 1 || summary.NegativeEvidenceRate != 0 {
		t.Fatalf("unexpected summary rates: %+v", summary)
	}
}

func TestCohortStatsPartitionsCohorts(t *testing.T) {
	h := newHarness(t, coachedSource())
	ctx := context.Background()

	coached, _, err := h.manager.CreateSession(ctx, CreateParams{PatternID: "vid-1", DeviceID: "rig-a"})
	if err != nil {
		t.Fatalf("create coached session: %v", err)
	}
	if _, _, err := h.manager.EndSession(ctx, coached.ID, session.EndReasonCompleted); err != nil {
		t.Fatalf("end coached session: %v", err)
	}

	controlMgr := New(h.store, h.registry, session.FixedSource{
		Cohort: session.Cohort{Assignment: session.AssignmentControl, Holdout: session.HoldoutMeasured},
	}, h.devices, h.notifier, Config{SessionTTL: 30 * time.Minute, Now: h.clock.Now})
	control, _, err := controlMgr.CreateSession(ctx, CreateParams{PatternID: "vid-2", DeviceID: "rig-b"})
	if err != nil {
		t.Fatalf("create control session: %v", err)
	}
	if _, _, err := controlMgr.EndSession(ctx, control.ID, session.EndReasonCompleted); err != nil {
		t.Fatalf("end control session: %v", err)
	}

	stats, err := h.manager.CohortStats(ctx)
	if err != nil {
		t.Fatalf("cohort stats: %v", err)
	}
	if stats.TotalSessions != 2 || stats.CoachedSessions != 1 || stats.ControlSessions != 1 {
		t.Fatalf("unexpected cohort counts: %+v", stats)
	}
	if stats.EndedSessions != 2 {
		t.Fatalf("expected 2 ended sessions, got %d", stats.EndedSessions)
	}
	if stats.ControlRatio != 0.5 {
		t.Fatalf("expected control ratio 0.5, got %v", stats.ControlRatio)
	}
}
