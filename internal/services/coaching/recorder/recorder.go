// Package recorder is the single append path into a session's event log.
// It enforces the invariants the stores cannot check on their own: evaluated
// rules must exist in the catalog, interventions reach coached sessions only,
// and outcomes must reference a delivered intervention.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/platform/id"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
)

// Sink receives user-facing notifications for freshly appended events.
// Replays never notify. Interventions notify only after the coached-group
// gate passed, so a sink can surface them without re-checking assignment.
type Sink interface {
	// ChecklistUpdated reports a rule verdict folded into the checklist.
	ChecklistUpdated(sessionID, ruleID string, status rule.ItemStatus, progress float64)
	// InterventionDelivered reports delivered coaching feedback.
	InterventionDelivered(sessionID string, payload event.InterventionPayload)
}

// Recorder validates and appends coaching events, keeping the per-session
// checklist and progress projections in step with the log.
type Recorder struct {
	store    storage.Store
	registry *rule.Registry
	sink     Sink
	now      func() time.Time
}

// New creates a recorder. A nil sink drops notifications; a nil clock uses
// wall time.
func New(store storage.Store, registry *rule.Registry, sink Sink, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, registry: registry, sink: sink, now: now}
}

// RecordRuleEvaluated appends a rule.evaluated event and folds the verdict
// into the session's checklist and progress score. Replays of an already
// logged event ID return the stored event and leave the projections alone.
func (r *Recorder) RecordRuleEvaluated(ctx context.Context, sessionID, eventID string, payload event.RuleEvaluatedPayload) (event.Event, error) {
	if r == nil || r.store == nil {
		return event.Event{}, fmt.Errorf("recorder is not configured")
	}

	found, err := r.registry.Get(payload.RuleID)
	if err != nil {
		return event.Event{}, err
	}
	if found.Disabled {
		return event.Event{}, apperrors.WithMetadata(apperrors.CodeRuleDisabled, "rule is disabled",
			map[string]string{"rule_id": found.ID})
	}

	eventID, err = ensureEventID(eventID)
	if err != nil {
		return event.Event{}, err
	}
	evt, err := event.NewRuleEvaluated(sessionID, eventID, payload)
	if err != nil {
		return event.Event{}, err
	}
	evt.LoggedAt = r.now().UTC()

	stored, appended, err := r.store.AppendEvent(ctx, evt)
	if err != nil {
		return event.Event{}, err
	}
	if !appended {
		return stored, nil
	}

	var status rule.ItemStatus
	switch stored.Result {
	case event.ResultPassed:
		status = rule.ItemStatusPassed
	case event.ResultViolated:
		status = rule.ItemStatusFailed
	default:
		return stored, nil
	}
	if err := r.store.SetChecklistItemStatus(ctx, stored.SessionID, found.ID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The rule is in the catalog but not on this session's checklist.
			return stored, nil
		}
		return event.Event{}, fmt.Errorf("update checklist for rule %s: %w", found.ID, err)
	}
	progress, err := r.updateProgress(ctx, stored.SessionID)
	if err != nil {
		return event.Event{}, err
	}
	if r.sink != nil {
		r.sink.ChecklistUpdated(stored.SessionID, found.ID, status, progress)
	}
	return stored, nil
}

// RecordIntervention appends an intervention.delivered event. Control and
// degraded-to-control sessions reject delivery; evaluation alone is silent
// for them. A blank command text resolves from the catalog in the session's
// language.
func (r *Recorder) RecordIntervention(ctx context.Context, sessionID, eventID string, payload event.InterventionPayload) (event.Event, error) {
	if r == nil || r.store == nil {
		return event.Event{}, fmt.Errorf("recorder is not configured")
	}

	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return event.Event{}, err
	}
	if sess.Assignment != session.AssignmentCoached {
		return event.Event{}, apperrors.WithMetadata(apperrors.CodeInterventionOnControl,
			"interventions are not delivered outside the coached group",
			map[string]string{"session_id": sess.ID, "assignment": string(sess.Assignment)})
	}

	found, err := r.registry.Get(payload.RuleID)
	if err != nil {
		return event.Event{}, err
	}
	if found.Disabled {
		return event.Event{}, apperrors.WithMetadata(apperrors.CodeRuleDisabled, "rule is disabled",
			map[string]string{"rule_id": found.ID})
	}

	if strings.TrimSpace(payload.InterventionID) == "" {
		generated, err := id.NewID()
		if err != nil {
			return event.Event{}, fmt.Errorf("generate intervention id: %w", err)
		}
		payload.InterventionID = generated
	}
	if strings.TrimSpace(payload.CommandText) == "" {
		command, err := r.registry.Command(found.ID, sess.Language)
		if err != nil {
			return event.Event{}, err
		}
		payload.CommandText = command
	}

	eventID, err = ensureEventID(eventID)
	if err != nil {
		return event.Event{}, err
	}
	evt, err := event.NewIntervention(sessionID, eventID, payload)
	if err != nil {
		return event.Event{}, err
	}
	evt.LoggedAt = r.now().UTC()

	stored, appended, err := r.store.AppendEvent(ctx, evt)
	if err != nil {
		return event.Event{}, err
	}
	if appended && r.sink != nil {
		r.sink.InterventionDelivered(stored.SessionID, payload)
	}
	return stored, nil
}

// RecordOutcome appends an outcome.observed event for a delivered
// intervention. An outcome logged without a timeline position inherits the
// intervention's.
func (r *Recorder) RecordOutcome(ctx context.Context, sessionID, eventID string, payload event.OutcomePayload) (event.Event, error) {
	if r == nil || r.store == nil {
		return event.Event{}, fmt.Errorf("recorder is not configured")
	}

	payload.InterventionID = strings.TrimSpace(payload.InterventionID)
	if payload.InterventionID == "" {
		return event.Event{}, apperrors.New(apperrors.CodeEventPayloadInvalid, "intervention id is required")
	}
	delivered, err := r.store.GetIntervention(ctx, sessionID, payload.InterventionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return event.Event{}, apperrors.WithMetadata(apperrors.CodeOutcomeWithoutIntervention,
				"outcome references an intervention that was never delivered",
				map[string]string{"intervention_id": payload.InterventionID})
		}
		return event.Event{}, err
	}
	if payload.TVideoMs == 0 {
		payload.TVideoMs = delivered.TVideoMs
	}

	eventID, err = ensureEventID(eventID)
	if err != nil {
		return event.Event{}, err
	}
	evt, err := event.NewOutcome(sessionID, eventID, payload)
	if err != nil {
		return event.Event{}, err
	}
	evt.LoggedAt = r.now().UTC()

	stored, _, err := r.store.AppendEvent(ctx, evt)
	if err != nil {
		return event.Event{}, err
	}
	return stored, nil
}

func (r *Recorder) updateProgress(ctx context.Context, sessionID string) (float64, error) {
	items, err := r.store.GetChecklist(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("load checklist: %w", err)
	}
	score := r.registry.Progress(items)
	if err := r.store.SetProgressScore(ctx, sessionID, score); err != nil {
		return 0, fmt.Errorf("store progress score: %w", err)
	}
	return score, nil
}

func ensureEventID(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID != "" {
		return eventID, nil
	}
	generated, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	return generated, nil
}
