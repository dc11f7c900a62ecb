// Package dispatch drives scheduled checklist evaluations over a live
// session and decides when coaching feedback is delivered. Evaluation is
// blind to the session's assignment; only delivery is gated on it.
package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/event"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/rule"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/storage"
)

// Tick is one scheduled rule evaluation.
type Tick struct {
	// Delay is how long the dispatcher waits before this tick fires,
	// relative to the previous tick.
	Delay time.Duration
	// RuleID names the catalog rule being evaluated.
	RuleID string
	// CheckpointID and APID locate the evaluation on the pattern's anchor
	// points. Optional.
	CheckpointID string
	APID         string
	// Result is the evaluation verdict.
	Result event.Result
	// Confidence is the evaluation confidence in (0,1]. Zero means the
	// source does not report confidence and the verdict is taken as certain.
	Confidence float64
	// TVideoMs positions the tick on the recording timeline. Zero derives
	// the position from the accumulated tick delays.
	TVideoMs int64
}

// ErrSourceDrained signals a source has no further ticks.
var ErrSourceDrained = errors.New("tick source drained")

// Source produces evaluation ticks for one session run. Production sources
// evaluate live capture signal; tests and the scenario tool script them.
type Source interface {
	// Next returns the next tick or ErrSourceDrained at end of stream.
	Next(ctx context.Context) (Tick, error)
}

// Recorder is the slice of the append path the dispatcher drives.
type Recorder interface {
	RecordRuleEvaluated(ctx context.Context, sessionID, eventID string, payload event.RuleEvaluatedPayload) (event.Event, error)
	RecordIntervention(ctx context.Context, sessionID, eventID string, payload event.InterventionPayload) (event.Event, error)
	RecordOutcome(ctx context.Context, sessionID, eventID string, payload event.OutcomePayload) (event.Event, error)
}

// GapRecorder persists the count of events lost after retries.
type GapRecorder interface {
	IncrementLogGaps(ctx context.Context, sessionID string) error
}

// Config tunes a dispatcher.
type Config struct {
	// RetryInitialInterval seeds the append retry backoff. Default 250ms.
	RetryInitialInterval time.Duration
	// RetryMaxTries bounds append attempts per event. Default 5.
	RetryMaxTries uint
}

func (c Config) withDefaults() Config {
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 250 * time.Millisecond
	}
	if c.RetryMaxTries == 0 {
		c.RetryMaxTries = 5
	}
	return c
}

// Dispatcher runs the tick loop for active sessions.
type Dispatcher struct {
	recorder Recorder
	gaps     GapRecorder
	registry *rule.Registry
	cfg      Config
}

// New creates a dispatcher.
func New(recorder Recorder, gaps GapRecorder, registry *rule.Registry, cfg Config) *Dispatcher {
	return &Dispatcher{
		recorder: recorder,
		gaps:     gaps,
		registry: registry,
		cfg:      cfg.withDefaults(),
	}
}

// Run drives ticks for one session until the source drains, the context is
// cancelled, or the session stops accepting events. Ticks arriving after the
// session ended are dropped, not queued. For every tick:
//
//  1. a rule.evaluated event is appended regardless of assignment;
//  2. a violated verdict at or above the rule's confidence threshold
//     delivers an intervention, coached sessions only;
//  3. a passed verdict discharges that rule's most recent undischarged
//     intervention with a compliant outcome.
func (d *Dispatcher) Run(ctx context.Context, sess session.Session, source Source) error {
	if d == nil || d.recorder == nil {
		return errors.New("dispatcher is not configured")
	}
	if source == nil {
		return errors.New("tick source is required")
	}

	var timeline int64
	pending := make(map[string]string)

	for {
		tick, err := source.Next(ctx)
		if errors.Is(err, ErrSourceDrained) {
			return nil
		}
		if err != nil {
			return err
		}
		if tick.Delay > 0 {
			timer := time.NewTimer(tick.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		timeline += tick.Delay.Milliseconds()
		tVideo := tick.TVideoMs
		if tVideo == 0 {
			tVideo = timeline
		}

		found, err := d.registry.Get(tick.RuleID)
		if err != nil {
			log.Printf("coaching: dispatcher dropping tick for rule %q session=%s err=%v", tick.RuleID, sess.ID, err)
			continue
		}
		if found.Disabled {
			log.Printf("coaching: dispatcher dropping tick for disabled rule %q session=%s", found.ID, sess.ID)
			continue
		}

		confidence := tick.Confidence
		if confidence == 0 {
			confidence = 1
		}
		intervene := tick.Result == event.ResultViolated &&
			sess.Assignment == session.AssignmentCoached &&
			confidence >= found.InterventionThreshold

		_, err = d.append(ctx, func(eventID string) (event.Event, error) {
			return d.recorder.RecordRuleEvaluated(ctx, sess.ID, eventID, event.RuleEvaluatedPayload{
				RuleID:                found.ID,
				APID:                  tick.APID,
				CheckpointID:          tick.CheckpointID,
				Result:                string(tick.Result),
				TVideoMs:              tVideo,
				InterventionTriggered: intervene,
				Confidence:            tick.Confidence,
			})
		})
		if errors.Is(err, storage.ErrSessionEnded) {
			return nil
		}
		if err != nil {
			d.noteGap(ctx, sess.ID, err)
			continue
		}

		if intervene {
			delivered, err := d.append(ctx, func(eventID string) (event.Event, error) {
				return d.recorder.RecordIntervention(ctx, sess.ID, eventID, event.InterventionPayload{
					RuleID:       found.ID,
					CheckpointID: tick.CheckpointID,
					TVideoMs:     tVideo,
				})
			})
			switch {
			case errors.Is(err, storage.ErrSessionEnded):
				return nil
			case err != nil:
				d.noteGap(ctx, sess.ID, err)
			default:
				pending[found.ID] = delivered.InterventionID
			}
		}

		if tick.Result == event.ResultPassed {
			interventionID, ok := pending[found.ID]
			if !ok {
				continue
			}
			_, err := d.append(ctx, func(eventID string) (event.Event, error) {
				return d.recorder.RecordOutcome(ctx, sess.ID, eventID, event.OutcomePayload{
					InterventionID:     interventionID,
					ComplianceDetected: true,
					TVideoMs:           tVideo,
				})
			})
			switch {
			case errors.Is(err, storage.ErrSessionEnded):
				return nil
			case err != nil:
				d.noteGap(ctx, sess.ID, err)
			default:
				delete(pending, found.ID)
			}
		}
	}
}

// append retries one record call with exponential backoff under a stable
// event ID, so an attempt that landed but failed to report acks as a replay
// instead of appending twice. Domain errors do not retry.
func (d *Dispatcher) append(ctx context.Context, record func(eventID string) (event.Event, error)) (event.Event, error) {
	eventID := uuid.NewString()
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.cfg.RetryInitialInterval

	return backoff.Retry(ctx, func() (event.Event, error) {
		evt, err := record(eventID)
		if err != nil {
			var domainErr *apperrors.Error
			if errors.As(err, &domainErr) {
				return event.Event{}, backoff.Permanent(err)
			}
			return event.Event{}, err
		}
		return evt, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(d.cfg.RetryMaxTries))
}

// noteGap records one event lost after retries. The log stays authoritative
// about what happened; the counter makes the hole visible in summaries.
func (d *Dispatcher) noteGap(ctx context.Context, sessionID string, cause error) {
	log.Printf("coaching: event lost after retries session=%s err=%v", sessionID, cause)
	if d.gaps == nil {
		return
	}
	if err := d.gaps.IncrementLogGaps(ctx, sessionID); err != nil {
		log.Printf("coaching: record log gap session=%s err=%v", sessionID, err)
	}
}
