package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
)

// Cohort pairs the experimental labels drawn once at session creation.
//
// Modeling the pair as explicit labels rather than two booleans keeps
// illegal combinations (an intervention in a control session) checkable at
// the point an event is recorded.
type Cohort struct {
	Assignment Assignment
	Holdout    HoldoutLabel
}

// Source draws cohort labels for new sessions. Implementations may be
// remote; a Draw failure triggers the manager's degraded local fallback.
type Source interface {
	Draw(ctx context.Context) (Cohort, error)
}

// RatioSource draws cohorts locally from two independent configured ratios.
type RatioSource struct {
	mu           sync.Mutex
	rng          *rand.Rand
	controlRatio float64
	holdoutRatio float64
}

// NewRatioSource builds a cohort source for the given ratios. Both ratios
// must lie in [0,1]. A nil rng seeds one from the wall clock.
func NewRatioSource(controlRatio, holdoutRatio float64, rng *rand.Rand) (*RatioSource, error) {
	if controlRatio < 0 || controlRatio > 1 {
		return nil, apperrors.New(apperrors.CodeSessionInvalidCohortRatio, "control ratio must be within [0,1]")
	}
	if holdoutRatio < 0 || holdoutRatio > 1 {
		return nil, apperrors.New(apperrors.CodeSessionInvalidCohortRatio, "holdout ratio must be within [0,1]")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RatioSource{
		rng:          rng,
		controlRatio: controlRatio,
		holdoutRatio: holdoutRatio,
	}, nil
}

// Draw samples assignment and holdout labels from independent uniforms.
func (s *RatioSource) Draw(ctx context.Context) (Cohort, error) {
	if err := ctx.Err(); err != nil {
		return Cohort{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cohort := Cohort{Assignment: AssignmentCoached, Holdout: HoldoutMeasured}
	if s.rng.Float64() < s.controlRatio {
		cohort.Assignment = AssignmentControl
	}
	if s.rng.Float64() < s.holdoutRatio {
		cohort.Holdout = HoldoutExempt
	}
	return cohort, nil
}

// FixedSource always draws the same cohort. Test and scenario helper.
type FixedSource struct {
	Cohort Cohort
	Err    error
}

// Draw returns the configured cohort or error.
func (s FixedSource) Draw(ctx context.Context) (Cohort, error) {
	if err := ctx.Err(); err != nil {
		return Cohort{}, err
	}
	if s.Err != nil {
		return Cohort{}, s.Err
	}
	return s.Cohort, nil
}
