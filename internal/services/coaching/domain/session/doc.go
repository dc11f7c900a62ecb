// Package session models the coaching session aggregate.
//
// Sessions track one guided filming run: create/end lifecycle, the
// experimental cohort labels drawn once at creation, and the capture
// degradation flag used to keep ratio measurements honest.
//
// For onboarding, this package is the source of truth for what is considered
// "currently recording" versus "concluded," and for which cohort a session
// belongs to.
//
// The package holds:
//   - lifecycle labels and their status transition rules,
//   - the cohort sum types (coached/control, measured/holdout),
//   - and the ratio-based cohort source used at session creation.
package session
