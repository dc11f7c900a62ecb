// Package rule defines the checklist rule catalog and per-mode registry.
package rule

import (
	"strings"
)

// Priority orders how urgently a violated rule should be corrected.
type Priority string

const (
	PriorityUnspecified Priority = ""
	PriorityCritical    Priority = "critical"
	PriorityHigh        Priority = "high"
	PriorityMedium      Priority = "medium"
	PriorityLow         Priority = "low"
)

// NormalizePriority parses a priority label into a canonical value.
func NormalizePriority(value string) (Priority, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch Priority(trimmed) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(trimmed), true
	default:
		return PriorityUnspecified, false
	}
}

// defaultWeight maps priorities to progress points for rules that do not set
// an explicit weight.
func (p Priority) defaultWeight() int {
	switch p {
	case PriorityCritical:
		return 20
	case PriorityHigh:
		return 15
	case PriorityMedium:
		return 10
	case PriorityLow:
		return 5
	default:
		return 0
	}
}

// Rule is one static checklist entry from the catalog.
type Rule struct {
	// ID is the canonical rule identifier.
	ID string
	// Description explains what the rule checks.
	Description string
	// Priority orders correction urgency.
	Priority Priority
	// InterventionThreshold is the minimum evaluation confidence, in [0,1],
	// a violated tick must reach before feedback is delivered. Zero means
	// every violation triggers.
	InterventionThreshold float64
	// Weight is the progress contribution when the rule passes.
	Weight int
	// Disabled rules stay in the catalog but are never seeded or evaluated.
	Disabled bool
	// Commands maps BCP-47 locale tags to the coaching command text.
	Commands map[string]string
}

// ItemStatus is the per-session checklist state of one rule.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusPassed  ItemStatus = "passed"
	ItemStatusFailed  ItemStatus = "failed"
)

// NormalizeItemStatus parses a checklist status label into a canonical value.
func NormalizeItemStatus(value string) (ItemStatus, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch ItemStatus(trimmed) {
	case ItemStatusPending, ItemStatusPassed, ItemStatusFailed:
		return ItemStatus(trimmed), true
	default:
		return "", false
	}
}

// ChecklistItem pairs a rule with its per-session status.
type ChecklistItem struct {
	RuleID string
	Status ItemStatus
}

// Checklist seeds pending items for the given rules, preserving order.
func Checklist(rules []Rule) []ChecklistItem {
	items := make([]ChecklistItem, 0, len(rules))
	for _, r := range rules {
		items = append(items, ChecklistItem{RuleID: r.ID, Status: ItemStatusPending})
	}
	return items
}
