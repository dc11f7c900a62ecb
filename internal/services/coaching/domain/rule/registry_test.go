package rule

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

const testCatalog = `
version: 1
rules:
  - id: hook_first_3s
    description: Open with the hook inside the first three seconds
    priority: critical
    intervention_threshold: 0.4
    modes: [homage, variation]
    commands:
      en: "Say the hook now."
      pt-BR: "Fale o gancho agora."
  - id: steady_framing
    description: Hold the framing steady
    priority: medium
    modes: [homage]
    commands:
      en: "Hold the shot steady."
  - id: b_roll_reminder
    description: Capture planned cutaways
    priority: low
    disabled: true
    modes: [homage]
    commands:
      en: "Remember your cutaway list."
`

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	catalog, err := ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	registry, err := NewRegistry(catalog)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestRulesExcludesDisabledAndKeepsOrder(t *testing.T) {
	registry := mustRegistry(t)

	rules, err := registry.Rules(session.ModeHomage)
	if err != nil {
		t.Fatalf("rules for homage: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", len(rules))
	}
	if rules[0].ID != "hook_first_3s" || rules[1].ID != "steady_framing" {
		t.Fatalf("unexpected order: %s, %s", rules[0].ID, rules[1].ID)
	}
}

func TestRulesUnknownMode(t *testing.T) {
	registry := mustRegistry(t)
	if _, err := registry.Rules(session.ModeCampaign); err == nil {
		t.Fatal("expected error for mode without checklist")
	}
}

func TestGetIncludesDisabledRules(t *testing.T) {
	registry := mustRegistry(t)

	found, err := registry.Get("b_roll_reminder")
	if err != nil {
		t.Fatalf("get disabled rule: %v", err)
	}
	if !found.Disabled {
		t.Fatal("expected disabled flag to survive")
	}
	if registry.Enabled("b_roll_reminder") {
		t.Fatal("disabled rule must not report enabled")
	}
	if !registry.Enabled("hook_first_3s") {
		t.Fatal("expected enabled rule")
	}
}

func TestGetUnknownRule(t *testing.T) {
	registry := mustRegistry(t)
	_, err := registry.Get("no_such_rule")
	if err == nil {
		t.Fatal("expected unknown rule error")
	}
	if !errors.Is(err, apperrors.New(apperrors.CodeRuleUnknown, "")) {
		t.Fatalf("expected rule unknown code, got %v", err)
	}
}

func TestCommandMatchesLanguage(t *testing.T) {
	registry := mustRegistry(t)

	tests := []struct {
		name string
		lang string
		want string
	}{
		{name: "exact match", lang: "pt-BR", want: "Fale o gancho agora."},
		{name: "base language match", lang: "pt", want: "Fale o gancho agora."},
		{name: "fallback to english", lang: "ja", want: "Say the hook now."},
		{name: "invalid tag falls back", lang: "???", want: "Say the hook now."},
		{name: "empty falls back", lang: "", want: "Say the hook now."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := registry.Command("hook_first_3s", tc.lang)
			if err != nil {
				t.Fatalf("command: %v", err)
			}
			if got != tc.want {
				t.Fatalf("command = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseCatalogRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "empty", doc: "   ", wantErr: "catalog is empty"},
		{name: "bad version", doc: "version: 2\nrules: [{id: a}]", wantErr: "version 2"},
		{name: "no rules", doc: "version: 1\nrules: []", wantErr: "no rules"},
		{
			name: "duplicate id",
			doc: `
version: 1
rules:
  - {id: a, description: d, priority: low, modes: [homage], commands: {en: x}}
  - {id: a, description: d, priority: low, modes: [homage], commands: {en: x}}
`,
			wantErr: "duplicate id",
		},
		{
			name:    "bad priority",
			doc:     "version: 1\nrules: [{id: a, description: d, priority: urgent, modes: [homage], commands: {en: x}}]",
			wantErr: "priority",
		},
		{
			name:    "bad threshold",
			doc:     "version: 1\nrules: [{id: a, description: d, priority: low, intervention_threshold: 1.2, modes: [homage], commands: {en: x}}]",
			wantErr: "threshold",
		},
		{
			name:    "bad mode",
			doc:     "version: 1\nrules: [{id: a, description: d, priority: low, modes: [freestyle], commands: {en: x}}]",
			wantErr: "mode",
		},
		{
			name:    "no commands",
			doc:     "version: 1\nrules: [{id: a, description: d, priority: low, modes: [homage]}]",
			wantErr: "command locale",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestEmbeddedCatalogParses(t *testing.T) {
	catalog, err := EmbeddedCatalog()
	if err != nil {
		t.Fatalf("embedded catalog: %v", err)
	}
	registry, err := NewRegistry(catalog)
	if err != nil {
		t.Fatalf("registry from embedded catalog: %v", err)
	}
	for _, mode := range []session.Mode{session.ModeHomage, session.ModeVariation, session.ModeCampaign} {
		rules, err := registry.Rules(mode)
		if err != nil {
			t.Fatalf("rules for %q: %v", mode, err)
		}
		if len(rules) == 0 {
			t.Fatalf("mode %q has an empty checklist", mode)
		}
	}
}

func TestWeightDefaultsFollowPriority(t *testing.T) {
	registry := mustRegistry(t)
	hook, err := registry.Get("hook_first_3s")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if hook.Weight != 20 {
		t.Fatalf("critical default weight = %d, want 20", hook.Weight)
	}
	framing, err := registry.Get("steady_framing")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if framing.Weight != 10 {
		t.Fatalf("medium default weight = %d, want 10", framing.Weight)
	}
}

func TestChecklistSeedsPending(t *testing.T) {
	registry := mustRegistry(t)
	rules, err := registry.Rules(session.ModeHomage)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	items := Checklist(rules)
	if len(items) != len(rules) {
		t.Fatalf("checklist length = %d, want %d", len(items), len(rules))
	}
	for _, item := range items {
		if item.Status != ItemStatusPending {
			t.Fatalf("item %q status = %q, want pending", item.RuleID, item.Status)
		}
	}
}

func TestProgressWeighsPassedItems(t *testing.T) {
	registry := mustRegistry(t)

	tests := []struct {
		name  string
		items []ChecklistItem
		want  float64
	}{
		{
			name: "all pending",
			items: []ChecklistItem{
				{RuleID: "hook_first_3s", Status: ItemStatusPending},
				{RuleID: "steady_framing", Status: ItemStatusPending},
			},
			want: 0,
		},
		{
			name: "critical passed",
			items: []ChecklistItem{
				{RuleID: "hook_first_3s", Status: ItemStatusPassed},
				{RuleID: "steady_framing", Status: ItemStatusFailed},
			},
			want: float64(20) / float64(30),
		},
		{
			name: "all passed",
			items: []ChecklistItem{
				{RuleID: "hook_first_3s", Status: ItemStatusPassed},
				{RuleID: "steady_framing", Status: ItemStatusPassed},
			},
			want: 1,
		},
		{
			name: "unknown rule ignored",
			items: []ChecklistItem{
				{RuleID: "hook_first_3s", Status: ItemStatusPassed},
				{RuleID: "retired_rule", Status: ItemStatusPassed},
			},
			want: 1,
		},
		{
			name:  "empty checklist",
			items: nil,
			want:  0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := registry.Progress(tc.items); got != tc.want {
				t.Fatalf("Progress = %v, want %v", got, tc.want)
			}
		})
	}
}
