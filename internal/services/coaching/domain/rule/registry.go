package rule

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

// FallbackLocale is used when a requested language matches no catalog locale.
const FallbackLocale = "en"

// Registry resolves checklist rules per filming mode and coaching commands
// per language. It is immutable after construction and safe for concurrent
// use.
type Registry struct {
	modes    map[session.Mode][]Rule
	byID     map[string]Rule
	matchers map[string]localeMatcher
}

type localeMatcher struct {
	matcher language.Matcher
	locales []string
}

// NewRegistry builds a registry from a parsed catalog. Disabled rules are
// kept addressable by id but excluded from mode seeding.
func NewRegistry(catalog Catalog) (*Registry, error) {
	if len(catalog.Modes) == 0 {
		return nil, fmt.Errorf("rule catalog has no modes")
	}
	registry := &Registry{
		modes:    make(map[session.Mode][]Rule, len(catalog.Modes)),
		byID:     make(map[string]Rule),
		matchers: make(map[string]localeMatcher),
	}
	for mode, rules := range catalog.Modes {
		enabled := make([]Rule, 0, len(rules))
		for _, r := range rules {
			if _, ok := registry.byID[r.ID]; !ok {
				registry.byID[r.ID] = r
				matcher, err := newLocaleMatcher(r)
				if err != nil {
					return nil, err
				}
				registry.matchers[r.ID] = matcher
			}
			if !r.Disabled {
				enabled = append(enabled, r)
			}
		}
		registry.modes[mode] = enabled
	}
	return registry, nil
}

// DefaultRegistry builds a registry from the embedded catalog.
func DefaultRegistry() (*Registry, error) {
	catalog, err := EmbeddedCatalog()
	if err != nil {
		return nil, err
	}
	return NewRegistry(catalog)
}

func newLocaleMatcher(r Rule) (localeMatcher, error) {
	locales := make([]string, 0, len(r.Commands))
	// The fallback locale heads the tag list; the matcher falls back to the
	// first tag when nothing else fits.
	if _, ok := r.Commands[FallbackLocale]; ok {
		locales = append(locales, FallbackLocale)
	}
	for locale := range r.Commands {
		if locale == FallbackLocale {
			continue
		}
		locales = append(locales, locale)
	}
	tags := make([]language.Tag, 0, len(locales))
	for _, locale := range locales {
		tag, err := language.Parse(locale)
		if err != nil {
			return localeMatcher{}, fmt.Errorf("rule %q: parse command locale %q: %w", r.ID, locale, err)
		}
		tags = append(tags, tag)
	}
	return localeMatcher{matcher: language.NewMatcher(tags), locales: locales}, nil
}

// Rules returns the enabled checklist for a mode, in catalog order.
func (r *Registry) Rules(mode session.Mode) ([]Rule, error) {
	if r == nil {
		return nil, fmt.Errorf("rule registry is not configured")
	}
	rules, ok := r.modes[mode]
	if !ok {
		return nil, fmt.Errorf("mode %q has no checklist", mode)
	}
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out, nil
}

// Get returns a rule by id, including disabled rules.
func (r *Registry) Get(ruleID string) (Rule, error) {
	if r == nil {
		return Rule{}, fmt.Errorf("rule registry is not configured")
	}
	ruleID = strings.TrimSpace(ruleID)
	found, ok := r.byID[ruleID]
	if !ok {
		return Rule{}, apperrors.WithMetadata(apperrors.CodeRuleUnknown, "rule is not in the catalog",
			map[string]string{"rule_id": ruleID})
	}
	return found, nil
}

// Enabled reports whether a rule exists and may be evaluated.
func (r *Registry) Enabled(ruleID string) bool {
	found, err := r.Get(ruleID)
	if err != nil {
		return false
	}
	return !found.Disabled
}

// Progress reports the weighted share of passed checklist items in [0,1].
// Items whose rule left the catalog contribute nothing.
func (r *Registry) Progress(items []ChecklistItem) float64 {
	var total, passed int
	for _, item := range items {
		found, err := r.Get(item.RuleID)
		if err != nil {
			continue
		}
		total += found.Weight
		if item.Status == ItemStatusPassed {
			passed += found.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total)
}

// Command resolves the coaching command text for a rule in the language
// closest to the requested BCP-47 tag, falling back to English.
func (r *Registry) Command(ruleID, lang string) (string, error) {
	found, err := r.Get(ruleID)
	if err != nil {
		return "", err
	}
	lm, ok := r.matchers[found.ID]
	if !ok || len(lm.locales) == 0 {
		return "", fmt.Errorf("rule %q has no commands", found.ID)
	}

	requested, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		requested = language.Make(FallbackLocale)
	}
	_, index, _ := lm.matcher.Match(requested)
	if index < 0 || index >= len(lm.locales) {
		index = 0
	}
	return found.Commands[lm.locales[index]], nil
}
