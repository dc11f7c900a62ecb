package rule

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/outtake.studio/internal/services/coaching/domain/session"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// catalogFile mirrors the YAML document shape before normalization.
type catalogFile struct {
	Version int           `yaml:"version"`
	Rules   []catalogRule `yaml:"rules"`
}

type catalogRule struct {
	ID                    string            `yaml:"id"`
	Description           string            `yaml:"description"`
	Priority              string            `yaml:"priority"`
	InterventionThreshold *float64          `yaml:"intervention_threshold"`
	Weight                *int              `yaml:"weight"`
	Disabled              bool              `yaml:"disabled"`
	Modes                 []string          `yaml:"modes"`
	Commands              map[string]string `yaml:"commands"`
}

// Catalog is the parsed, validated rule set grouped by filming mode.
type Catalog struct {
	// Modes holds the ordered rule list per mode, catalog order preserved.
	Modes map[session.Mode][]Rule
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, fmt.Errorf("rule catalog is empty")
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Catalog{}, fmt.Errorf("decode rule catalog: %w", err)
	}
	if file.Version != 1 {
		return Catalog{}, fmt.Errorf("rule catalog version %d is not supported", file.Version)
	}
	if len(file.Rules) == 0 {
		return Catalog{}, fmt.Errorf("rule catalog defines no rules")
	}

	catalog := Catalog{Modes: make(map[session.Mode][]Rule)}
	seen := make(map[string]bool, len(file.Rules))
	for i, raw := range file.Rules {
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			return Catalog{}, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[id] {
			return Catalog{}, fmt.Errorf("rule %q: duplicate id", id)
		}
		seen[id] = true

		description := strings.TrimSpace(raw.Description)
		if description == "" {
			return Catalog{}, fmt.Errorf("rule %q: description is required", id)
		}
		priority, ok := NormalizePriority(raw.Priority)
		if !ok {
			return Catalog{}, fmt.Errorf("rule %q: priority %q is not supported", id, raw.Priority)
		}

		threshold := 0.0
		if raw.InterventionThreshold != nil {
			threshold = *raw.InterventionThreshold
			if threshold < 0 || threshold > 1 {
				return Catalog{}, fmt.Errorf("rule %q: intervention threshold must be within [0,1]", id)
			}
		}
		weight := priority.defaultWeight()
		if raw.Weight != nil {
			if *raw.Weight < 0 {
				return Catalog{}, fmt.Errorf("rule %q: weight must not be negative", id)
			}
			weight = *raw.Weight
		}

		if len(raw.Commands) == 0 {
			return Catalog{}, fmt.Errorf("rule %q: at least one command locale is required", id)
		}
		commands := make(map[string]string, len(raw.Commands))
		for locale, text := range raw.Commands {
			locale = strings.TrimSpace(locale)
			text = strings.TrimSpace(text)
			if locale == "" || text == "" {
				return Catalog{}, fmt.Errorf("rule %q: command locales and text must not be blank", id)
			}
			commands[locale] = text
		}

		if len(raw.Modes) == 0 {
			return Catalog{}, fmt.Errorf("rule %q: at least one mode is required", id)
		}
		parsed := Rule{
			ID:                    id,
			Description:           description,
			Priority:              priority,
			InterventionThreshold: threshold,
			Weight:                weight,
			Disabled:              raw.Disabled,
			Commands:              commands,
		}
		for _, rawMode := range raw.Modes {
			mode, ok := session.NormalizeMode(rawMode)
			if !ok {
				return Catalog{}, fmt.Errorf("rule %q: mode %q is not supported", id, rawMode)
			}
			catalog.Modes[mode] = append(catalog.Modes[mode], parsed)
		}
	}
	return catalog, nil
}

// EmbeddedCatalog parses the catalog compiled into the binary.
func EmbeddedCatalog() (Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}
