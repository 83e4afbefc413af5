package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MatchRules is the YAML file that replaces the single CAPTURE_URL_FILTER
// needle with include/exclude lists.
//
//	include: ["/api/", "/graphql"]
//	exclude: ["/api/telemetry"]
//	methods: [POST]
type MatchRules struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude,omitempty"`
	Methods []string `yaml:"methods,omitempty"`
}

// LoadMatchRules reads and validates a match rules file.
func LoadMatchRules(path string) (*MatchRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	var rules MatchRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	return &rules, nil
}

// Validate checks that every method is GET or POST and no needle is blank.
func (r *MatchRules) Validate() error {
	for _, m := range r.Methods {
		switch m {
		case "GET", "POST", "get", "post":
		default:
			return fmt.Errorf("unsupported method %q", m)
		}
	}
	for _, n := range append(append([]string{}, r.Include...), r.Exclude...) {
		if n == "" {
			return fmt.Errorf("empty url needle")
		}
	}
	return nil
}
