package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selection fallback policies
const (
	FallbackFail        = "fail"
	FallbackScoredOrder = "scored_order"
)

// Policy holds the tunable behaviour of the planning core (riskplan.yaml)
type Policy struct {
	Version string `yaml:"version"`

	// Phrases that opt a request out of version saving (case-insensitive substring match)
	NoSavePhrases []string `yaml:"no_save_phrases,omitempty"`

	// Risk multipliers per priority class
	PriorityWeights map[string]float64 `yaml:"priority_weights,omitempty"`

	ChangeDetection ChangeDetectionPolicy `yaml:"change_detection"`
	Selection       SelectionPolicy       `yaml:"selection"`
}

// ChangeDetectionPolicy configures the major/minor classifier
type ChangeDetectionPolicy struct {
	// Decision used when the reasoning service fails
	DefaultOnFailure bool `yaml:"default_on_failure"`
}

// SelectionPolicy configures the selector
type SelectionPolicy struct {
	// fail | scored_order
	Fallback string `yaml:"fallback,omitempty"`

	// Requested count used when a request omits one
	DefaultCount int `yaml:"default_count,omitempty"`

	// Functional type used when a request omits one
	DefaultTestcaseType string `yaml:"default_testcase_type,omitempty"`

	// Module names shown in a generated plan name before "and N more"
	MaxModulesInName int `yaml:"max_modules_in_name,omitempty"`
}

// DefaultNoSavePhrases is the built-in opt-out phrase list
var DefaultNoSavePhrases = []string{
	"don't save", "do not save", "dont save",
	"no save", "don't store", "do not store",
	"dont store", "no store", "don't record",
	"do not record", "dont record", "no record",
}

// DefaultPolicy returns sensible defaults
func DefaultPolicy() *Policy {
	return &Policy{
		Version:       "1.0",
		NoSavePhrases: append([]string(nil), DefaultNoSavePhrases...),
		PriorityWeights: map[string]float64{
			"class_1": 3,
			"class_2": 2,
			"class_3": 1,
		},
		ChangeDetection: ChangeDetectionPolicy{
			DefaultOnFailure: true,
		},
		Selection: SelectionPolicy{
			Fallback:            FallbackFail,
			DefaultCount:        10,
			DefaultTestcaseType: "functional",
			MaxModulesInName:    5,
		},
	}
}

// LoadPolicy loads a policy file; a missing file yields the defaults
func LoadPolicy(path string) (*Policy, error) {
	cfg := DefaultPolicy()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks policy values
func (p *Policy) Validate() error {
	switch p.Selection.Fallback {
	case FallbackFail, FallbackScoredOrder:
	default:
		return fmt.Errorf("unknown selection fallback %q", p.Selection.Fallback)
	}
	for class, w := range p.PriorityWeights {
		if w < 0 {
			return fmt.Errorf("priority weight for %s must be non-negative, got %v", class, w)
		}
	}
	if p.Selection.DefaultCount < 0 {
		return fmt.Errorf("default_count must be non-negative")
	}
	if len(p.NoSavePhrases) == 0 {
		p.NoSavePhrases = append([]string(nil), DefaultNoSavePhrases...)
	}
	return nil
}

// SavePolicy writes the policy to path
func SavePolicy(path string, p *Policy) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
