package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StrategyProfile is a per-source configuration profile. Profile
// values override the environment defaults for that source key only.
//
//nolint:govet // fieldalignment: struct layout matches the YAML schema
type StrategyProfile struct {
	Name      string `yaml:"name" json:"name"`
	SourceKey string `yaml:"source_key" json:"source_key"`

	ConfidenceThreshold *float64 `yaml:"confidence_threshold,omitempty" json:"confidence_threshold,omitempty"`
	MaxItemsPerRun      *int     `yaml:"max_items_per_run,omitempty" json:"max_items_per_run,omitempty"`
	DryRun              *bool    `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`

	// Engine selects the decision engine: "llm" (default) or "rules".
	Engine string         `yaml:"engine,omitempty" json:"engine,omitempty"`
	Rules  []StrategyRule `yaml:"rules,omitempty" json:"rules,omitempty"`

	AllowOrigins []string `yaml:"allow_origins,omitempty" json:"allow_origins,omitempty"`
	DenyOrigins  []string `yaml:"deny_origins,omitempty" json:"deny_origins,omitempty"`
	FilterExpr   string   `yaml:"filter_expr,omitempty" json:"filter_expr,omitempty"`
}

// StrategyRule is one keyword rule for the rules engine. First match
// wins, in file order.
type StrategyRule struct {
	Keyword    string  `yaml:"keyword" json:"keyword"`
	Verdict    string  `yaml:"verdict" json:"verdict"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Rationale  string  `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// LoadStrategy loads a strategy profile YAML by source key. It
// searches the strategy directory for strategy_<key>.yaml.
func LoadStrategy(strategyDir, sourceKey string) (*StrategyProfile, error) {
	path := filepath.Join(strategyDir, fmt.Sprintf("strategy_%s.yaml", strings.ToLower(sourceKey)))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load strategy %q: %w", sourceKey, err)
	}

	profile, err := parseStrategy(data)
	if err != nil {
		return nil, fmt.Errorf("parse strategy %q: %w", sourceKey, err)
	}
	if profile.SourceKey == "" {
		profile.SourceKey = sourceKey
	}
	return profile, nil
}

// LoadAllStrategies loads every strategy_*.yaml from the strategy
// directory, keyed by source key.
func LoadAllStrategies(strategyDir string) (map[string]*StrategyProfile, error) {
	matches, err := filepath.Glob(filepath.Join(strategyDir, "strategy_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*StrategyProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		profile, err := parseStrategy(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.SourceKey == "" {
			// Extract the key from the filename:
			// strategy_spacea.yaml -> spacea
			base := filepath.Base(path)
			profile.SourceKey = strings.TrimSuffix(strings.TrimPrefix(base, "strategy_"), ".yaml")
		}

		profiles[profile.SourceKey] = profile
	}
	return profiles, nil
}

func parseStrategy(data []byte) (*StrategyProfile, error) {
	var profile StrategyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	if profile.ConfidenceThreshold != nil {
		if t := *profile.ConfidenceThreshold; t < 0 || t > 1 {
			return nil, fmt.Errorf("confidence_threshold %v out of range [0,1]", t)
		}
	}
	switch profile.Engine {
	case "", "llm", "rules":
	default:
		return nil, fmt.Errorf("unknown engine %q", profile.Engine)
	}
	if profile.Engine == "rules" && len(profile.Rules) == 0 {
		return nil, fmt.Errorf("rules engine selected but no rules given")
	}
	return &profile, nil
}
