package config

import (
	"fmt"
	"strings"
)

// RankingConfig holds the tunable scoring weight profiles.
type RankingConfig struct {
	DefaultProfile string                   `mapstructure:"default_profile"`
	Profiles       map[string]WeightsConfig `mapstructure:"profiles"`
}

// WeightsConfig is one named weighting of the ranking sub-scores.
type WeightsConfig struct {
	Drive    float64 `mapstructure:"drive"`
	Rating   float64 `mapstructure:"rating"`
	Fairness float64 `mapstructure:"fairness"`
	Price    float64 `mapstructure:"price"`
	Novelty  float64 `mapstructure:"novelty"`
}

// DefaultSafeWeights mirrors the stock "safe" planning mode.
func DefaultSafeWeights() WeightsConfig {
	return WeightsConfig{Drive: 0.35, Rating: 0.30, Fairness: 0.20, Price: 0.15, Novelty: 0}
}

// DefaultAdventurousWeights trades rating confidence for variety.
func DefaultAdventurousWeights() WeightsConfig {
	return WeightsConfig{Drive: 0.30, Rating: 0.15, Fairness: 0.20, Price: 0.15, Novelty: 0.20}
}

// Normalize fills missing profiles and standardises keys.
func (c RankingConfig) Normalize() RankingConfig {
	cfg := c
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]WeightsConfig{}
	}
	profiles := make(map[string]WeightsConfig, len(cfg.Profiles))
	for name, w := range cfg.Profiles {
		key := strings.TrimSpace(strings.ToLower(name))
		if key == "" {
			continue
		}
		profiles[key] = w
	}
	cfg.Profiles = profiles
	if _, ok := cfg.Profiles["safe"]; !ok {
		cfg.Profiles["safe"] = DefaultSafeWeights()
	}
	if _, ok := cfg.Profiles["adventurous"]; !ok {
		cfg.Profiles["adventurous"] = DefaultAdventurousWeights()
	}
	cfg.DefaultProfile = strings.TrimSpace(strings.ToLower(cfg.DefaultProfile))
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = "safe"
	}
	return cfg
}

// Validate ensures each profile is usable for scoring.
func (c RankingConfig) Validate() error {
	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		return fmt.Errorf("ranking.default_profile %q has no profile entry", c.DefaultProfile)
	}
	for name, w := range c.Profiles {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("ranking.profiles.%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks one weight set.
func (w WeightsConfig) Validate() error {
	for _, v := range []float64{w.Drive, w.Rating, w.Fairness, w.Price, w.Novelty} {
		if v < 0 {
			return fmt.Errorf("weights cannot be negative")
		}
	}
	if w.Drive+w.Rating+w.Fairness+w.Price+w.Novelty <= 0 {
		return fmt.Errorf("weights must sum to a positive value")
	}
	return nil
}
