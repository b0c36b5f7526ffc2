package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		VelocityWindow:   time.Hour,
		VelocityHigh:     5,
		VelocityCritical: 10,
		RapidSuccession:  5 * time.Minute,

		SuspiciousAmounts: []int64{470, 2000},
		AnomalyMethod:     "zscore",
		AnomalyThreshold:  3.0,

		WeightGeoMismatch:     3.0,
		WeightVelocity:        2.0,
		WeightSuspiciousAmt:   2.0,
		WeightRapidSuccession: 1.0,
		WeightStatOutlier:     1.5,
		WeightProxy:           2.5,

		ScoreCap:         10.0,
		MediumBoundary:   5.0,
		HighBoundary:     8.0,
		CriticalBoundary: 11.0,

		GeoLookupTimeout: time.Second,
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default-shaped config should validate, got %v", err)
	}
}

func TestValidateRejectsInvertedBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"medium above high", func(c *Config) { c.MediumBoundary = 9.0 }},
		{"high above critical", func(c *Config) { c.HighBoundary = 12.0 }},
		{"equal boundaries", func(c *Config) { c.HighBoundary = c.MediumBoundary }},
		{"zero medium", func(c *Config) { c.MediumBoundary = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative window", func(c *Config) { c.VelocityWindow = -time.Hour }},
		{"high at critical", func(c *Config) { c.VelocityHigh = 10 }},
		{"negative rapid succession", func(c *Config) { c.RapidSuccession = -time.Minute }},
		{"unknown anomaly method", func(c *Config) { c.AnomalyMethod = "dbscan" }},
		{"zero anomaly threshold", func(c *Config) { c.AnomalyThreshold = 0 }},
		{"negative weight", func(c *Config) { c.WeightProxy = -1 }},
		{"zero cap", func(c *Config) { c.ScoreCap = 0 }},
		{"negative suspicious amount", func(c *Config) { c.SuspiciousAmounts = []int64{-5} }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"zero geo timeout", func(c *Config) { c.GeoLookupTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadUsesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with empty env should succeed, got %v", err)
	}
	if cfg.VelocityHigh != DefaultVelocityHigh {
		t.Errorf("VelocityHigh = %d, want %d", cfg.VelocityHigh, DefaultVelocityHigh)
	}
	if cfg.ScoreCap != DefaultScoreCap {
		t.Errorf("ScoreCap = %g, want %g", cfg.ScoreCap, DefaultScoreCap)
	}
	if cfg.AnomalyMethod != "zscore" {
		t.Errorf("AnomalyMethod = %q, want zscore", cfg.AnomalyMethod)
	}
	if len(cfg.SuspiciousAmounts) == 0 {
		t.Error("expected default suspicious amounts")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VELOCITY_HIGH", "3")
	t.Setenv("VELOCITY_CRITICAL", "7")
	t.Setenv("SUSPICIOUS_AMOUNTS", "100, 250,999")
	t.Setenv("ANOMALY_METHOD", "mad")
	t.Setenv("RAPID_SUCCESSION", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.VelocityHigh != 3 || cfg.VelocityCritical != 7 {
		t.Errorf("velocity thresholds = %d/%d, want 3/7", cfg.VelocityHigh, cfg.VelocityCritical)
	}
	if len(cfg.SuspiciousAmounts) != 3 || cfg.SuspiciousAmounts[1] != 250 {
		t.Errorf("SuspiciousAmounts = %v, want [100 250 999]", cfg.SuspiciousAmounts)
	}
	if cfg.AnomalyMethod != "mad" {
		t.Errorf("AnomalyMethod = %q, want mad", cfg.AnomalyMethod)
	}
	if cfg.RapidSuccession != 90*time.Second {
		t.Errorf("RapidSuccession = %s, want 90s", cfg.RapidSuccession)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("RISK_MEDIUM_BOUNDARY", "9")
	t.Setenv("RISK_HIGH_BOUNDARY", "8")

	if _, err := Load(); err == nil {
		t.Error("expected Load() to fail with inverted boundaries")
	}
}
