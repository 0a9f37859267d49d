// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package config loads the application configuration with layered sources:
// built-in defaults, an optional YAML file, then environment variables.
// Precedence is ENV > file > defaults.
//
// Environment variables use the GEOSENTRY_ prefix with the section as the
// first underscore-delimited token:
//
//	GEOSENTRY_RISK_HIGH_SPEED_KMH=80   -> risk.high_speed_kmh
//	GEOSENTRY_SERVER_ADDR=:9090        -> server.addr
package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/geosentry/geosentry/internal/alert"
	"github.com/geosentry/geosentry/internal/api"
	"github.com/geosentry/geosentry/internal/history"
	"github.com/geosentry/geosentry/internal/logging"
	"github.com/geosentry/geosentry/internal/monitor"
	"github.com/geosentry/geosentry/internal/outbound"
	"github.com/geosentry/geosentry/internal/profile"
	"github.com/geosentry/geosentry/internal/risk"
	"github.com/geosentry/geosentry/internal/supervisor"
	"github.com/geosentry/geosentry/internal/tracking"
)

// ConfigPathEnvVar overrides the config file search paths.
const ConfigPathEnvVar = "GEOSENTRY_CONFIG"

// DefaultConfigPaths are searched in order for a config file.
var DefaultConfigPaths = []string{
	"config.yaml",
	"/etc/geosentry/config.yaml",
}

// HistoryConfig holds the location history buffer settings.
type HistoryConfig struct {
	// Capacity is the per-device fix ring size.
	Capacity int `koanf:"capacity"`
}

// Config is the full application configuration.
type Config struct {
	Logging    logging.Config        `koanf:"logging"`
	Server     api.Config            `koanf:"server"`
	History    HistoryConfig         `koanf:"history"`
	Profile    profile.Config        `koanf:"profile"`
	Risk       risk.Config           `koanf:"risk"`
	Alert      alert.Config          `koanf:"alert"`
	Outbound   outbound.Config       `koanf:"outbound"`
	Tracking   tracking.Config       `koanf:"tracking"`
	Monitor    monitor.Config        `koanf:"monitor"`
	Supervisor supervisor.TreeConfig `koanf:"supervisor"`
}

// defaultConfig assembles the per-package production defaults.
func defaultConfig() Config {
	return Config{
		Logging:    logging.DefaultConfig(),
		Server:     api.DefaultConfig(),
		History:    HistoryConfig{Capacity: history.DefaultCapacity},
		Profile:    profile.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Alert:      alert.DefaultConfig(),
		Outbound:   outbound.DefaultConfig(),
		Tracking:   tracking.DefaultConfig(),
		Monitor:    monitor.DefaultConfig(),
		Supervisor: supervisor.DefaultTreeConfig(),
	}
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, validates it and returns the result.
func Load() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFile loads configuration with an explicit file path; the file must
// exist. Used by the -config flag.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("GEOSENTRY_", ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransform maps GEOSENTRY_SECTION_SOME_KEY to section.some_key. Every
// section is a single token, so only the first underscore becomes a dot.
func envTransform(s string) string {
	s = strings.TrimPrefix(s, "GEOSENTRY_")
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// findConfigFile returns the first config file that exists, or empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate rejects configurations that would produce nonsensical scoring or
// dispatch behavior. Zero values are allowed everywhere; packages fall back
// to their own defaults.
func (c *Config) Validate() error {
	if c.History.Capacity < 0 {
		return fmt.Errorf("history.capacity must not be negative")
	}

	r := c.Risk
	weightSum := r.SpeedWeight + r.LocationWeight + r.TimeWeight + r.PatternWeight
	if weightSum != 0 && math.Abs(weightSum-1.0) > 0.001 {
		return fmt.Errorf("risk weights must sum to 1.0, got %v", weightSum)
	}
	if r.VeryHighThreshold != 0 && r.HighThreshold != 0 && r.VeryHighThreshold <= r.HighThreshold {
		return fmt.Errorf("risk.very_high_threshold must exceed risk.high_threshold")
	}
	if r.HighThreshold != 0 && r.MediumThreshold != 0 && r.HighThreshold <= r.MediumThreshold {
		return fmt.Errorf("risk.high_threshold must exceed risk.medium_threshold")
	}

	if c.Alert.SuppressionWindow < 0 {
		return fmt.Errorf("alert.suppression_window must not be negative")
	}
	if c.Tracking.Stripes < 0 {
		return fmt.Errorf("tracking.stripes must not be negative")
	}
	return nil
}
