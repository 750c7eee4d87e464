// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
	"github.com/AleutianAI/AleutianSound/services/inference/backend"
	"github.com/AleutianAI/AleutianSound/services/inference/observability"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// Config holds inference gateway service configuration.
//
// # Description
//
// Config centralizes all configuration for the gateway service. Values
// come from a YAML file (LoadConfig), environment variables applied in
// cmd/inference, or are set programmatically by tests. Zero values use
// defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12220.
	Port int

	// GinMode sets the Gin framework mode: "debug", "release", "test".
	// Default: uses GIN_MODE env var or "debug".
	GinMode string

	// AdminToken guards mutating admin routes (trip/reset/clear/cache
	// writes). Empty disables the guard.
	AdminToken string

	// BackendURL is the model server base URL, e.g.
	// "http://localhost:8500". Empty means an in-process static backend
	// with no models registered; every predict then fails closed.
	BackendURL string

	// BackendTimeout bounds model server requests at the HTTP client.
	// The resilience timeout race sits above this. Default: 30s.
	BackendTimeout time.Duration

	// OTelEndpoint is the OpenTelemetry collector endpoint used when
	// TraceExporter is "otlp". Default: "aleutian-otel-collector:4317".
	OTelEndpoint string

	// TraceExporter selects span export: "otlp", "stdout", or "none".
	// Default: "none".
	TraceExporter string

	// EnableMetrics registers gateway metrics on the global Prometheus
	// registry and serves /metrics. LoadConfig defaults it to true;
	// programmatic construction opts in explicitly.
	EnableMetrics bool

	// Resilience configures thresholds, critical failure types, and
	// initial fallback tables.
	Resilience resilience.Config

	// FallbacksPath points at a YAML file of fallback tables. Loaded at
	// startup; when WatchFallbacks is set it is also hot-reloaded.
	FallbacksPath string

	// WatchFallbacks hot-reloads the fallback tables on file change.
	WatchFallbacks bool

	// Models declares the fleet: every model listed here appears in
	// fleet health and gets server-side output validation.
	Models map[string]ModelConfig

	// EventBuffer is the per-subscriber event stream depth. Default: 64.
	EventBuffer int

	// LogLevel is the minimum log level name. Default: "info".
	LogLevel string

	// LogJSON switches logs to JSON objects.
	LogJSON bool

	// LogDir enables file logging when set.
	LogDir string

	// Logger overrides the constructed logger. Tests use this to
	// capture output; nil builds one from the Log* fields.
	Logger *logging.Logger

	// Backend overrides the backend built from BackendURL. Tests
	// register scripted models on a backend.StaticBackend here.
	Backend backend.Backend

	// Metrics overrides the metrics instance. Tests pass one built
	// against a private registry so packages never collide on the
	// global one. nil with EnableMetrics set uses the global registry.
	Metrics *observability.GatewayMetrics
}

// ModelConfig declares one model the gateway fronts.
type ModelConfig struct {
	// MinScore and MaxScore bound numeric outputs. A float output
	// outside [MinScore, MaxScore] routes through the failure path as
	// out of range. Both zero disables the check.
	MinScore float64 `yaml:"min_score" json:"min_score"`
	MaxScore float64 `yaml:"max_score" json:"max_score"`

	// TimeoutMs overrides the wrapped-call timeout for this model.
	TimeoutMs int `yaml:"timeout_ms" json:"timeout_ms"`

	// CacheResults stores each successful output as the model's last
	// known good result.
	CacheResults bool `yaml:"cache_results" json:"cache_results"`
}

// rangeCheck builds the output validator for a model, or nil when the
// model declares no score bounds.
func (m ModelConfig) rangeCheck() func(any) error {
	if m.MinScore == 0 && m.MaxScore == 0 {
		return nil
	}
	lo, hi := m.MinScore, m.MaxScore
	return func(value any) error {
		score, ok := numericValue(value)
		if !ok {
			// Bounds only apply to numeric scores.
			return nil
		}
		if score < lo || score > hi {
			return fmt.Errorf("score %g out of range [%g, %g]", score, lo, hi)
		}
		return nil
	}
}

// numericValue extracts a float from the common numeric output shapes.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12220
	}
	if cfg.BackendTimeout == 0 {
		cfg.BackendTimeout = backend.DefaultPredictTimeout
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = "none"
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 64
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}

// =============================================================================
// YAML File Format
// =============================================================================

// fileConfig is the on-disk shape of the service configuration.
// Durations are plain millisecond integers so the file stays friendly
// to hand editing and config management tooling.
type fileConfig struct {
	Port             int                    `yaml:"port"`
	GinMode          string                 `yaml:"gin_mode"`
	AdminToken       string                 `yaml:"admin_token"`
	BackendURL       string                 `yaml:"backend_url"`
	BackendTimeoutMs int                    `yaml:"backend_timeout_ms"`
	OTelEndpoint     string                 `yaml:"otel_endpoint"`
	TraceExporter    string                 `yaml:"trace_exporter"`
	DisableMetrics   bool                   `yaml:"disable_metrics"`
	Resilience       fileResilience         `yaml:"resilience"`
	FallbacksPath    string                 `yaml:"fallbacks_path"`
	WatchFallbacks   bool                   `yaml:"watch_fallbacks"`
	Models           map[string]ModelConfig `yaml:"models"`
	EventBuffer      int                    `yaml:"event_buffer"`
	LogLevel         string                 `yaml:"log_level"`
	LogJSON          bool                   `yaml:"log_json"`
	LogDir           string                 `yaml:"log_dir"`
}

// fileResilience is the on-disk shape of the resilience configuration.
type fileResilience struct {
	LogAfter          int      `yaml:"log_after"`
	AlertAfter        int      `yaml:"alert_after"`
	CircuitBreakAfter int      `yaml:"circuit_break_after"`
	BreakDurationMs   int      `yaml:"break_duration_ms"`
	WindowMs          int      `yaml:"window_ms"`
	CriticalTypes     []string `yaml:"critical_types"`
}

// toConfig converts the wire shape into the runtime Config.
func (f fileConfig) toConfig() Config {
	var critical []resilience.FailureType
	if f.Resilience.CriticalTypes != nil {
		critical = make([]resilience.FailureType, 0, len(f.Resilience.CriticalTypes))
		for _, name := range f.Resilience.CriticalTypes {
			critical = append(critical, resilience.FailureType(name))
		}
	}

	return Config{
		Port:           f.Port,
		GinMode:        f.GinMode,
		AdminToken:     f.AdminToken,
		BackendURL:     f.BackendURL,
		BackendTimeout: time.Duration(f.BackendTimeoutMs) * time.Millisecond,
		OTelEndpoint:   f.OTelEndpoint,
		TraceExporter:  f.TraceExporter,
		EnableMetrics:  !f.DisableMetrics,
		Resilience: resilience.Config{
			Thresholds: resilience.Thresholds{
				LogAfter:          f.Resilience.LogAfter,
				AlertAfter:        f.Resilience.AlertAfter,
				CircuitBreakAfter: f.Resilience.CircuitBreakAfter,
				BreakDuration:     time.Duration(f.Resilience.BreakDurationMs) * time.Millisecond,
				Window:            time.Duration(f.Resilience.WindowMs) * time.Millisecond,
			},
			CriticalTypes: critical,
		},
		FallbacksPath:  f.FallbacksPath,
		WatchFallbacks: f.WatchFallbacks,
		Models:         f.Models,
		EventBuffer:    f.EventBuffer,
		LogLevel:       f.LogLevel,
		LogJSON:        f.LogJSON,
		LogDir:         f.LogDir,
	}
}

// LoadConfig reads a YAML service configuration file.
//
// # Inputs
//
//   - path: Path to the YAML file.
//
// # Outputs
//
//   - Config: Parsed configuration. Absent fields keep their zero
//     values and pick up defaults in New(); metrics default on.
//   - error: Non-nil when the file is unreadable or malformed.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return file.toConfig(), nil
}
