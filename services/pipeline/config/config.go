// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the pipeline service configuration.
//
// Configuration layers, lowest precedence first:
//
//  1. Compiled defaults (DefaultConfig)
//  2. YAML file (Load path argument)
//  3. INKWELL_* environment variables
//
// Secrets (API keys, CMS tokens) are never read from the YAML file; they
// come only from the environment so config files stay safe to commit.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Config Structure
// =============================================================================

// Config is the full pipeline service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Resilience ResilienceConfig `yaml:"resilience" json:"resilience"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Providers  ProvidersConfig  `yaml:"providers" json:"providers"`
	CMS        CMSConfig        `yaml:"cms" json:"cms"`
	Images     ImagesConfig     `yaml:"images" json:"images"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	// Port the gin server listens on.
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// OTLPEndpoint is the OpenTelemetry collector address (host:port).
	// Empty disables trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// StorageConfig configures the Badger store.
type StorageConfig struct {
	// Path is the Badger data directory. Required unless InMemory is set.
	Path string `yaml:"path" json:"path"`

	// InMemory runs Badger without persistence. Development only.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// CacheTTL bounds the age of cached stage responses.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl" validate:"min=0"`
}

// EngineConfig configures the pipeline engine.
type EngineConfig struct {
	// PollInterval between task-store sweeps.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"min=1s"`

	// ShutdownTimeout bounds how long Stop waits for in-flight work.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=1s"`

	// MinDraftWords is the reviewer's length gate.
	MinDraftWords int `yaml:"min_draft_words" json:"min_draft_words" validate:"min=0"`
}

// ResilienceConfig configures breakers and retry for all external services.
type ResilienceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=1"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout" validate:"min=1s"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold" validate:"min=1"`

	RetryMaxAttempts  int           `yaml:"retry_max_attempts" json:"retry_max_attempts" validate:"min=1"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" json:"retry_initial_delay" validate:"min=1ms"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" json:"retry_max_delay" validate:"min=1ms"`
}

// RoutingConfig configures the model router.
type RoutingConfig struct {
	// PricesPath is a YAML pricing table watched for hot reload.
	// Empty uses the compiled default prices.
	PricesPath string `yaml:"prices_path" json:"prices_path"`
}

// ProvidersConfig enables LLM providers. API keys come from the environment
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, OLLAMA_BASE_URL), never from YAML.
type ProvidersConfig struct {
	OpenAI    bool `yaml:"openai" json:"openai"`
	Anthropic bool `yaml:"anthropic" json:"anthropic"`
	Ollama    bool `yaml:"ollama" json:"ollama"`

	// RequestsPerSecond paces each provider client.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
}

// CMSConfig configures the publish target. The auth token comes from
// INKWELL_CMS_TOKEN.
type CMSConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=1s"`
}

// ImagesConfig configures the image search provider. The API key comes from
// INKWELL_IMAGES_API_KEY.
type ImagesConfig struct {
	BaseURL  string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	Provider string        `yaml:"provider" json:"provider" validate:"required"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"min=1s"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	LogDir string `yaml:"log_dir" json:"log_dir"`
	JSON   bool   `yaml:"json" json:"json"`
}

// =============================================================================
// Defaults and Loading
// =============================================================================

// DefaultConfig returns the compiled defaults. The result passes Validate
// except for the CMS and image provider URLs, which have no sane default
// and must come from file or environment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: 12310,
		},
		Storage: StorageConfig{
			Path:     "~/.inkwell/data",
			CacheTTL: 24 * time.Hour,
		},
		Engine: EngineConfig{
			PollInterval:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MinDraftWords:   300,
		},
		Resilience: ResilienceConfig{
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			SuccessThreshold:  2,
			RetryMaxAttempts:  3,
			RetryInitialDelay: 500 * time.Millisecond,
			RetryMaxDelay:     30 * time.Second,
		},
		Providers: ProvidersConfig{
			OpenAI:            true,
			Anthropic:         true,
			Ollama:            true,
			RequestsPerSecond: 2.0,
		},
		CMS: CMSConfig{
			Timeout: 30 * time.Second,
		},
		Images: ImagesConfig{
			Provider: "pexels",
			Timeout:  15 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file, applies INKWELL_*
// environment overrides, and validates the result.
//
// An empty path skips the file layer entirely.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("invalid configuration: storage path required for persistent mode")
	}
	if c.Resilience.RetryInitialDelay > c.Resilience.RetryMaxDelay {
		return fmt.Errorf("invalid configuration: retry initial delay exceeds max delay")
	}
	return nil
}

var validate = validator.New()

// applyEnvOverrides layers INKWELL_* environment variables over the config.
//
// Only operational knobs are exposed here; secrets are read where they are
// used (provider clients, main.go) and never stored on Config.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setInt("INKWELL_PORT", &cfg.Server.Port)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Server.OTLPEndpoint)
	setString("INKWELL_STORAGE_PATH", &cfg.Storage.Path)
	setBool("INKWELL_STORAGE_IN_MEMORY", &cfg.Storage.InMemory)
	setDuration("INKWELL_POLL_INTERVAL", &cfg.Engine.PollInterval)
	setString("INKWELL_PRICES_PATH", &cfg.Routing.PricesPath)
	setString("INKWELL_CMS_URL", &cfg.CMS.BaseURL)
	setString("INKWELL_IMAGES_URL", &cfg.Images.BaseURL)
	setString("INKWELL_IMAGES_PROVIDER", &cfg.Images.Provider)
	setString("INKWELL_LOG_LEVEL", &cfg.Logging.Level)
	setString("INKWELL_LOG_DIR", &cfg.Logging.LogDir)
}
