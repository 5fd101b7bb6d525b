// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the vdypforward configuration: engine settings,
// the coefficient file path, and the batch, store, server, telemetry,
// export and watch sections.
//
// Loading order is DefaultConfig, then the YAML file, then VDYP_*
// environment overrides, then Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/VdypForward/pkg/telemetry"
	"github.com/AleutianAI/VdypForward/services/forward/engine"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError names the field that failed to load or validate.
type ConfigError struct {
	// Field is the dotted YAML path or the environment variable.
	Field string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn warning error"`
	Dir    string `yaml:"dir" json:"dir"`
	Format string `yaml:"format" json:"format" validate:"oneof=auto text json"`
}

// BatchConfig controls multi-polygon projection runs.
type BatchConfig struct {
	// Workers bounds the polygons projected at once.
	Workers int `yaml:"workers" json:"workers" validate:"gte=1,lte=256"`

	// CheckpointPath records finished polygons so an interrupted run can
	// resume. Empty disables checkpoints.
	CheckpointPath string `yaml:"checkpoint_path" json:"checkpoint_path"`

	// OutputDir receives one result file per polygon.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// OutputFormat is "json" or "yaml".
	OutputFormat string `yaml:"output_format" json:"output_format" validate:"oneof=json yaml"`
}

// StoreConfig configures the result store.
type StoreConfig struct {
	Path       string        `yaml:"path" json:"path"`
	InMemory   bool          `yaml:"in_memory" json:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes" json:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	// RateLimit is the sustained projection requests per second; 0
	// disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// Burst is the limiter's bucket size.
	Burst int `yaml:"burst" json:"burst" validate:"gte=1"`

	// RequestTimeout bounds one projection request.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"gt=0"`

	// MaxBodyBytes bounds a submitted polygon.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes" validate:"gt=0"`
}

// GCSConfig is the Cloud Storage export target.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// InfluxConfig is the yield time series target.
type InfluxConfig struct {
	URL         string `yaml:"url" json:"url" validate:"omitempty,url"`
	Org         string `yaml:"org" json:"org" validate:"required_with=URL"`
	Bucket      string `yaml:"bucket" json:"bucket" validate:"required_with=URL"`
	Measurement string `yaml:"measurement" json:"measurement" validate:"required_with=URL"`

	// Token is read from VDYP_INFLUX_TOKEN only and never serialized.
	Token string `yaml:"-" json:"-"`
}

// ExportConfig groups the export targets.
type ExportConfig struct {
	GCS    GCSConfig    `yaml:"gcs" json:"gcs"`
	Influx InfluxConfig `yaml:"influx" json:"influx"`
}

// WatchConfig configures directory watch mode.
type WatchConfig struct {
	Dir      string        `yaml:"dir" json:"dir"`
	Debounce time.Duration `yaml:"debounce" json:"debounce" validate:"gt=0"`

	// Patterns are the file name globs projected when they appear.
	Patterns []string `yaml:"patterns" json:"patterns" validate:"min=1,dive,required"`
}

// Config is the full vdypforward configuration.
type Config struct {
	// ControlMap is the coefficient file path.
	ControlMap string `yaml:"control_map" json:"control_map" validate:"required"`

	Engine    engine.Settings  `yaml:"engine" json:"engine"`
	Log       LogConfig        `yaml:"log" json:"log"`
	Batch     BatchConfig      `yaml:"batch" json:"batch"`
	Store     StoreConfig      `yaml:"store" json:"store"`
	Server    ServerConfig     `yaml:"server" json:"server"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Export    ExportConfig     `yaml:"export" json:"export"`
	Watch     WatchConfig      `yaml:"watch" json:"watch"`
}

// DefaultConfig returns a configuration that projects to each polygon's
// target year with four workers, an on-disk store under ./data and the API
// on :8080.
func DefaultConfig() Config {
	return Config{
		ControlMap: "control.yaml",
		Engine:     engine.DefaultSettings(),
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Batch: BatchConfig{
			Workers:      4,
			OutputDir:    "out",
			OutputFormat: "json",
		},
		Store: StoreConfig{
			Path:       "data/results",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RateLimit:      20,
			Burst:          40,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Telemetry: telemetry.DefaultConfig(),
		Export: ExportConfig{
			Influx: InfluxConfig{Measurement: "vdyp_yield"},
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
			Patterns: []string{"*.json", "*.yaml", "*.yml"},
		},
	}
}

// Load reads path over the defaults, applies the process environment and
// validates. An empty path skips the file.
//
// Outputs:
//
//	Config - The loaded configuration.
//	error - A *ConfigError for unreadable files, bad values or failed
//	        validation.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &ConfigError{Field: "file", Err: err}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &ConfigError{Field: "file", Err: fmt.Errorf("parse %s: %w", path, err)}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	configValidate     *validator.Validate
	configValidateOnce sync.Once
)

func configValidator() *validator.Validate {
	configValidateOnce.Do(func() {
		configValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return configValidate
}

// Validate checks tags, the engine settings and the cross-field rules.
func (c *Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ConfigError{Field: verrs[0].Namespace(), Err: err}
		}
		return &ConfigError{Field: "config", Err: err}
	}
	if err := c.Engine.Validate(); err != nil {
		return &ConfigError{Field: "engine", Err: err}
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return &ConfigError{Field: "store.path", Err: errors.New("required unless store.in_memory is set")}
	}
	if c.Export.Influx.URL != "" && c.Export.Influx.Token == "" {
		return &ConfigError{Field: "VDYP_INFLUX_TOKEN", Err: errors.New("required when export.influx.url is set")}
	}
	if _, err := c.LogLevel(); err != nil {
		return &ConfigError{Field: "log.level", Err: err}
	}
	return nil
}
