// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/VdypForward/pkg/logging"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func durationVar(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"VDYP_CONTROL_MAP", stringVar(func(c *Config) *string { return &c.ControlMap })},
	{"VDYP_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"VDYP_LOG_DIR", stringVar(func(c *Config) *string { return &c.Log.Dir })},
	{"VDYP_LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
	{"VDYP_GROW_TARGET", intVar(func(c *Config) *int { return &c.Engine.Control.GrowTarget })},
	{"VDYP_OUTPUT_YEARS", intVar(func(c *Config) *int { return &c.Engine.Control.OutputYears })},
	{"VDYP_COMPATIBILITY_OUTPUT", intVar(func(c *Config) *int { return &c.Engine.Control.CompatibilityOutput })},
	{"VDYP_SPECIES_DYNAMICS", intVar(func(c *Config) *int { return &c.Engine.Debug.SpeciesDynamics })},
	{"VDYP_WORKERS", intVar(func(c *Config) *int { return &c.Batch.Workers })},
	{"VDYP_CHECKPOINT", stringVar(func(c *Config) *string { return &c.Batch.CheckpointPath })},
	{"VDYP_OUTPUT_DIR", stringVar(func(c *Config) *string { return &c.Batch.OutputDir })},
	{"VDYP_STORE_PATH", stringVar(func(c *Config) *string { return &c.Store.Path })},
	{"VDYP_STORE_IN_MEMORY", boolVar(func(c *Config) *bool { return &c.Store.InMemory })},
	{"VDYP_SERVER_ADDR", stringVar(func(c *Config) *string { return &c.Server.Addr })},
	{"VDYP_RATE_LIMIT", floatVar(func(c *Config) *float64 { return &c.Server.RateLimit })},
	{"VDYP_REQUEST_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.RequestTimeout })},
	{"VDYP_GCS_BUCKET", stringVar(func(c *Config) *string { return &c.Export.GCS.Bucket })},
	{"VDYP_GCS_CREDENTIALS", stringVar(func(c *Config) *string { return &c.Export.GCS.CredentialsFile })},
	{"VDYP_INFLUX_URL", stringVar(func(c *Config) *string { return &c.Export.Influx.URL })},
	{"VDYP_INFLUX_ORG", stringVar(func(c *Config) *string { return &c.Export.Influx.Org })},
	{"VDYP_INFLUX_BUCKET", stringVar(func(c *Config) *string { return &c.Export.Influx.Bucket })},
	{"VDYP_INFLUX_TOKEN", stringVar(func(c *Config) *string { return &c.Export.Influx.Token })},
	{"VDYP_WATCH_DIR", stringVar(func(c *Config) *string { return &c.Watch.Dir })},
	{"VDYP_WATCH_DEBOUNCE", durationVar(func(c *Config) *time.Duration { return &c.Watch.Debounce })},
}

// ApplyEnv overrides fields from VDYP_* variables. Unset variables leave
// their fields alone.
//
// Outputs:
//
//	error - A *ConfigError naming the first variable that does not parse.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return &ConfigError{Field: b.key, Err: err}
		}
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (logging.Level, error) {
	return logging.ParseLevel(c.Log.Level)
}

// LoggingConfig returns the logger configuration for service.
func (c *Config) LoggingConfig(service string) logging.Config {
	level, _ := c.LogLevel()
	return logging.Config{
		Level:   level,
		LogDir:  c.Log.Dir,
		Service: service,
		Format:  logging.Format(c.Log.Format),
	}
}
