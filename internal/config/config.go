// Package config provides configuration loading for conductd.
//
// Configuration is loaded from a YAML file, then overridden with
// environment variables. Defaults fill anything left unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/conductd/internal/policy"
)

// Config holds the complete conductd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	State         StateConfig         `koanf:"state"`
	Policy        PolicyConfig        `koanf:"policy"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`

	// Capabilities maps collaborator capability names to the HTTP
	// endpoints that serve their invocations.
	Capabilities map[string]string `koanf:"capabilities"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry and metrics configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	TraceEndpoint   string  `koanf:"trace_endpoint"`
	TraceInsecure   bool    `koanf:"trace_insecure"`
	TraceSampleRate float64 `koanf:"trace_sample_rate"`
}

// StateConfig holds durable-state locations. Everything conductd persists
// (autonomy overrides, incident reports) lives under Dir.
type StateConfig struct {
	Dir string `koanf:"dir"`
}

// PolicyConfig holds autonomy policy store configuration.
type PolicyConfig struct {
	InitialProfile string `koanf:"initial_profile"`
}

// PipelineConfig holds phase pipeline configuration.
type PipelineConfig struct {
	// File is an optional YAML phase definition; empty uses the built-in
	// delivery workflow.
	File       string `koanf:"file"`
	Project    string `koanf:"project"`
	Brownfield bool   `koanf:"brownfield"`
}

// PolicyStateFile returns the path the policy store persists to.
func (c *Config) PolicyStateFile() string {
	return filepath.Join(c.State.Dir, "policy.yaml")
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty when telemetry is enabled
//   - The policy profile or log level is unknown
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.State.Dir == "" {
		return errors.New("state directory must be set")
	}

	if _, err := policy.ParseProfile(c.Policy.InitialProfile); err != nil {
		return fmt.Errorf("invalid initial profile: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Pipeline.File != "" {
		if _, err := os.Stat(c.Pipeline.File); err != nil {
			return fmt.Errorf("pipeline file: %w", err)
		}
	}

	return nil
}
