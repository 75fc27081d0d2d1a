package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	cfg.State.Dir = t.TempDir()
	applyDefaults(cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, 9190, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "conductd", cfg.Observability.ServiceName)
	assert.Equal(t, "balanced", cfg.Policy.InitialProfile)
	assert.Equal(t, "default", cfg.Pipeline.Project)
	assert.NotEmpty(t, cfg.State.Dir)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Logging.Level = "debug"
	cfg.Policy.InitialProfile = "aggressive"
	applyDefaults(cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "aggressive", cfg.Policy.InitialProfile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"telemetry without service name", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.ServiceName = ""
		}, "service name required"},
		{"missing state dir", func(c *Config) { c.State.Dir = "" }, "state directory"},
		{"unknown profile", func(c *Config) { c.Policy.InitialProfile = "yolo" }, "invalid initial profile"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"missing pipeline file", func(c *Config) { c.Pipeline.File = "/nonexistent/pipeline.yaml" }, "pipeline file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPolicyStateFile(t *testing.T) {
	cfg := &Config{}
	cfg.State.Dir = "/var/lib/conductd"
	assert.Equal(t, filepath.Join("/var/lib/conductd", "policy.yaml"), cfg.PolicyStateFile())
}

func TestValidateConfigPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.NoError(t, validateConfigPath(filepath.Join(home, ".config", "conductd", "config.yaml")))
	assert.NoError(t, validateConfigPath("/etc/conductd/config.yaml"))
	assert.Error(t, validateConfigPath("/tmp/config.yaml"))
	assert.Error(t, validateConfigPath(filepath.Join(home, "config.yaml")))
}

func TestValidateConfigFileProperties(t *testing.T) {
	dir := t.TempDir()

	secure := filepath.Join(dir, "secure.yaml")
	require.NoError(t, os.WriteFile(secure, []byte("server:\n  http_port: 9190\n"), 0o600))
	info, err := os.Stat(secure)
	require.NoError(t, err)
	assert.NoError(t, validateConfigFileProperties(info))

	loose := filepath.Join(dir, "loose.yaml")
	require.NoError(t, os.WriteFile(loose, []byte("x: y\n"), 0o644))
	info, err = os.Stat(loose)
	require.NoError(t, err)
	err = validateConfigFileProperties(info)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestEnsureStateDir(t *testing.T) {
	cfg := &Config{}
	cfg.State.Dir = filepath.Join(t.TempDir(), "nested", "state")
	require.NoError(t, EnsureStateDir(cfg))

	info, err := os.Stat(cfg.State.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}
