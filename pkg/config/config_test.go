package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8088", cfg.Server.ListenAddr)
	assert.Equal(t, "pinot", cfg.Target.Backend)
	assert.Equal(t, 1000, cfg.Processing.BatchSize)
	assert.Equal(t, 0.05, cfg.Health.ErrorRateThreshold)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Processing.BatchSize, cfg.Processing.BatchSize)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	body := `
server:
  listen_addr: ":9191"
processing:
  batch_size: 250
  batch_timeout: 2s
target:
  backend: memory
vault:
  backend: memory
health:
  error_rate_threshold: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.Server.ListenAddr)
	assert.Equal(t, 250, cfg.Processing.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Processing.BatchTimeout)
	assert.Equal(t, "memory", cfg.Target.Backend)
	assert.Equal(t, "memory", cfg.Vault.Backend)
	assert.Equal(t, 0.1, cfg.Health.ErrorRateThreshold)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Processing.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Metrics.BucketGranularity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"empty store path", func(c *EngineConfig) { c.Store.Path = "" }},
		{"file vault without path", func(c *EngineConfig) { c.Vault.Path = "" }},
		{"unknown vault backend", func(c *EngineConfig) { c.Vault.Backend = "etcd" }},
		{"zero batch size", func(c *EngineConfig) { c.Processing.BatchSize = 0 }},
		{"zero batch timeout", func(c *EngineConfig) { c.Processing.BatchTimeout = 0 }},
		{"negative retries", func(c *EngineConfig) { c.Processing.MaxRetries = -1 }},
		{"pinot without base url", func(c *EngineConfig) { c.Target.BaseURL = "" }},
		{"unknown target backend", func(c *EngineConfig) { c.Target.Backend = "kafka" }},
		{"zero granularity", func(c *EngineConfig) { c.Metrics.BucketGranularity = 0 }},
		{"threshold above one", func(c *EngineConfig) { c.Health.ErrorRateThreshold = 1.5 }},
		{"zero fail windows", func(c *EngineConfig) { c.Health.FailedAfterWindows = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestMemoryTargetNeedsNoBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Target.Backend = "memory"
	cfg.Target.BaseURL = ""
	assert.NoError(t, cfg.Validate())
}
