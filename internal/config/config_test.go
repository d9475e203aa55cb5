package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults loads a valid config with no file.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Crawl.Workers)
	assert.Equal(t, "next", cfg.Crawl.NextRel)
	assert.Equal(t, "opds", cfg.Crawl.DefaultDialect)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, time.Duration(0), cfg.CacheTTL())
}

// TestLoadFile reads overrides from a YAML file.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
crawl:
  workers: 12
  default_dialect: odl
http:
  timeout_seconds: 5
cache:
  ttl_minutes: 15
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Crawl.Workers)
	assert.Equal(t, "odl", cfg.Crawl.DefaultDialect)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL())
}

// TestLoadEnvOverride applies FEEDSCOPE_* environment variables.
func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FEEDSCOPE_CRAWL_WORKERS", "3")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Crawl.Workers)
}

// TestValidate rejects out-of-range values.
func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Crawl.Workers = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Crawl.DefaultDialect = "atom"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "k"
	assert.NoError(t, cfg.Validate())
}
