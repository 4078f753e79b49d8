package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// clearEnv unsets variables that would leak into Load from the host.
func clearEnv(t *testing.T) {
	t.Helper()
	for name := range legacyEnv {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv(PathEnvVar, "")
	os.Unsetenv(PathEnvVar)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "erp-mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ERP_DSN", "sqlserver://erp")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mssql", cfg.Source.Mode)
	assert.Equal(t, 30*time.Second, cfg.Source.QueryTimeout)
	assert.Equal(t, 500, cfg.API.ChunkSize)
	assert.Equal(t, 5000, cfg.Mirror.ChunkSize)
	assert.Equal(t, 300*time.Second, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.RunOnStart)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.ErrorIs(t, cfg.RequireTransport(), ErrNoTransport)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
source:
  mode: local
  local_dir: ./fixtures
api:
  url: https://mirror.example.com/api/sync
  key: from-file
  chunk_size: 250
sync:
  interval: 1m
logging:
  level: debug
  format: text
`)
	t.Setenv("ERP_MIRROR_API__CHUNK_SIZE", "100")
	t.Setenv("ERP_MIRROR_SYNC__RUN_ON_START", "false")
	t.Setenv("ERP_MIRROR_SOURCE__QUERY_TIMEOUT", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Source.Mode)
	assert.Equal(t, "./fixtures", cfg.Source.LocalDir)
	assert.Equal(t, "from-file", cfg.API.Key)
	assert.Equal(t, 100, cfg.API.ChunkSize)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.False(t, cfg.Sync.RunOnStart)
	assert.Equal(t, 45*time.Second, cfg.Source.QueryTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.RequireTransport())

	sel := cfg.TransportSettings()
	assert.Equal(t, "https://mirror.example.com/api/sync", sel.HTTP.URL)
	assert.Equal(t, 100, sel.HTTP.ChunkSize)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "source:\n  mode: local\n")
	t.Setenv(PathEnvVar, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Source.Mode)
}

func TestLegacyEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLOUD_API_URL", "https://legacy.example.com/api/sync")
	t.Setenv("SYNC_API_KEY", "legacy-key")
	t.Setenv("DATABASE_URL", "postgres://mirror:secret@db:5432/mirror")
	t.Setenv("ERP_DSN", "sqlserver://sa:pw@erp?database=ERP")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example.com/api/sync", cfg.API.URL)
	assert.Equal(t, "legacy-key", cfg.API.Key)
	assert.Equal(t, "postgres://mirror:secret@db:5432/mirror", cfg.Mirror.DSN)
	assert.Equal(t, "sqlserver://sa:pw@erp?database=ERP", cfg.Source.DSN)

	// Prefixed variables win over legacy ones.
	t.Setenv("ERP_MIRROR_API__KEY", "new-key")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "new-key", cfg.API.Key)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad source mode", func(c *Config) { c.Source.Mode = "oracle" }, "source.mode"},
		{"mssql without dsn", func(c *Config) { c.Source.DSN = "" }, "source.dsn"},
		{"url without key", func(c *Config) { c.API.URL = "https://x.example.com"; c.API.Key = "" }, "api.key"},
		{"bad url", func(c *Config) { c.API.URL = "not a url" }, "api.url"},
		{"zero chunk", func(c *Config) { c.API.ChunkSize = 0 }, "api.chunk_size"},
		{"tiny interval", func(c *Config) { c.Sync.Interval = time.Millisecond }, "sync.interval"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"s3 without bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.Backend = "s3" }, "archive.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Source.DSN = "sqlserver://erp"
			cfg.API.Key = "k"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRequireReceiver(t *testing.T) {
	cfg := Defaults()
	assert.ErrorIs(t, cfg.RequireReceiver(), ErrReceiverKey)

	cfg.API.Key = "shared"
	assert.ErrorIs(t, cfg.RequireReceiver(), ErrReceiverDSN)

	cfg.Mirror.DSN = "postgres://localhost/mirror"
	assert.NoError(t, cfg.RequireReceiver())
	assert.Equal(t, "shared", cfg.ReceiverKey())
	assert.Equal(t, "postgres://localhost/mirror", cfg.ReceiverStoreSettings().DSN)

	cfg.Receiver.Store = "memory"
	cfg.Mirror.DSN = ""
	assert.NoError(t, cfg.RequireReceiver())
}

func TestYAMLRedactsSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.API.Key = "super-secret"
	cfg.Mirror.DSN = "postgres://mirror:hunter2@db:5432/mirror"
	cfg.Source.DSN = "server=erp;user id=sa;password=pw;database=ERP"

	out, err := cfg.YAML()
	require.NoError(t, err)
	text := string(out)
	assert.NotContains(t, text, "super-secret")
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "password=pw")
	assert.Contains(t, text, "postgres://mirror:****@db:5432/mirror")
	assert.Contains(t, text, "interval: 5m0s")

	// The dump parses back into a config.
	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg.Sync.Interval, back.Sync.Interval)

	// The original is untouched.
	assert.Equal(t, "super-secret", cfg.API.Key)
}

func TestPrefixedKey(t *testing.T) {
	assert.Equal(t, "api.chunk_size", prefixedKey("ERP_MIRROR_API__CHUNK_SIZE"))
	assert.Equal(t, "archive.s3_region", prefixedKey("ERP_MIRROR_ARCHIVE__S3_REGION"))
	assert.Equal(t, "", prefixedKey("ERP_MIRROR_CONFIG"))
}
