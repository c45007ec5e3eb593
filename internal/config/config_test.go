package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret32 = "0123456789abcdef0123456789abcdef"

func validFull() Config {
	cfg := Defaults()
	cfg.MXE.EphemeralKey = true
	cfg.MXE.MasterSecret = secret32
	return cfg
}

func TestDefaultsNeedOnlyKeyAndSecret(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mxe: set private_key")
	assert.Contains(t, err.Error(), "master_secret")

	cfg = validFull()
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"bad store", func(c *Config) { c.Store.Backend = "sqlite" }, "store: unknown backend"},
		{"postgres without host", func(c *Config) {
			c.Store.Backend = "postgres"
			c.Postgres.Host = ""
		}, "postgres: host"},
		{"postgres pool order", func(c *Config) {
			c.Store.Backend = "postgres"
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"fee too high", func(c *Config) { c.Ledger.DefaultFeeBps = 10_001 }, "default_fee_bps"},
		{"zero attempts", func(c *Config) { c.Ledger.MaxTransferAttempts = 0 }, "max_transfer_attempts"},
		{"http transfer without url", func(c *Config) { c.Transfer.Backend = "http" }, "transfer: base_url"},
		{"half transfer credentials", func(c *Config) {
			c.Transfer.Backend = "http"
			c.Transfer.BaseURL = "http://transfers"
			c.Transfer.APIKey = "k"
		}, "api_key and api_secret"},
		{"ledger mode needs endpoint", func(c *Config) { c.Mode = "ledger" }, "mxe: endpoint"},
		{"short master secret", func(c *Config) { c.MXE.MasterSecret = "short" }, "master_secret"},
		{"unknown cipher", func(c *Config) { c.MXE.Cipher = "rot13" }, "unknown cipher"},
		{"key file without password", func(c *Config) {
			c.MXE.EphemeralKey = false
			c.MXE.EncryptedKeyPath = "authority.json"
		}, "key_password"},
		{"mxe mode without server", func(c *Config) {
			c.Mode = "mxe"
			c.Server.Enabled = false
		}, "must be enabled in mxe mode"},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis: addr"},
		{"redis stream without block", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.StreamBlock.Duration = 0
		}, "stream_block"},
		{"s3 small parts", func(c *Config) {
			c.S3.Enabled = true
			c.S3.PartSizeMB = 1
		}, "part_size_mb"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validFull()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_ModeScopesChecks(t *testing.T) {
	// A computation node does not need a store or transfer backend.
	cfg := validFull()
	cfg.Mode = "mxe"
	cfg.Store.Backend = "nonsense"
	cfg.Transfer.Backend = "nonsense"
	assert.NoError(t, cfg.Validate())

	// A pure ledger does not need the authority key or cipher secret.
	cfg = Defaults()
	cfg.Mode = "ledger"
	cfg.MXE.Endpoint = "http://mxe:8000"
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsLedger())
	assert.False(t, cfg.RunsMXE())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "ledger"
log_level = "debug"

[store]
backend = "postgres"

[ledger]
lock_ttl = "45s"
default_fee_bps = 250

[mxe]
endpoint = "http://mxe:8000"

[worker]
poll_interval = "250ms"
`), 0o600))

	t.Chdir(dir)
	t.Setenv("SEALED_POSTGRES_PASSWORD", "pw")
	t.Setenv("SEALED_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SEALED_LEDGER_LOCK_WAIT", "9s")
	t.Setenv("SEALED_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ledger", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 45*time.Second, cfg.Ledger.LockTTL.Duration)
	assert.Equal(t, 9*time.Second, cfg.Ledger.LockWait.Duration)
	assert.Equal(t, 250, cfg.Ledger.DefaultFeeBps)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval.Duration)
	assert.Equal(t, "pw", cfg.Postgres.Password)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.Ledger.MaxTransferAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validFull()
	cfg.Postgres.Password = "pw"
	cfg.MXE.PrivateKey = "deadbeef"
	cfg.Transfer.APISecret = "s"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.MXE.PrivateKey)
	assert.Equal(t, redacted, out.MXE.MasterSecret)
	assert.Equal(t, redacted, out.Transfer.APISecret)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
	assert.Equal(t, secret32, cfg.MXE.MasterSecret)
}
