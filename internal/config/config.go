// Package config defines the top-level configuration for the sealed market
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SEALED_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	MXE      MXEConfig      `toml:"mxe"`
	Transfer TransferConfig `toml:"transfer"`
	Worker   WorkerConfig   `toml:"worker"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // "postgres" or "memory"
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, the
// job stream, the market cache and rate limiting run in-process.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	MarketTTL   duration `toml:"market_ttl"`
	StreamBlock duration `toml:"stream_block"`
}

// S3Config holds S3-compatible object storage parameters for the attestation
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// LedgerConfig holds the ledger's limits.
type LedgerConfig struct {
	MaxBetsPerMarket    int      `toml:"max_bets_per_market"`
	LockTTL             duration `toml:"lock_ttl"`
	LockWait            duration `toml:"lock_wait"`
	MaxTransferAttempts int      `toml:"max_transfer_attempts"`
	DefaultFeeBps       int      `toml:"default_fee_bps"`
}

// MXEConfig configures the computation engine. In ledger mode only Endpoint,
// Timeout and the API credentials are used.
type MXEConfig struct {
	// Endpoint is the base URL of a remote computation node (ledger mode).
	Endpoint string   `toml:"endpoint"`
	Timeout  duration `toml:"timeout"`

	// Authority key sources, tried in this order.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	EphemeralKey     bool   `toml:"ephemeral_key"`

	Cipher        string `toml:"cipher"` // "aead" or "plain"
	MasterSecret  string `toml:"master_secret"`
	DecodeWorkers int    `toml:"decode_workers"`

	// APIKey and APISecret sign ledger-to-node calls when both are set.
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	MaxSkew   duration `toml:"max_skew"`
}

// TransferConfig selects and configures the asset-transfer backend.
type TransferConfig struct {
	Backend   string   `toml:"backend"` // "http" or "memory"
	BaseURL   string   `toml:"base_url"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	Timeout   duration `toml:"timeout"`
	// Faucet credits new accounts in the memory backend.
	Faucet uint64 `toml:"faucet"`
}

// WorkerConfig configures the resolution worker.
type WorkerConfig struct {
	Stream        string   `toml:"stream"`
	BatchSize     int      `toml:"batch_size"`
	PollInterval  duration `toml:"poll_interval"`
	SettleBackoff duration `toml:"settle_backoff"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sealedmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "sealed",
			MarketTTL:   duration{30 * time.Second},
			StreamBlock: duration{2 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sealedmarket-attestations",
			ForcePathStyle: true,
			PartSizeMB:     5,
		},
		Ledger: LedgerConfig{
			MaxBetsPerMarket:    10_000,
			LockTTL:             duration{30 * time.Second},
			LockWait:            duration{5 * time.Second},
			MaxTransferAttempts: 5,
			DefaultFeeBps:       100,
		},
		MXE: MXEConfig{
			Timeout:       duration{30 * time.Second},
			Cipher:        "aead",
			DecodeWorkers: 8,
			MaxSkew:       duration{30 * time.Second},
		},
		Transfer: TransferConfig{
			Backend: "memory",
			Timeout: duration{10 * time.Second},
		},
		Worker: WorkerConfig{
			BatchSize:     16,
			PollInterval:  duration{500 * time.Millisecond},
			SettleBackoff: duration{2 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_settled", "settlement_failed", "resolution_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ledger": true,
	"mxe":    true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsLedger reports whether the mode hosts the ledger and its worker.
func (c *Config) RunsLedger() bool {
	m := strings.ToLower(c.Mode)
	return m == "ledger" || m == "full"
}

// RunsMXE reports whether the mode hosts the computation engine.
func (c *Config) RunsMXE() bool {
	m := strings.ToLower(c.Mode)
	return m == "mxe" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ledger, mxe, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.RunsLedger() {
		errs = append(errs, c.validateLedger()...)
	}
	if c.RunsMXE() {
		errs = append(errs, c.validateMXE()...)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamBlock.Duration <= 0 {
			errs = append(errs, "redis: stream_block must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	} else if strings.ToLower(c.Mode) == "mxe" {
		errs = append(errs, "server: must be enabled in mxe mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateLedger() []string {
	var errs []string

	switch strings.ToLower(c.Store.Backend) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, memory)", c.Store.Backend))
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.PartSizeMB < 5 {
			errs = append(errs, "s3: part_size_mb must be >= 5")
		}
	}

	// Ledger
	if c.Ledger.MaxBetsPerMarket < 1 {
		errs = append(errs, "ledger: max_bets_per_market must be >= 1")
	}
	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be > 0")
	}
	if c.Ledger.LockWait.Duration < 0 {
		errs = append(errs, "ledger: lock_wait must be >= 0")
	}
	if c.Ledger.MaxTransferAttempts < 1 {
		errs = append(errs, "ledger: max_transfer_attempts must be >= 1")
	}
	if c.Ledger.DefaultFeeBps < 0 || c.Ledger.DefaultFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("ledger: default_fee_bps must be 0-10000, got %d", c.Ledger.DefaultFeeBps))
	}

	// Transfer
	switch strings.ToLower(c.Transfer.Backend) {
	case "memory":
	case "http":
		if c.Transfer.BaseURL == "" {
			errs = append(errs, "transfer: base_url is required for the http backend")
		}
		if (c.Transfer.APIKey == "") != (c.Transfer.APISecret == "") {
			errs = append(errs, "transfer: api_key and api_secret must be set together")
		}
	default:
		errs = append(errs, fmt.Sprintf("transfer: unknown backend %q (valid: http, memory)", c.Transfer.Backend))
	}

	// Worker
	if c.Worker.BatchSize < 1 {
		errs = append(errs, "worker: batch_size must be >= 1")
	}
	if c.Worker.PollInterval.Duration <= 0 {
		errs = append(errs, "worker: poll_interval must be > 0")
	}

	// A pure ledger delegates computation to a remote node.
	if strings.ToLower(c.Mode) == "ledger" && c.MXE.Endpoint == "" {
		errs = append(errs, "mxe: endpoint is required in ledger mode")
	}
	return errs
}

func (c *Config) validateMXE() []string {
	var errs []string

	if c.MXE.PrivateKey == "" && c.MXE.EncryptedKeyPath == "" && !c.MXE.EphemeralKey {
		errs = append(errs, "mxe: set private_key, encrypted_key_path or ephemeral_key")
	}
	if c.MXE.EncryptedKeyPath != "" && c.MXE.KeyPassword == "" {
		errs = append(errs, "mxe: key_password is required when encrypted_key_path is set")
	}

	switch strings.ToLower(c.MXE.Cipher) {
	case "plain":
	case "aead":
		if len(c.MXE.MasterSecret) < 32 {
			errs = append(errs, "mxe: master_secret must be at least 32 bytes for the aead cipher")
		}
	default:
		errs = append(errs, fmt.Sprintf("mxe: unknown cipher %q (valid: aead, plain)", c.MXE.Cipher))
	}

	if c.MXE.DecodeWorkers < 1 {
		errs = append(errs, "mxe: decode_workers must be >= 1")
	}
	if (c.MXE.APIKey == "") != (c.MXE.APISecret == "") {
		errs = append(errs, "mxe: api_key and api_secret must be set together")
	}
	return errs
}
