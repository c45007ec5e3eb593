package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SEALED_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SEALED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Backend, "SEALED_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SEALED_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SEALED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SEALED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SEALED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SEALED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SEALED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SEALED_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SEALED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SEALED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SEALED_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SEALED_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SEALED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SEALED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SEALED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SEALED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SEALED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SEALED_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SEALED_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SEALED_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SEALED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SEALED_S3_REGION")
	setStr(&cfg.S3.Bucket, "SEALED_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "SEALED_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "SEALED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SEALED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SEALED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SEALED_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setInt(&cfg.Ledger.MaxBetsPerMarket, "SEALED_LEDGER_MAX_BETS_PER_MARKET")
	setDuration(&cfg.Ledger.LockTTL, "SEALED_LEDGER_LOCK_TTL")
	setDuration(&cfg.Ledger.LockWait, "SEALED_LEDGER_LOCK_WAIT")
	setInt(&cfg.Ledger.MaxTransferAttempts, "SEALED_LEDGER_MAX_TRANSFER_ATTEMPTS")
	setInt(&cfg.Ledger.DefaultFeeBps, "SEALED_LEDGER_DEFAULT_FEE_BPS")

	// ── MXE ──
	setStr(&cfg.MXE.Endpoint, "SEALED_MXE_ENDPOINT")
	setDuration(&cfg.MXE.Timeout, "SEALED_MXE_TIMEOUT")
	setStr(&cfg.MXE.PrivateKey, "SEALED_MXE_PRIVATE_KEY")
	setStr(&cfg.MXE.EncryptedKeyPath, "SEALED_MXE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.MXE.KeyPassword, "SEALED_MXE_KEY_PASSWORD")
	setBool(&cfg.MXE.EphemeralKey, "SEALED_MXE_EPHEMERAL_KEY")
	setStr(&cfg.MXE.Cipher, "SEALED_MXE_CIPHER")
	setStr(&cfg.MXE.MasterSecret, "SEALED_MXE_MASTER_SECRET")
	setInt(&cfg.MXE.DecodeWorkers, "SEALED_MXE_DECODE_WORKERS")
	setStr(&cfg.MXE.APIKey, "SEALED_MXE_API_KEY")
	setStr(&cfg.MXE.APISecret, "SEALED_MXE_API_SECRET")

	// ── Transfer ──
	setStr(&cfg.Transfer.Backend, "SEALED_TRANSFER_BACKEND")
	setStr(&cfg.Transfer.BaseURL, "SEALED_TRANSFER_BASE_URL")
	setStr(&cfg.Transfer.APIKey, "SEALED_TRANSFER_API_KEY")
	setStr(&cfg.Transfer.APISecret, "SEALED_TRANSFER_API_SECRET")
	setDuration(&cfg.Transfer.Timeout, "SEALED_TRANSFER_TIMEOUT")

	// ── Worker ──
	setStr(&cfg.Worker.Stream, "SEALED_WORKER_STREAM")
	setInt(&cfg.Worker.BatchSize, "SEALED_WORKER_BATCH_SIZE")
	setDuration(&cfg.Worker.PollInterval, "SEALED_WORKER_POLL_INTERVAL")
	setDuration(&cfg.Worker.SettleBackoff, "SEALED_WORKER_SETTLE_BACKOFF")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SEALED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SEALED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SEALED_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SEALED_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SEALED_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SEALED_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIBase, "SEALED_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.TelegramToken, "SEALED_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SEALED_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SEALED_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SEALED_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SEALED_MODE")
	setStr(&cfg.LogLevel, "SEALED_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
