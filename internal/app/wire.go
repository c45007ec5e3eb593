package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/sealedmarket/internal/blob/s3"
	cachemem "github.com/alanyoungcy/sealedmarket/internal/cache/memory"
	"github.com/alanyoungcy/sealedmarket/internal/cache/redis"
	"github.com/alanyoungcy/sealedmarket/internal/config"
	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/notify"
	"github.com/alanyoungcy/sealedmarket/internal/platform/transfer"
	"github.com/alanyoungcy/sealedmarket/internal/server/handler"
	storemem "github.com/alanyoungcy/sealedmarket/internal/store/memory"
	"github.com/alanyoungcy/sealedmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	BetStore        domain.BetStore
	JobStore        domain.JobStore
	SettlementStore domain.SettlementStore
	AuditStore      domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.AttestationArchiver

	// Asset transfers. Vault is set only for the memory backend.
	Transfers domain.AssetTransferer
	Vault     *transfer.Vault

	// Notifications
	Notifier *notify.Notifier

	// Health probes by dependency name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Stores (ledger modes only) ---
	if cfg.RunsLedger() {
		if strings.EqualFold(cfg.Store.Backend, "postgres") {
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres: %w", err)
			}
			closers = append(closers, pgClient.Close)

			if cfg.Postgres.RunMigrations {
				if err := pgClient.RunMigrations(ctx); err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
				}
			}

			pool := pgClient.Pool()
			deps.MarketStore = postgres.NewMarketStore(pool)
			deps.BetStore = postgres.NewBetStore(pool)
			deps.JobStore = postgres.NewJobStore(pool)
			deps.SettlementStore = postgres.NewSettlementStore(pool)
			deps.AuditStore = postgres.NewAuditStore(pool)
			deps.Checks["postgres"] = pool.Ping
		} else {
			db := storemem.New()
			deps.MarketStore = storemem.NewMarketStore(db)
			deps.BetStore = storemem.NewBetStore(db)
			deps.JobStore = storemem.NewJobStore(db)
			deps.SettlementStore = storemem.NewSettlementStore(db)
			deps.AuditStore = storemem.NewAuditStore(db)
			logger.Warn("wire: using in-memory store; state is lost on restart")
		}
	}

	// --- Redis, or in-process equivalents ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamBlock.Duration)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.MarketCache = cachemem.NewMarketCache(cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = cachemem.NewRateLimiter()
		deps.LockManager = cachemem.NewLockManager()
		deps.SignalBus = cachemem.NewSignalBus()
	}

	// --- S3 attestation archive ---
	if cfg.RunsLedger() && cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		partSize := int64(cfg.S3.PartSizeMB) << 20
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client, partSize), s3blob.NewReader(s3Client))
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Asset transfers ---
	if cfg.RunsLedger() {
		switch strings.ToLower(cfg.Transfer.Backend) {
		case "http":
			var auth *crypto.HMACAuth
			if cfg.Transfer.APIKey != "" {
				auth = &crypto.HMACAuth{Key: cfg.Transfer.APIKey, Secret: cfg.Transfer.APISecret}
			}
			deps.Transfers = transfer.NewClient(cfg.Transfer.BaseURL, auth, cfg.Transfer.Timeout.Duration)
		default:
			vault := transfer.NewVault()
			vault.SetFaucet(cfg.Transfer.Faucet)
			deps.Vault = vault
			deps.Transfers = vault
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// keyConfig maps the mxe section onto the authority key loader.
func keyConfig(cfg config.MXEConfig) crypto.KeyConfig {
	return crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
		Ephemeral:        cfg.EphemeralKey,
	}
}

// mxeAuth returns the HMAC credentials shared by ledger and node, or nil.
func mxeAuth(cfg config.MXEConfig) *crypto.HMACAuth {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil
	}
	return &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret}
}

// orDefault returns d unless it is zero.
func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
