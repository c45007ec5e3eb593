package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
	"github.com/alanyoungcy/sealedmarket/internal/mxe"
	"github.com/alanyoungcy/sealedmarket/internal/server"
	"github.com/alanyoungcy/sealedmarket/internal/server/handler"
	"github.com/alanyoungcy/sealedmarket/internal/server/ws"
	"github.com/alanyoungcy/sealedmarket/internal/service"
)

const shutdownTimeout = 10 * time.Second

// LedgerMode runs the ledger, the resolution worker and the HTTP API. The
// worker sends computation requests to a remote node at mxe.endpoint.
func (a *App) LedgerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ledger mode",
		slog.String("mxe_endpoint", a.cfg.MXE.Endpoint),
	)
	computer := mxe.NewClient(a.cfg.MXE.Endpoint, a.cfg.MXE.Timeout.Duration).
		WithAuth(mxeAuth(a.cfg.MXE))
	return a.runLedger(ctx, deps, computer, nil)
}

// MXEMode runs only the computation node behind the HTTP server. It holds
// the authority key and the bet cipher but no ledger state.
func (a *App) MXEMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting mxe mode")

	engine, err := a.newEngine()
	if err != nil {
		return fmt.Errorf("mxe mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		MXE:    handler.NewMXEHandler(engine, a.logger),
	})
	return g.Wait()
}

// FullMode runs the ledger and the computation engine in one process. The
// worker calls the engine directly.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	engine, err := a.newEngine()
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return a.runLedger(ctx, deps, engine, engine)
}

// runLedger starts everything that hosts ledger state. engine, when non-nil,
// is also exposed at the node endpoint.
func (a *App) runLedger(ctx context.Context, deps *Dependencies, computer mxe.Computer, engine *mxe.Engine) error {
	g, ctx := errgroup.WithContext(ctx)

	l := ledger.New(ledger.Deps{
		Markets:     deps.MarketStore,
		Bets:        deps.BetStore,
		Jobs:        deps.JobStore,
		Settlements: deps.SettlementStore,
		Audit:       deps.AuditStore,
		Locks:       deps.LockManager,
		Transfers:   deps.Transfers,
		Bus:         deps.SignalBus,
		Archiver:    deps.Archiver,
		Notifier:    deps.Notifier,
	}, a.ledgerConfig(), a.logger)

	if deps.Vault != nil {
		reg, err := newEscrowRegistrar(ctx, deps.Vault, deps.SignalBus, a.logger)
		if err != nil {
			return fmt.Errorf("ledger mode: %w", err)
		}
		if _, err := reg.Sweep(ctx, l); err != nil {
			return fmt.Errorf("ledger mode: %w", err)
		}
		g.Go(func() error {
			return reg.Run(ctx)
		})
	}

	resolver := service.NewResolutionService(l, deps.SignalBus, a.cfg.Worker.Stream, a.logger)
	worker := service.NewResolutionWorker(l, computer, deps.SignalBus, service.WorkerConfig{
		Stream:        a.cfg.Worker.Stream,
		BatchSize:     a.cfg.Worker.BatchSize,
		PollInterval:  a.cfg.Worker.PollInterval.Duration,
		SettleBackoff: a.cfg.Worker.SettleBackoff.Duration,
	}, a.logger)
	marketSvc := service.NewMarketService(l, deps.MarketCache, deps.SignalBus, a.logger)

	// Pending jobs whose stream append was lost before a restart.
	if _, err := resolver.Requeue(ctx); err != nil {
		a.logger.WarnContext(ctx, "requeue pending jobs failed", slog.String("error", err.Error()))
	}

	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		return marketSvc.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:     handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
			Markets:    handler.NewMarketHandler(marketSvc, l, a.logger),
			Bets:       handler.NewBetHandler(l, a.logger),
			Resolution: handler.NewResolutionHandler(resolver, l, deps.Archiver, a.logger),
		}
		if engine != nil {
			handlers.MXE = handler.NewMXEHandler(engine, a.logger)
		}
		a.startHTTPServer(ctx, g, deps, handlers)
	} else {
		a.logger.WarnContext(ctx, "server disabled; markets can only be driven through the job stream")
	}

	return g.Wait()
}

// newEngine loads the authority key and bet cipher and builds the
// computation engine.
func (a *App) newEngine() (*mxe.Engine, error) {
	att, err := crypto.LoadAttester(keyConfig(a.cfg.MXE))
	if err != nil {
		return nil, fmt.Errorf("load authority: %w", err)
	}

	var cipher mxe.Cipher
	switch strings.ToLower(a.cfg.MXE.Cipher) {
	case "plain":
		a.logger.Warn("mxe: bet cipher is plain; blobs are not confidential")
		cipher = mxe.PlainCipher{}
	default:
		aead, err := mxe.NewAEADCipher([]byte(a.cfg.MXE.MasterSecret))
		if err != nil {
			return nil, fmt.Errorf("bet cipher: %w", err)
		}
		cipher = aead
	}

	a.logger.Info("mxe: engine ready",
		slog.String("authority", att.Authority()),
		slog.Int("decode_workers", a.cfg.MXE.DecodeWorkers),
	)
	if a.cfg.MXE.EphemeralKey && a.cfg.MXE.PrivateKey == "" && a.cfg.MXE.EncryptedKeyPath == "" {
		a.logger.Warn("mxe: using an ephemeral authority key; markets must be re-registered after restart")
	}
	return mxe.NewEngine(cipher, att, a.cfg.MXE.DecodeWorkers, a.logger), nil
}

func (a *App) ledgerConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	if a.cfg.Ledger.MaxBetsPerMarket > 0 {
		cfg.MaxBetsPerMarket = uint64(a.cfg.Ledger.MaxBetsPerMarket)
	}
	cfg.LockTTL = orDefault(a.cfg.Ledger.LockTTL.Duration, cfg.LockTTL)
	cfg.LockWait = orDefault(a.cfg.Ledger.LockWait.Duration, cfg.LockWait)
	if a.cfg.Ledger.MaxTransferAttempts > 0 {
		cfg.MaxTransferAttempts = a.cfg.Ledger.MaxTransferAttempts
	}
	if a.cfg.Ledger.DefaultFeeBps >= 0 && a.cfg.Ledger.DefaultFeeBps <= domain.MaxFeeBps {
		cfg.DefaultFeeBps = uint16(a.cfg.Ledger.DefaultFeeBps)
	}
	return cfg
}

// startHTTPServer launches the websocket hub and the HTTP server inside the
// errgroup. The server is shut down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers server.Handlers) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Channel:   domain.ChannelMarketEvents,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		MXEAuth:     mxeAuth(a.cfg.MXE),
		MXEMaxSkew:  a.cfg.MXE.MaxSkew.Duration,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
