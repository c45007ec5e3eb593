package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/sealedmarket/internal/cache/memory"
	"github.com/alanyoungcy/sealedmarket/internal/config"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
	"github.com/alanyoungcy/sealedmarket/internal/platform/transfer"
	storemem "github.com/alanyoungcy/sealedmarket/internal/store/memory"
)

const (
	secret32     = "0123456789abcdef0123456789abcdef"
	authorityKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.MXE.EphemeralKey = true
	cfg.MXE.MasterSecret = secret32
	return &cfg
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestWire_InMemoryDefaults(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), testConfig(), discard())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &storemem.MarketStore{}, deps.MarketStore)
	assert.IsType(t, &cachemem.SignalBus{}, deps.SignalBus)
	assert.IsType(t, &cachemem.LockManager{}, deps.LockManager)
	require.NotNil(t, deps.Vault)
	assert.Same(t, deps.Vault, deps.Transfers)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.Notifier)
	assert.Empty(t, deps.Checks)
}

func TestWire_ModeScopesDependencies(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "mxe"
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.MarketStore)
	assert.Nil(t, deps.Transfers)
	assert.NotNil(t, deps.SignalBus)

	cfg = testConfig()
	cfg.Transfer.Backend = "http"
	cfg.Transfer.BaseURL = "http://transfers.internal"
	deps, cleanup2, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup2()
	assert.Nil(t, deps.Vault)
	assert.IsType(t, &transfer.Client{}, deps.Transfers)
}

func TestLedgerConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.MaxBetsPerMarket = 7
	cfg.Ledger.DefaultFeeBps = 250
	cfg.Ledger.MaxTransferAttempts = 0
	cfg.Ledger.LockTTL.Duration = 0

	got := New(cfg, discard()).ledgerConfig()
	def := ledger.DefaultConfig()
	assert.Equal(t, uint64(7), got.MaxBetsPerMarket)
	assert.Equal(t, uint16(250), got.DefaultFeeBps)
	assert.Equal(t, def.MaxTransferAttempts, got.MaxTransferAttempts)
	assert.Equal(t, def.LockTTL, got.LockTTL)
	assert.Equal(t, def.MaxPool, got.MaxPool)
}

func TestNewEngine(t *testing.T) {
	cfg := testConfig()
	cfg.MXE.EphemeralKey = false
	cfg.MXE.PrivateKey = authorityKey
	_, err := New(cfg, discard()).newEngine()
	require.NoError(t, err)

	cfg.MXE.Cipher = "plain"
	cfg.MXE.MasterSecret = ""
	_, err = New(cfg, discard()).newEngine()
	require.NoError(t, err)

	cfg.MXE.Cipher = "aead"
	_, err = New(cfg, discard()).newEngine()
	assert.Error(t, err, "aead cipher needs a master secret")

	cfg = testConfig()
	cfg.MXE.EphemeralKey = false
	_, err = New(cfg, discard()).newEngine()
	assert.Error(t, err, "no key source configured")
}

func TestEscrowRegistrar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := storemem.New()
	bus := cachemem.NewSignalBus()
	vault := transfer.NewVault()
	l := ledger.New(ledger.Deps{
		Markets:     storemem.NewMarketStore(db),
		Bets:        storemem.NewBetStore(db),
		Jobs:        storemem.NewJobStore(db),
		Settlements: storemem.NewSettlementStore(db),
		Audit:       storemem.NewAuditStore(db),
		Locks:       cachemem.NewLockManager(),
		Transfers:   vault,
		Bus:         bus,
	}, ledger.DefaultConfig(), discard())

	create := func(seed string) domain.Market {
		m, err := l.CreateMarket(ctx, ledger.CreateMarketParams{
			Creator:   "alice",
			Seed:      seed,
			Question:  "Will it rain?",
			Deadline:  time.Now().Add(time.Hour),
			Authority: "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		})
		require.NoError(t, err)
		return m
	}
	escrowPays := func(m domain.Market) error {
		return vault.Transfer(ctx, domain.TransferRequest{
			From:           m.Escrow,
			To:             "bob",
			Amount:         1,
			Authority:      domain.EscrowAuthorityAddress(m.ID),
			IdempotencyKey: "payout:" + m.ID,
		})
	}

	// Created before the registrar starts: covered by the sweep.
	early := create("early")
	vault.Fund(early.Escrow, 10)
	require.ErrorIs(t, escrowPays(early), transfer.ErrBadAuthority)

	reg, err := newEscrowRegistrar(ctx, vault, bus, discard())
	require.NoError(t, err)
	n, err := reg.Sweep(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, escrowPays(early))

	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	// Created afterwards: covered by the event.
	late := create("late")
	vault.Fund(late.Escrow, 10)
	require.Eventually(t, func() bool {
		return escrowPays(late) == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("registrar did not stop")
	}
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "trade"
	a := New(cfg, discard())
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestFullMode_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = freePort(t)

	a := New(cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			assert.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("full mode did not shut down")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
