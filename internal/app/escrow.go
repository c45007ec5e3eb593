package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/platform/transfer"
)

// marketLister is the slice of the ledger the escrow registrar reads.
type marketLister interface {
	ListMarkets(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error)
}

// escrowRegistrar grants each market's escrow authority the right to debit
// the market's escrow account in the in-process vault. A remote transfer
// service derives the same authority on its own.
type escrowRegistrar struct {
	vault  *transfer.Vault
	events <-chan []byte
	logger *slog.Logger
}

// newEscrowRegistrar subscribes to market events before returning so that no
// market created after startup is missed.
func newEscrowRegistrar(ctx context.Context, vault *transfer.Vault, bus domain.SignalBus, logger *slog.Logger) (*escrowRegistrar, error) {
	events, err := bus.Subscribe(ctx, domain.ChannelMarketEvents)
	if err != nil {
		return nil, fmt.Errorf("escrow: subscribe: %w", err)
	}
	return &escrowRegistrar{
		vault:  vault,
		events: events,
		logger: logger.With(slog.String("component", "escrow_registrar")),
	}, nil
}

// Sweep registers every market already in the store.
func (r *escrowRegistrar) Sweep(ctx context.Context, markets marketLister) (int, error) {
	const pageSize = 500
	n := 0
	for offset := 0; ; offset += pageSize {
		page, err := markets.ListMarkets(ctx, "", domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return n, fmt.Errorf("escrow: sweep: %w", err)
		}
		for _, m := range page {
			r.register(m.ID)
			n++
		}
		if len(page) < pageSize {
			return n, nil
		}
	}
}

// Run registers the market named by every event until ctx is cancelled.
// Registration is idempotent, so a dropped market_created event is covered
// by any later event for the same market.
func (r *escrowRegistrar) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-r.events:
			if !ok {
				return nil
			}
			var ev domain.MarketEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				r.logger.WarnContext(ctx, "escrow: bad event", slog.String("error", err.Error()))
				continue
			}
			if ev.MarketID == "" {
				continue
			}
			r.register(ev.MarketID)
			if ev.Type == domain.EventMarketCreated {
				r.logger.DebugContext(ctx, "escrow: registered", slog.String("market_id", ev.MarketID))
			}
		}
	}
}

func (r *escrowRegistrar) register(marketID string) {
	r.vault.SetAuthority(domain.EscrowAddress(marketID), domain.EscrowAuthorityAddress(marketID))
}
