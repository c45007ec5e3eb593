package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// MarketReader is the read side of the ledger.
type MarketReader interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketService serves market reads through the market cache. It never
// takes part in ledger decisions.
type MarketService struct {
	markets MarketReader
	cache   domain.MarketCache
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(
	markets MarketReader,
	cache domain.MarketCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the ledger on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	}

	m, err := s.markets.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// ListMarkets reads straight from the ledger.
func (s *MarketService) ListMarkets(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListMarkets(ctx, state, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Run drops cache entries as market events arrive, until ctx is cancelled.
func (s *MarketService) Run(ctx context.Context) error {
	events, err := s.bus.Subscribe(ctx, domain.ChannelMarketEvents)
	if err != nil {
		return fmt.Errorf("market_service: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev domain.MarketEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				s.logger.WarnContext(ctx, "market_service: bad event", slog.String("error", err.Error()))
				continue
			}
			if err := s.cache.Invalidate(ctx, ev.MarketID); err != nil {
				s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
					slog.String("market_id", ev.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
