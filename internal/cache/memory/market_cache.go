package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

type cachedMarket struct {
	market  domain.Market
	expires time.Time
}

// MarketCache implements domain.MarketCache with expiring map entries.
type MarketCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	markets map[string]cachedMarket
}

// NewMarketCache creates a MarketCache whose entries expire after ttl.
func NewMarketCache(ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MarketCache{ttl: ttl, markets: make(map[string]cachedMarket)}
}

func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = cachedMarket{market: m, expires: time.Now().Add(c.ttl)}
	return nil
}

func (c *MarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.markets[id]
	if !ok || time.Now().After(e.expires) {
		return domain.Market{}, domain.ErrNotFound
	}
	return e.market, nil
}

func (c *MarketCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
