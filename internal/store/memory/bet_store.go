package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// BetStore implements domain.BetStore.
type BetStore struct {
	db *DB
}

// NewBetStore creates a BetStore over db.
func NewBetStore(db *DB) *BetStore {
	return &BetStore{db: db}
}

func (s *BetStore) Append(_ context.Context, bet domain.BetLog) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m, ok := s.db.markets[bet.MarketID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if m.State != domain.MarketStateOpen {
		return domain.Market{}, fmt.Errorf("memory: append bet: market %s is %s: %w", m.ID, m.State, domain.ErrStateConflict)
	}
	if m.BetCount != bet.Sequence {
		return domain.Market{}, fmt.Errorf("memory: append bet: sequence %d, expected %d: %w", bet.Sequence, m.BetCount, domain.ErrStateConflict)
	}
	pool := m.TotalPool + bet.Amount
	if pool < m.TotalPool {
		return domain.Market{}, domain.ErrPoolOverflow
	}

	s.db.bets[m.ID] = append(s.db.bets[m.ID], cloneBet(bet))
	m.TotalPool = pool
	m.BetCount++
	m.UpdatedAt = s.db.stamp()
	s.db.markets[m.ID] = m
	return m, nil
}

// ListByMarket returns bets in sequence order.
func (s *BetStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.BetLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.BetLog
	for _, b := range s.db.bets[marketID] {
		if inWindow(b.Timestamp, opts) {
			out = append(out, cloneBet(b))
		}
	}
	lo, hi := page(len(out), opts)
	return out[lo:hi], nil
}

var _ domain.BetStore = (*BetStore)(nil)
