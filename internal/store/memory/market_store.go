package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	db *DB
}

// NewMarketStore creates a MarketStore over db.
func NewMarketStore(db *DB) *MarketStore {
	return &MarketStore{db: db}
}

func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.db.markets[m.ID] = m
	return nil
}

func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m, ok := s.db.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketStore) List(_ context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.Market
	for _, m := range s.db.markets {
		if state != "" && m.State != state {
			continue
		}
		if !inWindow(m.CreatedAt, opts) {
			continue
		}
		out = append(out, m)
	}
	sortMarkets(out)
	lo, hi := page(len(out), opts)
	return out[lo:hi], nil
}

func (s *MarketStore) Transition(_ context.Context, id string, from, to domain.MarketState) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	return s.db.transitionLocked(id, from, to)
}

func (s *MarketStore) CompleteSettlement(_ context.Context, id string, resultHash domain.Hash) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	st, ok := s.db.settlements[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: complete settlement %s: %w", id, domain.ErrNotFound)
	}
	if !st.Done() {
		return domain.Market{}, fmt.Errorf("memory: complete settlement %s: cursor %d of %d: %w",
			id, st.Cursor, len(st.Payouts), domain.ErrStateConflict)
	}
	m, err := s.db.transitionLocked(id, domain.MarketStateSettling, domain.MarketStateSettled)
	if err != nil {
		return domain.Market{}, err
	}
	m.ResultHash = resultHash
	s.db.markets[id] = m
	return m, nil
}

func (db *DB) transitionLocked(id string, from, to domain.MarketState) (domain.Market, error) {
	if !from.CanTransition(to) {
		return domain.Market{}, fmt.Errorf("memory: transition %s -> %s: %w", from, to, domain.ErrInvalidState)
	}
	m, ok := db.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if m.State != from {
		return domain.Market{}, fmt.Errorf("memory: market %s is %s, not %s: %w", id, m.State, from, domain.ErrStateConflict)
	}
	m.State = to
	m.UpdatedAt = db.stamp()
	db.markets[id] = m
	return m, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
