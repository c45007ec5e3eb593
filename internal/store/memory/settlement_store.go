package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// SettlementStore implements domain.SettlementStore.
type SettlementStore struct {
	db *DB
}

// NewSettlementStore creates a SettlementStore over db.
func NewSettlementStore(db *DB) *SettlementStore {
	return &SettlementStore{db: db}
}

func (s *SettlementStore) Begin(_ context.Context, st domain.Settlement) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.settlements[st.MarketID]; ok {
		return domain.Market{}, fmt.Errorf("memory: begin settlement %s: %w", st.MarketID, domain.ErrStateConflict)
	}
	m, err := s.db.transitionLocked(st.MarketID, domain.MarketStateEnqueued, domain.MarketStateSettling)
	if err != nil {
		return domain.Market{}, err
	}
	st.Cursor = 0
	st.Attempts = 0
	s.db.settlements[st.MarketID] = cloneSettlement(st)
	return m, nil
}

func (s *SettlementStore) Get(_ context.Context, marketID string) (domain.Settlement, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	st, ok := s.db.settlements[marketID]
	if !ok {
		return domain.Settlement{}, domain.ErrNotFound
	}
	return cloneSettlement(st), nil
}

// Advance moves the cursor forward. It never moves backwards.
func (s *SettlementStore) Advance(_ context.Context, marketID string, cursor int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	st, ok := s.db.settlements[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if cursor < st.Cursor || cursor > len(st.Payouts) {
		return fmt.Errorf("memory: advance %s from %d to %d: %w", marketID, st.Cursor, cursor, domain.ErrStateConflict)
	}
	st.Cursor = cursor
	st.UpdatedAt = s.db.stamp()
	s.db.settlements[marketID] = st
	return nil
}

func (s *SettlementStore) RecordFailure(_ context.Context, marketID string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	st, ok := s.db.settlements[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	st.Attempts++
	st.UpdatedAt = s.db.stamp()
	s.db.settlements[marketID] = st
	return st.Attempts, nil
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
