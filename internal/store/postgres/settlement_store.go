package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Begin moves the market to settling and inserts its settlement row in one
// transaction.
func (s *SettlementStore) Begin(ctx context.Context, st domain.Settlement) (domain.Market, error) {
	payouts, err := json.Marshal(st.Payouts)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: marshal payouts: %w", err)
	}
	if st.Payouts == nil {
		payouts = []byte("[]")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE markets SET state = 'settling', updated_at = NOW()
		WHERE id = $1 AND state = 'enqueued'
		RETURNING `+marketCols,
		st.MarketID,
	)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, marketNoMatch(ctx, tx, st.MarketID, err, "begin settlement")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO settlements (market_id, result_hash, result_bytes, signature, payouts, payout_cursor, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $6)`,
		st.MarketID, st.ResultHash[:], st.ResultBytes, st.Signature, payouts, st.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Market{}, fmt.Errorf("postgres: begin settlement %s: %w", st.MarketID, domain.ErrStateConflict)
		}
		return domain.Market{}, fmt.Errorf("postgres: insert settlement %s: %w", st.MarketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: commit settlement %s: %w", st.MarketID, err)
	}
	return m, nil
}

func (s *SettlementStore) Get(ctx context.Context, marketID string) (domain.Settlement, error) {
	var (
		st      domain.Settlement
		hash    []byte
		payouts []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT market_id, result_hash, result_bytes, signature, payouts, payout_cursor, attempts, created_at, updated_at
		FROM settlements WHERE market_id = $1`,
		marketID,
	).Scan(&st.MarketID, &hash, &st.ResultBytes, &st.Signature, &payouts, &st.Cursor, &st.Attempts, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", marketID, err)
	}
	if len(hash) != len(st.ResultHash) {
		return domain.Settlement{}, fmt.Errorf("postgres: settlement %s: %w", marketID, domain.ErrInvalidHash)
	}
	copy(st.ResultHash[:], hash)
	if err := json.Unmarshal(payouts, &st.Payouts); err != nil {
		return domain.Settlement{}, fmt.Errorf("postgres: unmarshal payouts %s: %w", marketID, err)
	}
	return st, nil
}

// Advance moves the cursor forward, never past the payout list.
func (s *SettlementStore) Advance(ctx context.Context, marketID string, cursor int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE settlements SET payout_cursor = $2, updated_at = NOW()
		WHERE market_id = $1 AND payout_cursor <= $2 AND $2 <= jsonb_array_length(payouts)`,
		marketID, cursor,
	)
	if err != nil {
		return fmt.Errorf("postgres: advance settlement %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, marketID); err != nil {
			return err
		}
		return fmt.Errorf("postgres: advance settlement %s to %d: %w", marketID, cursor, domain.ErrStateConflict)
	}
	return nil
}

func (s *SettlementStore) RecordFailure(ctx context.Context, marketID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE settlements SET attempts = attempts + 1, updated_at = NOW()
		WHERE market_id = $1
		RETURNING attempts`,
		marketID,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: record settlement failure %s: %w", marketID, err)
	}
	return attempts, nil
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
