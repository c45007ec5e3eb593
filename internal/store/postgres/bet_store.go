package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Append bumps the market's pool and bet count with a conditional UPDATE and
// inserts the bet row in the same transaction.
func (s *BetStore) Append(ctx context.Context, bet domain.BetLog) (domain.Market, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE markets
		SET total_pool = total_pool + $2, bet_count = bet_count + 1, updated_at = NOW()
		WHERE id = $1 AND state = 'open' AND bet_count = $3
		RETURNING `+marketCols,
		bet.MarketID, int64(bet.Amount), int64(bet.Sequence),
	)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, marketNoMatch(ctx, tx, bet.MarketID, err, "append bet")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bets (id, market_id, depositor, sequence, amount, encrypted_blob, choice_hint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		bet.ID, bet.MarketID, bet.Depositor, int64(bet.Sequence), int64(bet.Amount),
		bet.EncryptedBlob, int16(bet.ChoiceHint), bet.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Market{}, fmt.Errorf("postgres: insert bet %s: %w", bet.ID, domain.ErrStateConflict)
		}
		return domain.Market{}, fmt.Errorf("postgres: insert bet %s: %w", bet.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: commit bet %s: %w", bet.ID, err)
	}
	return m, nil
}

// ListByMarket returns bets in sequence order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.BetLog, error) {
	var q listQuery
	q.add("market_id = $%d", marketID)
	q.window("created_at", opts)
	query := q.build(`SELECT id, market_id, depositor, sequence, amount, encrypted_blob, choice_hint, created_at FROM bets`,
		"sequence", opts)

	rows, err := s.pool.Query(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.BetLog
	for rows.Next() {
		var (
			b           domain.BetLog
			seq, amount int64
			hint        int16
		)
		if err := rows.Scan(&b.ID, &b.MarketID, &b.Depositor, &seq, &amount, &b.EncryptedBlob, &hint, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Sequence = uint64(seq)
		b.Amount = uint64(amount)
		b.ChoiceHint = uint8(hint)
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

var _ domain.BetStore = (*BetStore)(nil)
