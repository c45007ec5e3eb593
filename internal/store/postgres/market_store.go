package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, creator, seed, question, deadline, authority, escrow,
	fee_bps, total_pool, bet_count, state, result_hash, created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		fee        int32
		pool, bets int64
		state      string
		hash       []byte
	)
	err := row.Scan(
		&m.ID, &m.Creator, &m.Seed, &m.Question, &m.Deadline, &m.Authority, &m.Escrow,
		&fee, &pool, &bets, &state, &hash, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.FeeBps = uint16(fee)
	m.TotalPool = uint64(pool)
	m.BetCount = uint64(bets)
	m.State = domain.MarketState(state)
	if len(hash) == len(m.ResultHash) {
		copy(m.ResultHash[:], hash)
	}
	return m, nil
}

func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, creator, seed, question, deadline, authority, escrow,
			fee_bps, total_pool, bet_count, state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9, $10, $10)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Creator, m.Seed, m.Question, m.Deadline, m.Authority, m.Escrow,
		int32(m.FeeBps), string(m.State), m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first, optionally filtered by state.
func (s *MarketStore) List(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	var q listQuery
	if state != "" {
		q.add("state = $%d", string(state))
	}
	q.window("created_at", opts)
	query := q.build(`SELECT `+marketCols+` FROM markets`, "created_at DESC, id", opts)

	rows, err := s.pool.Query(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Transition is a conditional UPDATE on the current state.
func (s *MarketStore) Transition(ctx context.Context, id string, from, to domain.MarketState) (domain.Market, error) {
	if !from.CanTransition(to) {
		return domain.Market{}, fmt.Errorf("postgres: transition %s -> %s: %w", from, to, domain.ErrInvalidState)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE markets SET state = $3, updated_at = NOW()
		WHERE id = $1 AND state = $2
		RETURNING `+marketCols,
		id, string(from), string(to),
	)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, marketNoMatch(ctx, s.pool, id, err, fmt.Sprintf("transition %s -> %s", from, to))
	}
	return m, nil
}

// CompleteSettlement marks a settling market settled once its settlement
// cursor has covered every payout.
func (s *MarketStore) CompleteSettlement(ctx context.Context, id string, resultHash domain.Hash) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE markets SET state = 'settled', result_hash = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'settling'
		  AND EXISTS (
			SELECT 1 FROM settlements st
			WHERE st.market_id = $1 AND st.payout_cursor >= jsonb_array_length(st.payouts)
		  )
		RETURNING `+marketCols,
		id, resultHash[:],
	)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, marketNoMatch(ctx, s.pool, id, err, "complete settlement")
	}
	return m, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// marketNoMatch turns a conditional UPDATE that matched no row into ErrNotFound
// or ErrStateConflict.
func marketNoMatch(ctx context.Context, q querier, id string, err error, op string) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("postgres: %s %s: %w", op, id, domain.ErrStateConflict)
}

var _ domain.MarketStore = (*MarketStore)(nil)
