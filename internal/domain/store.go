package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market records.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// List returns markets in the given state, or all markets when state is empty.
	List(ctx context.Context, state MarketState, opts ListOpts) ([]Market, error)
	// Transition moves a market from one state to another only if it is
	// currently in from. It returns ErrStateConflict otherwise.
	Transition(ctx context.Context, id string, from, to MarketState) (Market, error)
	// CompleteSettlement moves a market from settling to settled and records
	// the result hash.
	CompleteSettlement(ctx context.Context, id string, resultHash Hash) (Market, error)
}

// BetStore persists the append-only bet log.
type BetStore interface {
	// Append inserts bet and, in the same atomic step, adds bet.Amount to the
	// market pool and increments its bet count. The market must be open and
	// its bet count must equal bet.Sequence, otherwise ErrStateConflict.
	Append(ctx context.Context, bet BetLog) (Market, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]BetLog, error)
}

// JobStore persists resolution jobs.
type JobStore interface {
	Create(ctx context.Context, job ResolutionJob) error
	GetByID(ctx context.Context, id string) (ResolutionJob, error)
	Latest(ctx context.Context, marketID string) (ResolutionJob, error)
	// UpdateStatus moves a job from one status to another only if it is
	// currently in from.
	UpdateStatus(ctx context.Context, id string, from, to JobStatus, errMsg string) (ResolutionJob, error)
}

// SettlementStore persists payout cursors.
type SettlementStore interface {
	// Begin atomically moves the market from enqueued to settling and stores
	// the settlement with its cursor at zero.
	Begin(ctx context.Context, s Settlement) (Market, error)
	Get(ctx context.Context, marketID string) (Settlement, error)
	Advance(ctx context.Context, marketID string, cursor int) error
	// RecordFailure increments the failed-attempt counter and returns it.
	RecordFailure(ctx context.Context, marketID string) (int, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
