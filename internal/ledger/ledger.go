// Package ledger is the settlement state machine. It owns market records,
// the bet log and resolution jobs, and is the only component that moves
// escrowed funds. Every mutating operation on a market runs under that
// market's lock and commits through compare-and-swap store updates.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// Config holds the ledger's tunable limits.
type Config struct {
	MaxBetsPerMarket    uint64
	MaxPool             uint64
	LockTTL             time.Duration
	LockWait            time.Duration
	MaxTransferAttempts int
	DefaultFeeBps       uint16
}

// DefaultConfig returns conservative defaults. MaxPool matches the BIGINT
// columns of the postgres store.
func DefaultConfig() Config {
	return Config{
		MaxBetsPerMarket:    10_000,
		MaxPool:             math.MaxInt64,
		LockTTL:             30 * time.Second,
		LockWait:            5 * time.Second,
		MaxTransferAttempts: 5,
		DefaultFeeBps:       100,
	}
}

// Notifier receives operator notifications for settled and failed markets.
type Notifier interface {
	NotifyMarket(ctx context.Context, ev domain.MarketEvent) error
}

// Deps groups the collaborators a Ledger needs. Bus, Archiver and Notifier
// are optional.
type Deps struct {
	Markets     domain.MarketStore
	Bets        domain.BetStore
	Jobs        domain.JobStore
	Settlements domain.SettlementStore
	Audit       domain.AuditStore
	Locks       domain.LockManager
	Transfers   domain.AssetTransferer
	Bus         domain.SignalBus
	Archiver    domain.AttestationArchiver
	Notifier    Notifier
}

// Ledger implements the market lifecycle: open, enqueued, settling, and
// one of settled, failed or cancelled.
type Ledger struct {
	markets     domain.MarketStore
	bets        domain.BetStore
	jobs        domain.JobStore
	settlements domain.SettlementStore
	audit       domain.AuditStore
	locks       domain.LockManager
	transfers   domain.AssetTransferer
	bus         domain.SignalBus
	archiver    domain.AttestationArchiver
	notifier    Notifier
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a Ledger.
func New(deps Deps, cfg Config, logger *slog.Logger) *Ledger {
	if cfg.MaxPool == 0 {
		cfg.MaxPool = math.MaxInt64
	}
	if cfg.MaxTransferAttempts <= 0 {
		cfg.MaxTransferAttempts = 1
	}
	return &Ledger{
		markets:     deps.Markets,
		bets:        deps.Bets,
		jobs:        deps.Jobs,
		settlements: deps.Settlements,
		audit:       deps.Audit,
		locks:       deps.Locks,
		transfers:   deps.Transfers,
		bus:         deps.Bus,
		archiver:    deps.Archiver,
		notifier:    deps.Notifier,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "ledger")),
	}
}

// SetClock replaces the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// CreateMarketParams describes a new market.
type CreateMarketParams struct {
	Creator   string    `json:"creator"`
	Seed      string    `json:"seed"`
	Question  string    `json:"question"`
	Deadline  time.Time `json:"deadline"`
	Authority string    `json:"authority"`
	// FeeBps nil means the configured default.
	FeeBps *uint16 `json:"fee_bps,omitempty"`
}

// CreateMarket registers a new open market with a derived ID and escrow.
func (l *Ledger) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	if strings.TrimSpace(p.Creator) == "" {
		return domain.Market{}, domain.Guard("creator", fmt.Errorf("%w: empty creator", domain.ErrInvalidAddress))
	}
	if utf8.RuneCountInString(p.Question) > domain.MaxQuestionLen {
		return domain.Market{}, domain.Guard("question_length", domain.ErrQuestionTooLong)
	}
	now := l.now()
	if !p.Deadline.After(now) {
		return domain.Market{}, domain.Guard("deadline_in_future", domain.ErrInvalidDeadline)
	}
	authority, ok := domain.NormalizeAddress(p.Authority)
	if !ok {
		return domain.Market{}, domain.Guard("authority_address", domain.ErrInvalidAddress)
	}
	fee := l.cfg.DefaultFeeBps
	if p.FeeBps != nil {
		fee = *p.FeeBps
	}
	if fee > domain.MaxFeeBps {
		return domain.Market{}, domain.Guard("fee_bps", domain.ErrInvalidFee)
	}

	id := domain.MarketAddress(p.Creator, p.Seed)
	m := domain.Market{
		ID:        id,
		Creator:   p.Creator,
		Seed:      p.Seed,
		Question:  p.Question,
		Deadline:  p.Deadline.UTC(),
		Authority: authority,
		Escrow:    domain.EscrowAddress(id),
		FeeBps:    fee,
		State:     domain.MarketStateOpen,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := l.markets.Create(ctx, m); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Market{}, domain.Guard("unique_market", err)
		}
		return domain.Market{}, fmt.Errorf("ledger: create market: %w", err)
	}

	l.record(ctx, domain.EventMarketCreated, m, "")
	return m, nil
}

// DepositParams describes one wager.
type DepositParams struct {
	MarketID      string `json:"market_id"`
	Depositor     string `json:"depositor"`
	Amount        uint64 `json:"amount"`
	EncryptedBlob []byte `json:"encrypted_blob"`
	ChoiceHint    uint8  `json:"choice_hint"`
	// Sequence, when set, must equal the market's bet count. A signed
	// deposit names its sequence so that it cannot be replayed.
	Sequence *uint64 `json:"sequence,omitempty"`
}

// DepositBet escrows the declared amount from the depositor and appends the
// encrypted bet to the market's log.
func (l *Ledger) DepositBet(ctx context.Context, p DepositParams) (domain.BetLog, error) {
	if strings.TrimSpace(p.Depositor) == "" {
		return domain.BetLog{}, domain.Guard("depositor", fmt.Errorf("%w: empty depositor", domain.ErrInvalidAddress))
	}
	if p.Amount == 0 {
		return domain.BetLog{}, domain.Guard("positive_amount", domain.ErrInvalidAmount)
	}
	if len(p.EncryptedBlob) == 0 || len(p.EncryptedBlob) > domain.MaxBlobSize {
		return domain.BetLog{}, domain.Guard("blob_size", domain.ErrBlobTooLarge)
	}

	unlock, err := l.lock(ctx, p.MarketID)
	if err != nil {
		return domain.BetLog{}, err
	}
	defer unlock()

	m, err := l.markets.GetByID(ctx, p.MarketID)
	if err != nil {
		return domain.BetLog{}, fmt.Errorf("ledger: deposit %s: %w", p.MarketID, err)
	}
	if m.State != domain.MarketStateOpen {
		return domain.BetLog{}, domain.Guard("market_open", fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.State))
	}
	now := l.now()
	if !now.Before(m.Deadline) {
		return domain.BetLog{}, domain.Guard("before_deadline", domain.ErrDeadlinePassed)
	}
	if p.Sequence != nil && *p.Sequence != m.BetCount {
		return domain.BetLog{}, domain.Guard("sequence", fmt.Errorf("%w: sequence %d, market has %d bets", domain.ErrStateConflict, *p.Sequence, m.BetCount))
	}
	if l.cfg.MaxBetsPerMarket > 0 && m.BetCount >= l.cfg.MaxBetsPerMarket {
		return domain.BetLog{}, domain.Guard("bet_cap", domain.ErrBetCapReached)
	}
	if m.TotalPool > l.cfg.MaxPool || p.Amount > l.cfg.MaxPool-m.TotalPool {
		return domain.BetLog{}, domain.Guard("pool_cap", domain.ErrPoolOverflow)
	}

	seq := m.BetCount
	depositKey := fmt.Sprintf("deposit:%s:%d", m.ID, seq)
	if err := l.transfers.Transfer(ctx, domain.TransferRequest{
		From:           p.Depositor,
		To:             m.Escrow,
		Amount:         p.Amount,
		Authority:      p.Depositor,
		IdempotencyKey: depositKey,
	}); err != nil {
		return domain.BetLog{}, domain.Guard("escrow_deposit", fmt.Errorf("%w: %v", domain.ErrTransferFailed, err))
	}

	bet := domain.BetLog{
		ID:            domain.BetAddress(m.ID, p.Depositor, seq),
		MarketID:      m.ID,
		Depositor:     p.Depositor,
		Sequence:      seq,
		Amount:        p.Amount,
		EncryptedBlob: p.EncryptedBlob,
		ChoiceHint:    p.ChoiceHint,
		Timestamp:     now.UTC(),
	}
	m, err = l.bets.Append(ctx, bet)
	if err != nil {
		l.refundDeposit(ctx, bet, depositKey)
		return domain.BetLog{}, fmt.Errorf("ledger: append bet %s: %w", bet.MarketID, err)
	}

	l.record(ctx, domain.EventBetPlaced, m, bet.ID)
	return bet, nil
}

// refundDeposit returns an escrowed deposit whose bet could not be logged.
func (l *Ledger) refundDeposit(ctx context.Context, bet domain.BetLog, depositKey string) {
	err := l.transfers.Transfer(ctx, domain.TransferRequest{
		From:           domain.EscrowAddress(bet.MarketID),
		To:             bet.Depositor,
		Amount:         bet.Amount,
		Authority:      domain.EscrowAuthorityAddress(bet.MarketID),
		IdempotencyKey: "refund:" + depositKey,
	})
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger: deposit refund failed",
			slog.String("market_id", bet.MarketID),
			slog.String("depositor", bet.Depositor),
			slog.Uint64("amount", bet.Amount),
			slog.String("error", err.Error()),
		)
	}
}

// EnqueueParams carries the optional inputs of a resolution request.
type EnqueueParams struct {
	CallbackTarget  string `json:"callback_target"`
	EncryptedOracle []byte `json:"encrypted_oracle,omitempty"`
}

// EnqueueResolution closes betting on a market past its deadline and
// creates the first resolution job.
func (l *Ledger) EnqueueResolution(ctx context.Context, marketID string, p EnqueueParams) (domain.ResolutionJob, error) {
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return domain.ResolutionJob{}, err
	}
	defer unlock()

	m, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("ledger: enqueue %s: %w", marketID, err)
	}
	if m.State != domain.MarketStateOpen {
		return domain.ResolutionJob{}, domain.Guard("market_open", fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.State))
	}
	if l.now().Before(m.Deadline) {
		return domain.ResolutionJob{}, domain.Guard("deadline_reached", domain.ErrDeadlineNotReached)
	}
	if m.BetCount == 0 {
		return domain.ResolutionJob{}, domain.Guard("has_bets", domain.ErrNoBets)
	}

	m, err = l.markets.Transition(ctx, marketID, domain.MarketStateOpen, domain.MarketStateEnqueued)
	if err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("ledger: enqueue %s: %w", marketID, err)
	}
	// Betting is closed from here on. A market left enqueued without a job
	// is picked up by RetryResolution as attempt 1.
	job, err := l.newJob(ctx, m, 1, p)
	if err != nil {
		l.record(ctx, domain.EventMarketEnqueued, m, "")
		return domain.ResolutionJob{}, fmt.Errorf("ledger: enqueue %s: market is enqueued but has no job, retry resolution: %w", marketID, err)
	}

	l.record(ctx, domain.EventMarketEnqueued, m, job.ID)
	return job, nil
}

// RetryResolution creates a new job attempt for an enqueued market whose
// latest attempt failed.
func (l *Ledger) RetryResolution(ctx context.Context, marketID string, p EnqueueParams) (domain.ResolutionJob, error) {
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return domain.ResolutionJob{}, err
	}
	defer unlock()

	m, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("ledger: retry %s: %w", marketID, err)
	}
	if m.State != domain.MarketStateEnqueued {
		return domain.ResolutionJob{}, domain.Guard("market_enqueued", fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.State))
	}

	attempt := 1
	latest, err := l.jobs.Latest(ctx, marketID)
	switch {
	case err == nil:
		if latest.Status != domain.JobStatusFailed {
			return domain.ResolutionJob{}, domain.Guard("latest_job_failed",
				fmt.Errorf("%w: job %s is %s", domain.ErrJobNotFailed, latest.ID, latest.Status))
		}
		attempt = latest.Attempt + 1
		if p.EncryptedOracle == nil {
			p.EncryptedOracle = latest.EncryptedOracle
		}
		if p.CallbackTarget == "" {
			p.CallbackTarget = latest.CallbackTarget
		}
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ResolutionJob{}, fmt.Errorf("ledger: retry %s: %w", marketID, err)
	}

	job, err := l.newJob(ctx, m, attempt, p)
	if err != nil {
		return domain.ResolutionJob{}, err
	}
	l.record(ctx, domain.EventMarketEnqueued, m, job.ID)
	return job, nil
}

func (l *Ledger) newJob(ctx context.Context, m domain.Market, attempt int, p EnqueueParams) (domain.ResolutionJob, error) {
	now := l.now().UTC()
	job := domain.ResolutionJob{
		ID:              domain.JobAddress(m.ID, attempt),
		MarketID:        m.ID,
		Attempt:         attempt,
		Status:          domain.JobStatusPending,
		CallbackTarget:  p.CallbackTarget,
		EncryptedOracle: p.EncryptedOracle,
		Timestamp:       now,
		UpdatedAt:       now,
	}
	if err := l.jobs.Create(ctx, job); err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("ledger: create job for %s: %w", m.ID, err)
	}
	return job, nil
}

// MarkJob moves a resolution job along pending, running, completed|failed.
func (l *Ledger) MarkJob(ctx context.Context, jobID string, to domain.JobStatus, errMsg string) (domain.ResolutionJob, error) {
	job, err := l.jobs.GetByID(ctx, jobID)
	if err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("ledger: mark job %s: %w", jobID, err)
	}
	if !job.Status.CanTransition(to) {
		return domain.ResolutionJob{}, domain.Guard("job_transition",
			fmt.Errorf("%w: %s -> %s", domain.ErrInvalidJobStatus, job.Status, to))
	}
	job, err = l.jobs.UpdateStatus(ctx, jobID, job.Status, to, errMsg)
	if err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("ledger: mark job %s: %w", jobID, err)
	}

	if to == domain.JobStatusFailed {
		l.publish(ctx, domain.MarketEvent{
			Type:     domain.EventResolutionFailed,
			MarketID: job.MarketID,
			State:    domain.MarketStateEnqueued,
			Detail:   errMsg,
			At:       l.now().UTC(),
		})
	}
	return job, nil
}

// CancelMarket closes an open market that never received a bet. Only the
// creator may cancel.
func (l *Ledger) CancelMarket(ctx context.Context, marketID, caller string) (domain.Market, error) {
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: cancel %s: %w", marketID, err)
	}
	if caller != m.Creator {
		return domain.Market{}, domain.Guard("creator_only", domain.ErrUnauthorized)
	}
	if m.State != domain.MarketStateOpen {
		return domain.Market{}, domain.Guard("market_open", fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.State))
	}
	if m.BetCount != 0 {
		return domain.Market{}, domain.Guard("no_bets", domain.ErrCannotCancelWithBet)
	}

	m, err = l.markets.Transition(ctx, marketID, domain.MarketStateOpen, domain.MarketStateCancelled)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: cancel %s: %w", marketID, err)
	}
	l.record(ctx, domain.EventMarketCancelled, m, "")
	return m, nil
}

// GetMarket returns a market by ID.
func (l *Ledger) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return l.markets.GetByID(ctx, id)
}

// ListMarkets returns markets, optionally filtered by state.
func (l *Ledger) ListMarkets(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	return l.markets.List(ctx, state, opts)
}

// ListBets returns a market's bet log in sequence order.
func (l *Ledger) ListBets(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.BetLog, error) {
	return l.bets.ListByMarket(ctx, marketID, opts)
}

// LatestJob returns the most recent resolution job for a market.
func (l *Ledger) LatestJob(ctx context.Context, marketID string) (domain.ResolutionJob, error) {
	return l.jobs.Latest(ctx, marketID)
}

// GetJob returns a resolution job by ID.
func (l *Ledger) GetJob(ctx context.Context, jobID string) (domain.ResolutionJob, error) {
	return l.jobs.GetByID(ctx, jobID)
}

// GetSettlement returns the payout cursor of a settling or settled market.
func (l *Ledger) GetSettlement(ctx context.Context, marketID string) (domain.Settlement, error) {
	return l.settlements.Get(ctx, marketID)
}

// lock acquires the per-market lock, polling until LockWait elapses.
func (l *Ledger) lock(ctx context.Context, marketID string) (func(), error) {
	key := "market:" + marketID
	deadline := time.Now().Add(l.cfg.LockWait)
	for {
		unlock, err := l.locks.Acquire(ctx, key, l.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("ledger: lock %s: %w", marketID, err)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("ledger: lock %s: %w", marketID, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// record writes an audit entry and publishes a market event. Both are best
// effort; failures are logged.
func (l *Ledger) record(ctx context.Context, event string, m domain.Market, detail string) {
	if l.audit != nil {
		entry := map[string]any{
			"market_id": m.ID,
			"state":     string(m.State),
		}
		if detail != "" {
			entry["detail"] = detail
		}
		if err := l.audit.Log(ctx, event, entry); err != nil {
			l.logger.WarnContext(ctx, "ledger: audit log failed",
				slog.String("event", event),
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	l.publish(ctx, domain.MarketEvent{
		Type:     event,
		MarketID: m.ID,
		State:    m.State,
		Detail:   detail,
		At:       l.now().UTC(),
	})
	l.logger.InfoContext(ctx, "ledger: "+event,
		slog.String("market_id", m.ID),
		slog.String("state", string(m.State)),
	)
}

func (l *Ledger) publish(ctx context.Context, ev domain.MarketEvent) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := l.bus.Publish(ctx, domain.ChannelMarketEvents, payload); err != nil {
		l.logger.WarnContext(ctx, "ledger: publish event failed",
			slog.String("event", ev.Type),
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
