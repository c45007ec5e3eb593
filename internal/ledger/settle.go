package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// Settle applies an attested result to an enqueued market.
//
// The result is verified before anything changes. The market then moves to
// settling together with a payout cursor, and payouts are transferred from
// escrow one by one, advancing the cursor after each. When every payout is
// done the market is settled and the result hash recorded. A transfer failure
// stops the batch and leaves the market settling; repeating the same callback
// resumes from the cursor. After MaxTransferAttempts failures the market is
// marked failed.
//
// A settled market rejects every further callback with ErrAlreadySettled.
func (l *Ledger) Settle(ctx context.Context, marketID string, resultBytes, sig []byte) (domain.Market, error) {
	unlock, err := l.lock(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: settle %s: %w", marketID, err)
	}
	switch m.State {
	case domain.MarketStateSettled:
		return domain.Market{}, domain.Guard("not_settled", domain.ErrAlreadySettled)
	case domain.MarketStateEnqueued, domain.MarketStateSettling:
	default:
		return domain.Market{}, domain.Guard("market_enqueued", fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.State))
	}

	result, err := VerifyResult(m, resultBytes, sig)
	if err != nil {
		l.logger.WarnContext(ctx, "ledger: callback rejected",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return domain.Market{}, err
	}
	hash := domain.Hash(crypto.ResultHash(resultBytes))

	var s domain.Settlement
	if m.State == domain.MarketStateEnqueued {
		now := l.now().UTC()
		s = domain.Settlement{
			MarketID:    m.ID,
			ResultHash:  hash,
			ResultBytes: resultBytes,
			Signature:   sig,
			Payouts:     result.Payouts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m, err = l.settlements.Begin(ctx, s)
		if err != nil {
			if errors.Is(err, domain.ErrStateConflict) {
				return domain.Market{}, domain.Guard("market_enqueued", fmt.Errorf("%w: %v", domain.ErrInvalidState, err))
			}
			return domain.Market{}, fmt.Errorf("ledger: settle %s: begin: %w", marketID, err)
		}
		l.record(ctx, domain.EventSettlementStarted, m, hash.Hex())
	} else {
		s, err = l.settlements.Get(ctx, m.ID)
		if err != nil {
			return domain.Market{}, fmt.Errorf("ledger: settle %s: load cursor: %w", marketID, err)
		}
		if s.ResultHash != hash {
			return domain.Market{}, domain.Guard("same_result",
				fmt.Errorf("%w: settling %s, callback %s", domain.ErrSettlementConflict, s.ResultHash.Hex(), hash.Hex()))
		}
	}

	if err := l.payout(ctx, m, &s); err != nil {
		return domain.Market{}, l.transferFailed(ctx, m, err)
	}

	m, err = l.markets.CompleteSettlement(ctx, m.ID, hash)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: settle %s: complete: %w", marketID, err)
	}
	l.finishJob(ctx, m.ID, domain.JobStatusCompleted, "")
	l.record(ctx, domain.EventMarketSettled, m, hash.Hex())

	if l.archiver != nil {
		if err := l.archiver.Archive(ctx, m, s); err != nil {
			l.logger.WarnContext(ctx, "ledger: archive attestation failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	rest := unallocated(m, result)
	if rest > 0 {
		l.logger.WarnContext(ctx, "ledger: escrow retains unallocated funds",
			slog.String("market_id", m.ID),
			slog.Uint64("unallocated", rest),
			slog.Int("excluded_bets", len(result.Excluded)),
		)
	}
	l.notify(ctx, domain.MarketEvent{
		Type:     domain.EventMarketSettled,
		MarketID: m.ID,
		State:    m.State,
		Detail: fmt.Sprintf("winning choice %d, pool %d, fee %d, dust %d, unallocated %d, %d payouts",
			result.WinningChoice, result.TotalPool, result.FeeAmount, result.Dust, rest, len(result.Payouts)),
		At:       l.now().UTC(),
	})
	return m, nil
}

// payout transfers every payout from the cursor on, persisting the cursor
// after each one. Transfers carry a key derived from the payout index so a
// retried transfer is applied at most once by the service.
func (l *Ledger) payout(ctx context.Context, m domain.Market, s *domain.Settlement) error {
	authority := m.EscrowAuthority()
	for i := s.Cursor; i < len(s.Payouts); i++ {
		p := s.Payouts[i]
		if p.Amount > 0 {
			err := l.transfers.Transfer(ctx, domain.TransferRequest{
				From:           m.Escrow,
				To:             p.Recipient,
				Amount:         p.Amount,
				Authority:      authority,
				IdempotencyKey: fmt.Sprintf("settle:%s:%d", m.ID, i),
			})
			if err != nil {
				return fmt.Errorf("payout %d to %s: %w", i, p.Recipient, err)
			}
		}
		if err := l.settlements.Advance(ctx, m.ID, i+1); err != nil {
			return fmt.Errorf("advance cursor to %d: %w", i+1, err)
		}
		s.Cursor = i + 1
	}
	return nil
}

// transferFailed records a failed payout batch and, once the attempt budget
// is spent, moves the market to failed.
func (l *Ledger) transferFailed(ctx context.Context, m domain.Market, cause error) error {
	guardErr := domain.Guard("transfers", fmt.Errorf("%w: %v", domain.ErrTransferFailed, cause))

	attempts, err := l.settlements.RecordFailure(ctx, m.ID)
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger: record transfer failure",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return guardErr
	}
	l.logger.WarnContext(ctx, "ledger: payout batch stopped",
		slog.String("market_id", m.ID),
		slog.Int("attempts", attempts),
		slog.Int("max_attempts", l.cfg.MaxTransferAttempts),
		slog.String("error", cause.Error()),
	)
	if attempts < l.cfg.MaxTransferAttempts {
		return guardErr
	}

	failed, err := l.markets.Transition(ctx, m.ID, domain.MarketStateSettling, domain.MarketStateFailed)
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger: mark market failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return guardErr
	}
	l.finishJob(ctx, m.ID, domain.JobStatusFailed, cause.Error())
	l.record(ctx, domain.EventSettlementFailed, failed, cause.Error())
	l.notify(ctx, domain.MarketEvent{
		Type:     domain.EventSettlementFailed,
		MarketID: failed.ID,
		State:    failed.State,
		Detail:   fmt.Sprintf("gave up after %d attempts: %v", attempts, cause),
		At:       l.now().UTC(),
	})
	return guardErr
}

// finishJob moves the market's latest job to a final status, passing
// through running if it was still pending.
func (l *Ledger) finishJob(ctx context.Context, marketID string, to domain.JobStatus, errMsg string) {
	job, err := l.jobs.Latest(ctx, marketID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.WarnContext(ctx, "ledger: load job", slog.String("market_id", marketID), slog.String("error", err.Error()))
		}
		return
	}
	if job.Status == domain.JobStatusPending && to == domain.JobStatusCompleted {
		running, err := l.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusRunning, "")
		if err != nil {
			l.logger.WarnContext(ctx, "ledger: update job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			return
		}
		job = running
	}
	if !job.Status.CanTransition(to) {
		return
	}
	if _, err := l.jobs.UpdateStatus(ctx, job.ID, job.Status, to, errMsg); err != nil {
		l.logger.WarnContext(ctx, "ledger: update job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

func (l *Ledger) notify(ctx context.Context, ev domain.MarketEvent) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.NotifyMarket(ctx, ev); err != nil {
		l.logger.WarnContext(ctx, "ledger: notify failed",
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
