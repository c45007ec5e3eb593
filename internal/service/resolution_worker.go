package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
	"github.com/alanyoungcy/sealedmarket/internal/mxe"
)

// WorkerConfig tunes a ResolutionWorker.
type WorkerConfig struct {
	Stream    string
	BatchSize int
	// PollInterval is the pause after a failed stream read.
	PollInterval time.Duration
	// SettleBackoff is the pause between settlement retries after a
	// transfer failure.
	SettleBackoff time.Duration
}

// ResolutionWorker consumes the job stream. For each job it builds the
// computation request from the bet log, runs it on the Computer, and hands
// the attested result to the ledger.
type ResolutionWorker struct {
	ledger   *ledger.Ledger
	computer mxe.Computer
	bus      domain.SignalBus
	cfg      WorkerConfig
	lastID   string
	logger   *slog.Logger
}

// NewResolutionWorker creates a worker that reads the stream from the start.
func NewResolutionWorker(l *ledger.Ledger, computer mxe.Computer, bus domain.SignalBus, cfg WorkerConfig, logger *slog.Logger) *ResolutionWorker {
	if cfg.Stream == "" {
		cfg.Stream = domain.StreamResolutionJobs
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SettleBackoff <= 0 {
		cfg.SettleBackoff = 2 * time.Second
	}
	return &ResolutionWorker{
		ledger:   l,
		computer: computer,
		bus:      bus,
		cfg:      cfg,
		lastID:   "0",
		logger:   logger.With(slog.String("component", "resolution_worker")),
	}
}

// Run processes jobs until ctx is cancelled.
func (w *ResolutionWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "resolution_worker: starting", slog.String("stream", w.cfg.Stream))
	for {
		msgs, err := w.bus.StreamRead(ctx, w.cfg.Stream, w.lastID, w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.InfoContext(ctx, "resolution_worker: stopped")
				return nil
			}
			w.logger.ErrorContext(ctx, "resolution_worker: stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		for _, msg := range msgs {
			w.lastID = msg.ID
			var jm domain.JobMessage
			if err := json.Unmarshal(msg.Payload, &jm); err != nil {
				w.logger.WarnContext(ctx, "resolution_worker: bad job message",
					slog.String("id", msg.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := w.Process(ctx, jm.JobID); err != nil {
				w.logger.ErrorContext(ctx, "resolution_worker: job failed",
					slog.String("job_id", jm.JobID),
					slog.String("market_id", jm.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Process runs one job. Jobs that are no longer pending are skipped.
func (w *ResolutionWorker) Process(ctx context.Context, jobID string) error {
	job, err := w.ledger.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolution_worker: load job %s: %w", jobID, err)
	}
	if job.Status != domain.JobStatusPending {
		w.logger.DebugContext(ctx, "resolution_worker: skipping job",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)),
		)
		return nil
	}
	job, err = w.ledger.MarkJob(ctx, jobID, domain.JobStatusRunning, "")
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) || errors.Is(err, domain.ErrInvalidJobStatus) {
			return nil
		}
		return err
	}

	req, err := w.buildRequest(ctx, job)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	start := time.Now()
	resp, err := w.computer.Resolve(ctx, req)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("compute: %w", err))
	}
	w.logger.InfoContext(ctx, "resolution_worker: result attested",
		slog.String("market_id", job.MarketID),
		slog.Int("winning_choice", int(resp.Result.WinningChoice)),
		slog.Int("payouts", len(resp.Result.Payouts)),
		slog.Int("excluded", len(resp.Result.Excluded)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return w.settle(ctx, job, resp)
}

func (w *ResolutionWorker) buildRequest(ctx context.Context, job domain.ResolutionJob) (domain.ResolutionRequest, error) {
	m, err := w.ledger.GetMarket(ctx, job.MarketID)
	if err != nil {
		return domain.ResolutionRequest{}, err
	}
	bets, err := w.ledger.ListBets(ctx, job.MarketID, domain.ListOpts{})
	if err != nil {
		return domain.ResolutionRequest{}, err
	}

	req := domain.ResolutionRequest{
		MarketID:        m.ID,
		EncryptedBets:   make([]domain.EncryptedBet, 0, len(bets)),
		EncryptedOracle: job.EncryptedOracle,
		FeeBps:          m.FeeBps,
		Timestamp:       job.Timestamp.Unix(),
	}
	for _, b := range bets {
		req.EncryptedBets = append(req.EncryptedBets, domain.EncryptedBet{
			Depositor:      b.Depositor,
			EncryptedBlob:  b.EncryptedBlob,
			DeclaredAmount: b.Amount,
		})
	}
	return req, nil
}

// settle delivers the result to the ledger. Transfer failures are retried
// with the same result until the ledger either completes or gives up on
// the market.
func (w *ResolutionWorker) settle(ctx context.Context, job domain.ResolutionJob, resp domain.ResolutionResponse) error {
	for {
		_, err := w.ledger.Settle(ctx, job.MarketID, resp.ResultBytes, resp.Signature)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrTransferFailed) {
			if errors.Is(err, domain.ErrAlreadySettled) {
				return nil
			}
			return w.fail(ctx, job, fmt.Errorf("settle: %w", err))
		}

		m, getErr := w.ledger.GetMarket(ctx, job.MarketID)
		if getErr != nil {
			return fmt.Errorf("resolution_worker: settle %s: %w", job.MarketID, errors.Join(err, getErr))
		}
		if m.State != domain.MarketStateSettling {
			return err
		}
		w.logger.WarnContext(ctx, "resolution_worker: settlement transfer failed, retrying",
			slog.String("market_id", job.MarketID),
			slog.Duration("backoff", w.cfg.SettleBackoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.SettleBackoff):
		}
	}
}

// fail marks job failed so the market can be retried, and returns cause.
func (w *ResolutionWorker) fail(ctx context.Context, job domain.ResolutionJob, cause error) error {
	if _, err := w.ledger.MarkJob(ctx, job.ID, domain.JobStatusFailed, cause.Error()); err != nil {
		w.logger.WarnContext(ctx, "resolution_worker: mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("resolution_worker: job %s: %w", job.ID, cause)
}
