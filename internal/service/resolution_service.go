package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
)

// ResolutionService turns resolution requests into ledger jobs and queues
// them on the job stream for a ResolutionWorker.
type ResolutionService struct {
	ledger *ledger.Ledger
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewResolutionService creates a ResolutionService. An empty stream means
// domain.StreamResolutionJobs.
func NewResolutionService(l *ledger.Ledger, bus domain.SignalBus, stream string, logger *slog.Logger) *ResolutionService {
	if stream == "" {
		stream = domain.StreamResolutionJobs
	}
	return &ResolutionService{
		ledger: l,
		bus:    bus,
		stream: stream,
		logger: logger.With(slog.String("component", "resolution_service")),
	}
}

// Request enqueues resolution for an open market past its deadline. For a
// market already enqueued whose last attempt failed it starts a new attempt.
func (s *ResolutionService) Request(ctx context.Context, marketID string, p ledger.EnqueueParams) (domain.ResolutionJob, error) {
	m, err := s.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("resolution_service: request %s: %w", marketID, err)
	}

	var job domain.ResolutionJob
	if m.State == domain.MarketStateEnqueued {
		job, err = s.ledger.RetryResolution(ctx, marketID, p)
	} else {
		job, err = s.ledger.EnqueueResolution(ctx, marketID, p)
	}
	if err != nil {
		return domain.ResolutionJob{}, err
	}

	if err := s.queue(ctx, job); err != nil {
		return job, err
	}
	s.logger.InfoContext(ctx, "resolution_service: job queued",
		slog.String("market_id", marketID),
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
	)
	return job, nil
}

// Requeue re-appends the pending job of every enqueued market. It recovers
// jobs whose stream append was lost, e.g. across a restart. Workers skip
// jobs that are no longer pending, so duplicates are harmless.
func (s *ResolutionService) Requeue(ctx context.Context) (int, error) {
	markets, err := s.ledger.ListMarkets(ctx, domain.MarketStateEnqueued, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("resolution_service: requeue: %w", err)
	}
	n := 0
	for _, m := range markets {
		job, err := s.ledger.LatestJob(ctx, m.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return n, fmt.Errorf("resolution_service: requeue %s: %w", m.ID, err)
		}
		if job.Status != domain.JobStatusPending {
			continue
		}
		if err := s.queue(ctx, job); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "resolution_service: requeued pending jobs", slog.Int("count", n))
	}
	return n, nil
}

func (s *ResolutionService) queue(ctx context.Context, job domain.ResolutionJob) error {
	payload, err := json.Marshal(domain.JobMessage{JobID: job.ID, MarketID: job.MarketID})
	if err != nil {
		return fmt.Errorf("resolution_service: marshal job %s: %w", job.ID, err)
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		return fmt.Errorf("resolution_service: queue job %s: %w", job.ID, err)
	}
	return nil
}
