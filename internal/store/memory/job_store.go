package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// JobStore implements domain.JobStore.
type JobStore struct {
	db *DB
}

// NewJobStore creates a JobStore over db.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(_ context.Context, job domain.ResolutionJob) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.jobs[job.ID]; ok {
		return fmt.Errorf("memory: create job %s: %w", job.ID, domain.ErrAlreadyExists)
	}
	s.db.jobs[job.ID] = cloneJob(job)
	s.db.marketJobs[job.MarketID] = append(s.db.marketJobs[job.MarketID], job.ID)
	return nil
}

func (s *JobStore) GetByID(_ context.Context, id string) (domain.ResolutionJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	j, ok := s.db.jobs[id]
	if !ok {
		return domain.ResolutionJob{}, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

// Latest returns the job with the highest attempt number for marketID.
func (s *JobStore) Latest(_ context.Context, marketID string) (domain.ResolutionJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var (
		latest domain.ResolutionJob
		found  bool
	)
	for _, id := range s.db.marketJobs[marketID] {
		j := s.db.jobs[id]
		if !found || j.Attempt > latest.Attempt {
			latest, found = j, true
		}
	}
	if !found {
		return domain.ResolutionJob{}, domain.ErrNotFound
	}
	return cloneJob(latest), nil
}

func (s *JobStore) UpdateStatus(_ context.Context, id string, from, to domain.JobStatus, errMsg string) (domain.ResolutionJob, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	j, ok := s.db.jobs[id]
	if !ok {
		return domain.ResolutionJob{}, domain.ErrNotFound
	}
	if j.Status != from {
		return domain.ResolutionJob{}, fmt.Errorf("memory: job %s is %s, not %s: %w", id, j.Status, from, domain.ErrStateConflict)
	}
	j.Status = to
	j.Error = errMsg
	j.UpdatedAt = s.db.stamp()
	s.db.jobs[id] = j
	return cloneJob(j), nil
}

var _ domain.JobStore = (*JobStore)(nil)
