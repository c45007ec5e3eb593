package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// JobStore implements domain.JobStore using PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new JobStore backed by the given connection pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobCols = `id, market_id, attempt, status, callback_target, encrypted_oracle, error, created_at, updated_at`

func scanJob(row pgx.Row) (domain.ResolutionJob, error) {
	var (
		j      domain.ResolutionJob
		status string
	)
	err := row.Scan(&j.ID, &j.MarketID, &j.Attempt, &status, &j.CallbackTarget,
		&j.EncryptedOracle, &j.Error, &j.Timestamp, &j.UpdatedAt)
	if err != nil {
		return domain.ResolutionJob{}, err
	}
	j.Status = domain.JobStatus(status)
	return j, nil
}

func (s *JobStore) Create(ctx context.Context, job domain.ResolutionJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resolution_jobs (id, market_id, attempt, status, callback_target, encrypted_oracle, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		job.ID, job.MarketID, job.Attempt, string(job.Status), job.CallbackTarget,
		job.EncryptedOracle, job.Error, job.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create job %s: %w", job.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id string) (domain.ResolutionJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM resolution_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionJob{}, domain.ErrNotFound
		}
		return domain.ResolutionJob{}, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	return j, nil
}

// Latest returns the job with the highest attempt number for marketID.
func (s *JobStore) Latest(ctx context.Context, marketID string) (domain.ResolutionJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM resolution_jobs WHERE market_id = $1 ORDER BY attempt DESC LIMIT 1`, marketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionJob{}, domain.ErrNotFound
		}
		return domain.ResolutionJob{}, fmt.Errorf("postgres: latest job %s: %w", marketID, err)
	}
	return j, nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, id string, from, to domain.JobStatus, errMsg string) (domain.ResolutionJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE resolution_jobs SET status = $3, error = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+jobCols,
		id, string(from), string(to), errMsg,
	))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ResolutionJob{}, fmt.Errorf("postgres: update job %s: %w", id, err)
	}
	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		return domain.ResolutionJob{}, getErr
	}
	return domain.ResolutionJob{}, fmt.Errorf("postgres: job %s is not %s: %w", id, from, domain.ErrStateConflict)
}

var _ domain.JobStore = (*JobStore)(nil)
