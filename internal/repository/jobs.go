// internal/repository/jobs.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/common/metrics"
	"push-dispatcher/internal/models"
)

// ErrLeaseLost is returned by writes made under a claim that no longer owns
// the job: the lease sweep moved it on, possibly to a newer claim.
var ErrLeaseLost = errors.New("job claim no longer held")

// JobStore owns reads and writes of notification_jobs.
type JobStore struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	logger       logger.Logger
	now          func() time.Time
}

func NewJobStore(db *sqlx.DB, queryTimeout time.Duration, log logger.Logger) *JobStore {
	return &JobStore{
		db:           db,
		queryTimeout: queryTimeout,
		logger:       log.WithFields(map[string]interface{}{"component": "job-store"}),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for updated_at.
func (s *JobStore) WithClock(now func() time.Time) *JobStore {
	s.now = now
	return s
}

func (s *JobStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Reserve claims up to limit of the oldest pending jobs. Each candidate is
// claimed with its own conditional update and only the rows this call
// actually flipped are returned, so overlapping callers never share a job.
// Any store error aborts the call with no jobs.
func (s *JobStore) Reserve(ctx context.Context, limit int) ([]models.NotificationJob, error) {
	if limit <= 0 {
		return []models.NotificationJob{}, nil
	}

	var ids []string
	if err := s.selectPendingIDs(ctx, limit, &ids); err != nil {
		return nil, apperrors.NewStoreError("select pending", err)
	}
	if len(ids) == 0 {
		return []models.NotificationJob{}, nil
	}

	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		won, err := s.claim(ctx, id)
		if err != nil {
			return nil, apperrors.NewStoreError("claim", err)
		}
		if won {
			claimed = append(claimed, id)
		}
	}

	if len(claimed) < len(ids) {
		s.logger.Debug("lost jobs to a concurrent claimer", map[string]interface{}{
			"candidates": len(ids),
			"claimed":    len(claimed),
		})
	}
	if len(claimed) == 0 {
		return []models.NotificationJob{}, nil
	}

	jobs, err := s.loadClaimed(ctx, claimed)
	if err != nil {
		return nil, apperrors.NewStoreError("load claimed", err)
	}

	metrics.JobsClaimed.Add(float64(len(jobs)))
	return jobs, nil
}

func (s *JobStore) selectPendingIDs(ctx context.Context, limit int, ids *[]string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.SelectContext(ctx, ids, s.db.Rebind(selectPendingIDsSQL), limit)
}

func (s *JobStore) claim(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(claimJobSQL), s.now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *JobStore) loadClaimed(ctx context.Context, ids []string) ([]models.NotificationJob, error) {
	query, args, err := sqlx.In(selectClaimedSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("expand claimed ids: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	jobs := make([]models.NotificationJob, 0, len(ids))
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkSent records a delivered job and clears its last error. attempt is the
// attempt count the job was claimed with.
func (s *JobStore) MarkSent(ctx context.Context, id string, attempt int) error {
	return s.transition(ctx, "mark sent", id, attempt, models.StatusSent, nil)
}

// MarkPending returns a job to the queue for another attempt.
func (s *JobStore) MarkPending(ctx context.Context, id string, attempt int, lastError string) error {
	return s.transition(ctx, "mark pending", id, attempt, models.StatusPending, &lastError)
}

// MarkFailed stops retrying a job.
func (s *JobStore) MarkFailed(ctx context.Context, id string, attempt int, lastError string) error {
	return s.transition(ctx, "mark failed", id, attempt, models.StatusFailed, &lastError)
}

func (s *JobStore) transition(ctx context.Context, op, id string, attempt int, status models.JobStatus, lastError *string) error {
	var errArg interface{}
	if lastError != nil {
		errArg = apperrors.Truncate(*lastError, apperrors.MaxErrorLength)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(transitionJobSQL), string(status), errArg, s.now(), id, attempt)
	if err != nil {
		return apperrors.NewStoreError(op, err)
	}
	return s.checkOwned(res, op, id, attempt)
}

// Touch restarts the lease of a claimed job. It fails with ErrLeaseLost when
// the claim has already been swept.
func (s *JobStore) Touch(ctx context.Context, id string, attempt int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(touchJobSQL), s.now(), id, attempt)
	if err != nil {
		return apperrors.NewStoreError("touch", err)
	}
	return s.checkOwned(res, "touch", id, attempt)
}

func (s *JobStore) checkOwned(res sql.Result, op, id string, attempt int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewStoreError(op, err)
	}
	if n == 0 {
		s.logger.Warn("job claim no longer held, write skipped", map[string]interface{}{
			"jobId":   id,
			"attempt": attempt,
			"op":      op,
		})
		return ErrLeaseLost
	}
	return nil
}

// ReclaimStale releases jobs whose processing lease started before cutoff.
// Jobs that already used maxAttempts claims become failed instead of pending.
func (s *JobStore) ReclaimStale(ctx context.Context, cutoff time.Time, maxAttempts int) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(reclaimStaleSQL),
		maxAttempts, LeaseExpiredMessage, s.now(), cutoff)
	if err != nil {
		return 0, apperrors.NewStoreError("reclaim stale", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStoreError("reclaim stale", err)
	}

	if n > 0 {
		metrics.JobsReclaimed.Add(float64(n))
		s.logger.Info("reclaimed jobs with expired lease", map[string]interface{}{
			"count":  n,
			"cutoff": cutoff,
		})
	}
	return n, nil
}
