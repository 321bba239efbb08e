// internal/repository/admin.go
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/models"
)

// NewJob is what a producer supplies when queueing a notification.
type NewJob struct {
	Kind            string
	TournamentID    *string
	RecipientUserID string
	Payload         models.Payload
}

// ErrNotRequeueable is returned by Requeue for a job that is missing or not failed.
var ErrNotRequeueable = errors.New("job is not in failed status")

// Enqueue inserts a pending job and returns its id.
func (s *JobStore) Enqueue(ctx context.Context, job NewJob) (string, error) {
	if job.Kind == "" || job.RecipientUserID == "" {
		return "", errors.New("kind and recipient user id are required")
	}

	id := uuid.NewString()
	now := s.now()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(insertJobSQL),
		id, job.Kind, job.TournamentID, job.RecipientUserID, job.Payload, now, now)
	if err != nil {
		return "", apperrors.NewStoreError("enqueue", err)
	}
	return id, nil
}

// CountByStatus reports the queue depth per status. Statuses with no jobs
// are present with a zero count.
func (s *JobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, countByStatusSQL); err != nil {
		return nil, apperrors.NewStoreError("count by status", err)
	}

	counts := map[models.JobStatus]int{
		models.StatusPending:    0,
		models.StatusProcessing: 0,
		models.StatusSent:       0,
		models.StatusFailed:     0,
	}
	for _, r := range rows {
		counts[models.JobStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// Requeue gives a failed job a fresh set of attempts.
func (s *JobStore) Requeue(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(requeueJobSQL), s.now(), id)
	if err != nil {
		return apperrors.NewStoreError("requeue", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewStoreError("requeue", err)
	}
	if n == 0 {
		return ErrNotRequeueable
	}
	s.logger.Info("failed job requeued", map[string]interface{}{"jobId": id})
	return nil
}
