// internal/workers/push/dispatch-notifications/recorder.go
package dispatchnotifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/common/metrics"
	"push-dispatcher/internal/models"
	"push-dispatcher/internal/repository"
)

// Decide maps one attempt to its outcome. attempts already includes the
// claim that produced this attempt.
func Decide(attempts, successCount, maxAttempts int) Outcome {
	if successCount > 0 {
		return OutcomeDelivered
	}
	if attempts >= maxAttempts {
		return OutcomeTerminal
	}
	return OutcomeRetryable
}

// Recorder writes the outcome of an attempt back to the stores.
type Recorder struct {
	jobs        JobStore
	history     repository.HistoryStore
	alerts      AlertPublisher
	maxAttempts int
	logger      logger.Logger
}

func NewRecorder(jobs JobStore, history repository.HistoryStore, alerts AlertPublisher, maxAttempts int, log logger.Logger) *Recorder {
	if alerts == nil {
		alerts = NopAlertPublisher{}
	}
	return &Recorder{
		jobs:        jobs,
		history:     history,
		alerts:      alerts,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// Record finishes res for job. cause explains a failed attempt and is
// ignored when the attempt delivered. A delivered attempt whose bookkeeping
// fails is recorded as a failure instead.
func (r *Recorder) Record(ctx context.Context, job models.NotificationJob, res JobResult, cause error) JobResult {
	outcome := Decide(job.Attempts, res.SuccessCount, r.maxAttempts)

	if outcome == OutcomeDelivered {
		err := r.markDelivered(ctx, job, res.Devices)
		if err == nil {
			metrics.JobOutcomes.WithLabelValues(string(outcome)).Inc()
			res.Result = ResultSent
			res.Status = string(models.StatusSent)
			res.Error = ""
			return res
		}
		if errors.Is(err, repository.ErrLeaseLost) {
			return leaseLost(res)
		}
		cause = apperrors.NewJobProcessingError(job.ID, err)
		outcome = Decide(job.Attempts, 0, r.maxAttempts)
	}

	return r.markFailure(ctx, job, res, outcome, cause)
}

// Fail records a failed attempt regardless of any successes counted so far.
func (r *Recorder) Fail(ctx context.Context, job models.NotificationJob, res JobResult, cause error) JobResult {
	return r.markFailure(ctx, job, res, Decide(job.Attempts, 0, r.maxAttempts), cause)
}

// History goes first so a sent job always has its record. Once it is
// appended, any later failure means a retry can append a second one.
func (r *Recorder) markDelivered(ctx context.Context, job models.NotificationJob, deviceCount int) error {
	if err := r.history.Append(ctx, models.NewHistoryRecord(job, deviceCount)); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err := r.jobs.MarkSent(ctx, job.ID, job.Attempts); err != nil {
		r.logger.Warn("history appended but job not marked sent, a later attempt may duplicate it", map[string]interface{}{
			"jobId":    job.ID,
			"attempts": job.Attempts,
			"error":    err,
		})
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (r *Recorder) markFailure(ctx context.Context, job models.NotificationJob, res JobResult, outcome Outcome, cause error) JobResult {
	lastError := apperrors.Summarize(cause)
	if lastError == "" {
		lastError = "delivery failed"
	}

	res.Result = ResultFailed
	res.Error = lastError

	var err error
	if outcome == OutcomeTerminal {
		err = r.jobs.MarkFailed(ctx, job.ID, job.Attempts, lastError)
		res.Status = string(models.StatusFailed)
	} else {
		err = r.jobs.MarkPending(ctx, job.ID, job.Attempts, lastError)
		res.Status = string(models.StatusPending)
	}
	if errors.Is(err, repository.ErrLeaseLost) {
		return leaseLost(res)
	}
	if err != nil {
		// Left in processing; the lease sweep picks it up.
		r.logger.Error("failed to record job failure", map[string]interface{}{
			"jobId":   job.ID,
			"outcome": string(outcome),
			"error":   err,
		})
		res.Status = string(models.StatusProcessing)
		return res
	}

	metrics.JobOutcomes.WithLabelValues(string(outcome)).Inc()
	r.logger.Warn("job attempt failed", map[string]interface{}{
		"jobId":     job.ID,
		"attempts":  job.Attempts,
		"outcome":   string(outcome),
		"lastError": lastError,
	})

	if outcome == OutcomeTerminal {
		if err := r.alerts.PublishTerminal(ctx, job, lastError); err != nil {
			r.logger.Warn("terminal failure alert not sent", map[string]interface{}{
				"jobId": job.ID,
				"error": err,
			})
		}
	}
	return res
}

// leaseLost reports an attempt whose claim was swept before it finished.
// The job belongs to whoever holds it now; nothing was written for it here.
func leaseLost(res JobResult) JobResult {
	res.Result = ResultFailed
	res.Status = StatusLeaseLost
	res.Error = repository.ErrLeaseLost.Error()
	return res
}

// deliveryFailure explains a batch that produced no successful sends.
func deliveryFailure(ticketErrors []string) error {
	if len(ticketErrors) == 0 {
		return fmt.Errorf("no successful deliveries")
	}
	return fmt.Errorf("no successful deliveries: %s", strings.Join(ticketErrors, "; "))
}
