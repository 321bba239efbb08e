// internal/workers/push/dispatch-notifications/handler.go
package dispatchnotifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/common/metrics"
	"push-dispatcher/internal/common/observability"
	"push-dispatcher/internal/models"
	"push-dispatcher/internal/push"
	"push-dispatcher/internal/repository"
)

const (
	TaskType = "dispatch-notifications"
)

// JobStore is the queue side of the job store.
type JobStore interface {
	Reserve(ctx context.Context, limit int) ([]models.NotificationJob, error)
	// attempt is the claim's attempt count; a write for an older claim
	// fails with repository.ErrLeaseLost.
	Touch(ctx context.Context, id string, attempt int) error
	MarkSent(ctx context.Context, id string, attempt int) error
	MarkPending(ctx context.Context, id string, attempt int, lastError string) error
	MarkFailed(ctx context.Context, id string, attempt int, lastError string) error
	ReclaimStale(ctx context.Context, cutoff time.Time, maxAttempts int) (int64, error)
}

// Dependencies are the collaborators of a Handler. Alerts and Observability
// may be nil.
type Dependencies struct {
	Jobs          JobStore
	Devices       repository.DeviceLookup
	Sender        push.Sender
	History       repository.HistoryStore
	Alerts        AlertPublisher
	Observability *observability.Observability
}

type Handler struct {
	config   *Config
	jobs     JobStore
	devices  repository.DeviceLookup
	sender   push.Sender
	recorder *Recorder
	obs      *observability.Observability
	logger   logger.Logger
	now      func() time.Time
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	obs := deps.Observability
	if obs == nil {
		obs = observability.NewNoop()
	}

	return &Handler{
		config:   config,
		jobs:     deps.Jobs,
		devices:  deps.Devices,
		sender:   deps.Sender,
		recorder: NewRecorder(deps.Jobs, deps.History, deps.Alerts, config.MaxAttempts, log),
		obs:      obs,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs one invocation: sweep expired leases, claim up to the
// clamped limit and process every claimed job on its own. A nil
// requestedLimit selects the configured default. It fails only when nothing
// could be claimed because the store is unavailable.
func (h *Handler) Dispatch(ctx context.Context, requestedLimit *int) (*Summary, error) {
	start := time.Now()
	defer func() { metrics.InvocationDuration.Observe(time.Since(start).Seconds()) }()

	limit := ClampLimit(requestedLimit, h.config.DefaultLimit)
	runID := uuid.NewString()
	log := h.logger.WithFields(map[string]interface{}{"runId": runID})

	ctx, span := h.obs.StartSpan(ctx, "dispatch.invocation",
		attribute.String("run.id", runID),
		attribute.Int("dispatch.limit", limit),
	)
	defer span.End()

	summary := &Summary{RunID: runID, Summary: []JobResult{}}

	if !h.config.DisableLeaseSweep {
		n, err := h.Reclaim(ctx)
		if err != nil {
			log.Warn("lease sweep failed", map[string]interface{}{"error": err})
		}
		summary.Reclaimed = n
	}

	jobs, err := h.jobs.Reserve(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		log.Error("reservation failed", map[string]interface{}{"error": err})
		return nil, apperrors.NewInvocationError(err)
	}

	log.Info("claimed jobs", map[string]interface{}{
		"limit":   limit,
		"claimed": len(jobs),
	})

	results := make([]JobResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(h.config.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = h.processJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	summary.Processed = len(results)
	summary.Summary = results

	sent, lost := 0, 0
	for _, r := range results {
		switch {
		case r.Result == ResultSent:
			sent++
		case r.Status == StatusLeaseLost:
			lost++
		}
	}
	log.Info("dispatch finished", map[string]interface{}{
		"processed":  summary.Processed,
		"sent":       sent,
		"failed":     summary.Processed - sent,
		"leaseLost":  lost,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return summary, nil
}

// Reclaim releases jobs whose processing lease is older than the lease timeout.
func (h *Handler) Reclaim(ctx context.Context) (int64, error) {
	cutoff := h.now().Add(-h.config.LeaseTimeout)
	return h.jobs.ReclaimStale(ctx, cutoff, h.config.MaxAttempts)
}

// processJob never panics and never returns an error: whatever happens is
// folded into the job's own result. A claimed job is finished even if the
// caller goes away.
func (h *Handler) processJob(parent context.Context, job models.NotificationJob) (res JobResult) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.config.JobTimeout)
	defer cancel()

	ctx, span := h.obs.StartSpan(ctx, "dispatch.job",
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.Int("job.attempts", job.Attempts),
	)
	defer span.End()

	res = JobResult{ID: job.ID, Kind: job.Kind}

	defer func() {
		if p := recover(); p != nil {
			res.SuccessCount = 0
			res = h.failAfterPanic(ctx, job, res, p)
		}
		if res.Result != ResultSent {
			span.SetStatus(codes.Error, res.Error)
		}
		h.obs.RecordJobProcessed(ctx, res.Result)
		h.obs.RecordJobDuration(ctx, time.Since(start), res.Result)
	}()

	// The lease was taken at claim time; restart it now that the job has a
	// worker, and drop the job if it was swept while queued.
	if err := h.jobs.Touch(ctx, job.ID, job.Attempts); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			return leaseLost(res)
		}
		return h.recorder.Fail(ctx, job, res, apperrors.NewJobProcessingError(job.ID, err))
	}

	devices, err := h.devices.Lookup(ctx, job.RecipientUserID)
	if err != nil {
		return h.recorder.Fail(ctx, job, res, apperrors.NewJobProcessingError(job.ID, err))
	}
	res.Devices = len(devices)
	if len(devices) == 0 {
		return h.recorder.Fail(ctx, job, res, apperrors.NewNoDevicesError(job.RecipientUserID))
	}

	delivery := h.sender.Send(ctx, push.BuildMessages(job, devices))
	res.SuccessCount = delivery.SuccessCount
	res.Errors = delivery.Errors

	var cause error
	if delivery.SuccessCount == 0 {
		cause = apperrors.NewJobProcessingError(job.ID, deliveryFailure(delivery.Errors))
	}
	return h.recorder.Record(ctx, job, res, cause)
}

func (h *Handler) failAfterPanic(ctx context.Context, job models.NotificationJob, res JobResult, p interface{}) (out JobResult) {
	h.logger.Error("panic while processing job", map[string]interface{}{
		"jobId": job.ID,
		"panic": fmt.Sprint(p),
	})

	out = res
	out.Result = ResultFailed
	out.Status = string(models.StatusProcessing)
	out.Error = fmt.Sprintf("panic: %v", p)

	defer func() {
		if p2 := recover(); p2 != nil {
			h.logger.Error("panic while recording job failure", map[string]interface{}{
				"jobId": job.ID,
				"panic": fmt.Sprint(p2),
			})
		}
	}()
	return h.recorder.Fail(ctx, job, res, apperrors.NewJobProcessingError(job.ID, fmt.Errorf("panic: %v", p)))
}
