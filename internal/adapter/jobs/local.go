package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// LocalTrigger runs ingestions on goroutines inside the current process and
// retries failed runs according to its policy.
type LocalTrigger struct {
	ingester port.Ingester
	policy   RetryPolicy
	tracker  *Tracker
	base     context.Context
	wg       sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ port.JobTrigger = (*LocalTrigger)(nil)

// NewLocalTrigger returns a trigger whose runs live as long as base.
// Cancelling base abandons pending retries.
func NewLocalTrigger(base context.Context, ingester port.Ingester, policy RetryPolicy, tracker *Tracker) *LocalTrigger {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy
	}
	if tracker == nil {
		tracker = NewTracker(0)
	}
	return &LocalTrigger{
		ingester: ingester,
		policy:   policy,
		tracker:  tracker,
		base:     base,
		sleep:    sleepCtx,
	}
}

// Tracker returns the job registry used by this trigger.
func (t *LocalTrigger) Tracker() *Tracker {
	return t.tracker
}

// TriggerIngestion schedules one run and returns its job id immediately.
// The caller's context only bounds scheduling, not the run itself.
func (t *LocalTrigger) TriggerIngestion(ctx context.Context, repoID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := t.base.Err(); err != nil {
		return "", err
	}

	jobID := uuid.NewString()
	t.tracker.Create(jobID, repoID, t.policy.MaxAttempts)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(jobID, repoID)
	}()

	slog.Info("Ingestion job queued", "job_id", jobID, "repo_id", repoID)
	return jobID, nil
}

// Wait blocks until every scheduled run has finished.
func (t *LocalTrigger) Wait() {
	t.wg.Wait()
}

func (t *LocalTrigger) run(jobID, repoID string) {
	ctx := t.base
	var lastErr error

	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		if wait := t.policy.Backoff(attempt); wait > 0 {
			if err := t.sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}

		t.tracker.Update(jobID, func(j *JobStatus) {
			j.Status = StatusRunning
			j.Attempt = attempt
		})

		result, err := t.runOnce(ctx, repoID)
		if err == nil && result == nil {
			result = &domain.IngestResult{RepoID: repoID}
		}
		if err == nil {
			t.tracker.Update(jobID, func(j *JobStatus) {
				j.Status = StatusComplete
				j.Result = result
				j.Error = result.Error
			})
			slog.Info("Ingestion job finished",
				"job_id", jobID, "repo_id", repoID, "attempt", attempt,
				"success", result.Success, "error", result.Error)
			return
		}

		lastErr = err
		if port.IsPermanent(err) {
			slog.Error("Ingestion job failed permanently", "job_id", jobID, "repo_id", repoID, "attempt", attempt, "error", err)
			break
		}
		if attempt < t.policy.MaxAttempts {
			slog.Warn("Ingestion attempt failed, retrying",
				"job_id", jobID, "repo_id", repoID, "attempt", attempt,
				"next_backoff", t.policy.Backoff(attempt+1), "error", err)
			t.tracker.Update(jobID, func(j *JobStatus) {
				j.Status = StatusRetrying
				j.Error = err.Error()
			})
		} else {
			slog.Error("Ingestion job exhausted retries", "job_id", jobID, "repo_id", repoID, "attempts", attempt, "error", err)
		}
	}

	t.tracker.Update(jobID, func(j *JobStatus) {
		j.Status = StatusError
		if lastErr != nil {
			j.Error = lastErr.Error()
		}
	})
}

// runOnce converts a panicking run into an error so the loop can retry it.
func (t *LocalTrigger) runOnce(ctx context.Context, repoID string) (res *domain.IngestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Ingestion panicked", "repo_id", repoID, "panic", r)
			err = errPanic{value: r}
		}
	}()
	return t.ingester.Ingest(ctx, repoID)
}

type errPanic struct{ value any }

func (e errPanic) Error() string { return fmt.Sprintf("ingestion panicked: %v", e.value) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
