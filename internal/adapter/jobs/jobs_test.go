package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
	"github.com/arturoeanton/codelens-ingest/pkg/config"
)

// scriptedIngester returns errs in order, then a success.
type scriptedIngester struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedIngester) Ingest(_ context.Context, repoID string) (*domain.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	files := 2
	return &domain.IngestResult{Success: true, RepoID: repoID, FileCount: &files}, nil
}

func (s *scriptedIngester) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Factor: 2}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy
	assert.Equal(t, time.Duration(0), p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, 16*time.Second, p.Backoff(6))
	assert.Equal(t, 30*time.Second, p.Backoff(7))
	assert.Equal(t, 30*time.Second, p.Backoff(500))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(&config.Config{JobMaxAttempts: 5, JobBackoffFactor: 3})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 3.0, p.Factor)
	assert.Equal(t, time.Second, p.InitialBackoff)
	assert.Equal(t, 30*time.Second, p.MaxBackoff)
}

func TestLocalTrigger_RetriesTransientErrors(t *testing.T) {
	ing := &scriptedIngester{errs: []error{errors.New("tree fetch: 502"), errors.New("db down")}}
	trigger := NewLocalTrigger(context.Background(), ing, fastPolicy(), nil)

	var slept []time.Duration
	trigger.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	jobID, err := trigger.TriggerIngestion(context.Background(), "repo-1")
	require.NoError(t, err)
	trigger.Wait()

	assert.Equal(t, 3, ing.Calls())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, slept)

	job, ok := trigger.Tracker().Get(jobID)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, 3, job.Attempt)
	require.NotNil(t, job.Result)
	assert.True(t, job.Result.Success)
}

func TestLocalTrigger_StopsOnPermanentError(t *testing.T) {
	ing := &scriptedIngester{errs: []error{port.Permanent(port.ErrInvalidFullName)}}
	trigger := NewLocalTrigger(context.Background(), ing, fastPolicy(), nil)

	jobID, err := trigger.TriggerIngestion(context.Background(), "repo-1")
	require.NoError(t, err)
	trigger.Wait()

	assert.Equal(t, 1, ing.Calls())
	job, _ := trigger.Tracker().Get(jobID)
	assert.Equal(t, StatusError, job.Status)
	assert.Contains(t, job.Error, "invalid repository full name")
}

func TestLocalTrigger_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	ing := &scriptedIngester{errs: []error{boom, boom, boom, boom}}
	trigger := NewLocalTrigger(context.Background(), ing, fastPolicy(), nil)

	jobID, err := trigger.TriggerIngestion(context.Background(), "repo-1")
	require.NoError(t, err)
	trigger.Wait()

	assert.Equal(t, 3, ing.Calls())
	job, _ := trigger.Tracker().Get(jobID)
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, "boom", job.Error)
}

func TestLocalTrigger_RejectsAfterShutdown(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()
	trigger := NewLocalTrigger(base, &scriptedIngester{}, fastPolicy(), nil)

	_, err := trigger.TriggerIngestion(context.Background(), "repo-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTracker_Subscribe(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.Create("job-1", "repo-1", 3)
	ch := tr.Subscribe("job-1")

	tr.Update("job-1", func(j *JobStatus) { j.Status = StatusComplete })

	update := <-ch
	assert.Equal(t, StatusComplete, update.Status)
	assert.False(t, update.CompletedAt.IsZero())

	tr.Unsubscribe("job-1", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestIngestWorkflow_Success(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	ing := &scriptedIngester{errs: []error{errors.New("transient")}}
	Register(env, ing)

	env.ExecuteWorkflow(IngestWorkflowName, IngestInput{RepoID: "repo-1", Retry: fastPolicy()})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res domain.IngestResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "repo-1", res.RepoID)
	assert.Equal(t, 2, ing.Calls())
}

func TestIngestWorkflow_PermanentErrorIsNotRetried(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	ing := &scriptedIngester{errs: []error{port.Permanent(port.ErrRepoNotFound)}}
	Register(env, ing)

	env.ExecuteWorkflow(IngestWorkflowName, IngestInput{RepoID: "missing", Retry: fastPolicy()})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, 1, ing.Calls())
}
