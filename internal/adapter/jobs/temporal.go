package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// Workflow and activity names registered on the worker.
const (
	IngestWorkflowName = "ingestRepositoryWorkflow"
	IngestActivityName = "ingestRepository"

	permanentErrorType = "PermanentIngestionError"
)

// IngestInput is the input for IngestRepositoryWorkflow. The retry policy
// travels with the input so replays see the values the run started with.
type IngestInput struct {
	RepoID string      `json:"repoId"`
	Retry  RetryPolicy `json:"retry"`
}

// IngestRepositoryWorkflow runs the ingestion activity under the input's
// retry policy.
func IngestRepositoryWorkflow(ctx workflow.Context, in IngestInput) (*domain.IngestResult, error) {
	retry := in.Retry
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        retry.InitialBackoff,
			BackoffCoefficient:     retry.Factor,
			MaximumInterval:        retry.MaxBackoff,
			MaximumAttempts:        int32(retry.MaxAttempts),
			NonRetryableErrorTypes: []string{permanentErrorType},
		},
	})

	var result domain.IngestResult
	if err := workflow.ExecuteActivity(ctx, IngestActivityName, in).Get(ctx, &result); err != nil {
		workflow.GetLogger(ctx).Error("Ingestion workflow failed", "repo_id", in.RepoID, "error", err)
		return nil, err
	}
	return &result, nil
}

// Activities exposes the ingestion pipeline to Temporal.
type Activities struct {
	ingester port.Ingester
}

// NewActivities wraps an ingester.
func NewActivities(ingester port.Ingester) *Activities {
	return &Activities{ingester: ingester}
}

// IngestRepository runs one pipeline attempt. Permanent failures are
// surfaced as non-retryable so the policy stops early.
func (a *Activities) IngestRepository(ctx context.Context, in IngestInput) (*domain.IngestResult, error) {
	info := activity.GetInfo(ctx)
	slog.Info("Ingestion activity started", "repo_id", in.RepoID, "attempt", info.Attempt, "workflow_id", info.WorkflowExecution.ID)

	res, err := a.ingester.Ingest(ctx, in.RepoID)
	if err != nil {
		if port.IsPermanent(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), permanentErrorType, err)
		}
		return nil, err
	}
	return res, nil
}

// Registry is the subset of worker.Worker used to register the ingestion
// workflow and activity.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the ingestion workflow and activity to r.
func Register(r Registry, ingester port.Ingester) {
	r.RegisterWorkflowWithOptions(IngestRepositoryWorkflow, workflow.RegisterOptions{Name: IngestWorkflowName})
	r.RegisterActivityWithOptions(NewActivities(ingester).IngestRepository, activity.RegisterOptions{Name: IngestActivityName})
}

// TemporalTrigger starts one ingestion workflow per trigger.
type TemporalTrigger struct {
	client    client.Client
	taskQueue string
	policy    RetryPolicy
}

var _ port.JobTrigger = (*TemporalTrigger)(nil)

// NewTemporalTrigger returns a trigger that schedules on taskQueue.
func NewTemporalTrigger(c client.Client, taskQueue string, policy RetryPolicy) *TemporalTrigger {
	return &TemporalTrigger{client: c, taskQueue: taskQueue, policy: policy}
}

// TriggerIngestion starts the workflow and returns without waiting for it.
func (t *TemporalTrigger) TriggerIngestion(ctx context.Context, repoID string) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:                       fmt.Sprintf("ingest-%s-%s", repoID, uuid.NewString()),
		TaskQueue:                t.taskQueue,
		WorkflowExecutionTimeout: 2 * time.Hour,
	}
	run, err := t.client.ExecuteWorkflow(ctx, opts, IngestWorkflowName, IngestInput{RepoID: repoID, Retry: t.policy})
	if err != nil {
		return "", fmt.Errorf("start ingestion workflow: %w", err)
	}
	slog.Info("Ingestion workflow started", "repo_id", repoID, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return run.GetID(), nil
}
