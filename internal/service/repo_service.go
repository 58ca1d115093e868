package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// RepoService serves manual re-analysis of tracked repositories.
type RepoService struct {
	repos    port.RepositoryStore
	jobs     port.JobTrigger
	ingester port.Ingester
}

// NewRepoService creates a repository service. jobs may be nil for callers
// that only run ingestions synchronously.
func NewRepoService(repos port.RepositoryStore, jobs port.JobTrigger, ingester port.Ingester) *RepoService {
	return &RepoService{repos: repos, jobs: jobs, ingester: ingester}
}

// GetRepo returns a tracked repository.
func (s *RepoService) GetRepo(ctx context.Context, id string) (*domain.Repository, error) {
	return s.repos.GetRepository(ctx, id)
}

// Reingest schedules an ingestion. With force, the repository is reset to
// pending first so the run does real work instead of short-circuiting.
func (s *RepoService) Reingest(ctx context.Context, id string, force bool) (string, error) {
	if s.jobs == nil {
		return "", fmt.Errorf("reingest: %w", port.ErrCapabilityDisabled)
	}
	if err := s.prepare(ctx, id, force); err != nil {
		return "", err
	}

	jobID, err := s.jobs.TriggerIngestion(ctx, id)
	if err != nil {
		return "", fmt.Errorf("trigger ingestion: %w", err)
	}
	slog.Info("Manual re-ingest queued", "repo_id", id, "job_id", jobID, "force", force)
	return jobID, nil
}

// IngestNow runs the pipeline in the calling goroutine.
func (s *RepoService) IngestNow(ctx context.Context, id string, force bool) (*domain.IngestResult, error) {
	if err := s.prepare(ctx, id, force); err != nil {
		return nil, err
	}
	return s.ingester.Ingest(ctx, id)
}

func (s *RepoService) prepare(ctx context.Context, id string, force bool) error {
	repo, err := s.repos.GetRepository(ctx, id)
	if err != nil {
		return err
	}
	if !force || repo.IngestionStatus == domain.IngestionStatusPending {
		return nil
	}
	if repo.IngestionStatus == domain.IngestionStatusIngesting {
		slog.Warn("Force-resetting repository in ingesting", "repo_id", id, "updated_at", repo.UpdatedAt)
	}
	if err := s.repos.ResetIngestion(ctx, id); err != nil {
		return fmt.Errorf("reset ingestion: %w", err)
	}
	slog.Info("Ingestion status reset", "repo_id", id, "previous_status", repo.IngestionStatus)
	return nil
}
