package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// IngestService fetches, indexes and records a repository snapshot. It holds
// no retry logic; it leaves the row so that a fresh run is always correct.
type IngestService struct {
	repos   port.RepositoryStore
	files   port.FileStore
	trees   port.TreeFetcher
	indexer port.FileIndexer
	now     func() time.Time
}

var _ port.Ingester = (*IngestService)(nil)

// NewIngestService creates the ingestion pipeline.
func NewIngestService(repos port.RepositoryStore, files port.FileStore, trees port.TreeFetcher, indexer port.FileIndexer) *IngestService {
	return &IngestService{repos: repos, files: files, trees: trees, indexer: indexer, now: time.Now}
}

// Ingest runs the pipeline for one repository.
//
// The oversized and lost-race outcomes are results with Success false, not
// errors. Errors after the ingesting transition are recorded on the row as
// failed and returned; those retrying cannot fix are marked port.Permanent.
func (s *IngestService) Ingest(ctx context.Context, repoID string) (*domain.IngestResult, error) {
	repo, err := s.repos.GetRepository(ctx, repoID)
	if errors.Is(err, port.ErrRepoNotFound) {
		return nil, port.Permanent(fmt.Errorf("ingest %s: %w", repoID, err))
	}
	if err != nil {
		return nil, fmt.Errorf("ingest %s: load repository: %w", repoID, err)
	}

	if repo.IngestionStatus == domain.IngestionStatusIngested {
		slog.Info("Repository already ingested, skipping", "repo_id", repoID, "commit_sha", repo.LastIngestedSHA)
		return storedResult(repo), nil
	}
	if repo.IngestionStatus == domain.IngestionStatusIngesting {
		// A run that died after the transition leaves the row here; take it over.
		slog.Warn("Resuming repository left in ingesting", "repo_id", repoID, "updated_at", repo.UpdatedAt)
	}

	err = s.repos.TransitionIngestion(ctx, repo.ID, repo.IngestionStatus, repo.UpdatedAt, domain.StatusUpdate{
		Status:     domain.IngestionStatusIngesting,
		ClearError: true,
	})
	if errors.Is(err, port.ErrIngestionConflict) {
		return s.conflict(repo), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest %s: mark ingesting: %w", repoID, err)
	}

	res, err := s.run(ctx, repo)
	if err != nil {
		s.markFailed(ctx, repo.ID, err)
		return nil, err
	}
	return res, nil
}

func (s *IngestService) run(ctx context.Context, repo *domain.Repository) (*domain.IngestResult, error) {
	start := time.Now()

	owner, name, err := ParseFullName(repo.FullName)
	if err != nil {
		return nil, port.Permanent(err)
	}
	if repo.InstallationID == nil {
		return nil, port.Permanent(fmt.Errorf("%w: %s", port.ErrNoInstallation, repo.FullName))
	}

	slog.Info("Ingestion started", "repo_id", repo.ID, "full_name", repo.FullName, "ref", repo.DefaultBranch)

	tree, err := s.trees.FetchTree(ctx, *repo.InstallationID, owner, name, repo.DefaultBranch)
	if err != nil {
		return nil, err
	}
	if tree.Truncated {
		slog.Warn("File tree truncated, ingesting partial tree",
			"repo_id", repo.ID, "full_name", repo.FullName, "entries", len(tree.Files))
	}

	idx := s.indexer.Index(tree.Files)
	fileCount := len(idx.Files)
	tokenCount := idx.TokenCount.EstimatedTokens

	slog.Info("Tree indexed",
		"repo_id", repo.ID,
		"total_files", idx.Stats.TotalFiles,
		"included", idx.Stats.IncludedFiles,
		"excluded_path", idx.Stats.ExcludedByPath,
		"excluded_ext", idx.Stats.ExcludedByExtension,
		"excluded_size", idx.Stats.ExcludedBySize,
		"estimated_tokens", tokenCount,
	)

	if idx.TokenCount.ExceedsLimit {
		msg := s.indexer.OversizedMessage(idx.TokenCount)
		if err := s.repos.UpdateIngestion(ctx, repo.ID, domain.StatusUpdate{
			Status:     domain.IngestionStatusFailed,
			LastError:  &msg,
			FileCount:  &fileCount,
			TokenCount: &tokenCount,
		}); err != nil {
			return nil, fmt.Errorf("record oversized repository: %w", err)
		}
		slog.Warn("Repository exceeds token limit",
			"repo_id", repo.ID, "estimated_tokens", tokenCount, "limit", idx.TokenCount.Limit)
		return &domain.IngestResult{
			Success:    false,
			RepoID:     repo.ID,
			FileCount:  &fileCount,
			TokenCount: &tokenCount,
			Error:      msg,
		}, nil
	}

	stored, err := s.files.StoreFiles(ctx, repo.ID, idx.Files)
	if err != nil {
		return nil, fmt.Errorf("store files: %w", err)
	}

	now := s.now()
	sha := tree.SHA
	if err := s.repos.UpdateIngestion(ctx, repo.ID, domain.StatusUpdate{
		Status:          domain.IngestionStatusIngested,
		ClearError:      true,
		FileCount:       &stored,
		TokenCount:      &tokenCount,
		LastIngestedAt:  &now,
		LastIngestedSHA: &sha,
	}); err != nil {
		return nil, fmt.Errorf("mark ingested: %w", err)
	}

	slog.Info("Ingestion complete",
		"repo_id", repo.ID, "files", stored, "tokens", tokenCount,
		"commit_sha", sha, "duration", time.Since(start))
	return &domain.IngestResult{
		Success:    true,
		RepoID:     repo.ID,
		FileCount:  &stored,
		TokenCount: &tokenCount,
		CommitSHA:  sha,
	}, nil
}

// markFailed records cause on the row. It runs even if ctx was cancelled.
func (s *IngestService) markFailed(ctx context.Context, repoID string, cause error) {
	msg := cause.Error()
	err := s.repos.UpdateIngestion(context.WithoutCancel(ctx), repoID, domain.StatusUpdate{
		Status:    domain.IngestionStatusFailed,
		LastError: &msg,
	})
	if err != nil {
		slog.Error("Failed to record ingestion failure", "repo_id", repoID, "cause", cause, "error", err)
		return
	}
	slog.Error("Ingestion failed", "repo_id", repoID, "permanent", port.IsPermanent(cause), "error", cause)
}

func (s *IngestService) conflict(repo *domain.Repository) *domain.IngestResult {
	slog.Warn("Ingestion already in progress", "repo_id", repo.ID, "status", repo.IngestionStatus)
	return &domain.IngestResult{Success: false, RepoID: repo.ID, Error: port.ErrIngestionConflict.Error()}
}

func storedResult(repo *domain.Repository) *domain.IngestResult {
	files, tokens := repo.FileCount, repo.TokenCount
	return &domain.IngestResult{
		Success:    true,
		RepoID:     repo.ID,
		FileCount:  &files,
		TokenCount: &tokens,
		CommitSHA:  repo.LastIngestedSHA,
	}
}

// ParseFullName splits "owner/name".
func ParseFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q, expected owner/name", port.ErrInvalidFullName, fullName)
	}
	return parts[0], parts[1], nil
}
