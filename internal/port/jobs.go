package port

import (
	"context"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
)

// Ingester runs the ingestion pipeline for one repository.
type Ingester interface {
	Ingest(ctx context.Context, repoID string) (*domain.IngestResult, error)
}

// JobTrigger schedules one asynchronous ingestion run and returns without
// waiting for it. The returned id identifies the run in the job backend.
type JobTrigger interface {
	TriggerIngestion(ctx context.Context, repoID string) (jobID string, err error)
}

// Seeder creates demo data for local development.
type Seeder interface {
	Seed(ctx context.Context) (*SeedResult, error)
}

// SeedResult lists the rows a Seeder created.
type SeedResult struct {
	UserID       string `json:"user_id"`
	RepositoryID string `json:"repository_id"`
}
