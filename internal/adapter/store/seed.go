package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// DevSeeder creates a demo user and repository for local development.
type DevSeeder struct {
	store *PostgresStore
}

var _ port.Seeder = (*DevSeeder)(nil)

// NewDevSeeder returns the seed capability when enabled, or nil. Callers
// treat a nil Seeder as the capability being unavailable.
func NewDevSeeder(s *PostgresStore, enabled bool) port.Seeder {
	if !enabled {
		return nil
	}
	return &DevSeeder{store: s}
}

// Seed implements port.Seeder. Running it twice refreshes the same rows.
func (d *DevSeeder) Seed(ctx context.Context) (*port.SeedResult, error) {
	user, err := d.store.UpsertUser(ctx, &domain.User{
		Email:      "demo@codelens.local",
		Name:       "Demo User",
		Provider:   domain.ProviderGitHub,
		ProviderID: "583231",
		Role:       "admin",
	})
	if err != nil {
		return nil, fmt.Errorf("seed user: %w", err)
	}

	repo, err := d.store.CreateRepository(ctx, &domain.Repository{
		UserID:        user.ID,
		GitHubRepoID:  1296269,
		FullName:      "octocat/Hello-World",
		DefaultBranch: "master",
	})
	if err != nil {
		return nil, fmt.Errorf("seed repository: %w", err)
	}

	slog.Info("Dev seed applied", "user_id", user.ID, "repo_id", repo.ID)
	return &port.SeedResult{UserID: user.ID, RepositoryID: repo.ID}, nil
}
