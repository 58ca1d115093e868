package port

import (
	"context"
	"time"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
)

// InstallationStore persists installations, their repository cache and
// their user memberships.
type InstallationStore interface {
	// UpsertInstallation inserts or refreshes the installation keyed by its
	// GitHub id. Account metadata is always overwritten. A nil repos leaves
	// the cached list untouched; a non-nil repos replaces it. An existing
	// row's active flag is set only when reactivate is true, and its
	// suspension is never changed.
	UpsertInstallation(ctx context.Context, installationID int64, account domain.InstallationAccount, repos *[]domain.CachedRepo, reactivate bool) (*domain.Installation, error)

	// GetInstallation returns ErrInstallationNotFound when absent.
	GetInstallation(ctx context.Context, installationID int64) (*domain.Installation, error)

	// ListInstallationsByAccount returns the active installations of a GitHub account.
	ListInstallationsByAccount(ctx context.Context, accountID int64) ([]domain.Installation, error)

	// SetSuspended sets or clears (nil) the suspended timestamp.
	SetSuspended(ctx context.Context, installationID int64, suspendedAt *time.Time) error

	// Deactivate clears the active flag. The row is kept.
	Deactivate(ctx context.Context, installationID int64) error

	// UpdateCachedRepositories applies fn to the current cache and stores the
	// result with a fresh cache timestamp, atomically with respect to other
	// cache updates of the same installation.
	UpdateCachedRepositories(ctx context.Context, installationID int64, fn func([]domain.CachedRepo) []domain.CachedRepo) ([]domain.CachedRepo, error)

	// FindUserByGitHubID returns ErrUserNotFound when no user signed in with
	// that GitHub account.
	FindUserByGitHubID(ctx context.Context, githubID int64) (*domain.User, error)

	// HasMembership reports whether the installation is linked to the user.
	HasMembership(ctx context.Context, installationUUID, userID string) (bool, error)

	// CreateMembership inserts the link; created is false when it already existed.
	CreateMembership(ctx context.Context, m *domain.InstallationMembership) (created bool, err error)
}

// UserStore persists internal accounts created at sign-in.
type UserStore interface {
	// UpsertUser inserts or refreshes the user keyed by (provider, provider id).
	UpsertUser(ctx context.Context, u *domain.User) (*domain.User, error)
}

// RepositoryStore persists tracked repositories and their ingestion fields.
type RepositoryStore interface {
	// GetRepository returns ErrRepoNotFound when absent.
	GetRepository(ctx context.Context, id string) (*domain.Repository, error)

	// ListRepositoriesByGitHubIDs returns the tracked repositories among ids.
	ListRepositoriesByGitHubIDs(ctx context.Context, ids []int64) ([]domain.Repository, error)

	// UpdateIngestion writes u unconditionally.
	UpdateIngestion(ctx context.Context, id string, u domain.StatusUpdate) error

	// TransitionIngestion writes u only if the row still has the observed
	// status and updated_at; otherwise it returns ErrIngestionConflict.
	TransitionIngestion(ctx context.Context, id, fromStatus string, fromUpdatedAt time.Time, u domain.StatusUpdate) error

	// ResetIngestion moves a repository back to pending so it can be re-ingested.
	ResetIngestion(ctx context.Context, id string) error
}

// FileStore persists a repository's indexed file set.
type FileStore interface {
	// StoreFiles upserts files keyed by (repo, path) and returns how many rows were written.
	StoreFiles(ctx context.Context, repoID string, files []domain.IndexedFile) (int, error)
}

// DeliveryLog records webhook deliveries.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d domain.WebhookDelivery) error
}
