package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

const installationColumns = `id, installation_id, account_id, account_login, account_type, account_avatar_url,
	is_active, suspended_at, cached_repositories, cache_updated_at, created_at, updated_at`

// UpsertInstallation inserts or refreshes an installation keyed by its GitHub id.
// Account metadata is always overwritten; the repository cache is replaced
// only when repos is non-nil. suspended_at is owned by SetSuspended.
func (s *PostgresStore) UpsertInstallation(ctx context.Context, installationID int64, account domain.InstallationAccount, repos *[]domain.CachedRepo, reactivate bool) (*domain.Installation, error) {
	var reposJSON interface{}
	if repos != nil {
		list := *repos
		if list == nil {
			list = []domain.CachedRepo{}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("encode cached repositories: %w", err)
		}
		reposJSON = string(b)
	}

	query := `
		INSERT INTO github_installations
			(installation_id, account_id, account_login, account_type, account_avatar_url,
			 is_active, cached_repositories, cache_updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE,
			COALESCE($6::jsonb, '[]'::jsonb),
			CASE WHEN $6::jsonb IS NULL THEN NULL ELSE NOW() END)
		ON CONFLICT (installation_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			account_login = EXCLUDED.account_login,
			account_type = EXCLUDED.account_type,
			account_avatar_url = EXCLUDED.account_avatar_url,
			is_active = github_installations.is_active OR $7,
			cached_repositories = CASE WHEN $6::jsonb IS NULL
				THEN github_installations.cached_repositories ELSE EXCLUDED.cached_repositories END,
			cache_updated_at = CASE WHEN $6::jsonb IS NULL
				THEN github_installations.cache_updated_at ELSE NOW() END,
			updated_at = NOW()
		RETURNING ` + installationColumns

	row := s.db.QueryRowContext(ctx, query,
		installationID, account.ID, account.Login, account.Type, account.AvatarURL, reposJSON, reactivate,
	)
	inst, err := scanInstallation(row)
	if err != nil {
		return nil, fmt.Errorf("upsert installation: %w", err)
	}
	return inst, nil
}

// GetInstallation returns an installation by its GitHub id.
func (s *PostgresStore) GetInstallation(ctx context.Context, installationID int64) (*domain.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM github_installations WHERE installation_id = $1`

	inst, err := scanInstallation(s.db.QueryRowContext(ctx, query, installationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrInstallationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get installation: %w", err)
	}
	return inst, nil
}

// ListInstallationsByAccount returns the active installations owned by a
// GitHub account.
func (s *PostgresStore) ListInstallationsByAccount(ctx context.Context, accountID int64) ([]domain.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM github_installations
	          WHERE account_id = $1 AND is_active ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list installations by account: %w", err)
	}
	defer rows.Close()

	var out []domain.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installation: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// SetSuspended sets or clears the suspended timestamp.
func (s *PostgresStore) SetSuspended(ctx context.Context, installationID int64, suspendedAt *time.Time) error {
	query := `UPDATE github_installations SET suspended_at = $1, updated_at = NOW() WHERE installation_id = $2`
	return s.execInstallation(ctx, "set suspended", query, suspendedAt, installationID)
}

// Deactivate marks an installation deleted without removing the row.
func (s *PostgresStore) Deactivate(ctx context.Context, installationID int64) error {
	query := `UPDATE github_installations SET is_active = FALSE, updated_at = NOW() WHERE installation_id = $1`
	return s.execInstallation(ctx, "deactivate", query, installationID)
}

func (s *PostgresStore) execInstallation(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s installation: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s installation: %w", op, err)
	}
	if n == 0 {
		return port.ErrInstallationNotFound
	}
	return nil
}

// UpdateCachedRepositories applies fn to the cache under a row lock.
func (s *PostgresStore) UpdateCachedRepositories(ctx context.Context, installationID int64, fn func([]domain.CachedRepo) []domain.CachedRepo) ([]domain.CachedRepo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT cached_repositories FROM github_installations WHERE installation_id = $1 FOR UPDATE`,
		installationID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrInstallationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock installation cache: %w", err)
	}

	current, err := decodeCachedRepos(raw)
	if err != nil {
		return nil, err
	}

	next := fn(current)
	if next == nil {
		next = []domain.CachedRepo{}
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode cached repositories: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE github_installations
		 SET cached_repositories = $1::jsonb, cache_updated_at = NOW(), updated_at = NOW()
		 WHERE installation_id = $2`,
		string(encoded), installationID,
	); err != nil {
		return nil, fmt.Errorf("update installation cache: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit installation cache: %w", err)
	}
	return next, nil
}

// HasMembership reports whether the installation is linked to the user.
func (s *PostgresStore) HasMembership(ctx context.Context, installationUUID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM installation_memberships WHERE installation_id = $1 AND user_id = $2)`,
		installationUUID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// CreateMembership inserts a membership unless the pair is already linked.
func (s *PostgresStore) CreateMembership(ctx context.Context, m *domain.InstallationMembership) (bool, error) {
	query := `INSERT INTO installation_memberships (installation_id, user_id, role, discovered_via, verified_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (installation_id, user_id) DO NOTHING
	          RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		m.InstallationID, m.UserID, m.Role, m.DiscoveredVia, m.VerifiedAt,
	).Scan(&m.ID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create membership: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstallation(row rowScanner) (*domain.Installation, error) {
	var (
		inst        domain.Installation
		suspendedAt sql.NullTime
		cacheAt     sql.NullTime
		raw         []byte
	)
	err := row.Scan(
		&inst.ID, &inst.InstallationID, &inst.AccountID, &inst.AccountLogin, &inst.AccountType,
		&inst.AccountAvatarURL, &inst.IsActive, &suspendedAt, &raw, &cacheAt,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if suspendedAt.Valid {
		inst.SuspendedAt = &suspendedAt.Time
	}
	if cacheAt.Valid {
		inst.CacheUpdatedAt = &cacheAt.Time
	}
	if inst.CachedRepositories, err = decodeCachedRepos(raw); err != nil {
		return nil, err
	}
	return &inst, nil
}

func decodeCachedRepos(raw []byte) ([]domain.CachedRepo, error) {
	repos := []domain.CachedRepo{}
	if len(raw) == 0 {
		return repos, nil
	}
	if err := json.Unmarshal(raw, &repos); err != nil {
		return nil, fmt.Errorf("decode cached repositories: %w", err)
	}
	return repos, nil
}
