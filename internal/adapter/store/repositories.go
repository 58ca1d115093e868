package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

const repositoryColumns = `id, user_id, github_repo_id, full_name, default_branch, is_private, installation_id,
	ingestion_status, last_ingested_at, last_ingested_sha, file_count, token_count,
	extraction_status, last_error, created_at, updated_at`

// CreateRepository inserts a tracked repository, or refreshes its metadata
// when the GitHub id is already tracked.
func (s *PostgresStore) CreateRepository(ctx context.Context, r *domain.Repository) (*domain.Repository, error) {
	query := `
		INSERT INTO repositories (user_id, github_repo_id, full_name, default_branch, is_private, installation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (github_repo_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			default_branch = EXCLUDED.default_branch,
			is_private = EXCLUDED.is_private,
			installation_id = EXCLUDED.installation_id,
			updated_at = NOW()
		RETURNING ` + repositoryColumns

	branch := r.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	repo, err := scanRepository(s.db.QueryRowContext(ctx, query,
		r.UserID, r.GitHubRepoID, r.FullName, branch, r.Private, r.InstallationID,
	))
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	return repo, nil
}

// GetRepository returns a repository by its internal id.
func (s *PostgresStore) GetRepository(ctx context.Context, id string) (*domain.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE id = $1`

	repo, err := scanRepository(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrRepoNotFound
	}
	if err != nil {
		if isInvalidUUID(err) {
			return nil, port.ErrRepoNotFound
		}
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// ListRepositoriesByGitHubIDs returns the tracked repositories among ids in one round trip.
func (s *PostgresStore) ListRepositoriesByGitHubIDs(ctx context.Context, ids []int64) ([]domain.Repository, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + repositoryColumns + ` FROM repositories
	          WHERE github_repo_id = ANY($1)
	          ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []domain.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

// UpdateIngestion writes the ingestion fields in u unconditionally.
func (s *PostgresStore) UpdateIngestion(ctx context.Context, id string, u domain.StatusUpdate) error {
	if err := checkStatus(u); err != nil {
		return fmt.Errorf("update ingestion: %w", err)
	}
	set, args := buildStatusSet(u)
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE repositories SET %s WHERE id = $%d`, set, len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ingestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ingestion: %w", err)
	}
	if n == 0 {
		return port.ErrRepoNotFound
	}
	return nil
}

// TransitionIngestion writes u only if the row still carries the observed
// status and updated_at.
func (s *PostgresStore) TransitionIngestion(ctx context.Context, id, fromStatus string, fromUpdatedAt time.Time, u domain.StatusUpdate) error {
	if err := checkStatus(u); err != nil {
		return fmt.Errorf("transition ingestion: %w", err)
	}
	set, args := buildStatusSet(u)
	args = append(args, id, fromStatus, fromUpdatedAt)
	n := len(args)
	query := fmt.Sprintf(
		`UPDATE repositories SET %s WHERE id = $%d AND ingestion_status = $%d AND updated_at = $%d`,
		set, n-2, n-1, n,
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition ingestion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition ingestion: %w", err)
	}
	if affected == 0 {
		return port.ErrIngestionConflict
	}
	return nil
}

// ResetIngestion moves a repository back to pending and clears its last error.
func (s *PostgresStore) ResetIngestion(ctx context.Context, id string) error {
	return s.UpdateIngestion(ctx, id, domain.StatusUpdate{
		Status:     domain.IngestionStatusPending,
		ClearError: true,
	})
}

func checkStatus(u domain.StatusUpdate) error {
	if u.Status != "" && !domain.ValidIngestionStatus(u.Status) {
		return fmt.Errorf("unknown ingestion status %q", u.Status)
	}
	return nil
}

// buildStatusSet renders the SET clause for u. updated_at is always bumped.
func buildStatusSet(u domain.StatusUpdate) (string, []interface{}) {
	var (
		parts []string
		args  []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		parts = append(parts, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Status != "" {
		add("ingestion_status", u.Status)
	}
	switch {
	case u.LastError != nil:
		add("last_error", *u.LastError)
	case u.ClearError:
		parts = append(parts, "last_error = NULL")
	}
	if u.FileCount != nil {
		add("file_count", *u.FileCount)
	}
	if u.TokenCount != nil {
		add("token_count", *u.TokenCount)
	}
	if u.LastIngestedAt != nil {
		add("last_ingested_at", *u.LastIngestedAt)
	}
	if u.LastIngestedSHA != nil {
		add("last_ingested_sha", *u.LastIngestedSHA)
	}
	// clock_timestamp so back-to-back writes in one transaction still differ.
	parts = append(parts, "updated_at = clock_timestamp()")

	return strings.Join(parts, ", "), args
}

func scanRepository(row rowScanner) (*domain.Repository, error) {
	var (
		r              domain.Repository
		installationID sql.NullInt64
		lastIngestedAt sql.NullTime
		lastSHA        sql.NullString
		lastError      sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.GitHubRepoID, &r.FullName, &r.DefaultBranch, &r.Private, &installationID,
		&r.IngestionStatus, &lastIngestedAt, &lastSHA, &r.FileCount, &r.TokenCount,
		&r.ExtractionStatus, &lastError, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if installationID.Valid {
		r.InstallationID = &installationID.Int64
	}
	if lastIngestedAt.Valid {
		r.LastIngestedAt = &lastIngestedAt.Time
	}
	r.LastIngestedSHA = lastSHA.String
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return &r, nil
}

// isInvalidUUID reports a malformed id, which can never match a row.
func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
