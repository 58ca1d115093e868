package store

import (
	"context"
	"fmt"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
)

// StoreFiles upserts the indexed file set of a repository in one transaction
// and removes rows for paths that are no longer in the set. NOW() is fixed
// for the duration of the transaction, so every row written here shares one
// last_seen_at and anything older is stale.
func (s *PostgresStore) StoreFiles(ctx context.Context, repoID string, files []domain.IndexedFile) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repo_files (repo_id, file_path, language, size_bytes, estimated_tokens, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (repo_id, file_path) DO UPDATE SET
			language = EXCLUDED.language,
			size_bytes = EXCLUDED.size_bytes,
			estimated_tokens = EXCLUDED.estimated_tokens,
			last_seen_at = EXCLUDED.last_seen_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare file upsert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, repoID, f.FilePath, f.Language, f.SizeBytes, f.EstimatedTokens); err != nil {
			return 0, fmt.Errorf("upsert file %s: %w", f.FilePath, err)
		}
		stored++
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM repo_files WHERE repo_id = $1 AND last_seen_at <> NOW()`, repoID,
	); err != nil {
		return 0, fmt.Errorf("delete stale files: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit files: %w", err)
	}
	return stored, nil
}

// ListFiles returns the stored file set of a repository ordered by path.
func (s *PostgresStore) ListFiles(ctx context.Context, repoID string) ([]domain.RepoFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo_id, file_path, language, size_bytes, estimated_tokens, last_seen_at
		 FROM repo_files WHERE repo_id = $1 ORDER BY file_path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []domain.RepoFile
	for rows.Next() {
		var f domain.RepoFile
		if err := rows.Scan(&f.ID, &f.RepoID, &f.FilePath, &f.Language, &f.SizeBytes, &f.EstimatedTokens, &f.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
