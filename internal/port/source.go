package port

import (
	"context"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
)

// TreeFetcher reads repository file trees from the code host.
type TreeFetcher interface {
	// FetchTree returns the recursive tree of owner/repo at ref, authenticated
	// with the given installation's access grant.
	FetchTree(ctx context.Context, installationID int64, owner, repo, ref string) (*domain.Tree, error)
}

// FileIndexer classifies tree entries and estimates their token volume.
type FileIndexer interface {
	Index(files []domain.TreeEntry) domain.IndexResult

	// OversizedMessage formats the user-facing error for a repository over the limit.
	OversizedMessage(tc domain.TokenCount) string
}
