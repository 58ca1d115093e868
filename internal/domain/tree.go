package domain

// TreeEntry is one entry of a recursive git tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	Type string `json:"type"` // blob, tree, commit
	Mode string `json:"mode"`
}

// Tree is the result of a file tree fetch.
type Tree struct {
	Files     []TreeEntry `json:"files"`
	SHA       string      `json:"sha"`
	Truncated bool        `json:"truncated"`
}

// IndexedFile is a file selected for ingestion.
type IndexedFile struct {
	FilePath        string  `json:"filePath"`
	Language        *string `json:"language"`
	SizeBytes       int64   `json:"sizeBytes"`
	EstimatedTokens int     `json:"estimatedTokens"`
}

// IndexStats counts how the indexer classified a tree.
type IndexStats struct {
	TotalFiles          int `json:"totalFiles"`
	IncludedFiles       int `json:"includedFiles"`
	ExcludedByPath      int `json:"excludedByPath"`
	ExcludedByExtension int `json:"excludedByExtension"`
	ExcludedBySize      int `json:"excludedBySize"`
}

// TokenCount is the size estimate of the included files.
type TokenCount struct {
	TotalBytes      int64 `json:"totalBytes"`
	EstimatedTokens int   `json:"estimatedTokens"`
	ExceedsLimit    bool  `json:"exceedsLimit"`
	Limit           int   `json:"limit"`
}

// IndexResult is the output of indexing a tree.
type IndexResult struct {
	Files      []IndexedFile `json:"files"`
	Stats      IndexStats    `json:"stats"`
	TokenCount TokenCount    `json:"tokenCount"`
}

// IngestResult is the outcome of one ingestion run.
type IngestResult struct {
	Success    bool   `json:"success"`
	RepoID     string `json:"repoId"`
	FileCount  *int   `json:"fileCount,omitempty"`
	TokenCount *int   `json:"tokenCount,omitempty"`
	CommitSHA  string `json:"commitSha,omitempty"`
	Error      string `json:"error,omitempty"`
}
