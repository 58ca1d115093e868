package domain

import "time"

// Repository represents a tracked GitHub repository under analysis.
type Repository struct {
	ID               string     `json:"id"                 db:"id"`
	UserID           string     `json:"user_id"            db:"user_id"`
	GitHubRepoID     int64      `json:"github_repo_id"     db:"github_repo_id"`
	FullName         string     `json:"full_name"          db:"full_name"` // owner/name
	DefaultBranch    string     `json:"default_branch"     db:"default_branch"`
	Private          bool       `json:"private"            db:"is_private"`
	InstallationID   *int64     `json:"installation_id"    db:"installation_id"`
	IngestionStatus  string     `json:"ingestion_status"   db:"ingestion_status"`
	LastIngestedAt   *time.Time `json:"last_ingested_at"   db:"last_ingested_at"`
	LastIngestedSHA  string     `json:"last_ingested_sha"  db:"last_ingested_sha"`
	FileCount        int        `json:"file_count"         db:"file_count"`
	TokenCount       int        `json:"token_count"        db:"token_count"`
	ExtractionStatus string     `json:"extraction_status"  db:"extraction_status"`
	LastError        *string    `json:"last_error"         db:"last_error"`
	CreatedAt        time.Time  `json:"created_at"         db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"         db:"updated_at"`
}

// Ingestion status constants.
const (
	IngestionStatusPending   = "pending"
	IngestionStatusIngesting = "ingesting"
	IngestionStatusIngested  = "ingested"
	IngestionStatusFailed    = "failed"
)

// ValidIngestionStatus reports whether s is one of the known ingestion states.
func ValidIngestionStatus(s string) bool {
	switch s {
	case IngestionStatusPending, IngestionStatusIngesting, IngestionStatusIngested, IngestionStatusFailed:
		return true
	}
	return false
}

// RepoFile is one indexed file of a repository snapshot.
type RepoFile struct {
	ID              string    `json:"id"               db:"id"`
	RepoID          string    `json:"repo_id"          db:"repo_id"`
	FilePath        string    `json:"file_path"        db:"file_path"`
	Language        *string   `json:"language"         db:"language"`
	SizeBytes       int64     `json:"size_bytes"       db:"size_bytes"`
	EstimatedTokens int       `json:"estimated_tokens" db:"estimated_tokens"`
	LastSeenAt      time.Time `json:"last_seen_at"     db:"last_seen_at"`
}

// StatusUpdate describes a single write to a repository's ingestion fields.
// Nil pointers leave the column untouched.
type StatusUpdate struct {
	Status          string
	LastError       *string
	ClearError      bool
	FileCount       *int
	TokenCount      *int
	LastIngestedAt  *time.Time
	LastIngestedSHA *string
}
