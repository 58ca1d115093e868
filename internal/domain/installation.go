package domain

import "time"

// Installation is a GitHub App installation: one account's grant of access
// to a set of repositories.
type Installation struct {
	ID                 string       `json:"id"                   db:"id"`
	InstallationID     int64        `json:"installation_id"      db:"installation_id"`
	AccountID          int64        `json:"account_id"           db:"account_id"`
	AccountLogin       string       `json:"account_login"        db:"account_login"`
	AccountType        string       `json:"account_type"         db:"account_type"`
	AccountAvatarURL   string       `json:"account_avatar_url"   db:"account_avatar_url"`
	IsActive           bool         `json:"is_active"            db:"is_active"`
	SuspendedAt        *time.Time   `json:"suspended_at"         db:"suspended_at"`
	CachedRepositories []CachedRepo `json:"cached_repositories"  db:"cached_repositories"`
	CacheUpdatedAt     *time.Time   `json:"cache_updated_at"     db:"cache_updated_at"`
	CreatedAt          time.Time    `json:"created_at"           db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"           db:"updated_at"`
}

// Account types as reported by GitHub.
const (
	AccountTypeUser         = "User"
	AccountTypeOrganization = "Organization"
)

// IsOrganization reports whether the installation belongs to an organization account.
func (i *Installation) IsOrganization() bool {
	return i.AccountType == AccountTypeOrganization
}

// CachedRepo is one entry of an installation's cached repository list.
type CachedRepo struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

// InstallationAccount is the account metadata refreshed on every upsert.
type InstallationAccount struct {
	ID        int64
	Login     string
	Type      string
	AvatarURL string
}

// InstallationMembership links an installation to an internal user.
type InstallationMembership struct {
	ID             string    `json:"id"              db:"id"`
	InstallationID string    `json:"installation_id" db:"installation_id"`
	UserID         string    `json:"user_id"         db:"user_id"`
	Role           string    `json:"role"            db:"role"`
	DiscoveredVia  string    `json:"discovered_via"  db:"discovered_via"`
	VerifiedAt     time.Time `json:"verified_at"     db:"verified_at"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}

// Membership roles and discovery methods.
const (
	MembershipRoleOwner = "owner"

	DiscoveredViaPersonalMatch = "personal_match"
	DiscoveredViaManual        = "manual"
)

// MergeCachedRepos returns (existing minus removed) plus added, keyed by
// repository id. Added entries overwrite existing ones with the same id,
// and the result never holds duplicate ids.
func MergeCachedRepos(existing, added, removed []CachedRepo) []CachedRepo {
	drop := make(map[int64]bool, len(removed))
	for _, r := range removed {
		drop[r.ID] = true
	}

	out := make([]CachedRepo, 0, len(existing)+len(added))
	index := make(map[int64]int, len(existing)+len(added))
	put := func(r CachedRepo) {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			return
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}

	for _, r := range existing {
		if !drop[r.ID] {
			put(r)
		}
	}
	for _, r := range added {
		put(r)
	}
	return out
}
