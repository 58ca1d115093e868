package domain

// GitHub webhook event names.
const (
	EventPing                     = "ping"
	EventPullRequest              = "pull_request"
	EventInstallation             = "installation"
	EventInstallationRepositories = "installation_repositories"
)

// WebhookAccount is the account object embedded in installation payloads.
type WebhookAccount struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Type      string `json:"type"`
	AvatarURL string `json:"avatar_url"`
}

// WebhookInstallation is the installation object embedded in payloads.
type WebhookInstallation struct {
	ID      int64          `json:"id"`
	Account WebhookAccount `json:"account"`
}

// WebhookRepository is a repository reference as sent in installation payloads.
type WebhookRepository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

// InstallationEvent is the payload of the "installation" event.
//
// Repositories is a pointer so an absent field can be told apart from an
// explicitly empty list: nil leaves the cache untouched, an empty slice
// replaces it with nothing.
type InstallationEvent struct {
	Action       string               `json:"action"`
	Installation WebhookInstallation  `json:"installation"`
	Repositories *[]WebhookRepository `json:"repositories"`
}

// InstallationRepositoriesEvent is the payload of "installation_repositories".
type InstallationRepositoriesEvent struct {
	Action              string              `json:"action"`
	Installation        WebhookInstallation `json:"installation"`
	RepositorySelection string              `json:"repository_selection"`
	RepositoriesAdded   []WebhookRepository `json:"repositories_added"`
	RepositoriesRemoved []WebhookRepository `json:"repositories_removed"`
}

// PullRequestEvent carries the pull_request fields this service reads.
type PullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository WebhookRepository `json:"repository"`
}

// ToCachedRepos converts webhook repository references into cache entries.
func ToCachedRepos(in []WebhookRepository) []CachedRepo {
	out := make([]CachedRepo, 0, len(in))
	for _, r := range in {
		out = append(out, CachedRepo{ID: r.ID, FullName: r.FullName, Private: r.Private})
	}
	return out
}
