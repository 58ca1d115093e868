package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// Installation event actions. GitHub sends suspend and unsuspend; the
// past-tense forms are accepted as well.
const (
	ActionCreated     = "created"
	ActionDeleted     = "deleted"
	ActionSuspend     = "suspend"
	ActionSuspended   = "suspended"
	ActionUnsuspend   = "unsuspend"
	ActionUnsuspended = "unsuspended"
	ActionNewPermsAck = "new_permissions_accepted"
)

// FanOutResult counts the ingestion triggers issued for newly visible repositories.
type FanOutResult struct {
	Triggered int `json:"triggered"`
	Skipped   int `json:"skipped"` // visible but not tracked
	Failed    int `json:"failed"`
}

// ReconcileResult summarises what one installation event changed.
type ReconcileResult struct {
	Action         string       `json:"action"`
	InstallationID int64        `json:"installationId"`
	Handled        bool         `json:"handled"`
	Linked         bool         `json:"linked,omitempty"`
	CachedRepos    int          `json:"cachedRepos,omitempty"`
	FanOut         FanOutResult `json:"fanOut"`
}

// InstallationService keeps installation rows, their repository cache and
// their user links in step with GitHub.
type InstallationService struct {
	installs port.InstallationStore
	repos    port.RepositoryStore
	jobs     port.JobTrigger
	now      func() time.Time
}

// NewInstallationService creates the reconciler.
func NewInstallationService(installs port.InstallationStore, repos port.RepositoryStore, jobs port.JobTrigger) *InstallationService {
	return &InstallationService{installs: installs, repos: repos, jobs: jobs, now: time.Now}
}

// HandleInstallation applies an "installation" event.
func (s *InstallationService) HandleInstallation(ctx context.Context, ev *domain.InstallationEvent) (*ReconcileResult, error) {
	id := ev.Installation.ID
	res := &ReconcileResult{Action: ev.Action, InstallationID: id, Handled: true}

	switch ev.Action {
	case ActionCreated, ActionNewPermsAck:
		var repos *[]domain.CachedRepo
		if ev.Repositories != nil {
			cached := domain.ToCachedRepos(*ev.Repositories)
			repos = &cached
		}
		// Only a fresh install revives a deleted row.
		inst, linked, err := s.Capture(ctx, ev.Installation, repos, ev.Action == ActionCreated)
		if err != nil {
			return nil, err
		}
		res.Linked = linked
		res.CachedRepos = len(inst.CachedRepositories)
		if ev.Repositories != nil {
			fan, err := s.FanOut(ctx, repoIDs(*ev.Repositories))
			if err != nil {
				return nil, err
			}
			res.FanOut = fan
		}

	case ActionSuspend, ActionSuspended:
		now := s.now()
		if err := s.transition(ctx, id, func() error { return s.installs.SetSuspended(ctx, id, &now) }); err != nil {
			return nil, err
		}

	case ActionUnsuspend, ActionUnsuspended:
		if err := s.transition(ctx, id, func() error { return s.installs.SetSuspended(ctx, id, nil) }); err != nil {
			return nil, err
		}

	case ActionDeleted:
		if err := s.transition(ctx, id, func() error { return s.installs.Deactivate(ctx, id) }); err != nil {
			return nil, err
		}

	default:
		res.Handled = false
	}

	slog.Info("Installation event reconciled",
		"installation_id", id, "action", ev.Action, "handled", res.Handled,
		"linked", res.Linked, "triggered", res.FanOut.Triggered, "skipped", res.FanOut.Skipped)
	return res, nil
}

// HandleInstallationRepositories applies an "installation_repositories" event
// as a set diff on the cached repository list.
func (s *InstallationService) HandleInstallationRepositories(ctx context.Context, ev *domain.InstallationRepositoriesEvent) (*ReconcileResult, error) {
	id := ev.Installation.ID
	res := &ReconcileResult{Action: ev.Action, InstallationID: id, Handled: true}

	added := domain.ToCachedRepos(ev.RepositoriesAdded)
	removed := domain.ToCachedRepos(ev.RepositoriesRemoved)
	apply := func(cur []domain.CachedRepo) []domain.CachedRepo {
		return domain.MergeCachedRepos(cur, added, removed)
	}

	cache, err := s.installs.UpdateCachedRepositories(ctx, id, apply)
	if errors.Is(err, port.ErrInstallationNotFound) {
		// The created event was lost or is still in flight; start from the
		// account in this payload and leave the cache for the diff below.
		slog.Warn("Repositories event for unknown installation, creating placeholder", "installation_id", id)
		_, linked, cerr := s.Capture(ctx, ev.Installation, nil, false)
		if cerr != nil {
			return nil, cerr
		}
		res.Linked = linked
		cache, err = s.installs.UpdateCachedRepositories(ctx, id, apply)
	}
	if err != nil {
		return nil, fmt.Errorf("update cached repositories: %w", err)
	}
	res.CachedRepos = len(cache)

	if len(ev.RepositoriesAdded) > 0 {
		fan, err := s.FanOut(ctx, repoIDs(ev.RepositoriesAdded))
		if err != nil {
			return nil, err
		}
		res.FanOut = fan
	}

	slog.Info("Installation repositories reconciled",
		"installation_id", id, "action", ev.Action,
		"added", len(added), "removed", len(removed), "cached", res.CachedRepos,
		"triggered", res.FanOut.Triggered, "skipped", res.FanOut.Skipped, "failed", res.FanOut.Failed)
	return res, nil
}

// Capture upserts the installation and auto-links personal accounts.
// A nil repos leaves the cached repository list untouched. reactivate marks
// an existing deleted row active again.
func (s *InstallationService) Capture(ctx context.Context, wi domain.WebhookInstallation, repos *[]domain.CachedRepo, reactivate bool) (*domain.Installation, bool, error) {
	account := domain.InstallationAccount{
		ID:        wi.Account.ID,
		Login:     wi.Account.Login,
		Type:      wi.Account.Type,
		AvatarURL: wi.Account.AvatarURL,
	}
	inst, err := s.installs.UpsertInstallation(ctx, wi.ID, account, repos, reactivate)
	if err != nil {
		return nil, false, fmt.Errorf("upsert installation %d: %w", wi.ID, err)
	}

	linked, err := s.AutoLink(ctx, inst)
	if err != nil {
		// Linking can be claimed manually later; the upsert stands.
		slog.Error("Auto-link failed", "installation_id", wi.ID, "error", err)
		return inst, false, nil
	}
	return inst, linked, nil
}

// AutoLink links a personal installation to the user who signed in with the
// same GitHub account. It reports whether a new membership was created.
func (s *InstallationService) AutoLink(ctx context.Context, inst *domain.Installation) (bool, error) {
	if inst.IsOrganization() {
		return false, nil
	}

	user, err := s.installs.FindUserByGitHubID(ctx, inst.AccountID)
	if errors.Is(err, port.ErrUserNotFound) {
		slog.Debug("No user for personal installation yet", "installation_id", inst.InstallationID, "account_id", inst.AccountID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find user: %w", err)
	}

	exists, err := s.installs.HasMembership(ctx, inst.ID, user.ID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	if exists {
		return false, nil
	}

	created, err := s.installs.CreateMembership(ctx, &domain.InstallationMembership{
		InstallationID: inst.ID,
		UserID:         user.ID,
		Role:           domain.MembershipRoleOwner,
		DiscoveredVia:  domain.DiscoveredViaPersonalMatch,
		VerifiedAt:     s.now(),
	})
	if err != nil {
		return false, fmt.Errorf("create membership: %w", err)
	}
	if created {
		slog.Info("Installation linked to user", "installation_id", inst.InstallationID, "user_id", user.ID)
	}
	return created, nil
}

// ClaimForUser links the personal installations of a GitHub account to the
// user who just signed in with it. It returns how many links were created.
func (s *InstallationService) ClaimForUser(ctx context.Context, githubID int64) (int, error) {
	insts, err := s.installs.ListInstallationsByAccount(ctx, githubID)
	if err != nil {
		return 0, fmt.Errorf("list installations: %w", err)
	}

	linked := 0
	for i := range insts {
		ok, err := s.AutoLink(ctx, &insts[i])
		if err != nil {
			return linked, err
		}
		if ok {
			linked++
		}
	}
	return linked, nil
}

// FanOut triggers one ingestion per already-tracked repository among
// githubRepoIDs. A failed trigger is logged and the loop moves on.
func (s *InstallationService) FanOut(ctx context.Context, githubRepoIDs []int64) (FanOutResult, error) {
	var res FanOutResult
	if len(githubRepoIDs) == 0 {
		return res, nil
	}

	tracked, err := s.repos.ListRepositoriesByGitHubIDs(ctx, githubRepoIDs)
	if err != nil {
		return res, fmt.Errorf("look up tracked repositories: %w", err)
	}

	seen := make(map[int64]bool, len(tracked))
	for _, repo := range tracked {
		if seen[repo.GitHubRepoID] {
			continue
		}
		seen[repo.GitHubRepoID] = true

		jobID, err := s.jobs.TriggerIngestion(ctx, repo.ID)
		if err != nil {
			res.Failed++
			slog.Error("Failed to trigger ingestion", "repo_id", repo.ID, "github_repo_id", repo.GitHubRepoID, "error", err)
			continue
		}
		res.Triggered++
		slog.Debug("Ingestion triggered", "repo_id", repo.ID, "job_id", jobID)
	}

	for _, id := range uniqueIDs(githubRepoIDs) {
		if !seen[id] {
			res.Skipped++
		}
	}
	return res, nil
}

// transition runs a lifecycle write; unknown installations are acknowledged.
func (s *InstallationService) transition(ctx context.Context, id int64, write func() error) error {
	err := write()
	if errors.Is(err, port.ErrInstallationNotFound) {
		slog.Warn("Lifecycle event for unknown installation", "installation_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("installation %d: %w", id, err)
	}
	return nil
}

func repoIDs(repos []domain.WebhookRepository) []int64 {
	ids := make([]int64, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	return ids
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
