package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
)

func newReconciler() (*InstallationService, *memStore, *recordingTrigger) {
	store := newMemStore()
	jobs := &recordingTrigger{fail: map[string]bool{}}
	return NewInstallationService(store, store, jobs), store, jobs
}

func personal(id int64) domain.WebhookInstallation {
	return domain.WebhookInstallation{ID: id, Account: domain.WebhookAccount{ID: 583231, Login: "octocat", Type: domain.AccountTypeUser}}
}

func org(id int64) domain.WebhookInstallation {
	return domain.WebhookInstallation{ID: id, Account: domain.WebhookAccount{ID: 9919, Login: "github", Type: domain.AccountTypeOrganization}}
}

func webhookRepos(ids ...int64) *[]domain.WebhookRepository {
	out := make([]domain.WebhookRepository, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.WebhookRepository{ID: id, FullName: "octo/r" + string(rune('a'+id%26))})
	}
	return &out
}

func cachedIDs(repos []domain.CachedRepo) []int64 {
	ids := make([]int64, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestCapture_RepositoryCacheThreeWay(t *testing.T) {
	svc, store, _ := newReconciler()
	ctx := context.Background()

	_, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1), Repositories: webhookRepos(10, 11)})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, cachedIDs(store.installs[1].CachedRepositories))

	// Absent list leaves the cache alone.
	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionNewPermsAck, Installation: org(1)})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, cachedIDs(store.installs[1].CachedRepositories))

	// An explicit empty list clears it.
	empty := []domain.WebhookRepository{}
	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionNewPermsAck, Installation: org(1), Repositories: &empty})
	require.NoError(t, err)
	assert.Empty(t, store.installs[1].CachedRepositories)
	assert.NotNil(t, store.installs[1].CachedRepositories)
}

func TestCapture_RefreshesAccountAndReactivates(t *testing.T) {
	svc, store, _ := newReconciler()
	ctx := context.Background()

	_, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1)})
	require.NoError(t, err)
	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionDeleted, Installation: org(1)})
	require.NoError(t, err)
	require.False(t, store.installs[1].IsActive)

	renamed := org(1)
	renamed.Account.Login = "github-renamed"
	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: renamed})
	require.NoError(t, err)
	assert.True(t, store.installs[1].IsActive)
	assert.Equal(t, "github-renamed", store.installs[1].AccountLogin)
	assert.Len(t, store.installs, 1)
}

func TestAutoLink_PersonalOnce(t *testing.T) {
	svc, store, _ := newReconciler()
	store.users[583231] = &domain.User{ID: "user-1", Provider: domain.ProviderGitHub, ProviderID: "583231"}
	ctx := context.Background()

	res, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: personal(2)})
	require.NoError(t, err)
	assert.True(t, res.Linked)
	assert.True(t, store.memberships["inst-2/user-1"])

	res, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: personal(2)})
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Equal(t, 1, store.createMember)
}

func TestAutoLink_NeverForOrganizations(t *testing.T) {
	svc, store, _ := newReconciler()
	store.users[9919] = &domain.User{ID: "user-1"}

	res, err := svc.HandleInstallation(context.Background(), &domain.InstallationEvent{Action: ActionCreated, Installation: org(3)})
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Zero(t, store.createMember)
}

func TestAutoLink_NoUserYet(t *testing.T) {
	svc, store, _ := newReconciler()

	res, err := svc.HandleInstallation(context.Background(), &domain.InstallationEvent{Action: ActionCreated, Installation: personal(2)})
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Zero(t, store.createMember)
}

func TestLifecycle_LeavesCacheUntouched(t *testing.T) {
	svc, store, _ := newReconciler()
	ctx := context.Background()
	_, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1), Repositories: webhookRepos(10)})
	require.NoError(t, err)
	cacheStamp := *store.installs[1].CacheUpdatedAt

	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionSuspend, Installation: org(1), Repositories: webhookRepos()})
	require.NoError(t, err)
	assert.NotNil(t, store.installs[1].SuspendedAt)

	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionUnsuspend, Installation: org(1)})
	require.NoError(t, err)
	assert.Nil(t, store.installs[1].SuspendedAt)

	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionDeleted, Installation: org(1)})
	require.NoError(t, err)
	assert.False(t, store.installs[1].IsActive)

	assert.Equal(t, []int64{10}, cachedIDs(store.installs[1].CachedRepositories))
	assert.Equal(t, cacheStamp, *store.installs[1].CacheUpdatedAt)
}

func TestLifecycle_PastTenseSuspendActions(t *testing.T) {
	svc, store, _ := newReconciler()
	ctx := context.Background()
	_, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1)})
	require.NoError(t, err)

	res, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: "suspended", Installation: org(1)})
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.NotNil(t, store.installs[1].SuspendedAt)

	res, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: "unsuspended", Installation: org(1)})
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Nil(t, store.installs[1].SuspendedAt)
}

func TestCapture_PermissionsAckKeepsSuspension(t *testing.T) {
	svc, store, _ := newReconciler()
	ctx := context.Background()
	_, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1)})
	require.NoError(t, err)
	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionSuspend, Installation: org(1)})
	require.NoError(t, err)

	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionNewPermsAck, Installation: org(1), Repositories: webhookRepos(10)})
	require.NoError(t, err)
	assert.NotNil(t, store.installs[1].SuspendedAt)
	assert.True(t, store.installs[1].IsActive)
	assert.Equal(t, []int64{10}, cachedIDs(store.installs[1].CachedRepositories))

	// A redelivered created refreshes metadata without lifting the suspension.
	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1)})
	require.NoError(t, err)
	assert.NotNil(t, store.installs[1].SuspendedAt)
}

func TestCapture_PermissionsAckDoesNotRevive(t *testing.T) {
	svc, store, _ := newReconciler()
	ctx := context.Background()
	_, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1)})
	require.NoError(t, err)
	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionDeleted, Installation: org(1)})
	require.NoError(t, err)

	_, err = svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionNewPermsAck, Installation: org(1)})
	require.NoError(t, err)
	assert.False(t, store.installs[1].IsActive)
}

func TestLifecycle_UnknownInstallationAcknowledged(t *testing.T) {
	svc, store, _ := newReconciler()
	for _, action := range []string{ActionSuspend, ActionUnsuspend, ActionDeleted} {
		res, err := svc.HandleInstallation(context.Background(), &domain.InstallationEvent{Action: action, Installation: org(99)})
		require.NoError(t, err, action)
		assert.True(t, res.Handled)
	}
	assert.Empty(t, store.installs)
}

func TestHandleInstallation_UnknownActionNotHandled(t *testing.T) {
	svc, store, _ := newReconciler()
	res, err := svc.HandleInstallation(context.Background(), &domain.InstallationEvent{Action: "transferred", Installation: org(1)})
	require.NoError(t, err)
	assert.False(t, res.Handled)
	assert.Zero(t, store.upsertCalls)
}

func TestRepositoriesDiff_Idempotent(t *testing.T) {
	svc, store, _ := newReconciler()
	ctx := context.Background()
	_, err := svc.HandleInstallation(ctx, &domain.InstallationEvent{Action: ActionCreated, Installation: org(1), Repositories: webhookRepos(10, 11)})
	require.NoError(t, err)

	ev := &domain.InstallationRepositoriesEvent{
		Action:              "added",
		Installation:        org(1),
		RepositoriesAdded:   *webhookRepos(12),
		RepositoriesRemoved: *webhookRepos(10),
	}
	for i := 0; i < 2; i++ {
		res, err := svc.HandleInstallationRepositories(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, 2, res.CachedRepos)
		assert.ElementsMatch(t, []int64{11, 12}, cachedIDs(store.installs[1].CachedRepositories))
	}
}

func TestRepositoriesDiff_UnknownInstallationCreatesPlaceholder(t *testing.T) {
	svc, store, _ := newReconciler()

	res, err := svc.HandleInstallationRepositories(context.Background(), &domain.InstallationRepositoriesEvent{
		Action:            "added",
		Installation:      org(5),
		RepositoriesAdded: *webhookRepos(20, 21),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CachedRepos)
	require.Contains(t, store.installs, int64(5))
	assert.Equal(t, "github", store.installs[5].AccountLogin)
	assert.Equal(t, []int64{20, 21}, cachedIDs(store.installs[5].CachedRepositories))
}

func TestFanOut_TriggersTrackedOnly(t *testing.T) {
	svc, store, jobs := newReconciler()
	store.addRepo(domain.Repository{ID: "r-10", GitHubRepoID: 10, FullName: "octo/a"})
	store.addRepo(domain.Repository{ID: "r-12", GitHubRepoID: 12, FullName: "octo/c"})

	res, err := svc.HandleInstallation(context.Background(), &domain.InstallationEvent{
		Action: ActionCreated, Installation: org(1), Repositories: webhookRepos(10, 11, 12, 12),
	})
	require.NoError(t, err)
	assert.Equal(t, FanOutResult{Triggered: 2, Skipped: 1}, res.FanOut)
	assert.ElementsMatch(t, []string{"r-10", "r-12"}, jobs.triggered)
}

func TestFanOut_ContinuesPastFailedTrigger(t *testing.T) {
	svc, store, jobs := newReconciler()
	store.addRepo(domain.Repository{ID: "r-10", GitHubRepoID: 10, FullName: "octo/a"})
	store.addRepo(domain.Repository{ID: "r-11", GitHubRepoID: 11, FullName: "octo/b"})
	store.addRepo(domain.Repository{ID: "r-12", GitHubRepoID: 12, FullName: "octo/c"})
	jobs.fail["r-11"] = true

	res, err := svc.HandleInstallationRepositories(context.Background(), &domain.InstallationRepositoriesEvent{
		Action: "added", Installation: org(1), RepositoriesAdded: *webhookRepos(10, 11, 12),
	})
	require.NoError(t, err)
	assert.Equal(t, FanOutResult{Triggered: 2, Failed: 1}, res.FanOut)
	assert.ElementsMatch(t, []string{"r-10", "r-12"}, jobs.triggered)
}

func TestFanOut_RemovedOnlyTriggersNothing(t *testing.T) {
	svc, store, jobs := newReconciler()
	store.addRepo(domain.Repository{ID: "r-10", GitHubRepoID: 10, FullName: "octo/a"})
	_, err := svc.HandleInstallation(context.Background(), &domain.InstallationEvent{Action: ActionCreated, Installation: org(1)})
	require.NoError(t, err)

	res, err := svc.HandleInstallationRepositories(context.Background(), &domain.InstallationRepositoriesEvent{
		Action: "removed", Installation: org(1), RepositoriesRemoved: *webhookRepos(10),
	})
	require.NoError(t, err)
	assert.Equal(t, FanOutResult{}, res.FanOut)
	assert.Empty(t, jobs.triggered)
}
