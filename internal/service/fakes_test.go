package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// memStore implements the installation, repository and file stores in memory.
type memStore struct {
	mu sync.Mutex

	installs    map[int64]*domain.Installation
	users       map[int64]*domain.User
	memberships map[string]bool
	repos       map[string]*domain.Repository
	files       map[string][]domain.IndexedFile

	updates      []domain.StatusUpdate
	transitions  []domain.StatusUpdate
	storeCalls   int
	upsertCalls  int
	createMember int
	tick         time.Time
}

func newMemStore() *memStore {
	return &memStore{
		installs:    map[int64]*domain.Installation{},
		users:       map[int64]*domain.User{},
		memberships: map[string]bool{},
		repos:       map[string]*domain.Repository{},
		files:       map[string][]domain.IndexedFile{},
		tick:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) now() time.Time {
	m.tick = m.tick.Add(time.Millisecond)
	return m.tick
}

func (m *memStore) addRepo(r domain.Repository) *domain.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.IngestionStatus == "" {
		r.IngestionStatus = domain.IngestionStatusPending
	}
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	r.UpdatedAt = m.now()
	m.repos[r.ID] = &r
	return &r
}

func (m *memStore) repo(id string) domain.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.repos[id]
}

func (m *memStore) UpsertInstallation(_ context.Context, id int64, acct domain.InstallationAccount, repos *[]domain.CachedRepo, reactivate bool) (*domain.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	inst, ok := m.installs[id]
	if !ok {
		inst = &domain.Installation{ID: "inst-" + strconv.FormatInt(id, 10), InstallationID: id, IsActive: true, CachedRepositories: []domain.CachedRepo{}}
		m.installs[id] = inst
	}
	inst.AccountID = acct.ID
	inst.AccountLogin = acct.Login
	inst.AccountType = acct.Type
	inst.AccountAvatarURL = acct.AvatarURL
	if reactivate {
		inst.IsActive = true
	}
	if repos != nil {
		inst.CachedRepositories = append([]domain.CachedRepo{}, (*repos)...)
		t := m.now()
		inst.CacheUpdatedAt = &t
	}
	cp := *inst
	return &cp, nil
}

func (m *memStore) GetInstallation(_ context.Context, id int64) (*domain.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installs[id]
	if !ok {
		return nil, port.ErrInstallationNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memStore) ListInstallationsByAccount(_ context.Context, accountID int64) ([]domain.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Installation
	for _, inst := range m.installs {
		if inst.AccountID == accountID && inst.IsActive {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (m *memStore) UpsertUser(_ context.Context, u *domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := strconv.ParseInt(u.ProviderID, 10, 64)
	if err != nil {
		return nil, err
	}
	if existing, ok := m.users[id]; ok {
		existing.Email, existing.Name, existing.AvatarURL = u.Email, u.Name, u.AvatarURL
		return existing, nil
	}
	cp := *u
	cp.ID = "user-" + u.ProviderID
	m.users[id] = &cp
	return &cp, nil
}

func (m *memStore) SetSuspended(_ context.Context, id int64, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installs[id]
	if !ok {
		return port.ErrInstallationNotFound
	}
	inst.SuspendedAt = at
	return nil
}

func (m *memStore) Deactivate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installs[id]
	if !ok {
		return port.ErrInstallationNotFound
	}
	inst.IsActive = false
	return nil
}

func (m *memStore) UpdateCachedRepositories(_ context.Context, id int64, fn func([]domain.CachedRepo) []domain.CachedRepo) ([]domain.CachedRepo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installs[id]
	if !ok {
		return nil, port.ErrInstallationNotFound
	}
	next := fn(inst.CachedRepositories)
	if next == nil {
		next = []domain.CachedRepo{}
	}
	inst.CachedRepositories = next
	t := m.now()
	inst.CacheUpdatedAt = &t
	return next, nil
}

func (m *memStore) FindUserByGitHubID(_ context.Context, githubID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[githubID]
	if !ok {
		return nil, port.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) HasMembership(_ context.Context, instID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memberships[instID+"/"+userID], nil
}

func (m *memStore) CreateMembership(_ context.Context, mem *domain.InstallationMembership) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createMember++
	key := mem.InstallationID + "/" + mem.UserID
	if m.memberships[key] {
		return false, nil
	}
	m.memberships[key] = true
	return true, nil
}

func (m *memStore) GetRepository(_ context.Context, id string) (*domain.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, port.ErrRepoNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRepositoriesByGitHubIDs(_ context.Context, ids []int64) ([]domain.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Repository
	for _, r := range m.repos {
		if want[r.GitHubRepoID] {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) apply(r *domain.Repository, u domain.StatusUpdate) {
	r.IngestionStatus = u.Status
	if u.ClearError {
		r.LastError = nil
	} else if u.LastError != nil {
		msg := *u.LastError
		r.LastError = &msg
	}
	if u.FileCount != nil {
		r.FileCount = *u.FileCount
	}
	if u.TokenCount != nil {
		r.TokenCount = *u.TokenCount
	}
	if u.LastIngestedAt != nil {
		t := *u.LastIngestedAt
		r.LastIngestedAt = &t
	}
	if u.LastIngestedSHA != nil {
		r.LastIngestedSHA = *u.LastIngestedSHA
	}
	r.UpdatedAt = m.now()
}

func (m *memStore) UpdateIngestion(_ context.Context, id string, u domain.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return port.ErrRepoNotFound
	}
	m.updates = append(m.updates, u)
	m.apply(r, u)
	return nil
}

func (m *memStore) TransitionIngestion(_ context.Context, id, from string, fromUpdated time.Time, u domain.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok || r.IngestionStatus != from || !r.UpdatedAt.Equal(fromUpdated) {
		return port.ErrIngestionConflict
	}
	m.transitions = append(m.transitions, u)
	m.apply(r, u)
	return nil
}

func (m *memStore) ResetIngestion(ctx context.Context, id string) error {
	return m.UpdateIngestion(ctx, id, domain.StatusUpdate{Status: domain.IngestionStatusPending, ClearError: true})
}

func (m *memStore) StoreFiles(_ context.Context, repoID string, files []domain.IndexedFile) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	m.files[repoID] = append([]domain.IndexedFile{}, files...)
	return len(files), nil
}

// fakeTrees returns a fixed tree or error and counts calls.
type fakeTrees struct {
	mu    sync.Mutex
	tree  *domain.Tree
	err   error
	calls int
	// before runs inside FetchTree, after the ingesting transition.
	before func()
}

func (f *fakeTrees) FetchTree(_ context.Context, _ int64, owner, repo, _ string) (*domain.Tree, error) {
	f.mu.Lock()
	f.calls++
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	if f.err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", owner, repo, f.err)
	}
	return f.tree, nil
}

// recordingTrigger records triggered repository ids; ids in fail error out.
type recordingTrigger struct {
	mu        sync.Mutex
	triggered []string
	fail      map[string]bool
}

func (r *recordingTrigger) TriggerIngestion(_ context.Context, repoID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[repoID] {
		return "", fmt.Errorf("queue unavailable")
	}
	r.triggered = append(r.triggered, repoID)
	return "job-" + repoID, nil
}
