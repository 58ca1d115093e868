package jobs

import (
	"sync"
	"time"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
)

// Job states.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusRetrying = "retrying"
	StatusComplete = "complete"
	StatusError    = "error"
)

// JobStatus is the in-memory view of one in-process ingestion run.
type JobStatus struct {
	ID          string               `json:"id"`
	RepoID      string               `json:"repo_id"`
	Status      string               `json:"status"`
	Attempt     int                  `json:"attempt"`
	MaxAttempts int                  `json:"max_attempts"`
	Result      *domain.IngestResult `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j JobStatus) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

// Tracker keeps recent jobs in memory and fans updates out to subscribers.
type Tracker struct {
	mu        sync.RWMutex
	jobs      map[string]*JobStatus
	subs      map[string][]chan JobStatus
	retention time.Duration
}

// NewTracker keeps finished jobs for retention before pruning them.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Tracker{
		jobs:      make(map[string]*JobStatus),
		subs:      make(map[string][]chan JobStatus),
		retention: retention,
	}
}

// Create registers a queued job.
func (t *Tracker) Create(id, repoID string, maxAttempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(time.Now())
	t.jobs[id] = &JobStatus{
		ID:          id,
		RepoID:      repoID,
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		StartedAt:   time.Now(),
	}
}

// Update applies fn to the job and notifies subscribers.
func (t *Tracker) Update(id string, fn func(*JobStatus)) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	fn(job)
	if job.Done() && job.CompletedAt.IsZero() {
		job.CompletedAt = time.Now()
	}
	snapshot := *job
	defer t.mu.Unlock()

	// Sends stay under the lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range t.subs[id] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Get returns a copy of the job.
func (t *Tracker) Get(id string) (*JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Subscribe returns a channel that receives job updates.
func (t *Tracker) Subscribe(id string) chan JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan JobStatus, 10)
	t.subs[id] = append(t.subs[id], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (t *Tracker) Unsubscribe(id string, ch chan JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[id]
	for i, s := range subs {
		if s == ch {
			t.subs[id] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(t.subs[id]) == 0 {
		delete(t.subs, id)
	}
}

func (t *Tracker) pruneLocked(now time.Time) {
	for id, job := range t.jobs {
		if job.Done() && now.Sub(job.CompletedAt) > t.retention && len(t.subs[id]) == 0 {
			delete(t.jobs, id)
		}
	}
}
