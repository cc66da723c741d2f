package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"medirag/types"
)

// JobTracker holds the state of every ingestion run started in this
// process. Jobs are created on upload, mutated only by the goroutine that
// owns the run, and retained for the process lifetime. processing is the
// only non-terminal state; completed and error accept no further updates.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*types.Job
}

func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*types.Job)}
}

func (t *JobTracker) Create(filename string) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &types.Job{
		JobID:     id,
		Filename:  filename,
		Status:    types.JobProcessing,
		Progress:  0,
		Detail:    "queued",
		StartedAt: time.Now(),
	}
	return id
}

// Progress publishes a monotonic progress update. Updates against a
// terminal job or with a lower percentage are dropped.
func (t *JobTracker) Progress(id string, pct int, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok || job.Status != types.JobProcessing {
		return
	}
	if pct > job.Progress {
		job.Progress = pct
	}
	if detail != "" {
		job.Detail = detail
	}
}

func (t *JobTracker) Complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok || job.Status != types.JobProcessing {
		return
	}
	job.Status = types.JobCompleted
	job.Progress = 100
	job.Detail = "ingestion done"
}

func (t *JobTracker) Fail(id, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok || job.Status != types.JobProcessing {
		return
	}
	job.Status = types.JobError
	job.Detail = detail
}

// Get returns a copy of the job record.
func (t *JobTracker) Get(id string) (types.Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}
