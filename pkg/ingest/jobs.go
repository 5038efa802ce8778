package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState tracks a background ingestion through its lifecycle.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one background ingestion run. Clients poll it by id to learn
// whether the run finished and how many documents it indexed.
type Job struct {
	ID      string    `json:"id"`
	Query   string    `json:"query"`
	State   JobState  `json:"state"`
	Indexed int       `json:"indexed"`
	Error   string    `json:"error,omitempty"`
	Started time.Time `json:"started"`
}

// Jobs is an in-memory registry of background ingestion runs.
type Jobs struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewJobs creates an empty registry.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]Job)}
}

// Create registers a pending job and returns it.
func (r *Jobs) Create(query string) Job {
	job := Job{
		ID:      uuid.NewString(),
		Query:   query,
		State:   JobPending,
		Started: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return job
}

// Get looks up a job by id.
func (r *Jobs) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// SetRunning marks the job as in progress.
func (r *Jobs) SetRunning(id string) {
	r.update(id, func(j *Job) { j.State = JobRunning })
}

// SetCompleted records a successful run and its indexed count.
func (r *Jobs) SetCompleted(id string, indexed int) {
	r.update(id, func(j *Job) {
		j.State = JobCompleted
		j.Indexed = indexed
	})
}

// SetFailed records a failed run.
func (r *Jobs) SetFailed(id string, err error) {
	r.update(id, func(j *Job) {
		j.State = JobFailed
		if err != nil {
			j.Error = err.Error()
		}
	})
}

func (r *Jobs) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	fn(&job)
	r.jobs[id] = job
}
