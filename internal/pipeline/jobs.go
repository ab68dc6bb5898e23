package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pvbaptista/orcaparse/internal/budget"
)

// JobStatus represents the state of a parse job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusExtracting JobStatus = "extracting"
	StatusParsing    JobStatus = "parsing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Request describes one document to parse: the PDF bytes plus the page
// ranges of the two sections. A (0,0) composition range means the annex is
// absent and is skipped, not an error.
type Request struct {
	SourceID string
	BaseID   string

	BudgetStart, BudgetEnd           int
	CompositionStart, CompositionEnd int

	WorkName     string
	WorkLocation string

	PDF []byte
}

// Job tracks the state of a single parse.
type Job struct {
	mu sync.Mutex

	ID     string `json:"job_id"`
	BaseID string `json:"base_id"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`
	Error  string    `json:"error,omitempty"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	req    Request
	result *budget.Result
}

// NewJob creates a queued job for a request.
func NewJob(req Request) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		BaseID:      req.BaseID,
		Status:      StatusQueued,
		ContentHash: ContentHashHex(req.PDF),
		CreatedAt:   now,
		UpdatedAt:   now,
		req:         req,
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// Fail marks the job failed with a message.
func (j *Job) Fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusFailed
	j.Error = msg
	j.UpdatedAt = time.Now()
}

// SetResult stores the parse outcome and marks the job completed.
func (j *Job) SetResult(res *budget.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.Status = StatusCompleted
	j.Phase = ""
	j.UpdatedAt = time.Now()
}

// Result returns the parse outcome, nil until the job completes.
func (j *Job) Result() *budget.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Request returns the job's request.
func (j *Job) Request() Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.req
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string         `json:"job_id"`
	BaseID    string         `json:"base_id"`
	Status    JobStatus      `json:"status"`
	Phase     string         `json:"phase,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Result    *budget.Result `json:"resultado,omitempty"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:        j.ID,
		BaseID:    j.BaseID,
		Status:    j.Status,
		Phase:     j.Phase,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Result:    j.result,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
