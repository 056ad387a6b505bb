package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a report job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusLoading    JobStatus = "loading"
	StatusGenerating JobStatus = "generating"
	StatusPopulating JobStatus = "populating"
	StatusNotifying  JobStatus = "notifying"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no more work will happen for the job.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TotalSteps is the number of progress steps in a report run: record,
// placeholder map, supporting documents, generation, population, notification.
const TotalSteps = 6

// Job tracks one report generation for a CHATA-ID.
type Job struct {
	mu sync.Mutex

	ID      string
	ChataID string

	Status   JobStatus
	Phase    string
	Progress Progress

	ReportPath string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Progress tracks processing progress.
type Progress struct {
	Step         int      `json:"step"`
	TotalSteps   int      `json:"total_steps"`
	BatchesTotal int      `json:"batches_total"`
	BatchesDone  int      `json:"batches_done"`
	Attempts     int      `json:"attempts"`
	Errors       []string `json:"errors"`
}

// NewJob creates a queued job with a fresh ID.
func NewJob(chataID string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		ChataID:   chataID,
		Status:    StatusQueued,
		Phase:     "queued",
		Progress:  Progress{TotalSteps: TotalSteps},
		CreatedAt: now,
		UpdatedAt: now,
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

// Active returns the unfinished job for chataID, if any.
func (s *JobStore) Active(chataID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ChataID != chataID {
			continue
		}
		if !job.Snapshot().Status.Terminal() {
			return job
		}
	}
	return nil
}

// Latest returns the most recently created job for chataID, if any.
func (s *JobStore) Latest(chataID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Job
	for _, job := range s.jobs {
		if job.ChataID == chataID && (latest == nil || job.CreatedAt.After(latest.CreatedAt)) {
			latest = job
		}
	}
	return latest
}

// Cleanup removes finished jobs not updated within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		snap := job.Snapshot()
		if snap.Status.Terminal() && now.Sub(snap.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
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

// SetStep records which of the TotalSteps the job is on.
func (j *Job) SetStep(step int, status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Step = step
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Errors = append(j.Progress.Errors, err)
	j.UpdatedAt = time.Now()
}

// SetBatches records the number of LLM batches.
func (j *Job) SetBatches(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.BatchesTotal = n
	j.UpdatedAt = time.Now()
}

// BatchDone counts a finished batch.
func (j *Job) BatchDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.BatchesDone++
	j.UpdatedAt = time.Now()
}

// IncrAttempts counts one LLM call.
func (j *Job) IncrAttempts() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Attempts++
	j.UpdatedAt = time.Now()
}

// Complete marks the job done with its report.
func (j *Job) Complete(reportPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ReportPath = reportPath
	j.Progress.Step = TotalSteps
	j.Status = StatusCompleted
	j.Phase = "done"
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string    `json:"job_id"`
	ChataID    string    `json:"chata_id"`
	Status     JobStatus `json:"status"`
	Phase      string    `json:"phase"`
	Progress   Progress  `json:"progress"`
	Percent    int       `json:"percent"`
	ReportPath string    `json:"report_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.Progress
	p.Errors = append([]string{}, j.Progress.Errors...)
	return JobSnapshot{
		ID:         j.ID,
		ChataID:    j.ChataID,
		Status:     j.Status,
		Phase:      j.Phase,
		Progress:   p,
		Percent:    percent(p),
		ReportPath: j.ReportPath,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

// percent counts finished steps, with generation credited per batch.
func percent(p Progress) int {
	if p.TotalSteps == 0 {
		return 0
	}
	done := float64(max(p.Step-1, 0))
	if p.Step == p.TotalSteps {
		done = float64(p.TotalSteps)
	} else if p.Step == 4 && p.BatchesTotal > 0 {
		done += float64(p.BatchesDone) / float64(p.BatchesTotal)
	}
	return int(100 * done / float64(p.TotalSteps))
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
