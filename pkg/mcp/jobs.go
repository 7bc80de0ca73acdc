package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngo-platform/media-scraper/pkg/models"
)

// JobStatus represents the current state of an import job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Done reports whether the status is terminal
func (s JobStatus) Done() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is a background import batch
type Job struct {
	ID             string    `json:"id"`
	Category       string    `json:"category"`
	Status         JobStatus `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	ItemsRequested int       `json:"items_requested"`
	ItemsImported  int       `json:"items_imported"`
	ItemsFailed    int       `json:"items_failed"`
	ErrorMessage   string    `json:"error_message,omitempty"`

	report *models.ImportReport
	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks background import jobs
type JobManager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a pending job importing items into category
func (m *JobManager) CreateJob(category string, items int) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:             uuid.New().String(),
		Category:       category,
		Status:         JobStatusPending,
		StartedAt:      time.Now(),
		ItemsRequested: items,
		ctx:            ctx,
		cancel:         cancel,
	}
	m.jobs[job.ID] = job
	return job
}

// GetJob returns a snapshot of the job, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// Report returns the finished job's import report, or nil
func (m *JobManager) Report(jobID string) *models.ImportReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return job.report
	}
	return nil
}

// UpdateStatus moves a job to status. Terminal jobs are never reopened.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status.Done() {
		return
	}
	job.Status = status
	if status.Done() {
		job.CompletedAt = time.Now()
		job.cancel()
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// Finish records the batch report and completes the job
func (m *JobManager) Finish(jobID string, report *models.ImportReport) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if ok && !job.Status.Done() {
		job.report = report
		job.ItemsImported = report.TotalImported
		job.ItemsFailed = report.TotalErrors
	}
	m.mu.Unlock()

	m.UpdateStatus(jobID, JobStatusCompleted, "")
}

// CancelJob cancels a pending or running job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status.Done() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	return true
}

// CancelAll cancels every unfinished job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if !job.Status.Done() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
}

// ListJobs returns job snapshots, newest first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs
}

// GetContext returns the context the job's import runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
