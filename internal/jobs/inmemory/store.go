package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dvloznov/statement-analytics/internal/jobs"
)

// DefaultRetention is how many finished jobs a Store keeps by default.
const DefaultRetention = 500

// Store keeps ingest and train jobs in memory, indexed by statement so a
// statement's upload history is cheap to list. Finished jobs beyond
// Retention are dropped oldest first; pending and running jobs are never
// dropped. Data is lost on service restart.
type Store struct {
	// Retention caps finished jobs. Zero selects DefaultRetention.
	Retention int

	mu          sync.RWMutex
	jobs        map[string]*jobs.Job
	byStatement map[string][]string
	now         func() time.Time
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{
		jobs:        make(map[string]*jobs.Job),
		byStatement: make(map[string][]string),
		now:         time.Now,
	}
}

// SaveJob stores a copy of job, replacing an earlier version with the same id.
func (s *Store) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; !exists && job.StatementID != "" {
		s.byStatement[job.StatementID] = append(s.byStatement[job.StatementID], job.JobID)
	}
	stored := *job
	s.jobs[job.JobID] = &stored

	if stored.Terminal() {
		s.prune()
	}
	return nil
}

// GetJob returns a copy of the job with jobID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("GetJob: %s: %w", jobID, jobs.ErrJobNotFound)
	}
	stored := *job
	return &stored, nil
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.Job{}
	add := func(job *jobs.Job) {
		if matches(job, filter) {
			stored := *job
			result = append(result, &stored)
		}
	}
	if filter.StatementID != "" {
		for _, id := range s.byStatement[filter.StatementID] {
			add(s.jobs[id])
		}
	} else {
		for _, job := range s.jobs {
			add(job)
		}
	}
	slices.SortFunc(result, newestFirst)

	if filter.Offset >= len(result) {
		return []*jobs.Job{}, nil
	}
	result = result[max(filter.Offset, 0):]
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateJobStatus sets the status of a job. Moving a job to a finished
// status stamps CompletedAt.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("UpdateJobStatus: %s: %w", jobID, jobs.ErrJobNotFound)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	if job.Terminal() {
		if job.CompletedAt == nil {
			now := s.now().UTC()
			job.CompletedAt = &now
		}
		s.prune()
	}
	return nil
}

func matches(job *jobs.Job, f jobs.JobFilter) bool {
	return (f.Type == "" || job.Type == f.Type) &&
		(f.StatementID == "" || job.StatementID == f.StatementID) &&
		(f.Status == "" || job.Status == f.Status)
}

func newestFirst(a, b *jobs.Job) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	if a.JobID < b.JobID {
		return -1
	}
	if a.JobID > b.JobID {
		return 1
	}
	return 0
}

// finishedAt orders finished jobs for pruning.
func finishedAt(j *jobs.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.CreatedAt
}

// prune drops the oldest finished jobs above the retention limit. The caller
// holds s.mu.
func (s *Store) prune() {
	limit := s.Retention
	if limit <= 0 {
		limit = DefaultRetention
	}

	var finished []*jobs.Job
	for _, job := range s.jobs {
		if job.Terminal() {
			finished = append(finished, job)
		}
	}
	if len(finished) <= limit {
		return
	}

	slices.SortFunc(finished, func(a, b *jobs.Job) int {
		if c := finishedAt(a).Compare(finishedAt(b)); c != 0 {
			return c
		}
		return newestFirst(b, a)
	})
	for _, job := range finished[:len(finished)-limit] {
		delete(s.jobs, job.JobID)
		if job.StatementID == "" {
			continue
		}
		ids := slices.DeleteFunc(s.byStatement[job.StatementID], func(id string) bool { return id == job.JobID })
		if len(ids) == 0 {
			delete(s.byStatement, job.StatementID)
		} else {
			s.byStatement[job.StatementID] = ids
		}
	}
}

var _ jobs.JobStore = (*Store)(nil)
