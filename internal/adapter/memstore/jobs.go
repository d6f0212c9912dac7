// Package memstore holds in-memory implementations of the domain
// repositories. They back STORE_DRIVER=memory and the service tests, and
// follow the same conditional-write rules as the Postgres adapters.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"coursepipe/internal/domain"
)

// Jobs implements domain.JobRepository and domain.SubmissionStore.
type Jobs struct {
	mu          sync.Mutex
	jobs        map[string]domain.Job
	submissions map[string][]string
	now         func() time.Time
}

func NewJobs() *Jobs {
	return &Jobs{
		jobs:        make(map[string]domain.Job),
		submissions: make(map[string][]string),
		now:         time.Now,
	}
}

// WithClock replaces the time source used for created_at and updated_at.
func (s *Jobs) WithClock(now func() time.Time) *Jobs {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Put stores job as-is, assigning an id and version when missing.
func (s *Jobs) Put(job domain.Job) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Version == 0 {
		job.Version = 1
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	s.jobs[job.ID] = job
	return job
}

func (s *Jobs) Create(ctx context.Context, spec domain.JobSpec) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(spec), nil
}

func (s *Jobs) createLocked(spec domain.JobSpec) domain.Job {
	now := s.now()
	job := domain.Job{
		ID:              uuid.NewString(),
		OwnerID:         spec.OwnerID,
		Title:           spec.Title,
		Status:          domain.JobStatusQueued,
		Version:         1,
		Options:         spec.Options.WithDefaults(),
		Sources:         append([]domain.SourceFile(nil), spec.Sources...),
		ParentJobID:     spec.ParentJobID,
		SubmissionToken: spec.SubmissionToken,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.jobs[job.ID] = job
	return job
}

func (s *Jobs) Get(ctx context.Context, jobID string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *Jobs) UpdateStatus(ctx context.Context, jobID string, expectedVersion int64, patch domain.JobPatch) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if job.Version != expectedVersion {
		return domain.Job{}, &domain.ConflictError{JobID: jobID, Expected: expectedVersion, Actual: job.Version}
	}
	job = patch.Apply(job)
	job.Version++
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	return job, nil
}

func (s *Jobs) ListStuck(ctx context.Context, rule domain.StalenessRule, now time.Time, after domain.StuckCursor, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.Status.Terminal() || !after.After(job) {
			continue
		}
		threshold, ok := rule.Threshold(job.Status)
		if !ok {
			continue
		}
		if now.Sub(job.UpdatedAt) > threshold {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (s *Jobs) ListActive(ctx context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// CreateOnce creates the jobs for token unless the owner already used it.
func (s *Jobs) CreateOnce(ctx context.Context, ownerID, token string, specs []domain.JobSpec) ([]domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerID + "\x00" + token
	if ids, ok := s.submissions[key]; ok {
		jobs := make([]domain.Job, 0, len(ids))
		for _, id := range ids {
			jobs = append(jobs, s.jobs[id])
		}
		return jobs, false, nil
	}
	jobs := make([]domain.Job, 0, len(specs))
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		spec.OwnerID = ownerID
		spec.SubmissionToken = token
		job := s.createLocked(spec)
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}
	s.submissions[key] = ids
	return jobs, true, nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var (
	_ domain.JobRepository   = (*Jobs)(nil)
	_ domain.SubmissionStore = (*Jobs)(nil)
)
