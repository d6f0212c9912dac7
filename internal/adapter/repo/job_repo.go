package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record in the queued state.
func (r *JobRepositoryPG) Create(ctx context.Context, spec domain.JobSpec) (domain.Job, error) {
	return insertJob(ctx, r.sql, spec)
}

func insertJob(ctx context.Context, sql infra.SQLExecutor, spec domain.JobSpec) (domain.Job, error) {
	row := sql.QueryRow(ctx, sqlinline.QInsertJob,
		spec.OwnerID,
		spec.Title,
		domain.MarshalOptions(spec.Options.WithDefaults()),
		domain.MarshalSources(spec.Sources),
		spec.ParentJobID,
		spec.SubmissionToken,
	)
	job, err := scanJob(row)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, err
	}
	return job, nil
}

// UpdateStatus applies patch only if the stored version still equals
// expectedVersion. A lost race yields *domain.ConflictError.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, expectedVersion int64, patch domain.JobPatch) (domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QUpdateJobStatus,
		jobID,
		expectedVersion,
		statusArg(patch.Status),
		patch.Progress,
		patch.RetryCount,
		statusArg(patch.ResumeStage),
		patch.LastError,
		patch.ErrorMessage,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return domain.Job{}, err
	}

	var actual int64
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobVersion, jobID).Scan(&actual); err != nil {
		if infra.IsNoRows(err) {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, err
	}
	return domain.Job{}, &domain.ConflictError{JobID: jobID, Expected: expectedVersion, Actual: actual}
}

// ListStuck returns one page of non-terminal jobs whose last update is older
// than the threshold for their status, ordered by (updated_at, id) and
// starting after the cursor.
func (r *JobRepositoryPG) ListStuck(ctx context.Context, rule domain.StalenessRule, now time.Time, after domain.StuckCursor, limit int) ([]domain.Job, error) {
	statuses := make([]string, 0, len(rule))
	for status := range rule {
		if _, ok := rule.Threshold(status); ok && !status.Terminal() {
			statuses = append(statuses, string(status))
		}
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	sort.Strings(statuses)
	seconds := make([]int64, len(statuses))
	for i, s := range statuses {
		seconds[i] = int64(rule[domain.JobStatus(s)] / time.Second)
	}

	var (
		afterAt *time.Time
		afterID *string
	)
	if !after.IsZero() {
		afterAt, afterID = &after.UpdatedAt, &after.ID
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectStuckJobs, statuses, seconds, now, afterAt, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ListActive returns the most recent non-terminal jobs.
func (r *JobRepositoryPG) ListActive(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectActiveJobs, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

type rowIterator interface {
	scanner
	Next() bool
	Err() error
	Close()
}

func collectJobs(rows rowIterator) ([]domain.Job, error) {
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row scanner) (domain.Job, error) {
	var (
		job         domain.Job
		status      string
		resumeStage string
		optionsJSON []byte
		sourcesJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Title,
		&status,
		&job.Progress,
		&job.Version,
		&job.RetryCount,
		&resumeStage,
		&job.ErrorMessage,
		&job.LastError,
		&optionsJSON,
		&sourcesJSON,
		&job.ParentJobID,
		&job.SubmissionToken,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	job.ResumeStage = domain.JobStatus(resumeStage)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
			return domain.Job{}, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &job.Sources); err != nil {
			return domain.Job{}, fmt.Errorf("decode sources: %w", err)
		}
	}
	return job, nil
}

func statusArg(s *domain.JobStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
