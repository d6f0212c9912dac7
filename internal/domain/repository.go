package domain

import (
	"context"
	"time"
)

// StalenessRule maps each non-terminal status to the idle time after which a
// job in that status counts as stuck.
type StalenessRule map[JobStatus]time.Duration

// Threshold returns the threshold for status and whether one is configured.
func (r StalenessRule) Threshold(status JobStatus) (time.Duration, bool) {
	d, ok := r[status]
	return d, ok && d > 0
}

// StuckCursor marks the last job of a ListStuck page. The zero value starts
// from the oldest stuck job.
type StuckCursor struct {
	UpdatedAt time.Time
	ID        string
}

// IsZero reports whether c is the start of the scan.
func (c StuckCursor) IsZero() bool {
	return c.ID == "" && c.UpdatedAt.IsZero()
}

// After reports whether job sorts after c in (updated_at, id) order.
func (c StuckCursor) After(job Job) bool {
	if c.IsZero() {
		return true
	}
	if !job.UpdatedAt.Equal(c.UpdatedAt) {
		return job.UpdatedAt.After(c.UpdatedAt)
	}
	return job.ID > c.ID
}

// CursorAt returns the cursor that continues a scan after job.
func CursorAt(job Job) StuckCursor {
	return StuckCursor{UpdatedAt: job.UpdatedAt, ID: job.ID}
}

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, spec JobSpec) (Job, error)
	Get(ctx context.Context, jobID string) (Job, error)
	UpdateStatus(ctx context.Context, jobID string, expectedVersion int64, patch JobPatch) (Job, error)
	ListStuck(ctx context.Context, rule StalenessRule, now time.Time, after StuckCursor, limit int) ([]Job, error)
	ListActive(ctx context.Context, limit int) ([]Job, error)
}

// SubmissionStore creates the jobs of one submission exactly once per
// idempotency token. When the token was already used, the existing jobs are
// returned with created=false.
type SubmissionStore interface {
	CreateOnce(ctx context.Context, ownerID, token string, specs []JobSpec) (jobs []Job, created bool, err error)
}

// AutoFixRepository persists the append-only audit trail.
type AutoFixRepository interface {
	Record(ctx context.Context, fix AutoFix) (AutoFix, error)
	ListRecent(ctx context.Context, limit int) ([]AutoFix, error)
}

// PatternRepository aggregates detections per pattern key.
type PatternRepository interface {
	Upsert(ctx context.Context, key string, event DetectionEvent) (Pattern, error)
	Get(ctx context.Context, key string) (Pattern, error)
	List(ctx context.Context) ([]Pattern, error)
	Promote(ctx context.Context, key, strategy string) (Pattern, error)
}

// UploadRepository is the server-side ledger of received bytes per file.
type UploadRepository interface {
	CreateSession(ctx context.Context, ownerID, title string, files []UploadFile) (string, error)
	GetFile(ctx context.Context, sessionID, fileID string) (UploadFile, error)
	AdvanceFile(ctx context.Context, sessionID, fileID string, expectedReceived, received int64) (UploadFile, error)
	CompleteFile(ctx context.Context, sessionID, fileID, storageKey string) (UploadFile, error)
	ListFiles(ctx context.Context, sessionID string) ([]UploadFile, error)
}
