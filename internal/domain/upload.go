package domain

import "time"

// UploadStage is the client-visible phase of an upload session.
type UploadStage string

const (
	UploadStageUploading UploadStage = "uploading"
	UploadStageSubmitted UploadStage = "submitted"
)

// FileStatus is the per-file state inside an upload manifest.
type FileStatus string

const (
	FileStatusPending      FileStatus = "pending"
	FileStatusTransferring FileStatus = "transferring"
	FileStatusTransferred  FileStatus = "transferred"
	FileStatusCompleted    FileStatus = "completed"
	FileStatusFailed       FileStatus = "failed"
	FileStatusCancelled    FileStatus = "cancelled"
)

// Acknowledged reports whether the server durably accepted the file.
func (s FileStatus) Acknowledged() bool {
	return s == FileStatusCompleted
}

// ManifestEntry describes one file of an upload session.
type ManifestEntry struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Path      string     `json:"path,omitempty"`
	Size      int64      `json:"size"`
	Status    FileStatus `json:"status"`
	BytesSent int64      `json:"bytes_sent"`
	Error     string     `json:"error,omitempty"`
}

// SessionState classifies a stored session on a later visit.
type SessionState string

const (
	SessionActive      SessionState = "active"
	SessionInterrupted SessionState = "interrupted"
	SessionSubmitted   SessionState = "submitted"
)

// UploadSession is client-local resume state for an upload.
type UploadSession struct {
	ID               string          `json:"id"`
	RemoteSessionID  string          `json:"remote_session_id"`
	JobTitleDraft    string          `json:"job_title_draft"`
	FileManifest     []ManifestEntry `json:"file_manifest"`
	StartedAt        time.Time       `json:"started_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Stage            UploadStage     `json:"stage"`
	UploadedCount    int             `json:"uploaded_count"`
	TotalCount       int             `json:"total_count"`
	IdempotencyToken string          `json:"idempotency_token"`
	JobIDs           []string        `json:"job_ids,omitempty"`
}

// Recount refreshes UploadedCount and TotalCount from the manifest.
func (s *UploadSession) Recount() {
	s.TotalCount = len(s.FileManifest)
	s.UploadedCount = 0
	for _, f := range s.FileManifest {
		if f.Status.Acknowledged() {
			s.UploadedCount++
		}
	}
}

// Classify decides whether the session is still running, interrupted or
// already handed off. A session whose last flush is older than window is
// interrupted; it is offered back to the user and never resumed silently.
func (s UploadSession) Classify(now time.Time, window time.Duration) SessionState {
	if s.Stage == UploadStageSubmitted {
		return SessionSubmitted
	}
	last := s.UpdatedAt
	if last.IsZero() {
		last = s.StartedAt
	}
	if now.Sub(last) > window {
		return SessionInterrupted
	}
	return SessionActive
}

// Entry returns a pointer to the manifest entry for fileID.
func (s *UploadSession) Entry(fileID string) *ManifestEntry {
	for i := range s.FileManifest {
		if s.FileManifest[i].ID == fileID {
			return &s.FileManifest[i]
		}
	}
	return nil
}

// UploadFile is the server-side ledger row for one uploaded file.
type UploadFile struct {
	SessionID     string
	FileID        string
	OwnerID       string
	Name          string
	ContentType   string
	Size          int64
	ReceivedBytes int64
	Completed     bool
	StorageKey    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
