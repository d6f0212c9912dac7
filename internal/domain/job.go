package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusUploading        JobStatus = "uploading"
	JobStatusTranscribing     JobStatus = "transcribing"
	JobStatusExtractingFrames JobStatus = "extracting_frames"
	JobStatusRendering        JobStatus = "rendering"
	JobStatusGeneratingAI     JobStatus = "generating_ai"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
)

// jobStatusOrder is the forward progression of a job. Failed sits outside the
// ordering because any non-terminal state may fail.
var jobStatusOrder = map[JobStatus]int{
	JobStatusQueued:           0,
	JobStatusUploading:        1,
	JobStatusTranscribing:     2,
	JobStatusExtractingFrames: 3,
	JobStatusRendering:        4,
	JobStatusGeneratingAI:     5,
	JobStatusCompleted:        6,
}

// NonTerminalStatuses lists the states the watchdog may consider stuck.
var NonTerminalStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusUploading,
	JobStatusTranscribing,
	JobStatusExtractingFrames,
	JobStatusRendering,
	JobStatusGeneratingAI,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	if s == JobStatusFailed {
		return true
	}
	_, ok := jobStatusOrder[s]
	return ok
}

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Rank returns the position of s in the forward progression, or -1 for failed
// and unknown statuses.
func (s JobStatus) Rank() int {
	if r, ok := jobStatusOrder[s]; ok {
		return r
	}
	return -1
}

// ExtractionDensity controls how many frames the pipeline samples.
type ExtractionDensity string

const (
	ExtractionFast      ExtractionDensity = "fast"
	ExtractionPrecision ExtractionDensity = "precision"
)

// MergeMode decides whether multiple sources become one artifact or several.
type MergeMode string

const (
	MergeSeparate MergeMode = "separate"
	MergeCombined MergeMode = "combined"
)

// JobOptions is the processing configuration persisted with each job.
type JobOptions struct {
	ExtractionDensity ExtractionDensity `json:"extraction_density" validate:"omitempty,oneof=fast precision"`
	MergeMode         MergeMode         `json:"merge_mode" validate:"omitempty,oneof=separate combined"`
	AttachTo          string            `json:"attach_to,omitempty" validate:"omitempty,uuid"`
}

// WithDefaults fills unset options.
func (o JobOptions) WithDefaults() JobOptions {
	if o.ExtractionDensity == "" {
		o.ExtractionDensity = ExtractionFast
	}
	if o.MergeMode == "" {
		o.MergeMode = MergeSeparate
	}
	return o
}

// SourceFile references one server-acknowledged upload.
type SourceFile struct {
	SessionID  string `json:"session_id"`
	FileID     string `json:"file_id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	StorageKey string `json:"storage_key"`
}

// Job encapsulates the lifecycle of one video-to-artifact conversion.
type Job struct {
	ID              string       `json:"id"`
	OwnerID         string       `json:"owner_id"`
	Title           string       `json:"title"`
	Status          JobStatus    `json:"status"`
	Progress        int          `json:"progress"`
	Version         int64        `json:"version"`
	RetryCount      int          `json:"retry_count"`
	ResumeStage     JobStatus    `json:"resume_stage,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
	Options         JobOptions   `json:"options"`
	Sources         []SourceFile `json:"sources"`
	ParentJobID     string       `json:"parent_job_id,omitempty"`
	SubmissionToken string       `json:"-"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// JobSpec is the input for creating a job.
type JobSpec struct {
	OwnerID         string
	Title           string
	Options         JobOptions
	Sources         []SourceFile
	ParentJobID     string
	SubmissionToken string
}

// JobPatch describes a conditional update. Nil fields are left unchanged.
// ErrorMessage is dropped unless the resulting status is failed.
type JobPatch struct {
	Status       *JobStatus
	Progress     *int
	RetryCount   *int
	ResumeStage  *JobStatus
	ErrorMessage *string
	LastError    *string
}

// Apply returns a copy of j with the patch applied. Version and timestamps
// are owned by the store.
func (p JobPatch) Apply(j Job) Job {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.RetryCount != nil {
		j.RetryCount = *p.RetryCount
	}
	if p.ResumeStage != nil {
		j.ResumeStage = *p.ResumeStage
	}
	if p.LastError != nil {
		j.LastError = *p.LastError
	}
	if j.Status == JobStatusFailed {
		if p.ErrorMessage != nil {
			j.ErrorMessage = *p.ErrorMessage
		}
	} else {
		j.ErrorMessage = ""
	}
	return j
}

// ProgressReport is what the processing pipeline sends when a job moves on.
type ProgressReport struct {
	Version      int64     `json:"version" validate:"required,min=1"`
	Status       JobStatus `json:"status" validate:"required"`
	Progress     int       `json:"progress" validate:"min=0,max=100"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Advance validates a forward pipeline update against the current job and
// returns the patch to write. Status never moves backwards and progress never
// decreases within the same status.
func (j Job) Advance(r ProgressReport) (JobPatch, error) {
	if !r.Status.Valid() {
		return JobPatch{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, r.Status)
	}
	if j.Status.Terminal() {
		return JobPatch{}, fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}
	if r.Progress < 0 || r.Progress > 100 {
		return JobPatch{}, fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, r.Progress)
	}
	patch := JobPatch{Status: &r.Status}
	progress := r.Progress
	switch {
	case r.Status == JobStatusFailed:
		msg := r.ErrorMessage
		if msg == "" {
			msg = "processing failed"
		}
		patch.ErrorMessage = &msg
		progress = j.Progress
	case r.Status.Rank() < j.Status.Rank():
		return JobPatch{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, r.Status)
	case r.Status == j.Status && progress < j.Progress:
		progress = j.Progress
	case r.Status == JobStatusCompleted:
		progress = 100
	}
	patch.Progress = &progress
	lastErr := r.LastError
	patch.LastError = &lastErr
	return patch, nil
}

// MarshalOptions encodes options for jsonb storage.
func MarshalOptions(o JobOptions) []byte {
	b, err := json.Marshal(o)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// MarshalSources encodes the source manifest for jsonb storage.
func MarshalSources(s []SourceFile) []byte {
	if s == nil {
		s = []SourceFile{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return []byte("[]")
	}
	return b
}
