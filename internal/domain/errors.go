package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrInvalidFile        = errors.New("invalid file")
	ErrTransfer           = errors.New("transfer failed")
	ErrConflict           = errors.New("version conflict")
	ErrPollTimeout        = errors.New("stopped watching: poll budget exhausted")
	ErrSweepFailure       = errors.New("sweep failed")
	ErrSweepInProgress    = errors.New("sweep already in progress")
	ErrSessionActive      = errors.New("another upload session is active")
	ErrRangeGap           = errors.New("byte range does not continue the acknowledged offset")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidManifest    = errors.New("invalid manifest")
	ErrInvalidStrategy    = errors.New("invalid strategy")
)

// RejectedFile names a file refused during validation and why.
type RejectedFile struct {
	Name   string
	Reason string
}

// InvalidFileError lists every file rejected by upload validation.
type InvalidFileError struct {
	Rejected []RejectedFile
}

func (e *InvalidFileError) Error() string {
	parts := make([]string, 0, len(e.Rejected))
	for _, r := range e.Rejected {
		parts = append(parts, fmt.Sprintf("%s (%s)", r.Name, r.Reason))
	}
	return fmt.Sprintf("invalid file: %s", strings.Join(parts, ", "))
}

func (e *InvalidFileError) Unwrap() error { return ErrInvalidFile }

// TransferError is a per-file network or storage failure. It is retryable at
// file granularity.
type TransferError struct {
	FileID string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.FileID, e.Err)
}

func (e *TransferError) Is(target error) bool { return target == ErrTransfer }

func (e *TransferError) Unwrap() error { return e.Err }

// ConflictError reports an optimistic update collision on the job store.
type ConflictError struct {
	JobID    string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s: expected version %d, found %d", e.JobID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// SweepError is an infrastructure-level failure of a whole sweep.
type SweepError struct {
	Stage string
	Err   error
}

func (e *SweepError) Error() string {
	return fmt.Sprintf("sweep %s: %v", e.Stage, e.Err)
}

func (e *SweepError) Is(target error) bool { return target == ErrSweepFailure }

func (e *SweepError) Unwrap() error { return e.Err }
