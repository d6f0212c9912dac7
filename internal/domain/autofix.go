package domain

import "time"

// Severity grades how urgently a detection needs attention.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AutoFix is the audit record of one detection and its remediation, if any.
// Records are append-only: a job detected on every sweep gets one row per
// sweep.
type AutoFix struct {
	ID               int64      `json:"id"`
	IssueType        string     `json:"issue_type"`
	IssueDescription string     `json:"issue_description"`
	Severity         Severity   `json:"severity"`
	AutoFixed        bool       `json:"auto_fixed"`
	FixApplied       string     `json:"fix_applied,omitempty"`
	PatternKey       string     `json:"pattern_key"`
	JobID            string     `json:"job_id,omitempty"`
	ActorIdentity    string     `json:"actor_identity,omitempty"`
	DetectedAt       time.Time  `json:"detected_at"`
	FixedAt          *time.Time `json:"fixed_at"`
}

// NeedsReview reports whether an operator has to act on the record.
func (f AutoFix) NeedsReview() bool {
	return !f.AutoFixed
}
