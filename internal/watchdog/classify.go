package watchdog

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"coursepipe/internal/domain"
)

const maxSignatureLen = 48

// Outcome is what the sweep did with one finding.
type Outcome string

const (
	OutcomeAutoFixed    Outcome = "auto_fixed"
	OutcomeManualReview Outcome = "manual_review"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
	OutcomeDryRun       Outcome = "dry_run"
)

// Finding is one stuck job as classified by a sweep, plus what happened to it.
type Finding struct {
	JobID            string           `json:"job_id"`
	Status           domain.JobStatus `json:"status"`
	Version          int64            `json:"version"`
	IssueType        string           `json:"issue_type"`
	IssueDescription string           `json:"issue_description"`
	PatternKey       string           `json:"pattern_key"`
	Severity         domain.Severity  `json:"severity"`
	Staleness        time.Duration    `json:"staleness"`
	Threshold        time.Duration    `json:"threshold"`
	ErrorSignature   string           `json:"error_signature,omitempty"`

	Outcome    Outcome `json:"outcome"`
	Strategy   string  `json:"strategy,omitempty"`
	FixApplied string  `json:"fix_applied,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Classify derives the issue type and pattern key for a stuck job. An error
// signature is more specific than staleness and wins when both apply.
func Classify(job domain.Job, threshold time.Duration, severeMultiplier int, now time.Time) Finding {
	staleness := now.Sub(job.UpdatedAt)
	issueType := "stuck_in_" + string(job.Status)
	f := Finding{
		JobID:      job.ID,
		Status:     job.Status,
		Version:    job.Version,
		IssueType:  issueType,
		Staleness:  staleness,
		Threshold:  threshold,
		PatternKey: issueType,
		Severity:   domain.SeverityMedium,
	}

	severe := false
	var bound time.Duration
	if severeMultiplier > 1 && threshold > 0 {
		bound = threshold * time.Duration(severeMultiplier)
		severe = staleness >= bound
	}

	if sig := ErrorSignature(job.LastError); sig != "" {
		f.ErrorSignature = sig
		f.PatternKey = fmt.Sprintf("error_in_%s_%s", job.Status, sig)
		f.Severity = domain.SeverityLow
		if severe {
			f.Severity = domain.SeverityHigh
		}
	} else if severe {
		f.PatternKey = fmt.Sprintf("%s_over_%dh", issueType, boundHours(bound))
		f.Severity = domain.SeverityHigh
	}

	f.IssueDescription = fmt.Sprintf("job %s in %s without progress for %s (threshold %s)",
		job.ID, job.Status, staleness.Round(time.Second), threshold)
	if job.LastError != "" {
		f.IssueDescription += "; last error: " + firstLine(job.LastError)
	}
	return f
}

// ErrorSignature reduces a pipeline error to a stable key fragment:
// lower-case words of its first line joined by underscores.
func ErrorSignature(lastError string) string {
	line := strings.ToLower(firstLine(lastError))
	var b strings.Builder
	pendingSep := false
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			if r < unicode.MaxASCII {
				b.WriteRune(r)
			}
			continue
		}
		pendingSep = true
	}
	sig := b.String()
	if len(sig) > maxSignatureLen {
		sig = strings.TrimRight(sig[:maxSignatureLen], "_")
	}
	return sig
}

func boundHours(bound time.Duration) int {
	h := int(math.Ceil(bound.Hours()))
	if h < 1 {
		return 1
	}
	return h
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
