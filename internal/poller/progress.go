package poller

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"coursepipe/internal/domain"
)

type band struct {
	lo, hi int
}

// bands maps each status to the slice of the UI progress bar it owns:
// upload 0-30, processing 30-90, finalize 90-100.
var bands = map[domain.JobStatus]band{
	domain.JobStatusQueued:           {0, 5},
	domain.JobStatusUploading:        {5, 30},
	domain.JobStatusTranscribing:     {30, 50},
	domain.JobStatusExtractingFrames: {50, 70},
	domain.JobStatusRendering:        {70, 90},
	domain.JobStatusGeneratingAI:     {90, 99},
	domain.JobStatusCompleted:        {100, 100},
}

var stageLabels = map[domain.JobStatus]string{
	domain.JobStatusQueued:           "Waiting in queue",
	domain.JobStatusUploading:        "Uploading source video",
	domain.JobStatusTranscribing:     "Transcribing audio",
	domain.JobStatusExtractingFrames: "Extracting key frames",
	domain.JobStatusRendering:        "Rendering document",
	domain.JobStatusGeneratingAI:     "Generating AI summary",
	domain.JobStatusCompleted:        "Completed",
	domain.JobStatusFailed:           "Failed",
}

// Scale rescales raw in-stage progress into the status band. Only completed
// reaches 100; failed and unknown statuses scale to 0 and rely on the
// tracker to hold the last value.
func Scale(status domain.JobStatus, raw int) int {
	b, ok := bands[status]
	if !ok {
		return 0
	}
	raw = clamp(raw, 0, 100)
	p := b.lo + (b.hi-b.lo)*raw/100
	if !status.Terminal() && p > 99 {
		p = 99
	}
	return p
}

// StageLabel is the human-readable description of (status, raw). A status
// this client does not know yet, reported by a newer server, is title-cased
// from its wire name.
func StageLabel(status domain.JobStatus, raw int) string {
	label, ok := stageLabels[status]
	if !ok {
		label = cases.Title(language.English).String(strings.ReplaceAll(string(status), "_", " "))
	}
	if status.Terminal() || raw <= 0 {
		return label
	}
	return fmt.Sprintf("%s (%d%%)", label, clamp(raw, 0, 100))
}

// Tracker enforces that emitted progress never moves backwards. It holds
// only the last emitted value.
type Tracker struct {
	last int
}

// Observe converts one job observation into an Update.
func (t *Tracker) Observe(job domain.Job) Update {
	p := Scale(job.Status, job.Progress)
	if job.Status == domain.JobStatusFailed || p < t.last {
		p = t.last
	}
	t.last = p
	return Update{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     p,
		StageLabel:   StageLabel(job.Status, job.Progress),
		Raw:          job.Progress,
		ErrorMessage: job.ErrorMessage,
	}
}

// Last returns the most recent emitted progress.
func (t *Tracker) Last() int {
	return t.last
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
