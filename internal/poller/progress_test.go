package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"coursepipe/internal/domain"
)

func TestScaleBands(t *testing.T) {
	cases := []struct {
		status domain.JobStatus
		raw    int
		want   int
	}{
		{domain.JobStatusQueued, 0, 0},
		{domain.JobStatusQueued, 100, 5},
		{domain.JobStatusUploading, 50, 17},
		{domain.JobStatusTranscribing, 0, 30},
		{domain.JobStatusTranscribing, 100, 50},
		{domain.JobStatusExtractingFrames, 50, 60},
		{domain.JobStatusRendering, 100, 90},
		{domain.JobStatusGeneratingAI, 100, 99},
		{domain.JobStatusGeneratingAI, 250, 99},
		{domain.JobStatusCompleted, 0, 100},
		{domain.JobStatusFailed, 70, 0},
		{domain.JobStatus("bogus"), 70, 0},
		{domain.JobStatusRendering, -10, 70},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Scale(tc.status, tc.raw), "%s/%d", tc.status, tc.raw)
	}
}

func TestStageLabelIsPure(t *testing.T) {
	assert.Equal(t, "Transcribing audio (40%)", StageLabel(domain.JobStatusTranscribing, 40))
	assert.Equal(t, "Transcribing audio", StageLabel(domain.JobStatusTranscribing, 0))
	assert.Equal(t, "Completed", StageLabel(domain.JobStatusCompleted, 100))
	assert.Equal(t, "Uploading Thumbnails", StageLabel(domain.JobStatus("uploading_thumbnails"), 0))
	assert.Equal(t, "Reviewing Slide Order (30%)", StageLabel(domain.JobStatus("reviewing_slide_order"), 30))
	assert.Equal(t, StageLabel(domain.JobStatusRendering, 12), StageLabel(domain.JobStatusRendering, 12))
}

func TestTrackerNeverRegresses(t *testing.T) {
	var tr Tracker
	seq := []domain.Job{
		{Status: domain.JobStatusRendering, Progress: 90},
		{Status: domain.JobStatusQueued, Progress: 0},
		{Status: domain.JobStatusRendering, Progress: 10},
		{Status: domain.JobStatusGeneratingAI, Progress: 0},
	}
	prev := -1
	for _, j := range seq {
		u := tr.Observe(j)
		assert.GreaterOrEqual(t, u.Progress, prev)
		prev = u.Progress
	}
	assert.Equal(t, 90, tr.Last())
}
