package submit

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepipe/internal/adapter/memstore"
	"coursepipe/internal/domain"
	"coursepipe/internal/processing"
)

func newTestSubmitter() (*Submitter, *memstore.Jobs, *processing.MemoryQueue) {
	jobs := memstore.NewJobs()
	queue := processing.NewMemoryQueue()
	return New(jobs, jobs, queue, zerolog.New(io.Discard)), jobs, queue
}

func manifest(files ...ManifestFile) Manifest {
	return Manifest{OwnerID: "owner-1", Token: "tok-1", SessionID: "sess-1", Title: "Week 1", Files: files}
}

func acked(id, name string) ManifestFile {
	return ManifestFile{FileID: id, Name: name, Size: 100, StorageKey: "uploads/sess-1/" + id, Acknowledged: true}
}

func TestSubmitSeparateCreatesOneJobPerFile(t *testing.T) {
	s, _, queue := newTestSubmitter()

	res, err := s.Submit(context.Background(), manifest(acked("f1", "a.mp4"), acked("f2", "b.mp4")), domain.JobOptions{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.Len(t, res.Jobs, 2)
	assert.Equal(t, "Week 1: a.mp4", res.Jobs[0].Title)
	assert.Equal(t, domain.JobStatusQueued, res.Jobs[0].Status)
	assert.Equal(t, domain.MergeSeparate, res.Jobs[0].Options.MergeMode)
	assert.Equal(t, domain.ExtractionFast, res.Jobs[0].Options.ExtractionDensity)
	require.Len(t, res.Jobs[1].Sources, 1)
	assert.Equal(t, "f2", res.Jobs[1].Sources[0].FileID)
	assert.Len(t, queue.Items(), 2)
}

func TestSubmitCombinedCreatesExactlyOneJob(t *testing.T) {
	s, _, queue := newTestSubmitter()

	res, err := s.Submit(context.Background(),
		manifest(acked("f1", "a.mp4"), acked("f2", "b.mp4"), acked("f3", "c.mp4")),
		domain.JobOptions{MergeMode: domain.MergeCombined, ExtractionDensity: domain.ExtractionPrecision})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, "Week 1", res.Jobs[0].Title)
	assert.Len(t, res.Jobs[0].Sources, 3)
	assert.Equal(t, domain.ExtractionPrecision, res.Jobs[0].Options.ExtractionDensity)
	assert.Len(t, queue.Items(), 1)
}

func TestSubmitIsIdempotentPerToken(t *testing.T) {
	s, jobs, queue := newTestSubmitter()
	m := manifest(acked("f1", "a.mp4"))

	first, err := s.Submit(context.Background(), m, domain.JobOptions{})
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), m, domain.JobOptions{})
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.JobIDs(), second.JobIDs())
	active, err := jobs.ListActive(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Len(t, queue.Items(), 1)
}

func TestSubmitRejectsTokenReuseForAnotherSession(t *testing.T) {
	s, _, queue := newTestSubmitter()

	_, err := s.Submit(context.Background(), manifest(acked("f1", "a.mp4")), domain.JobOptions{})
	require.NoError(t, err)

	other := manifest(acked("f1", "a.mp4"))
	other.SessionID = "sess-2"
	_, err = s.Submit(context.Background(), other, domain.JobOptions{})
	assert.ErrorIs(t, err, domain.ErrDuplicateOperation)
	assert.Len(t, queue.Items(), 1)
}

func TestSubmitRequiresAcknowledgedFilesUnlessSalvaging(t *testing.T) {
	s, _, _ := newTestSubmitter()
	pending := ManifestFile{FileID: "f2", Name: "b.mp4", Size: 100}

	_, err := s.Submit(context.Background(), manifest(acked("f1", "a.mp4"), pending), domain.JobOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidManifest)

	m := manifest(acked("f1", "a.mp4"), pending)
	m.Salvage = true
	res, err := s.Submit(context.Background(), m, domain.JobOptions{})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, "Week 1", res.Jobs[0].Title)

	m = manifest(pending)
	m.Token = "tok-2"
	m.Salvage = true
	_, err = s.Submit(context.Background(), m, domain.JobOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidManifest)
}

func TestSubmitValidatesInput(t *testing.T) {
	s, _, _ := newTestSubmitter()

	m := manifest(acked("f1", "a.mp4"))
	m.Token = ""
	_, err := s.Submit(context.Background(), m, domain.JobOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidManifest)

	_, err = s.Submit(context.Background(), manifest(acked("f1", "a.mp4")), domain.JobOptions{MergeMode: "zip"})
	assert.ErrorIs(t, err, domain.ErrInvalidManifest)
}

func TestSubmitAttachToChecksOwnership(t *testing.T) {
	s, jobs, _ := newTestSubmitter()
	mine := jobs.Put(domain.Job{OwnerID: "owner-1", Status: domain.JobStatusCompleted})
	theirs := jobs.Put(domain.Job{OwnerID: "owner-2", Status: domain.JobStatusCompleted})

	res, err := s.Submit(context.Background(), manifest(acked("f1", "a.mp4")), domain.JobOptions{AttachTo: mine.ID})
	require.NoError(t, err)
	assert.Equal(t, mine.ID, res.Jobs[0].ParentJobID)

	m := manifest(acked("f1", "a.mp4"))
	m.Token = "tok-2"
	_, err = s.Submit(context.Background(), m, domain.JobOptions{AttachTo: theirs.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitKeepsJobWhenEnqueueFails(t *testing.T) {
	s, jobs, queue := newTestSubmitter()
	queue.FailWith(errors.New("queue unavailable"))

	res, err := s.Submit(context.Background(), manifest(acked("f1", "a.mp4")), domain.JobOptions{})
	require.NoError(t, err)
	job, err := jobs.Get(context.Background(), res.Jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
}
