package watchdog

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepipe/internal/adapter/memstore"
	"coursepipe/internal/domain"
	"coursepipe/internal/processing"
)

var sweepNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testThresholds() domain.StalenessRule {
	return domain.StalenessRule{
		domain.JobStatusQueued:           15 * time.Minute,
		domain.JobStatusUploading:        30 * time.Minute,
		domain.JobStatusTranscribing:     30 * time.Minute,
		domain.JobStatusExtractingFrames: time.Hour,
		domain.JobStatusRendering:        30 * time.Minute,
		domain.JobStatusGeneratingAI:     45 * time.Minute,
	}
}

type fixture struct {
	jobs      *memstore.Jobs
	autofixes *memstore.AutoFixes
	patterns  *memstore.Patterns
	queue     *processing.MemoryQueue
	wd        *Watchdog
}

func newFixture(t *testing.T, jobs domain.JobRepository) *fixture {
	t.Helper()
	f := &fixture{
		jobs:      memstore.NewJobs(),
		autofixes: memstore.NewAutoFixes(),
		patterns:  memstore.NewPatterns(),
		queue:     processing.NewMemoryQueue(),
	}
	var repo domain.JobRepository = f.jobs
	if jobs != nil {
		repo = jobs
	}
	f.wd = New(Deps{
		Jobs:      repo,
		AutoFixes: f.autofixes,
		Patterns:  f.patterns,
		Trigger:   f.queue,
		Logger:    zerolog.New(io.Discard),
	}, Config{Thresholds: testThresholds(), SevereMultiplier: 4, Workers: 3})
	f.wd.now = func() time.Time { return sweepNow }
	return f
}

func (f *fixture) stuck(status domain.JobStatus, age time.Duration) domain.Job {
	return f.jobs.Put(domain.Job{OwnerID: "u1", Status: status, Progress: 40, UpdatedAt: sweepNow.Add(-age)})
}

func (f *fixture) records(t *testing.T) []domain.AutoFix {
	t.Helper()
	fixes, err := f.autofixes.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	return fixes
}

func TestSweepRequeuesStuckExtraction(t *testing.T) {
	f := newFixture(t, nil)
	j1 := f.stuck(domain.JobStatusExtractingFrames, 3*time.Hour)
	f.stuck(domain.JobStatusRendering, 5*time.Minute)

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StuckJobsFound)
	assert.Equal(t, 1, summary.StuckJobsFixed)
	assert.Equal(t, 1, summary.AutoFixesApplied)
	assert.Equal(t, 1, summary.PatternsDetected)

	fixes := f.records(t)
	require.Len(t, fixes, 1)
	fix := fixes[0]
	assert.Equal(t, "stuck_in_extracting_frames", fix.IssueType)
	assert.Equal(t, "stuck_in_extracting_frames", fix.PatternKey)
	assert.True(t, fix.AutoFixed)
	assert.Equal(t, j1.ID, fix.JobID)
	assert.Equal(t, DefaultActor, fix.ActorIdentity)
	require.NotNil(t, fix.FixedAt)
	assert.Contains(t, fix.FixApplied, "requeued from extracting_frames")

	job, err := f.jobs.Get(context.Background(), j1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, domain.JobStatusExtractingFrames, job.ResumeStage)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, j1.Version+1, job.Version)

	require.Len(t, f.queue.Items(), 1)
	assert.Equal(t, j1.ID, f.queue.Items()[0].JobID)
}

func TestSweepUnknownPatternNeedsReview(t *testing.T) {
	f := newFixture(t, nil)
	j := f.stuck(domain.JobStatusUploading, time.Hour)

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{Actor: "ops@example"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ManualReview)
	assert.Equal(t, 0, summary.AutoFixesApplied)

	fixes := f.records(t)
	require.Len(t, fixes, 1)
	assert.False(t, fixes[0].AutoFixed)
	assert.True(t, fixes[0].NeedsReview())
	assert.Nil(t, fixes[0].FixedAt)
	assert.Equal(t, "ops@example", fixes[0].ActorIdentity)

	unchanged, err := f.jobs.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.Version, unchanged.Version)
	assert.Empty(t, f.queue.Items())
}

func TestSweepAggregatesPatternAcrossSweeps(t *testing.T) {
	f := newFixture(t, nil)
	f.stuck(domain.JobStatusUploading, time.Hour)

	for i := 0; i < 4; i++ {
		_, err := f.wd.Sweep(context.Background(), SweepOptions{})
		require.NoError(t, err)
	}

	patterns, err := f.patterns.List(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "stuck_in_uploading", patterns[0].PatternKey)
	assert.Equal(t, 4, patterns[0].OccurrenceCount)
	assert.Equal(t, sweepNow, patterns[0].FirstSeen)
	assert.True(t, patterns[0].PromotionEligible(f.wd.PromotionThreshold()))
	assert.Len(t, f.records(t), 4)
}

func TestSweepWalksPastJobsLeftForReview(t *testing.T) {
	f := newFixture(t, nil)
	f.wd.cfg.ScanLimit = 2
	f.stuck(domain.JobStatusUploading, 100*time.Minute)
	f.stuck(domain.JobStatusUploading, 90*time.Minute)
	fixable := f.stuck(domain.JobStatusExtractingFrames, 61*time.Minute)

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.StuckJobsFound)
	assert.Equal(t, 2, summary.ManualReview)
	assert.Equal(t, 1, summary.StuckJobsFixed)

	job, err := f.jobs.Get(context.Background(), fixable.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.Len(t, f.queue.Items(), 1)
	assert.Equal(t, fixable.ID, f.queue.Items()[0].JobID)
}

func TestSweepStopsBetweenPagesWhenCancelled(t *testing.T) {
	f := newFixture(t, nil)
	f.wd.cfg.ScanLimit = 2
	f.stuck(domain.JobStatusUploading, 100*time.Minute)
	f.stuck(domain.JobStatusUploading, 90*time.Minute)
	later := f.stuck(domain.JobStatusExtractingFrames, 61*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := f.wd.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.StuckJobsFound)
	assert.Len(t, f.records(t), 2)

	job, err := f.jobs.Get(context.Background(), later.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusExtractingFrames, job.Status)
}

type flakyJobs struct {
	*memstore.Jobs
	failFor  string
	panicFor string
}

func (r *flakyJobs) UpdateStatus(ctx context.Context, id string, v int64, p domain.JobPatch) (domain.Job, error) {
	if id == r.panicFor {
		panic("store exploded")
	}
	if id == r.failFor {
		return domain.Job{}, errors.New("connection reset")
	}
	return r.Jobs.UpdateStatus(ctx, id, v, p)
}

func TestSweepIsolatesPerJobFailures(t *testing.T) {
	flaky := &flakyJobs{}
	f := newFixture(t, flaky)
	flaky.Jobs = f.jobs

	a := f.stuck(domain.JobStatusRendering, 45*time.Minute)
	b := f.stuck(domain.JobStatusTranscribing, time.Hour)
	c := f.stuck(domain.JobStatusQueued, 30*time.Minute)
	d := f.stuck(domain.JobStatusGeneratingAI, 2*time.Hour)
	flaky.failFor = a.ID
	flaky.panicFor = d.ID

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.StuckJobsFound)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, summary.StuckJobsFixed)

	for _, id := range []string{b.ID, c.ID} {
		job, err := f.jobs.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
		assert.Equal(t, 1, job.RetryCount)
	}
	outcomes := map[string]Outcome{}
	for _, finding := range summary.Findings {
		outcomes[finding.JobID] = finding.Outcome
	}
	assert.Equal(t, OutcomeFailed, outcomes[a.ID])
	assert.Equal(t, OutcomeFailed, outcomes[d.ID])
}

// racingJobs simulates the pipeline advancing a job between scan and fix.
type racingJobs struct {
	*memstore.Jobs
	advance string
}

func (r *racingJobs) ListStuck(ctx context.Context, rule domain.StalenessRule, now time.Time, after domain.StuckCursor, limit int) ([]domain.Job, error) {
	jobs, err := r.Jobs.ListStuck(ctx, rule, now, after, limit)
	if err != nil {
		return nil, err
	}
	current, err := r.Jobs.Get(ctx, r.advance)
	if err != nil {
		return nil, err
	}
	patch, err := current.Advance(domain.ProgressReport{Version: current.Version, Status: domain.JobStatusRendering, Progress: 10})
	if err != nil {
		return nil, err
	}
	if _, err := r.Jobs.UpdateStatus(ctx, current.ID, current.Version, patch); err != nil {
		return nil, err
	}
	return jobs, nil
}

func TestSweepSkipsJobsThatMovedOn(t *testing.T) {
	racing := &racingJobs{}
	f := newFixture(t, racing)
	racing.Jobs = f.jobs
	moved := f.stuck(domain.JobStatusExtractingFrames, 3*time.Hour)
	racing.advance = moved.ID

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.StuckJobsFixed)
	assert.Empty(t, f.records(t))

	job, err := f.jobs.Get(context.Background(), moved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRendering, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Empty(t, f.queue.Items())
}

func TestSweepDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	j := f.stuck(domain.JobStatusExtractingFrames, 3*time.Hour)
	f.stuck(domain.JobStatusUploading, time.Hour)

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.StuckJobsFound)
	assert.Equal(t, 2, summary.PatternsDetected)
	assert.Equal(t, 0, summary.AutoFixesApplied)

	for _, finding := range summary.Findings {
		assert.Equal(t, OutcomeDryRun, finding.Outcome)
		if finding.JobID == j.ID {
			assert.Equal(t, "would requeue from extracting_frames (retry 1 of 3)", finding.FixApplied)
		}
	}
	assert.Empty(t, f.records(t))
	patterns, err := f.patterns.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, patterns)
	unchanged, err := f.jobs.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.Version, unchanged.Version)
	assert.Empty(t, f.queue.Items())
}

type brokenJobs struct {
	*memstore.Jobs
}

func (brokenJobs) ListStuck(context.Context, domain.StalenessRule, time.Time, domain.StuckCursor, int) ([]domain.Job, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestSweepScanFailureIsFatal(t *testing.T) {
	f := newFixture(t, brokenJobs{memstore.NewJobs()})

	_, err := f.wd.Sweep(context.Background(), SweepOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSweepFailure)
	var sweepErr *domain.SweepError
	require.ErrorAs(t, err, &sweepErr)
	assert.Equal(t, "scan", sweepErr.Stage)
}

type blockingJobs struct {
	*memstore.Jobs
	entered chan struct{}
	release chan struct{}
}

func (b *blockingJobs) ListStuck(ctx context.Context, rule domain.StalenessRule, now time.Time, after domain.StuckCursor, limit int) ([]domain.Job, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func TestSweepIsSingleFlight(t *testing.T) {
	blocking := &blockingJobs{Jobs: memstore.NewJobs(), entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, blocking)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.wd.Sweep(context.Background(), SweepOptions{})
		assert.NoError(t, err)
	}()
	<-blocking.entered

	_, err := f.wd.Sweep(context.Background(), SweepOptions{})
	assert.ErrorIs(t, err, domain.ErrSweepInProgress)

	close(blocking.release)
	wg.Wait()
}

func TestSweepFailsJobWhenRetriesExhausted(t *testing.T) {
	f := newFixture(t, nil)
	j := f.jobs.Put(domain.Job{Status: domain.JobStatusRendering, RetryCount: 3, UpdatedAt: sweepNow.Add(-time.Hour)})

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AutoFixesApplied)
	assert.Equal(t, 0, summary.StuckJobsFixed)

	job, err := f.jobs.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "retries exhausted", job.ErrorMessage)

	fixes := f.records(t)
	require.Len(t, fixes, 1)
	assert.Equal(t, domain.SeverityHigh, fixes[0].Severity)
	assert.Contains(t, fixes[0].FixApplied, "retries exhausted")
	assert.Empty(t, f.queue.Items())
}

func TestSweepPrefersErrorSignature(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.Put(domain.Job{
		Status:    domain.JobStatusTranscribing,
		LastError: "Whisper: model OOM\nstack...",
		UpdatedAt: sweepNow.Add(-time.Hour),
	})

	summary, err := f.wd.Sweep(context.Background(), SweepOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Findings, 1)
	finding := summary.Findings[0]
	assert.Equal(t, "error_in_transcribing_whisper_model_oom", finding.PatternKey)
	assert.Equal(t, "stuck_in_transcribing", finding.IssueType)
	assert.Equal(t, OutcomeManualReview, finding.Outcome)
}

func TestSweepUsesPromotedPattern(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := "error_in_rendering_font_missing"
	_, err := f.patterns.Upsert(ctx, key, domain.DetectionEvent{IssueType: "stuck_in_rendering", DetectedAt: sweepNow})
	require.NoError(t, err)
	_, err = f.patterns.Promote(ctx, key, "fail")
	require.NoError(t, err)

	j := f.jobs.Put(domain.Job{Status: domain.JobStatusRendering, LastError: "font missing", UpdatedAt: sweepNow.Add(-time.Hour)})

	summary, err := f.wd.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AutoFixesApplied)

	job, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "stuck in rendering", job.ErrorMessage)

	p, err := f.patterns.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, p.OccurrenceCount)
}

type stubSweeper struct {
	calls int
	err   error
}

func (s *stubSweeper) Sweep(ctx context.Context, opts SweepOptions) (Summary, error) {
	s.calls++
	return Summary{}, s.err
}

func TestSchedulerRunOnceAndStart(t *testing.T) {
	sweeper := &stubSweeper{err: domain.ErrSweepInProgress}
	s := NewScheduler(sweeper, zerolog.New(io.Discard))
	s.RunOnce()
	assert.Equal(t, 1, sweeper.calls)

	require.Error(t, s.Start("not a schedule"))
	require.NoError(t, s.Start("@every 1h"))
	s.Stop()
}
