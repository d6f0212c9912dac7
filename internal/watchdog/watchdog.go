// Package watchdog finds jobs stuck in a non-terminal status, applies
// pre-approved fixes, and keeps an audit trail and pattern counts of what it
// saw.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"coursepipe/internal/domain"
	"coursepipe/internal/processing"
)

const (
	DefaultActor           = "watchdog"
	reasonRetriesExhausted = "retries exhausted"
)

// Config tunes a Watchdog. ScanLimit is the page size of the stuck-job scan;
// a sweep walks every page.
type Config struct {
	Thresholds         domain.StalenessRule
	SevereMultiplier   int
	Workers            int
	ScanLimit          int
	PromotionThreshold int
}

// Deps are the collaborators of a Watchdog.
type Deps struct {
	Jobs      domain.JobRepository
	AutoFixes domain.AutoFixRepository
	Patterns  domain.PatternRepository
	Trigger   processing.Trigger
	Registry  *Registry
	Logger    zerolog.Logger
}

// SweepOptions controls one sweep.
type SweepOptions struct {
	DryRun bool
	Actor  string
}

// Summary reports one sweep.
type Summary struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	DryRun           bool          `json:"dry_run"`
	StuckJobsFound   int           `json:"stuck_jobs_found"`
	StuckJobsFixed   int           `json:"stuck_jobs_fixed"`
	PatternsDetected int           `json:"patterns_detected"`
	AutoFixesApplied int           `json:"auto_fixes_applied"`
	ManualReview     int           `json:"manual_review"`
	Skipped          int           `json:"skipped"`
	Failed           int           `json:"failed"`
	Findings         []Finding     `json:"findings"`
}

// Watchdog runs sweeps. At most one sweep runs at a time per Watchdog.
type Watchdog struct {
	deps    Deps
	cfg     Config
	now     func() time.Time
	running atomic.Bool
}

func New(deps Deps, cfg Config) *Watchdog {
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 500
	}
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = 3
	}
	return &Watchdog{deps: deps, cfg: cfg, now: time.Now}
}

// PromotionThreshold is the occurrence count that makes a pattern eligible
// for promotion.
func (w *Watchdog) PromotionThreshold() int {
	return w.cfg.PromotionThreshold
}

// Registry returns the strategy registry in use.
func (w *Watchdog) Registry() *Registry {
	return w.deps.Registry
}

// Sweep runs Scan, Classify, Decide, Aggregate and Report once. Per-job
// failures are counted in the summary; only a failed scan returns an error.
// A page that has been scanned is always handled to completion; cancelling
// ctx stops the sweep before the next page.
func (w *Watchdog) Sweep(ctx context.Context, opts SweepOptions) (Summary, error) {
	if !w.running.CompareAndSwap(false, true) {
		return Summary{}, domain.ErrSweepInProgress
	}
	defer w.running.Store(false)

	if opts.Actor == "" {
		opts.Actor = DefaultActor
	}
	logger := w.deps.Logger.With().Bool("dry_run", opts.DryRun).Str("actor", opts.Actor).Logger()
	now := w.now()
	summary := Summary{StartedAt: now, DryRun: opts.DryRun}

	page, err := w.deps.Jobs.ListStuck(ctx, w.cfg.Thresholds, now, domain.StuckCursor{}, w.cfg.ScanLimit)
	if err != nil {
		logger.Error().Err(err).Msg("watchdog: scan failed")
		return summary, &domain.SweepError{Stage: "scan", Err: err}
	}

	// Pages are walked by cursor so jobs left for manual review cannot hide
	// newer fixable ones behind the scan limit.
	work := context.WithoutCancel(ctx)
	findings := make([]Finding, 0, len(page))
	for {
		findings = append(findings, w.handlePage(work, logger, page, now, opts)...)
		if len(page) < w.cfg.ScanLimit {
			break
		}
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Int("handled", len(findings)).Msg("watchdog: sweep cancelled between pages")
			break
		}
		cursor := domain.CursorAt(page[len(page)-1])
		page, err = w.deps.Jobs.ListStuck(work, w.cfg.Thresholds, now, cursor, w.cfg.ScanLimit)
		if err != nil {
			logger.Error().Err(err).Int("handled", len(findings)).Msg("watchdog: scan of next page failed")
			w.summarize(&summary, findings, now)
			return summary, &domain.SweepError{Stage: "scan", Err: err}
		}
	}
	w.summarize(&summary, findings, now)

	logger.Info().
		Int("stuck", summary.StuckJobsFound).
		Int("fixed", summary.StuckJobsFixed).
		Int("auto_fixes", summary.AutoFixesApplied).
		Int("manual_review", summary.ManualReview).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("patterns", summary.PatternsDetected).
		Msg("watchdog: sweep completed")
	return summary, nil
}

// handlePage runs handle for every job of one page on the worker pool.
func (w *Watchdog) handlePage(ctx context.Context, logger zerolog.Logger, jobs []domain.Job, now time.Time, opts SweepOptions) []Finding {
	findings := make([]Finding, len(jobs))
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			findings[i] = w.handle(ctx, logger, job, now, opts)
			return nil
		})
	}
	_ = g.Wait()
	return findings
}

func (w *Watchdog) summarize(summary *Summary, findings []Finding, start time.Time) {
	patterns := make(map[string]struct{})
	for _, f := range findings {
		patterns[f.PatternKey] = struct{}{}
		switch f.Outcome {
		case OutcomeAutoFixed:
			summary.AutoFixesApplied++
			if f.Strategy == string(StrategyRequeue) {
				summary.StuckJobsFixed++
			}
		case OutcomeManualReview:
			summary.ManualReview++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeFailed:
			summary.Failed++
		}
	}
	summary.StuckJobsFound = len(findings)
	summary.PatternsDetected = len(patterns)
	summary.Findings = findings
	summary.Duration = w.now().Sub(start)
}

// handle processes one stuck job inside its own error and panic boundary.
func (w *Watchdog) handle(ctx context.Context, logger zerolog.Logger, job domain.Job, now time.Time, opts SweepOptions) (f Finding) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("job_id", job.ID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("watchdog: job handler panicked")
			f.JobID = job.ID
			f.Outcome = OutcomeFailed
			f.Error = fmt.Sprint(r)
		}
	}()

	threshold, _ := w.cfg.Thresholds.Threshold(job.Status)
	f = Classify(job, threshold, w.cfg.SevereMultiplier, now)
	jobLogger := logger.With().Str("job_id", job.ID).Str("pattern_key", f.PatternKey).Logger()

	strategy, err := w.decide(ctx, f.PatternKey)
	if err != nil {
		return w.fail(jobLogger, f, fmt.Errorf("decide: %w", err))
	}
	f.Strategy = string(strategy.Kind)

	if opts.DryRun {
		f.Outcome = OutcomeDryRun
		if strategy.Automated() {
			f.FixApplied = "would " + describe(strategy, job)
		}
		return f
	}

	fix := domain.AutoFix{
		IssueType:        f.IssueType,
		IssueDescription: f.IssueDescription,
		Severity:         f.Severity,
		PatternKey:       f.PatternKey,
		JobID:            job.ID,
		ActorIdentity:    opts.Actor,
		DetectedAt:       now,
	}

	if strategy.Automated() {
		applied, exhausted, err := w.remediate(ctx, job, strategy)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			jobLogger.Info().Err(err).Msg("watchdog: job moved on, skipping")
			f.Outcome = OutcomeSkipped
			return f
		}
		if err != nil {
			return w.fail(jobLogger, f, fmt.Errorf("remediate: %w", err))
		}
		if exhausted {
			f.Severity = domain.SeverityHigh
			fix.Severity = domain.SeverityHigh
			f.Strategy = string(StrategyFail)
		}
		fixedAt := w.now()
		fix.AutoFixed = true
		fix.FixApplied = applied
		fix.FixedAt = &fixedAt
		f.FixApplied = applied
		f.Outcome = OutcomeAutoFixed
	} else {
		f.Outcome = OutcomeManualReview
	}

	if _, err := w.deps.AutoFixes.Record(ctx, fix); err != nil {
		return w.fail(jobLogger, f, fmt.Errorf("record autofix: %w", err))
	}
	pattern, err := w.deps.Patterns.Upsert(ctx, f.PatternKey, domain.DetectionEvent{
		IssueType:  f.IssueType,
		Severity:   f.Severity,
		JobID:      job.ID,
		DetectedAt: now,
	})
	if err != nil {
		return w.fail(jobLogger, f, fmt.Errorf("upsert pattern: %w", err))
	}
	if pattern.PromotionEligible(w.cfg.PromotionThreshold) {
		jobLogger.Warn().Int("occurrences", pattern.OccurrenceCount).Msg("watchdog: pattern eligible for promotion")
	}

	jobLogger.Info().Str("outcome", string(f.Outcome)).Str("fix", f.FixApplied).Msg("watchdog: job handled")
	return f
}

// decide resolves the strategy for key: registry first, then a promoted
// pattern row, then the default.
func (w *Watchdog) decide(ctx context.Context, key string) (Strategy, error) {
	if s, ok := w.deps.Registry.Lookup(key); ok {
		return s, nil
	}
	p, err := w.deps.Patterns.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return w.deps.Registry.Default(key), nil
	}
	if err != nil {
		return Strategy{}, err
	}
	if p.AutoFixAvailable {
		s, _ := w.deps.Registry.FromPromotion(key, p.AutoFixStrategy)
		return s, nil
	}
	return w.deps.Registry.Default(key), nil
}

// remediate applies strategy with an optimistic write against the version
// seen at scan time. It reports the fix text and whether retries ran out.
func (w *Watchdog) remediate(ctx context.Context, job domain.Job, strategy Strategy) (string, bool, error) {
	switch strategy.Kind {
	case StrategyRequeue:
		if job.RetryCount >= strategy.MaxRetries {
			reason := reasonRetriesExhausted
			if _, err := w.markFailed(ctx, job, reason); err != nil {
				return "", false, err
			}
			return fmt.Sprintf("marked failed: %s after %d retries", reason, job.RetryCount), true, nil
		}
		queued := domain.JobStatusQueued
		progress := 0
		retries := job.RetryCount + 1
		resume := job.Status
		if job.Status == domain.JobStatusQueued && job.ResumeStage != "" {
			resume = job.ResumeStage
		}
		cleared := ""
		updated, err := w.deps.Jobs.UpdateStatus(ctx, job.ID, job.Version, domain.JobPatch{
			Status:      &queued,
			Progress:    &progress,
			RetryCount:  &retries,
			ResumeStage: &resume,
			LastError:   &cleared,
		})
		if err != nil {
			return "", false, err
		}
		applied := fmt.Sprintf("requeued from %s (retry %d of %d)", job.Status, retries, strategy.MaxRetries)
		if w.deps.Trigger != nil {
			if err := w.deps.Trigger.Enqueue(ctx, updated.ID, updated.Options); err != nil {
				w.deps.Logger.Error().Err(err).Str("job_id", job.ID).Msg("watchdog: re-enqueue failed")
				applied += "; enqueue failed: " + err.Error()
			}
		}
		return applied, false, nil
	case StrategyFail:
		reason := strategy.Reason
		if reason == "" {
			reason = fmt.Sprintf("stuck in %s", job.Status)
		}
		if _, err := w.markFailed(ctx, job, reason); err != nil {
			return "", false, err
		}
		return "marked failed: " + reason, false, nil
	}
	return "", false, fmt.Errorf("strategy %q is not automated", strategy.Kind)
}

func (w *Watchdog) markFailed(ctx context.Context, job domain.Job, reason string) (domain.Job, error) {
	failed := domain.JobStatusFailed
	return w.deps.Jobs.UpdateStatus(ctx, job.ID, job.Version, domain.JobPatch{
		Status:       &failed,
		ErrorMessage: &reason,
	})
}

func (w *Watchdog) fail(logger zerolog.Logger, f Finding, err error) Finding {
	logger.Error().Err(err).Msg("watchdog: job handling failed")
	f.Outcome = OutcomeFailed
	f.Error = err.Error()
	return f
}

func describe(s Strategy, job domain.Job) string {
	switch s.Kind {
	case StrategyRequeue:
		if job.RetryCount >= s.MaxRetries {
			return "mark failed: " + reasonRetriesExhausted
		}
		return fmt.Sprintf("requeue from %s (retry %d of %d)", job.Status, job.RetryCount+1, s.MaxRetries)
	case StrategyFail:
		if s.Reason != "" {
			return "mark failed: " + s.Reason
		}
		return fmt.Sprintf("mark failed: stuck in %s", job.Status)
	}
	return ""
}
