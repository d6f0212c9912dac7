// Package poller watches a job until it reaches a terminal status and turns
// raw pipeline progress into a bounded, non-decreasing UI value.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
)

const (
	DefaultInterval             = 5 * time.Second
	DefaultBudget               = 6 * time.Hour
	DefaultMaxConsecutiveErrors = 5
)

// Update is one observation emitted by Poll.
type Update struct {
	JobID        string           `json:"job_id"`
	Status       domain.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
	StageLabel   string           `json:"stage_label"`
	Raw          int              `json:"raw_progress"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Terminal reports whether the update ends the sequence.
func (u Update) Terminal() bool {
	return u.Status.Terminal()
}

// JobSource reads the current job. domain.JobRepository and the API client
// both satisfy it.
type JobSource interface {
	Get(ctx context.Context, jobID string) (domain.Job, error)
}

type Options struct {
	Interval             time.Duration
	Budget               time.Duration
	MaxConsecutiveErrors int
	Logger               *zerolog.Logger
}

// Poller polls one JobSource. Each Poll call owns its own tracker; the only
// state shared across calls is the cache of terminal results used for replay.
type Poller struct {
	src    JobSource
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	terminal map[string]Update
}

func New(src JobSource, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Poller{
		src:      src,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		terminal: make(map[string]Update),
	}
}

// Poll yields an Update every interval until the job is terminal, the budget
// runs out (domain.ErrPollTimeout), the job disappears (domain.ErrNotFound),
// fetches keep failing, or ctx ends. An error is always the last element.
func (p *Poller) Poll(ctx context.Context, jobID string) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		if u, ok := p.cached(jobID); ok {
			yield(u, nil)
			return
		}

		var tracker Tracker
		deadline := p.now().Add(p.opts.Budget)
		failures := 0
		for {
			job, err := p.src.Get(ctx, jobID)
			switch {
			case err == nil:
				failures = 0
				u := tracker.Observe(job)
				if u.Terminal() {
					p.remember(jobID, u)
					yield(u, nil)
					return
				}
				if !yield(u, nil) {
					return
				}
			case errors.Is(err, domain.ErrNotFound):
				yield(Update{JobID: jobID}, fmt.Errorf("poll %s: %w", jobID, err))
				return
			case ctx.Err() != nil:
				yield(Update{JobID: jobID}, ctx.Err())
				return
			default:
				failures++
				p.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", failures).Msg("poller: fetch failed")
				if failures >= p.opts.MaxConsecutiveErrors {
					yield(Update{JobID: jobID}, fmt.Errorf("poll %s: %d consecutive failures: %w", jobID, failures, err))
					return
				}
			}

			if err := p.sleep(ctx, p.opts.Interval); err != nil {
				yield(Update{JobID: jobID, Progress: tracker.Last()}, err)
				return
			}
			if !p.now().Before(deadline) {
				yield(Update{JobID: jobID, Progress: tracker.Last()}, fmt.Errorf("poll %s after %s: %w", jobID, p.opts.Budget, domain.ErrPollTimeout))
				return
			}
		}
	}
}

// Wait drains Poll and returns the terminal update.
func (p *Poller) Wait(ctx context.Context, jobID string, onUpdate func(Update)) (Update, error) {
	var last Update
	for u, err := range p.Poll(ctx, jobID) {
		if err != nil {
			return u, err
		}
		last = u
		if onUpdate != nil {
			onUpdate(u)
		}
	}
	return last, nil
}

func (p *Poller) cached(jobID string) (Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.terminal[jobID]
	return u, ok
}

func (p *Poller) remember(jobID string, u Update) {
	p.mu.Lock()
	p.terminal[jobID] = u
	p.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
