package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
)

const (
	DefaultSchedule = "@every 5m"
	sweepTimeout    = 10 * time.Minute
)

// Sweeper is the single-sweep entry point the scheduler drives.
type Sweeper interface {
	Sweep(ctx context.Context, opts SweepOptions) (Summary, error)
}

// Scheduler runs sweeps on a cron schedule.
type Scheduler struct {
	sweeper Sweeper
	cron    *cron.Cron
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(sweeper Sweeper, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sweeper: sweeper,
		cron:    cron.New(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the sweep under schedule and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("watchdog: scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.logger.Info().Msg("watchdog: scheduler stopped")
}

// RunOnce performs one scheduled sweep. An overlapping tick is dropped.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	summary, err := s.sweeper.Sweep(ctx, SweepOptions{Actor: DefaultActor})
	switch {
	case errors.Is(err, domain.ErrSweepInProgress):
		s.logger.Warn().Msg("watchdog: previous sweep still running, tick skipped")
	case err != nil:
		s.logger.Error().Err(err).Msg("watchdog: scheduled sweep failed")
	default:
		s.logger.Debug().Dur("duration", summary.Duration).Int("stuck", summary.StuckJobsFound).Msg("watchdog: scheduled sweep done")
	}
}
