// Package bootstrap assembles the server-side stores, the processing trigger
// and the watchdog from configuration. The API and the watchdog binary share
// it so both run against the same wiring.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"coursepipe/internal/adapter/memstore"
	"coursepipe/internal/adapter/repo"
	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/processing"
	"coursepipe/internal/watchdog"
)

// Stores groups the repositories of one process. DB is nil for the memory
// driver.
type Stores struct {
	Jobs        domain.JobRepository
	Submissions domain.SubmissionStore
	Uploads     domain.UploadRepository
	AutoFixes   domain.AutoFixRepository
	Patterns    domain.PatternRepository
	Trigger     processing.Trigger
	DB          *infra.SQLRunner

	close func()
}

// Open connects the configured store driver and the processing trigger.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Stores, error) {
	var s *Stores
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		jobs := memstore.NewJobs()
		s = &Stores{
			Jobs:        jobs,
			Submissions: jobs,
			Uploads:     memstore.NewUploads(),
			AutoFixes:   memstore.NewAutoFixes(),
			Patterns:    memstore.NewPatterns(),
			Trigger:     processing.NewMemoryQueue(),
			close:       func() {},
		}
		logger.Warn().Msg("bootstrap: memory store driver, state is lost on exit")
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
		s = &Stores{
			Jobs:        repo.NewJobRepository(runner),
			Submissions: repo.NewSubmissionRepository(runner),
			Uploads:     repo.NewUploadRepository(runner),
			AutoFixes:   repo.NewAutoFixRepository(runner),
			Patterns:    repo.NewPatternRepository(runner),
			Trigger:     processing.NewQueueTrigger(runner, logger),
			DB:          runner,
			close:       pool.Close,
		}
	}

	if cfg.ProcessingTrigger == infra.TriggerWebhook {
		trigger, err := processing.NewWebhookTrigger(processing.WebhookOptions{
			URL:    cfg.ProcessingWebhookURL,
			Token:  cfg.ProcessingWebhookToken,
			Logger: logger,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Trigger = trigger
	}
	return s, nil
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// NewWatchdog builds a watchdog over s. The strategy registry comes from the
// configured TOML file, or the built-in table when none is set.
func NewWatchdog(cfg *infra.Config, s *Stores, logger zerolog.Logger) (*watchdog.Watchdog, error) {
	registry := watchdog.DefaultRegistry()
	if path := cfg.Watchdog.StrategiesFile; path != "" {
		loaded, err := watchdog.LoadRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		registry = loaded
	}
	return watchdog.New(watchdog.Deps{
		Jobs:      s.Jobs,
		AutoFixes: s.AutoFixes,
		Patterns:  s.Patterns,
		Trigger:   s.Trigger,
		Registry:  registry,
		Logger:    infra.Component(logger, "watchdog"),
	}, watchdog.Config{
		Thresholds:         cfg.Watchdog.Thresholds,
		SevereMultiplier:   cfg.Watchdog.SevereMultiplier,
		Workers:            cfg.Watchdog.Workers,
		ScanLimit:          cfg.Watchdog.ScanLimit,
		PromotionThreshold: cfg.Watchdog.PromotionThreshold,
	}), nil
}
