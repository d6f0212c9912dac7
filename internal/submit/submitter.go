// Package submit turns acknowledged uploads into queued jobs.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
	"coursepipe/internal/processing"
)

// ManifestFile is one uploaded file as the server ledger sees it.
type ManifestFile struct {
	FileID       string `validate:"required"`
	Name         string `validate:"required"`
	Size         int64  `validate:"gt=0"`
	StorageKey   string
	Acknowledged bool
}

// Manifest is the input of one submission. Token is the client-held
// idempotency key.
type Manifest struct {
	OwnerID   string         `validate:"required"`
	Token     string         `validate:"required,max=128"`
	SessionID string         `validate:"required"`
	Title     string         `validate:"max=200"`
	Files     []ManifestFile `validate:"required,min=1,dive"`
	Salvage   bool
}

// Result lists the jobs of a submission. Created is false when the token had
// already been used and the original jobs were returned.
type Result struct {
	Jobs    []domain.Job
	Created bool
}

// JobIDs returns the ids of r.Jobs in order.
func (r Result) JobIDs() []string {
	ids := make([]string, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

type Submitter struct {
	jobs     domain.JobRepository
	store    domain.SubmissionStore
	trigger  processing.Trigger
	validate *validator.Validate
	logger   zerolog.Logger
}

func New(jobs domain.JobRepository, store domain.SubmissionStore, trigger processing.Trigger, logger zerolog.Logger) *Submitter {
	return &Submitter{
		jobs:     jobs,
		store:    store,
		trigger:  trigger,
		validate: validator.New(),
		logger:   logger,
	}
}

// Submit creates the jobs for m exactly once per (owner, token) and hands new
// jobs to processing. A failed hand-off leaves the job queued; the watchdog
// re-enqueues it once it goes stale.
func (s *Submitter) Submit(ctx context.Context, m Manifest, opts domain.JobOptions) (Result, error) {
	if err := s.validate.Struct(m); err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidManifest, err)
	}
	if err := s.validate.Struct(opts); err != nil {
		return Result{}, fmt.Errorf("%w: options: %v", domain.ErrInvalidManifest, err)
	}
	opts = opts.WithDefaults()

	sources, err := acceptedSources(m)
	if err != nil {
		return Result{}, err
	}
	if opts.AttachTo != "" {
		parent, err := s.jobs.Get(ctx, opts.AttachTo)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && parent.OwnerID != m.OwnerID) {
			return Result{}, fmt.Errorf("attach to %s: %w", opts.AttachTo, domain.ErrNotFound)
		}
		if err != nil {
			return Result{}, fmt.Errorf("attach to %s: %w", opts.AttachTo, err)
		}
	}

	specs := buildSpecs(m, sources, opts)
	jobs, created, err := s.store.CreateOnce(ctx, m.OwnerID, m.Token, specs)
	if err != nil {
		return Result{}, fmt.Errorf("create jobs: %w", err)
	}
	logger := s.logger.With().Str("owner_id", m.OwnerID).Str("session_id", m.SessionID).Logger()
	if !created {
		if !sameSession(jobs, m.SessionID) {
			return Result{}, fmt.Errorf("%w: token %s belongs to another upload", domain.ErrDuplicateOperation, m.Token)
		}
		logger.Info().Int("jobs", len(jobs)).Msg("submit: token replayed, returning existing jobs")
		return Result{Jobs: jobs}, nil
	}

	for _, job := range jobs {
		if err := s.trigger.Enqueue(ctx, job.ID, job.Options); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("submit: enqueue failed, job stays queued")
		}
	}
	logger.Info().Int("jobs", len(jobs)).Str("merge_mode", string(opts.MergeMode)).Msg("submit: jobs created")
	return Result{Jobs: jobs, Created: true}, nil
}

// acceptedSources applies the salvage rule: without salvage every file must
// be acknowledged; with it unacknowledged files are dropped.
func acceptedSources(m Manifest) ([]domain.SourceFile, error) {
	var sources []domain.SourceFile
	var missing []string
	for _, f := range m.Files {
		if !f.Acknowledged {
			missing = append(missing, f.Name)
			continue
		}
		sources = append(sources, domain.SourceFile{
			SessionID:  m.SessionID,
			FileID:     f.FileID,
			Name:       f.Name,
			Size:       f.Size,
			StorageKey: f.StorageKey,
		})
	}
	if len(missing) > 0 && !m.Salvage {
		return nil, fmt.Errorf("%w: not acknowledged: %s", domain.ErrInvalidManifest, strings.Join(missing, ", "))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no acknowledged files", domain.ErrInvalidManifest)
	}
	return sources, nil
}

// sameSession reports whether replayed jobs were built from sessionID.
func sameSession(jobs []domain.Job, sessionID string) bool {
	for _, job := range jobs {
		for _, src := range job.Sources {
			if src.SessionID != sessionID {
				return false
			}
		}
	}
	return true
}

func buildSpecs(m Manifest, sources []domain.SourceFile, opts domain.JobOptions) []domain.JobSpec {
	base := domain.JobSpec{
		OwnerID:         m.OwnerID,
		Options:         opts,
		ParentJobID:     opts.AttachTo,
		SubmissionToken: m.Token,
	}
	if opts.MergeMode == domain.MergeCombined || len(sources) == 1 {
		spec := base
		spec.Title = titleFor(m.Title, sources[0].Name, false)
		spec.Sources = sources
		return []domain.JobSpec{spec}
	}
	specs := make([]domain.JobSpec, 0, len(sources))
	for _, src := range sources {
		spec := base
		spec.Title = titleFor(m.Title, src.Name, true)
		spec.Sources = []domain.SourceFile{src}
		specs = append(specs, spec)
	}
	return specs
}

func titleFor(title, fileName string, perFile bool) string {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return fileName
	case perFile:
		return fmt.Sprintf("%s: %s", title, fileName)
	}
	return title
}
