// Package ops is the operator view over the watchdog: recent fixes,
// patterns, active jobs and a synchronous "sweep now".
package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
	"coursepipe/internal/poller"
	"coursepipe/internal/watchdog"
)

const (
	DefaultFixLimit = 50
	MaxFixLimit     = 200
	activeJobLimit  = 500
)

// Authorizer checks that a capability token grants operator access.
type Authorizer interface {
	Authorize(ctx context.Context, capability string) (domain.Principal, error)
}

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (domain.Principal, error)
}

// OperatorAuthorizer accepts verified tokens that carry the operator role.
type OperatorAuthorizer struct {
	verifier TokenVerifier
}

func NewOperatorAuthorizer(verifier TokenVerifier) *OperatorAuthorizer {
	return &OperatorAuthorizer{verifier: verifier}
}

func (a *OperatorAuthorizer) Authorize(ctx context.Context, capability string) (domain.Principal, error) {
	p, err := a.verifier.Verify(capability)
	if err != nil {
		return domain.Principal{}, err
	}
	if !p.Has(domain.RoleOperator) {
		return domain.Principal{}, fmt.Errorf("%w: %s is not an operator", domain.ErrForbidden, p.Subject)
	}
	return p, nil
}

// Watchdog is the part of the watchdog the ops view drives.
type Watchdog interface {
	Sweep(ctx context.Context, opts watchdog.SweepOptions) (watchdog.Summary, error)
	PromotionThreshold() int
	Registry() *watchdog.Registry
}

// PatternStatus is a pattern row with its promotion state.
type PatternStatus struct {
	Pattern            domain.Pattern `json:"pattern"`
	PromotionEligible  bool           `json:"promotion_eligible"`
	RegisteredStrategy string         `json:"registered_strategy,omitempty"`
}

// ActiveJob is a non-terminal job with its UI-facing progress.
type ActiveJob struct {
	Job        domain.Job `json:"job"`
	Progress   int        `json:"progress"`
	StageLabel string     `json:"stage_label"`
}

type Deps struct {
	Authorizer Authorizer
	Jobs       domain.JobRepository
	AutoFixes  domain.AutoFixRepository
	Patterns   domain.PatternRepository
	Watchdog   Watchdog
	Logger     zerolog.Logger
}

// Service holds no state of its own; every call re-reads the stores.
type Service struct {
	deps Deps
}

func New(deps Deps) *Service {
	return &Service{deps: deps}
}

// RecentFixes lists audit records, most recent first. limit defaults to 50
// and is capped at 200.
func (s *Service) RecentFixes(ctx context.Context, capability string, limit int) ([]domain.AutoFix, error) {
	if _, err := s.deps.Authorizer.Authorize(ctx, capability); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultFixLimit
	case limit > MaxFixLimit:
		limit = MaxFixLimit
	}
	return s.deps.AutoFixes.ListRecent(ctx, limit)
}

func (s *Service) Patterns(ctx context.Context, capability string) ([]PatternStatus, error) {
	if _, err := s.deps.Authorizer.Authorize(ctx, capability); err != nil {
		return nil, err
	}
	patterns, err := s.deps.Patterns.List(ctx)
	if err != nil {
		return nil, err
	}
	threshold := s.deps.Watchdog.PromotionThreshold()
	registry := s.deps.Watchdog.Registry()
	out := make([]PatternStatus, 0, len(patterns))
	for _, p := range patterns {
		ps := PatternStatus{Pattern: p}
		if strategy, ok := registry.Lookup(p.PatternKey); ok {
			ps.RegisteredStrategy = string(strategy.Kind)
		}
		ps.PromotionEligible = ps.RegisteredStrategy == "" && p.PromotionEligible(threshold)
		out = append(out, ps)
	}
	return out, nil
}

func (s *Service) ActiveJobs(ctx context.Context, capability string) ([]ActiveJob, error) {
	if _, err := s.deps.Authorizer.Authorize(ctx, capability); err != nil {
		return nil, err
	}
	jobs, err := s.deps.Jobs.ListActive(ctx, activeJobLimit)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ActiveJob{
			Job:        j,
			Progress:   poller.Scale(j.Status, j.Progress),
			StageLabel: poller.StageLabel(j.Status, j.Progress),
		})
	}
	return out, nil
}

// RunSweep runs one sweep synchronously on behalf of the operator.
func (s *Service) RunSweep(ctx context.Context, capability string, dryRun bool) (watchdog.Summary, error) {
	p, err := s.deps.Authorizer.Authorize(ctx, capability)
	if err != nil {
		return watchdog.Summary{}, err
	}
	s.deps.Logger.Info().Str("actor", p.Subject).Bool("dry_run", dryRun).Msg("ops: manual sweep requested")
	return s.deps.Watchdog.Sweep(ctx, watchdog.SweepOptions{DryRun: dryRun, Actor: p.Subject})
}

// PromotePattern marks key as auto-fixable with strategy, which must be an
// automated strategy kind.
func (s *Service) PromotePattern(ctx context.Context, capability, key, strategy string) (domain.Pattern, error) {
	p, err := s.deps.Authorizer.Authorize(ctx, capability)
	if err != nil {
		return domain.Pattern{}, err
	}
	key = strings.TrimSpace(key)
	kind := watchdog.StrategyKind(strings.TrimSpace(strategy))
	if key == "" {
		return domain.Pattern{}, fmt.Errorf("%w: pattern key is required", domain.ErrInvalidStrategy)
	}
	if !watchdog.ValidKind(kind) || kind == watchdog.StrategyNone {
		return domain.Pattern{}, fmt.Errorf("%w: %q", domain.ErrInvalidStrategy, strategy)
	}
	promoted, err := s.deps.Patterns.Promote(ctx, key, string(kind))
	if err != nil {
		return domain.Pattern{}, err
	}
	s.deps.Logger.Warn().Str("actor", p.Subject).Str("pattern_key", key).Str("strategy", string(kind)).Msg("ops: pattern promoted")
	return promoted, nil
}
