package ops

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepipe/internal/adapter/memstore"
	"coursepipe/internal/auth"
	"coursepipe/internal/domain"
	"coursepipe/internal/processing"
	"coursepipe/internal/watchdog"
)

type fixture struct {
	svc       *Service
	jobs      *memstore.Jobs
	autofixes *memstore.AutoFixes
	patterns  *memstore.Patterns
	operator  string
	user      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authority, err := auth.NewJWTAuthority("ops-secret", "coursepipe")
	require.NoError(t, err)
	operator, err := authority.Issue("alice", []domain.Role{domain.RoleOperator}, time.Hour)
	require.NoError(t, err)
	user, err := authority.Issue("bob", []domain.Role{domain.RoleUser}, time.Hour)
	require.NoError(t, err)

	f := &fixture{
		jobs:      memstore.NewJobs(),
		autofixes: memstore.NewAutoFixes(),
		patterns:  memstore.NewPatterns(),
		operator:  operator,
		user:      user,
	}
	wd := watchdog.New(watchdog.Deps{
		Jobs:      f.jobs,
		AutoFixes: f.autofixes,
		Patterns:  f.patterns,
		Trigger:   processing.NewMemoryQueue(),
		Logger:    zerolog.New(io.Discard),
	}, watchdog.Config{Thresholds: domain.StalenessRule{domain.JobStatusUploading: 30 * time.Minute, domain.JobStatusRendering: 30 * time.Minute}})
	f.svc = New(Deps{
		Authorizer: NewOperatorAuthorizer(authority),
		Jobs:       f.jobs,
		AutoFixes:  f.autofixes,
		Patterns:   f.patterns,
		Watchdog:   wd,
		Logger:     zerolog.New(io.Discard),
	})
	return f
}

func TestEveryCallRequiresOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecentFixes(ctx, f.user, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Patterns(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.ActiveJobs(ctx, f.user)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.RunSweep(ctx, f.user, true)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.PromotePattern(ctx, f.user, "k", "fail")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRecentFixesCapsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < MaxFixLimit+20; i++ {
		_, err := f.autofixes.Record(ctx, domain.AutoFix{IssueType: fmt.Sprintf("issue_%d", i), DetectedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	fixes, err := f.svc.RecentFixes(ctx, f.operator, 0)
	require.NoError(t, err)
	assert.Len(t, fixes, DefaultFixLimit)

	fixes, err = f.svc.RecentFixes(ctx, f.operator, 1000)
	require.NoError(t, err)
	assert.Len(t, fixes, MaxFixLimit)
	assert.Equal(t, fmt.Sprintf("issue_%d", MaxFixLimit+19), fixes[0].IssueType)
}

func TestRunSweepAndPromote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.jobs.Put(domain.Job{Status: domain.JobStatusUploading, UpdatedAt: time.Now().Add(-time.Hour)})

	for i := 0; i < 3; i++ {
		summary, err := f.svc.RunSweep(ctx, f.operator, false)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.ManualReview)
	}

	fixes, err := f.svc.RecentFixes(ctx, f.operator, 10)
	require.NoError(t, err)
	require.Len(t, fixes, 3)
	assert.Equal(t, "alice", fixes[0].ActorIdentity)

	patterns, err := f.svc.Patterns(ctx, f.operator)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.True(t, patterns[0].PromotionEligible)
	assert.Empty(t, patterns[0].RegisteredStrategy)

	_, err = f.svc.PromotePattern(ctx, f.operator, "stuck_in_uploading", "none")
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)
	_, err = f.svc.PromotePattern(ctx, f.operator, "unknown_key", "fail")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	promoted, err := f.svc.PromotePattern(ctx, f.operator, "stuck_in_uploading", "fail")
	require.NoError(t, err)
	assert.True(t, promoted.AutoFixAvailable)

	summary, err := f.svc.RunSweep(ctx, f.operator, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AutoFixesApplied)

	patterns, err = f.svc.Patterns(ctx, f.operator)
	require.NoError(t, err)
	assert.False(t, patterns[0].PromotionEligible)
}

func TestActiveJobsCarriesScaledProgress(t *testing.T) {
	f := newFixture(t)
	f.jobs.Put(domain.Job{Status: domain.JobStatusRendering, Progress: 50})
	f.jobs.Put(domain.Job{Status: domain.JobStatusCompleted, Progress: 100})

	jobs, err := f.svc.ActiveJobs(context.Background(), f.operator)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 80, jobs[0].Progress)
	assert.Equal(t, "Rendering document (50%)", jobs[0].StageLabel)
}
