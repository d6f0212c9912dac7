package memstore

import (
	"context"
	"sort"
	"sync"

	"coursepipe/internal/domain"
)

// AutoFixes is an append-only in-memory audit log.
type AutoFixes struct {
	mu     sync.Mutex
	nextID int64
	fixes  []domain.AutoFix
}

func NewAutoFixes() *AutoFixes {
	return &AutoFixes{}
}

func (s *AutoFixes) Record(ctx context.Context, fix domain.AutoFix) (domain.AutoFix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	fix.ID = s.nextID
	s.fixes = append(s.fixes, fix)
	return fix, nil
}

func (s *AutoFixes) ListRecent(ctx context.Context, limit int) ([]domain.AutoFix, error) {
	s.mu.Lock()
	out := append([]domain.AutoFix(nil), s.fixes...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return truncate(out, limit), nil
}

// Patterns aggregates detections per key.
type Patterns struct {
	mu       sync.Mutex
	patterns map[string]domain.Pattern
}

func NewPatterns() *Patterns {
	return &Patterns{patterns: make(map[string]domain.Pattern)}
}

func (s *Patterns) Upsert(ctx context.Context, key string, event domain.DetectionEvent) (domain.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[key]
	if !ok {
		p = domain.Pattern{PatternKey: key, FirstSeen: event.DetectedAt, LastSeen: event.DetectedAt}
	}
	p.IssueType = event.IssueType
	p.Severity = event.Severity
	p.OccurrenceCount++
	if event.DetectedAt.After(p.LastSeen) {
		p.LastSeen = event.DetectedAt
	}
	s.patterns[key] = p
	return p, nil
}

func (s *Patterns) Get(ctx context.Context, key string) (domain.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[key]
	if !ok {
		return domain.Pattern{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Patterns) List(ctx context.Context) ([]domain.Pattern, error) {
	s.mu.Lock()
	out := make([]domain.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount == out[j].OccurrenceCount {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].OccurrenceCount > out[j].OccurrenceCount
	})
	return out, nil
}

func (s *Patterns) Promote(ctx context.Context, key, strategy string) (domain.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[key]
	if !ok {
		return domain.Pattern{}, domain.ErrNotFound
	}
	p.AutoFixAvailable = true
	p.AutoFixStrategy = strategy
	s.patterns[key] = p
	return p, nil
}

var (
	_ domain.AutoFixRepository = (*AutoFixes)(nil)
	_ domain.PatternRepository = (*Patterns)(nil)
)
