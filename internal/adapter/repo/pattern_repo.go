package repo

import (
	"context"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/sqlinline"
)

// PatternRepositoryPG aggregates detections by pattern key.
type PatternRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewPatternRepository(sql infra.SQLExecutor) *PatternRepositoryPG {
	return &PatternRepositoryPG{sql: sql}
}

// Upsert creates the pattern on first sight or increments it atomically.
func (r *PatternRepositoryPG) Upsert(ctx context.Context, key string, event domain.DetectionEvent) (domain.Pattern, error) {
	return scanPattern(r.sql.QueryRow(ctx, sqlinline.QUpsertPattern,
		key, event.IssueType, string(event.Severity), event.DetectedAt))
}

func (r *PatternRepositoryPG) Get(ctx context.Context, key string) (domain.Pattern, error) {
	p, err := scanPattern(r.sql.QueryRow(ctx, sqlinline.QSelectPattern, key))
	if infra.IsNoRows(err) {
		return domain.Pattern{}, domain.ErrNotFound
	}
	return p, err
}

func (r *PatternRepositoryPG) List(ctx context.Context) ([]domain.Pattern, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectPatterns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Promote marks the pattern as auto-fixable with the given strategy.
func (r *PatternRepositoryPG) Promote(ctx context.Context, key, strategy string) (domain.Pattern, error) {
	p, err := scanPattern(r.sql.QueryRow(ctx, sqlinline.QPromotePattern, key, strategy))
	if infra.IsNoRows(err) {
		return domain.Pattern{}, domain.ErrNotFound
	}
	return p, err
}

func scanPattern(row scanner) (domain.Pattern, error) {
	var (
		p        domain.Pattern
		severity string
	)
	if err := row.Scan(
		&p.PatternKey,
		&p.IssueType,
		&severity,
		&p.OccurrenceCount,
		&p.FirstSeen,
		&p.LastSeen,
		&p.AutoFixAvailable,
		&p.AutoFixStrategy,
	); err != nil {
		return domain.Pattern{}, err
	}
	p.Severity = domain.Severity(severity)
	return p, nil
}

var _ domain.PatternRepository = (*PatternRepositoryPG)(nil)
