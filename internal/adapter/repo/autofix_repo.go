package repo

import (
	"context"
	"fmt"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/sqlinline"
)

// AutoFixRepositoryPG appends watchdog audit records.
type AutoFixRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewAutoFixRepository(sql infra.SQLExecutor) *AutoFixRepositoryPG {
	return &AutoFixRepositoryPG{sql: sql}
}

func (r *AutoFixRepositoryPG) Record(ctx context.Context, fix domain.AutoFix) (domain.AutoFix, error) {
	err := r.sql.QueryRow(ctx, sqlinline.QInsertAutoFix,
		fix.IssueType,
		fix.IssueDescription,
		string(fix.Severity),
		fix.AutoFixed,
		fix.FixApplied,
		fix.PatternKey,
		fix.JobID,
		fix.ActorIdentity,
		fix.DetectedAt,
		fix.FixedAt,
	).Scan(&fix.ID)
	if err != nil {
		return domain.AutoFix{}, fmt.Errorf("record autofix: %w", err)
	}
	return fix, nil
}

func (r *AutoFixRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.AutoFix, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectRecentAutoFixes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AutoFix
	for rows.Next() {
		var (
			fix      domain.AutoFix
			severity string
		)
		if err := rows.Scan(
			&fix.ID,
			&fix.IssueType,
			&fix.IssueDescription,
			&severity,
			&fix.AutoFixed,
			&fix.FixApplied,
			&fix.PatternKey,
			&fix.JobID,
			&fix.ActorIdentity,
			&fix.DetectedAt,
			&fix.FixedAt,
		); err != nil {
			return nil, err
		}
		fix.Severity = domain.Severity(severity)
		out = append(out, fix)
	}
	return out, rows.Err()
}

var _ domain.AutoFixRepository = (*AutoFixRepositoryPG)(nil)
