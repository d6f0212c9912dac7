package repo

import (
	"context"
	"fmt"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/sqlinline"
)

// SubmissionRepositoryPG implements domain.SubmissionStore. The submissions
// table primary key is the idempotency guard; job rows carry the token so a
// replay can return them.
type SubmissionRepositoryPG struct {
	sql infra.TxExecutor
}

func NewSubmissionRepository(sql infra.TxExecutor) *SubmissionRepositoryPG {
	return &SubmissionRepositoryPG{sql: sql}
}

func (r *SubmissionRepositoryPG) CreateOnce(ctx context.Context, ownerID, token string, specs []domain.JobSpec) ([]domain.Job, bool, error) {
	var (
		jobs    []domain.Job
		created bool
	)
	err := r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var claimed string
		err := tx.QueryRow(ctx, sqlinline.QInsertSubmission, ownerID, token).Scan(&claimed)
		switch {
		case infra.IsNoRows(err):
			rows, err := tx.Query(ctx, sqlinline.QSelectSubmissionJobs, ownerID, token)
			if err != nil {
				return err
			}
			jobs, err = collectJobs(rows)
			return err
		case err != nil:
			return fmt.Errorf("claim submission: %w", err)
		}

		created = true
		jobs = make([]domain.Job, 0, len(specs))
		for _, spec := range specs {
			spec.OwnerID = ownerID
			spec.SubmissionToken = token
			job, err := insertJob(ctx, tx, spec)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return jobs, created, nil
}

var _ domain.SubmissionStore = (*SubmissionRepositoryPG)(nil)
