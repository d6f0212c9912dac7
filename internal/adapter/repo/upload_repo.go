package repo

import (
	"context"
	"fmt"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/sqlinline"
)

// UploadRepositoryPG tracks acknowledged byte offsets for chunked uploads.
type UploadRepositoryPG struct {
	sql infra.TxExecutor
}

func NewUploadRepository(sql infra.TxExecutor) *UploadRepositoryPG {
	return &UploadRepositoryPG{sql: sql}
}

// CreateSession registers the session and its files in one transaction.
func (r *UploadRepositoryPG) CreateSession(ctx context.Context, ownerID, title string, files []domain.UploadFile) (string, error) {
	var sessionID string
	err := r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		if err := tx.QueryRow(ctx, sqlinline.QInsertUploadSession, ownerID, title).Scan(&sessionID); err != nil {
			return fmt.Errorf("insert upload session: %w", err)
		}
		for _, f := range files {
			if _, err := tx.Exec(ctx, sqlinline.QInsertUploadFile,
				sessionID, f.FileID, ownerID, f.Name, f.ContentType, f.Size); err != nil {
				return fmt.Errorf("insert upload file %s: %w", f.FileID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (r *UploadRepositoryPG) GetFile(ctx context.Context, sessionID, fileID string) (domain.UploadFile, error) {
	f, err := scanUploadFile(r.sql.QueryRow(ctx, sqlinline.QSelectUploadFile, sessionID, fileID))
	if infra.IsNoRows(err) {
		return domain.UploadFile{}, domain.ErrNotFound
	}
	return f, err
}

// AdvanceFile moves the acknowledged offset from expectedReceived to received.
func (r *UploadRepositoryPG) AdvanceFile(ctx context.Context, sessionID, fileID string, expectedReceived, received int64) (domain.UploadFile, error) {
	f, err := scanUploadFile(r.sql.QueryRow(ctx, sqlinline.QAdvanceUploadFile, sessionID, fileID, expectedReceived, received))
	if err == nil {
		return f, nil
	}
	if !infra.IsNoRows(err) {
		return domain.UploadFile{}, err
	}
	current, err := r.GetFile(ctx, sessionID, fileID)
	if err != nil {
		return domain.UploadFile{}, err
	}
	return current, fmt.Errorf("%w: have %d, got chunk at %d", domain.ErrRangeGap, current.ReceivedBytes, expectedReceived)
}

// CompleteFile acknowledges a fully received file.
func (r *UploadRepositoryPG) CompleteFile(ctx context.Context, sessionID, fileID, storageKey string) (domain.UploadFile, error) {
	f, err := scanUploadFile(r.sql.QueryRow(ctx, sqlinline.QCompleteUploadFile, sessionID, fileID, storageKey))
	if err == nil {
		return f, nil
	}
	if !infra.IsNoRows(err) {
		return domain.UploadFile{}, err
	}
	current, err := r.GetFile(ctx, sessionID, fileID)
	if err != nil {
		return domain.UploadFile{}, err
	}
	return current, fmt.Errorf("%w: %d of %d bytes received", domain.ErrRangeGap, current.ReceivedBytes, current.Size)
}

func (r *UploadRepositoryPG) ListFiles(ctx context.Context, sessionID string) ([]domain.UploadFile, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectUploadFiles, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UploadFile
	for rows.Next() {
		f, err := scanUploadFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanUploadFile(row scanner) (domain.UploadFile, error) {
	var f domain.UploadFile
	err := row.Scan(
		&f.SessionID,
		&f.FileID,
		&f.OwnerID,
		&f.Name,
		&f.ContentType,
		&f.Size,
		&f.ReceivedBytes,
		&f.Completed,
		&f.StorageKey,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	return f, err
}

var _ domain.UploadRepository = (*UploadRepositoryPG)(nil)
