package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"coursepipe/internal/domain"
)

// Uploads is the in-memory byte ledger for chunked uploads.
type Uploads struct {
	mu    sync.Mutex
	files map[string]domain.UploadFile
}

func NewUploads() *Uploads {
	return &Uploads{files: make(map[string]domain.UploadFile)}
}

func fileKey(sessionID, fileID string) string {
	return sessionID + "/" + fileID
}

func (s *Uploads) CreateSession(ctx context.Context, ownerID, title string, files []domain.UploadFile) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := uuid.NewString()
	now := time.Now()
	for i, f := range files {
		f.SessionID = sessionID
		f.OwnerID = ownerID
		f.ReceivedBytes = 0
		f.Completed = false
		f.CreatedAt = now.Add(time.Duration(i))
		f.UpdatedAt = f.CreatedAt
		s.files[fileKey(sessionID, f.FileID)] = f
	}
	return sessionID, nil
}

func (s *Uploads) GetFile(ctx context.Context, sessionID, fileID string) (domain.UploadFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileKey(sessionID, fileID)]
	if !ok {
		return domain.UploadFile{}, domain.ErrNotFound
	}
	return f, nil
}

func (s *Uploads) AdvanceFile(ctx context.Context, sessionID, fileID string, expectedReceived, received int64) (domain.UploadFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fileKey(sessionID, fileID)
	f, ok := s.files[key]
	if !ok {
		return domain.UploadFile{}, domain.ErrNotFound
	}
	if f.ReceivedBytes != expectedReceived || received > f.Size {
		return f, fmt.Errorf("%w: have %d, got chunk at %d", domain.ErrRangeGap, f.ReceivedBytes, expectedReceived)
	}
	f.ReceivedBytes = received
	f.UpdatedAt = time.Now()
	s.files[key] = f
	return f, nil
}

func (s *Uploads) CompleteFile(ctx context.Context, sessionID, fileID, storageKey string) (domain.UploadFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fileKey(sessionID, fileID)
	f, ok := s.files[key]
	if !ok {
		return domain.UploadFile{}, domain.ErrNotFound
	}
	if f.ReceivedBytes != f.Size {
		return f, fmt.Errorf("%w: %d of %d bytes received", domain.ErrRangeGap, f.ReceivedBytes, f.Size)
	}
	f.Completed = true
	f.StorageKey = storageKey
	f.UpdatedAt = time.Now()
	s.files[key] = f
	return f, nil
}

func (s *Uploads) ListFiles(ctx context.Context, sessionID string) ([]domain.UploadFile, error) {
	s.mu.Lock()
	var out []domain.UploadFile
	for _, f := range s.files {
		if f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ domain.UploadRepository = (*Uploads)(nil)
