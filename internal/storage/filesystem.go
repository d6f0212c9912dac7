package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileStore persists uploaded source videos onto the local filesystem. Chunks
// are written in place at their byte offset so an interrupted upload can be
// continued from the last acknowledged position.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidSegment reports whether s can be used as one element of a storage key.
// Separators and dot-only names are refused.
func ValidSegment(s string) bool {
	return segmentPattern.MatchString(s)
}

// UploadKey is the storage key of one file inside an upload session.
func UploadKey(sessionID, fileID string) string {
	return "uploads/" + sessionID + "/" + fileID
}

// WriteAt copies r into key starting at offset and returns the bytes written.
// The file is created on first write.
func (s *FileStore) WriteAt(ctx context.Context, key string, offset int64, r io.Reader) (int64, error) {
	fullPath, err := s.path(ctx, key)
	if err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, errors.New("storage: negative offset")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("storage: ensure directory: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("storage: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("storage: seek: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		return n, fmt.Errorf("storage: write chunk: %w", err)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("storage: sync: %w", err)
	}
	return n, nil
}

// Truncate cuts key back to size, dropping bytes past an acknowledged offset.
func (s *FileStore) Truncate(ctx context.Context, key string, size int64) error {
	fullPath, err := s.path(ctx, key)
	if err != nil {
		return err
	}
	if err := os.Truncate(fullPath, size); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: truncate: %w", err)
	}
	return nil
}

// Size reports the stored length of key, or zero when it does not exist.
func (s *FileStore) Size(ctx context.Context, key string) (int64, error) {
	fullPath, err := s.path(ctx, key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: stat: %w", err)
	}
	return info.Size(), nil
}

func (s *FileStore) path(ctx context.Context, key string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
