package upload

import (
	"context"
	"io"
	"os"

	"coursepipe/internal/domain"
)

// ByteRange is the half-open interval [Start, End) of a file.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// Ack is the server's view of one file after a transport call. Received is
// the acknowledged offset; the next chunk must start there.
type Ack struct {
	FileID     string `json:"file_id"`
	Received   int64  `json:"received_bytes"`
	Size       int64  `json:"size"`
	Completed  bool   `json:"completed"`
	StorageKey string `json:"storage_key,omitempty"`
}

// FileSpec announces one file when the remote session is created.
type FileSpec struct {
	FileID      string `json:"file_id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// Transport moves bytes to durable storage. Re-sending an acknowledged range
// is a no-op. A chunk that does not start at the acknowledged offset fails
// with domain.ErrRangeGap and an Ack carrying the offset to continue from.
type Transport interface {
	CreateSession(ctx context.Context, title string, files []FileSpec) (string, error)
	Offset(ctx context.Context, sessionID, fileID string) (Ack, error)
	UploadChunk(ctx context.Context, sessionID, fileID string, r ByteRange, data []byte) (Ack, error)
	Complete(ctx context.Context, sessionID, fileID string) (Ack, error)
}

// SessionStore persists the local resume state.
type SessionStore interface {
	Save(ctx context.Context, sess *domain.UploadSession) error
	Clear(ctx context.Context, id string) error
}

// Source is an opened local file.
type Source interface {
	io.ReaderAt
	io.Closer
}

// Opener opens the local file at path for reading.
type Opener func(path string) (Source, error)

func openFile(path string) (Source, error) {
	return os.Open(path)
}
