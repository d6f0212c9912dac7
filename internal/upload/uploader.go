// Package upload moves local source videos to the server in resumable
// chunks and keeps the local session manifest current while doing so.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
)

const (
	DefaultConcurrency = 3
	DefaultChunkSize   = 8 << 20

	maxResyncs = 3
)

// DefaultAllowedTypes are the accepted source extensions.
var DefaultAllowedTypes = []string{".mp4", ".mov", ".mkv", ".webm", ".m4v"}

// File is one local source offered for upload.
type File struct {
	ID          string
	Name        string
	Path        string
	Size        int64
	ContentType string
}

// Options tunes one upload.
type Options struct {
	Title        string
	AllowedTypes []string
	MaxBytes     int64
	ChunkSize    int64
	Concurrency  int
	// OnProgress receives serialized snapshots; Aggregate never decreases
	// between calls.
	OnProgress func(Progress)
}

func (o Options) withDefaults() Options {
	if len(o.AllowedTypes) == 0 {
		o.AllowedTypes = DefaultAllowedTypes
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Uploader starts and resumes uploads.
type Uploader struct {
	transport Transport
	sessions  SessionStore
	open      Opener
	logger    zerolog.Logger
	now       func() time.Time
}

func New(transport Transport, sessions SessionStore, logger zerolog.Logger) *Uploader {
	return &Uploader{
		transport: transport,
		sessions:  sessions,
		open:      openFile,
		logger:    logger,
		now:       time.Now,
	}
}

// WithOpener replaces how local files are opened.
func (u *Uploader) WithOpener(open Opener) *Uploader {
	u.open = open
	return u
}

// Validate splits files into accepted and rejected entries.
func Validate(files []File, opts Options) ([]File, []domain.RejectedFile) {
	opts = opts.withDefaults()
	var accepted []File
	var rejected []domain.RejectedFile
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		switch {
		case !allowed(ext, opts.AllowedTypes):
			rejected = append(rejected, domain.RejectedFile{Name: f.Name, Reason: fmt.Sprintf("type %q not allowed", ext)})
		case f.Size <= 0:
			rejected = append(rejected, domain.RejectedFile{Name: f.Name, Reason: "empty file"})
		case opts.MaxBytes > 0 && f.Size > opts.MaxBytes:
			rejected = append(rejected, domain.RejectedFile{Name: f.Name, Reason: fmt.Sprintf("larger than %d bytes", opts.MaxBytes)})
		default:
			accepted = append(accepted, f)
		}
	}
	return accepted, rejected
}

func allowed(ext string, types []string) bool {
	if ext == "" {
		return false
	}
	for _, t := range types {
		if strings.EqualFold(strings.TrimSpace(t), ext) {
			return true
		}
	}
	return false
}

// Begin validates files, registers the session locally and remotely, and
// starts transferring the accepted files. When some files are rejected the
// returned handle is non-nil and the error is an *domain.InvalidFileError.
func (u *Uploader) Begin(ctx context.Context, files []File, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	accepted, rejected := Validate(files, opts)
	var invalid error
	if len(rejected) > 0 {
		invalid = &domain.InvalidFileError{Rejected: rejected}
	}
	if len(accepted) == 0 {
		if invalid == nil {
			invalid = fmt.Errorf("%w: no files given", domain.ErrInvalidFile)
		}
		return nil, invalid
	}

	sess := &domain.UploadSession{
		ID:               uuid.NewString(),
		JobTitleDraft:    opts.Title,
		StartedAt:        u.now(),
		Stage:            domain.UploadStageUploading,
		IdempotencyToken: uuid.NewString(),
	}
	specs := make([]FileSpec, 0, len(accepted))
	for _, f := range accepted {
		id := f.ID
		if id == "" {
			id = uuid.NewString()
		}
		sess.FileManifest = append(sess.FileManifest, domain.ManifestEntry{
			ID:     id,
			Name:   f.Name,
			Path:   f.Path,
			Size:   f.Size,
			Status: domain.FileStatusPending,
		})
		specs = append(specs, FileSpec{FileID: id, Name: f.Name, Size: f.Size, ContentType: f.ContentType})
	}
	if err := u.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	remoteID, err := u.transport.CreateSession(ctx, opts.Title, specs)
	if err != nil {
		if clearErr := u.sessions.Clear(context.WithoutCancel(ctx), sess.ID); clearErr != nil {
			u.logger.Error().Err(clearErr).Str("session_id", sess.ID).Msg("upload: clear unregistered session failed")
		}
		return nil, fmt.Errorf("upload: create session: %w", err)
	}
	sess.RemoteSessionID = remoteID
	if err := u.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(sess.FileManifest))
	for _, e := range sess.FileManifest {
		targets = append(targets, e.ID)
	}
	u.logger.Info().Str("session_id", sess.ID).Int("files", len(targets)).Int("rejected", len(rejected)).Msg("upload: started")
	return u.start(ctx, *sess, targets, opts), invalid
}

// Retry transfers fileIDs of a stored session again, each from the offset the
// server already acknowledged. With no ids every unacknowledged file is
// retried. Acknowledged files are never sent twice.
func (u *Uploader) Retry(ctx context.Context, sess domain.UploadSession, fileIDs []string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	if sess.RemoteSessionID == "" {
		return nil, fmt.Errorf("upload: session %s was never registered with the server", sess.ID)
	}
	if sess.Stage == domain.UploadStageSubmitted {
		return nil, fmt.Errorf("upload: session %s is already submitted", sess.ID)
	}
	if opts.Title == "" {
		opts.Title = sess.JobTitleDraft
	}
	sess.FileManifest = append([]domain.ManifestEntry(nil), sess.FileManifest...)

	var targets []string
	if len(fileIDs) == 0 {
		for _, e := range sess.FileManifest {
			if !e.Status.Acknowledged() {
				targets = append(targets, e.ID)
			}
		}
	}
	for _, id := range fileIDs {
		e := sess.Entry(id)
		if e == nil {
			return nil, fmt.Errorf("upload: file %s: %w", id, domain.ErrNotFound)
		}
		if !e.Status.Acknowledged() {
			targets = append(targets, id)
		}
	}
	for _, id := range targets {
		e := sess.Entry(id)
		e.Status = domain.FileStatusPending
		e.Error = ""
	}
	if err := u.sessions.Save(ctx, &sess); err != nil {
		return nil, err
	}
	u.logger.Info().Str("session_id", sess.ID).Strs("files", targets).Msg("upload: retrying")
	return u.start(ctx, sess, targets, opts), nil
}

func (u *Uploader) start(ctx context.Context, sess domain.UploadSession, targets []string, opts Options) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		u:         u,
		opts:      opts,
		sessionID: sess.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
		flushTo:   context.WithoutCancel(ctx),
		session:   sess,
		errs:      make(map[string]error),
	}
	go h.run(runCtx, targets)
	return h
}

// AggregateProgress weighs each file's slice as 90% transfer and 10% server
// acknowledgment. It reaches 100 only when every file is acknowledged.
func AggregateProgress(entries []domain.ManifestEntry) int {
	if len(entries) == 0 {
		return 0
	}
	var total int64
	allAcked := true
	for _, e := range entries {
		if e.Size > 0 {
			sent := min(max(e.BytesSent, 0), e.Size)
			total += sent * transferWeight / e.Size
		}
		if e.Status.Acknowledged() {
			total += ackWeight
		} else {
			allAcked = false
		}
	}
	if allAcked {
		return 100
	}
	return min(int(total/int64(len(entries))), 99)
}

const (
	transferWeight = 90
	ackWeight      = 10
)

func filePercent(e domain.ManifestEntry) int {
	if e.Status.Acknowledged() {
		return 100
	}
	if e.Size <= 0 {
		return 0
	}
	return int(min(max(e.BytesSent, 0), e.Size) * 100 / e.Size)
}

var errNoProgress = errors.New("server did not advance the acknowledged offset")
