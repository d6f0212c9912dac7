package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"coursepipe/internal/domain"
)

// Progress is one snapshot of an upload.
type Progress struct {
	FileID      string
	FileStatus  domain.FileStatus
	FilePercent int
	Aggregate   int
	Uploaded    int
	Total       int
}

// FileResult is the outcome of one file.
type FileResult struct {
	FileID string
	Name   string
	Status domain.FileStatus
	Err    error
}

// Result is the per-file outcome of an upload run.
type Result struct {
	SessionID string
	Files     []FileResult
	Aggregate int
}

// Failed lists the ids of files whose transfer failed.
func (r Result) Failed() []string {
	var ids []string
	for _, f := range r.Files {
		if f.Status == domain.FileStatusFailed {
			ids = append(ids, f.FileID)
		}
	}
	return ids
}

// Complete reports whether the server acknowledged every file.
func (r Result) Complete() bool {
	for _, f := range r.Files {
		if !f.Status.Acknowledged() {
			return false
		}
	}
	return len(r.Files) > 0
}

// Err joins the per-file errors, or returns nil when there were none.
func (r Result) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errors.Join(errs...)
}

// Handle tracks one running upload.
type Handle struct {
	u         *Uploader
	opts      Options
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	flushTo   context.Context

	mu      sync.Mutex
	session domain.UploadSession
	errs    map[string]error
	result  Result

	flushMu    sync.Mutex
	notifyMu   sync.Mutex
	lastReport int
}

// Cancel aborts every transfer that has not completed. Completed files stay
// on the server.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed when the run has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run has finished and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Session returns a copy of the current manifest state.
func (h *Handle) Session() domain.UploadSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess := h.session
	sess.FileManifest = append([]domain.ManifestEntry(nil), h.session.FileManifest...)
	return sess
}

// Progress returns the current aggregate progress.
func (h *Handle) Progress() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return AggregateProgress(h.session.FileManifest)
}

func (h *Handle) run(ctx context.Context, targets []string) {
	defer close(h.done)
	defer h.cancel()

	// Files fail independently; the group carries no context.
	g := new(errgroup.Group)
	g.SetLimit(h.opts.Concurrency)
	for _, id := range targets {
		g.Go(func() error {
			h.transferOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	h.finish()
}

func (h *Handle) transferOne(ctx context.Context, fileID string) {
	entry, ok := h.entry(fileID)
	if !ok {
		return
	}
	err := ctx.Err()
	if err == nil {
		err = h.transfer(ctx, entry)
	}
	switch {
	case err == nil:
		h.update(fileID, func(e *domain.ManifestEntry) {
			e.Status = domain.FileStatusCompleted
			e.BytesSent = e.Size
			e.Error = ""
		})
	case ctx.Err() != nil:
		h.update(fileID, func(e *domain.ManifestEntry) {
			e.Status = domain.FileStatusCancelled
			e.Error = "cancelled"
		})
	default:
		terr := &domain.TransferError{FileID: fileID, Err: err}
		h.mu.Lock()
		h.errs[fileID] = terr
		h.mu.Unlock()
		h.update(fileID, func(e *domain.ManifestEntry) {
			e.Status = domain.FileStatusFailed
			e.Error = err.Error()
		})
		h.u.logger.Warn().Err(err).Str("session_id", h.sessionID).Str("file_id", fileID).Msg("upload: file failed")
	}
	h.flush()
}

func (h *Handle) transfer(ctx context.Context, e domain.ManifestEntry) error {
	h.update(e.ID, func(m *domain.ManifestEntry) { m.Status = domain.FileStatusTransferring })
	remote := h.remoteID()

	ack, err := h.u.transport.Offset(ctx, remote, e.ID)
	if err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	if ack.Completed {
		return nil
	}
	offset := ack.Received
	h.sent(e.ID, offset)

	if offset < e.Size {
		src, err := h.u.open(e.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", e.Name, err)
		}
		defer src.Close()

		buf := make([]byte, min(h.opts.ChunkSize, e.Size))
		resyncs := 0
		for offset < e.Size {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk := buf[:min(int64(len(buf)), e.Size-offset)]
			n, err := src.ReadAt(chunk, offset)
			if n < len(chunk) {
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return fmt.Errorf("read %s at %d: %w", e.Name, offset, err)
			}
			ack, err := h.u.transport.UploadChunk(ctx, remote, e.ID, ByteRange{Start: offset, End: offset + int64(n)}, chunk)
			if errors.Is(err, domain.ErrRangeGap) && resyncs < maxResyncs {
				resyncs++
				offset = ack.Received
				h.sent(e.ID, offset)
				continue
			}
			if err != nil {
				return err
			}
			if ack.Received <= offset {
				return fmt.Errorf("chunk at %d: %w", offset, errNoProgress)
			}
			offset = ack.Received
			h.sent(e.ID, offset)
		}
	}

	h.update(e.ID, func(m *domain.ManifestEntry) { m.Status = domain.FileStatusTransferred })
	ack, err = h.u.transport.Complete(ctx, remote, e.ID)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if !ack.Completed {
		return fmt.Errorf("complete: server holds %d of %d bytes", ack.Received, e.Size)
	}
	return nil
}

func (h *Handle) entry(fileID string) (domain.ManifestEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.session.Entry(fileID)
	if e == nil {
		return domain.ManifestEntry{}, false
	}
	return *e, true
}

func (h *Handle) remoteID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.RemoteSessionID
}

func (h *Handle) sent(fileID string, offset int64) {
	h.update(fileID, func(e *domain.ManifestEntry) { e.BytesSent = offset })
}

func (h *Handle) update(fileID string, fn func(*domain.ManifestEntry)) {
	h.mu.Lock()
	if e := h.session.Entry(fileID); e != nil {
		fn(e)
	}
	h.session.Recount()
	h.mu.Unlock()
	h.notify(fileID)
}

// notify snapshots and delivers under notifyMu so callbacks arrive in order.
func (h *Handle) notify(fileID string) {
	if h.opts.OnProgress == nil {
		return
	}
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	p := Progress{
		FileID:    fileID,
		Aggregate: AggregateProgress(h.session.FileManifest),
		Uploaded:  h.session.UploadedCount,
		Total:     h.session.TotalCount,
	}
	if e := h.session.Entry(fileID); e != nil {
		p.FileStatus = e.Status
		p.FilePercent = filePercent(*e)
	}
	h.mu.Unlock()

	p.Aggregate = max(p.Aggregate, h.lastReport)
	h.lastReport = p.Aggregate
	h.opts.OnProgress(p)
}

// flush saves the manifest. Snapshots are taken under flushMu so a later
// flush never writes older state.
func (h *Handle) flush() {
	h.flushMu.Lock()
	defer h.flushMu.Unlock()
	sess := h.Session()
	if err := h.u.sessions.Save(h.flushTo, &sess); err != nil {
		h.u.logger.Error().Err(err).Str("session_id", sess.ID).Msg("upload: flush session failed")
	}
}

func (h *Handle) finish() {
	h.flush()
	h.mu.Lock()
	defer h.mu.Unlock()
	res := Result{SessionID: h.session.ID, Aggregate: AggregateProgress(h.session.FileManifest)}
	for _, e := range h.session.FileManifest {
		res.Files = append(res.Files, FileResult{FileID: e.ID, Name: e.Name, Status: e.Status, Err: h.errs[e.ID]})
	}
	h.result = res
	h.u.logger.Info().Str("session_id", res.SessionID).Int("files", len(res.Files)).Int("failed", len(res.Failed())).Msg("upload: finished")
}
