package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
	"coursepipe/internal/storage"
	"coursepipe/internal/upload"
)

const uploadOffsetHeader = "Upload-Offset"

type createUploadRequest struct {
	Title string           `json:"title" validate:"max=200"`
	Files []uploadFileSpec `json:"files" validate:"required,min=1,max=50,dive"`
}

type uploadFileSpec struct {
	FileID      string `json:"file_id" validate:"required,max=64,keysegment"`
	Name        string `json:"name" validate:"required,max=255"`
	Size        int64  `json:"size" validate:"gt=0"`
	ContentType string `json:"content_type" validate:"max=128"`
}

type createUploadResponse struct {
	SessionID string       `json:"session_id"`
	Files     []upload.Ack `json:"files"`
}

// CreateUpload registers a session and its files in the byte ledger.
func (a *App) CreateUpload(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createUploadRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var rejected []domain.RejectedFile
	seen := make(map[string]struct{}, len(req.Files))
	files := make([]domain.UploadFile, 0, len(req.Files))
	for _, f := range req.Files {
		if reason := a.rejectReason(f); reason != "" {
			rejected = append(rejected, domain.RejectedFile{Name: f.Name, Reason: reason})
			continue
		}
		if _, dup := seen[f.FileID]; dup {
			rejected = append(rejected, domain.RejectedFile{Name: f.Name, Reason: "duplicate file id"})
			continue
		}
		seen[f.FileID] = struct{}{}
		files = append(files, domain.UploadFile{
			FileID:      f.FileID,
			Name:        f.Name,
			ContentType: f.ContentType,
			Size:        f.Size,
		})
	}
	if len(rejected) > 0 {
		a.fail(w, r, &domain.InvalidFileError{Rejected: rejected})
		return
	}

	sessionID, err := a.Uploads.CreateSession(r.Context(), userID, req.Title, files)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	acks := make([]upload.Ack, 0, len(files))
	for _, f := range files {
		acks = append(acks, upload.Ack{FileID: f.FileID, Size: f.Size})
	}
	a.Logger.Info().Str("session_id", sessionID).Str("owner_id", userID).Int("files", len(files)).Msg("uploads: session created")
	a.json(w, http.StatusCreated, createUploadResponse{SessionID: sessionID, Files: acks})
}

func (a *App) rejectReason(f uploadFileSpec) string {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if len(a.UploadAllowedTypes) > 0 && !slices.Contains(a.UploadAllowedTypes, ext) {
		return fmt.Sprintf("unsupported type %q", ext)
	}
	if a.UploadMaxBytes > 0 && f.Size > a.UploadMaxBytes {
		return fmt.Sprintf("exceeds %d bytes", a.UploadMaxBytes)
	}
	return ""
}

// UploadOffset reports how many bytes of a file the server holds.
func (a *App) UploadOffset(w http.ResponseWriter, r *http.Request) {
	f, ok := a.ownedFile(w, r)
	if !ok {
		return
	}
	a.ack(w, http.StatusOK, f)
}

// UploadChunk appends one byte range. A range that ends at or before the
// acknowledged offset is a no-op; one that starts anywhere else is a gap.
func (a *App) UploadChunk(w http.ResponseWriter, r *http.Request) {
	f, ok := a.ownedFile(w, r)
	if !ok {
		return
	}
	rng, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if rng.End > f.Size {
		a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("range ends past file size %d", f.Size))
		return
	}
	if f.Completed || rng.End <= f.ReceivedBytes {
		a.ack(w, http.StatusOK, f)
		return
	}
	if rng.Start != f.ReceivedBytes {
		a.gap(w, f)
		return
	}

	key := storage.UploadKey(f.SessionID, f.FileID)
	n, err := a.Files.WriteAt(r.Context(), key, rng.Start, io.LimitReader(r.Body, rng.Len()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if n != rng.Len() {
		a.dropUnacknowledged(r, key, f.ReceivedBytes)
		a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("body holds %d of %d bytes", n, rng.Len()))
		return
	}
	updated, err := a.Uploads.AdvanceFile(r.Context(), f.SessionID, f.FileID, rng.Start, rng.End)
	if errors.Is(err, domain.ErrRangeGap) {
		a.dropUnacknowledged(r, key, updated.ReceivedBytes)
		a.gap(w, updated)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ack(w, http.StatusOK, updated)
}

// CompleteUpload finalizes a file once every byte has been received.
func (a *App) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	f, ok := a.ownedFile(w, r)
	if !ok {
		return
	}
	if f.Completed {
		a.ack(w, http.StatusOK, f)
		return
	}
	key := storage.UploadKey(f.SessionID, f.FileID)
	if size, err := a.Files.Size(r.Context(), key); err != nil || size < f.ReceivedBytes {
		a.Logger.Error().Err(err).Str("session_id", f.SessionID).Str("file_id", f.FileID).Int64("stored", size).Msg("uploads: stored bytes missing")
		a.error(w, http.StatusInternalServerError, "internal", "stored file is incomplete")
		return
	}
	done, err := a.Uploads.CompleteFile(r.Context(), f.SessionID, f.FileID, key)
	if errors.Is(err, domain.ErrRangeGap) {
		a.gap(w, done)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().Str("session_id", f.SessionID).Str("file_id", f.FileID).Int64("size", f.Size).Msg("uploads: file completed")
	a.ack(w, http.StatusOK, done)
}

// dropUnacknowledged cuts the stored file back to the ledger offset after a
// write the ledger did not accept.
func (a *App) dropUnacknowledged(r *http.Request, key string, received int64) {
	if err := a.Files.Truncate(context.WithoutCancel(r.Context()), key, received); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("key", key).Int64("received", received).Msg("uploads: truncate failed")
	}
}

func (a *App) ownedFile(w http.ResponseWriter, r *http.Request) (domain.UploadFile, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return domain.UploadFile{}, false
	}
	f, err := a.Uploads.GetFile(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "fileID"))
	if err != nil {
		a.fail(w, r, err)
		return domain.UploadFile{}, false
	}
	if f.OwnerID != userID {
		a.fail(w, r, domain.ErrNotFound)
		return domain.UploadFile{}, false
	}
	return f, true
}

func (a *App) ack(w http.ResponseWriter, code int, f domain.UploadFile) {
	w.Header().Set(uploadOffsetHeader, strconv.FormatInt(f.ReceivedBytes, 10))
	a.json(w, code, upload.Ack{
		FileID:     f.FileID,
		Received:   f.ReceivedBytes,
		Size:       f.Size,
		Completed:  f.Completed,
		StorageKey: f.StorageKey,
	})
}

func (a *App) gap(w http.ResponseWriter, f domain.UploadFile) {
	w.Header().Set(uploadOffsetHeader, strconv.FormatInt(f.ReceivedBytes, 10))
	a.error(w, http.StatusConflict, "range_gap", fmt.Sprintf("expected offset %d", f.ReceivedBytes))
}

// parseContentRange reads "bytes first-last/total" with an inclusive last
// byte. The total may be "*".
func parseContentRange(raw string) (upload.ByteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(raw), "bytes ")
	if !ok {
		return upload.ByteRange{}, errors.New("content-range must use bytes")
	}
	span, _, ok := strings.Cut(spec, "/")
	if !ok {
		return upload.ByteRange{}, errors.New("content-range missing total")
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return upload.ByteRange{}, errors.New("content-range missing range")
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return upload.ByteRange{}, fmt.Errorf("content-range start: %w", err)
	}
	end, err := strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err != nil {
		return upload.ByteRange{}, fmt.Errorf("content-range end: %w", err)
	}
	if start < 0 || end < start {
		return upload.ByteRange{}, fmt.Errorf("content-range %d-%d is empty", start, end)
	}
	return upload.ByteRange{Start: start, End: end + 1}, nil
}
