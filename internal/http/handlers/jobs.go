package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"coursepipe/internal/domain"
	"coursepipe/internal/submit"
)

type createJobsRequest struct {
	SessionID string            `json:"session_id"`
	Title     string            `json:"title"`
	Options   domain.JobOptions `json:"options"`
	Salvage   bool              `json:"salvage"`
}

type jobsResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

// CreateJobs turns an uploaded session into jobs. The Idempotency-Key header
// makes the call safe to repeat: a replay returns 200 with the original jobs.
func (a *App) CreateJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	token := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if token == "" {
		a.error(w, http.StatusBadRequest, "invalid_manifest", "Idempotency-Key header is required")
		return
	}
	var req createJobsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		a.error(w, http.StatusBadRequest, "invalid_manifest", "session_id is required")
		return
	}

	files, err := a.Uploads.ListFiles(r.Context(), req.SessionID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(files) == 0 || files[0].OwnerID != userID {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	manifest := submit.Manifest{
		OwnerID:   userID,
		Token:     token,
		SessionID: req.SessionID,
		Title:     req.Title,
		Salvage:   req.Salvage,
		Files:     make([]submit.ManifestFile, 0, len(files)),
	}
	for _, f := range files {
		manifest.Files = append(manifest.Files, submit.ManifestFile{
			FileID:       f.FileID,
			Name:         f.Name,
			Size:         f.Size,
			StorageKey:   f.StorageKey,
			Acknowledged: f.Completed,
		})
	}

	res, err := a.Submitter.Submit(r.Context(), manifest, req.Options)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	a.json(w, code, jobsResponse{Jobs: res.Jobs})
}

// GetJob returns one job. Owners see their own jobs; operators and the
// pipeline see any.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	p := a.principal(r)
	if p.Subject == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.OwnerID != p.Subject && !p.Has(domain.RoleOperator) && !p.Has(domain.RolePipeline) {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.json(w, http.StatusOK, job)
}

// ReportProgress is the pipeline's write path. The report carries the version
// it was computed against; a stale version is a conflict.
func (a *App) ReportProgress(w http.ResponseWriter, r *http.Request) {
	var report domain.ProgressReport
	if !a.decode(w, r, &report) {
		return
	}
	if err := a.validate.Struct(report); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.Get(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	patch, err := job.Advance(report)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	updated, err := a.Jobs.UpdateStatus(r.Context(), jobID, report.Version, patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().
		Str("job_id", jobID).
		Str("status", string(updated.Status)).
		Int("progress", updated.Progress).
		Msg("pipeline: progress reported")
	a.json(w, http.StatusOK, updated)
}
