package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// The ops endpoints authorize through the ops service itself, which treats
// the bearer token as the operator capability.

func (a *App) OpsRecentFixes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	fixes, err := a.Ops.RecentFixes(r.Context(), bearerToken(r), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": fixes})
}

func (a *App) OpsPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := a.Ops.Patterns(r.Context(), bearerToken(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": patterns})
}

func (a *App) OpsActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Ops.ActiveJobs(r.Context(), bearerToken(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": jobs})
}

// OpsSweep runs a sweep synchronously and returns its summary.
func (a *App) OpsSweep(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	summary, err := a.Ops.RunSweep(r.Context(), bearerToken(r), dryRun)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, summary)
}

type promoteRequest struct {
	Strategy string `json:"strategy"`
}

func (a *App) OpsPromotePattern(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if !a.decode(w, r, &req) {
		return
	}
	pattern, err := a.Ops.PromotePattern(r.Context(), bearerToken(r), chi.URLParam(r, "key"), req.Strategy)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, pattern)
}
