package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
)

// fail maps err onto a status and error code. Anything unrecognized is
// logged and reported as internal.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("http: request failed")
		a.error(w, status, code, "internal error")
		return
	}
	a.error(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrDuplicateOperation):
		return http.StatusConflict, "duplicate_operation"
	case errors.Is(err, domain.ErrRangeGap):
		return http.StatusConflict, "range_gap"
	case errors.Is(err, domain.ErrSweepInProgress):
		return http.StatusConflict, "sweep_in_progress"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrInvalidManifest):
		return http.StatusBadRequest, "invalid_manifest"
	case errors.Is(err, domain.ErrInvalidStrategy):
		return http.StatusBadRequest, "invalid_strategy"
	case errors.Is(err, domain.ErrInvalidFile):
		return http.StatusBadRequest, "invalid_file"
	case errors.As(err, &verrs):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal"
}
