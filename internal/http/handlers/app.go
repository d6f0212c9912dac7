package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
	"coursepipe/internal/middleware"
	"coursepipe/internal/ops"
	"coursepipe/internal/storage"
	"coursepipe/internal/submit"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Jobs      domain.JobRepository
	Uploads   domain.UploadRepository
	Files     *storage.FileStore
	Submitter *submit.Submitter
	Ops       *ops.Service
	DB        Pinger
	Logger    zerolog.Logger

	UploadMaxBytes     int64
	UploadAllowedTypes []string

	validate *validator.Validate
}

func NewApp(app App) *App {
	app.validate = validator.New()
	_ = app.validate.RegisterValidation("keysegment", func(fl validator.FieldLevel) bool {
		return storage.ValidSegment(fl.Field().String())
	})
	return &app
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}

func (a *App) currentUserID(r *http.Request) string {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return ""
	}
	return p.Subject
}

func (a *App) principal(r *http.Request) domain.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
