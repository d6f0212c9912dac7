package upload

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
)

// SubmitRequest asks the server to turn an uploaded session into jobs.
type SubmitRequest struct {
	SessionID string            `json:"session_id"`
	Title     string            `json:"title"`
	Options   domain.JobOptions `json:"options"`
	Salvage   bool              `json:"salvage"`
	Token     string            `json:"-"`
}

// JobAPI creates jobs on the server. Repeating a request with the same token
// returns the original job ids.
type JobAPI interface {
	CreateJobs(ctx context.Context, req SubmitRequest) ([]string, error)
}

// Client hands finished uploads to the job submitter.
type Client struct {
	jobs     JobAPI
	sessions SessionStore
	logger   zerolog.Logger
}

func NewClient(jobs JobAPI, sessions SessionStore, logger zerolog.Logger) *Client {
	return &Client{jobs: jobs, sessions: sessions, logger: logger}
}

// Submit creates the jobs for sess. The local session is marked submitted and
// then cleared only after the server replied; on error it is left untouched
// so the submission can be repeated with the same token.
func (c *Client) Submit(ctx context.Context, sess domain.UploadSession, opts domain.JobOptions, salvage bool) ([]string, error) {
	if sess.RemoteSessionID == "" {
		return nil, fmt.Errorf("%w: session %s was never registered", domain.ErrInvalidManifest, sess.ID)
	}
	var pending []string
	for _, e := range sess.FileManifest {
		if !e.Status.Acknowledged() {
			pending = append(pending, e.Name)
		}
	}
	if len(pending) == len(sess.FileManifest) {
		return nil, fmt.Errorf("%w: no acknowledged files", domain.ErrInvalidManifest)
	}
	if len(pending) > 0 && !salvage {
		return nil, fmt.Errorf("%w: not yet uploaded: %s", domain.ErrInvalidManifest, strings.Join(pending, ", "))
	}

	ids, err := c.jobs.CreateJobs(ctx, SubmitRequest{
		SessionID: sess.RemoteSessionID,
		Title:     sess.JobTitleDraft,
		Options:   opts,
		Salvage:   salvage,
		Token:     sess.IdempotencyToken,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: submit session %s: %w", sess.ID, err)
	}

	sess.Stage = domain.UploadStageSubmitted
	sess.JobIDs = ids
	if err := c.sessions.Save(ctx, &sess); err != nil {
		c.logger.Error().Err(err).Str("session_id", sess.ID).Msg("upload: mark submitted failed")
	}
	if err := c.sessions.Clear(ctx, sess.ID); err != nil {
		c.logger.Error().Err(err).Str("session_id", sess.ID).Msg("upload: clear session failed")
	}
	c.logger.Info().Str("session_id", sess.ID).Strs("job_ids", ids).Msg("upload: submitted")
	return ids, nil
}
