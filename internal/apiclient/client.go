// Package apiclient talks to the coursepipe HTTP API on behalf of the CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/upload"
)

// ErrMissingBaseURL indicates that the client was configured without a server.
var ErrMissingBaseURL = errors.New("apiclient: base url is required")

// UploadOffsetHeader carries the acknowledged byte offset of a file.
const UploadOffsetHeader = "Upload-Offset"

// Options configures the API client.
type Options struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client implements upload.Transport, upload.JobAPI and poller.JobSource over
// HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *infra.Logger
}

// APIError is a non-2xx reply. It unwraps to the domain error named by Code
// so callers can keep using errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("apiclient: status %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("apiclient: %s (%s)", e.Message, e.Code)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_found":
		return domain.ErrNotFound
	case "unauthorized":
		return domain.ErrUnauthorized
	case "forbidden":
		return domain.ErrForbidden
	case "conflict":
		return domain.ErrConflict
	case "duplicate_operation":
		return domain.ErrDuplicateOperation
	case "range_gap":
		return domain.ErrRangeGap
	case "invalid_manifest":
		return domain.ErrInvalidManifest
	case "invalid_file":
		return domain.ErrInvalidFile
	case "invalid_transition":
		return domain.ErrInvalidTransition
	case "invalid_strategy":
		return domain.ErrInvalidStrategy
	case "sweep_in_progress":
		return domain.ErrSweepInProgress
	}
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	}
	return nil
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type createSessionRequest struct {
	Title string            `json:"title"`
	Files []upload.FileSpec `json:"files"`
}

type createSessionResponse struct {
	SessionID string       `json:"session_id"`
	Files     []upload.Ack `json:"files"`
}

type jobsResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

// New constructs a client with defaults for anything left unset.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreateSession registers a new upload session and returns its server id.
func (c *Client) CreateSession(ctx context.Context, title string, files []upload.FileSpec) (string, error) {
	var out createSessionResponse
	body, err := json.Marshal(createSessionRequest{Title: title, Files: files})
	if err != nil {
		return "", fmt.Errorf("apiclient: encode request: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, "/v1/uploads", bytes.NewReader(body), jsonHeaders(nil), &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("apiclient: empty session id")
	}
	return out.SessionID, nil
}

// Offset returns the acknowledged state of one file.
func (c *Client) Offset(ctx context.Context, sessionID, fileID string) (upload.Ack, error) {
	var ack upload.Ack
	_, err := c.do(ctx, http.MethodGet, filePath(sessionID, fileID), nil, nil, &ack)
	return ack, err
}

// UploadChunk sends data for r. On a range gap the returned Ack carries the
// offset the server expects next.
func (c *Client) UploadChunk(ctx context.Context, sessionID, fileID string, r upload.ByteRange, data []byte) (upload.Ack, error) {
	if int64(len(data)) != r.Len() {
		return upload.Ack{}, fmt.Errorf("apiclient: chunk holds %d bytes for a %d byte range", len(data), r.Len())
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/octet-stream")
	headers.Set("Content-Range", ContentRange(r))

	var ack upload.Ack
	resp, err := c.do(ctx, http.MethodPut, filePath(sessionID, fileID), bytes.NewReader(data), headers, &ack)
	if err != nil {
		if errors.Is(err, domain.ErrRangeGap) && resp != nil {
			if offset, ok := parseOffset(resp.Header.Get(UploadOffsetHeader)); ok {
				return upload.Ack{FileID: fileID, Received: offset}, err
			}
		}
		return upload.Ack{}, err
	}
	return ack, nil
}

// Complete finalizes a fully received file.
func (c *Client) Complete(ctx context.Context, sessionID, fileID string) (upload.Ack, error) {
	var ack upload.Ack
	_, err := c.do(ctx, http.MethodPost, filePath(sessionID, fileID)+"/complete", nil, nil, &ack)
	return ack, err
}

// CreateJobs submits an uploaded session. The idempotency token travels in
// the Idempotency-Key header.
func (c *Client) CreateJobs(ctx context.Context, req upload.SubmitRequest) ([]string, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, errors.New("apiclient: idempotency token is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: encode request: %w", err)
	}
	headers := jsonHeaders(nil)
	headers.Set("Idempotency-Key", req.Token)

	var out jobsResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/jobs", bytes.NewReader(body), headers, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Jobs))
	for _, j := range out.Jobs {
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// Get reads one job.
func (c *Client) Get(ctx context.Context, jobID string) (domain.Job, error) {
	var job domain.Job
	_, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, nil, &job)
	return job, err
}

// ReportProgress sends a pipeline progress report. It needs a token with the
// pipeline role.
func (c *Client) ReportProgress(ctx context.Context, jobID string, report domain.ProgressReport) (domain.Job, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return domain.Job{}, fmt.Errorf("apiclient: encode request: %w", err)
	}
	var job domain.Job
	_, err = c.do(ctx, http.MethodPut, "/v1/pipeline/jobs/"+url.PathEscape(jobID), bytes.NewReader(body), jsonHeaders(nil), &job)
	return job, err
}

// do sends one request and decodes a 2xx body into out. The response is
// returned even on API errors so callers can read headers.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header, out any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("apiclient: read response: %w", err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("apiclient: request")

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Code != "" {
			apiErr.Code = detail.Error.Code
			apiErr.Message = detail.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return resp, apiErr
	}
	if out == nil || len(raw) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp, fmt.Errorf("apiclient: decode response: %w", err)
	}
	return resp, nil
}

// ContentRange formats r as an HTTP Content-Range value with an unknown
// total. Ranges are inclusive on the wire.
func ContentRange(r upload.ByteRange) string {
	return fmt.Sprintf("bytes %d-%d/*", r.Start, r.End-1)
}

func filePath(sessionID, fileID string) string {
	return "/v1/uploads/" + url.PathEscape(sessionID) + "/files/" + url.PathEscape(fileID)
}

func jsonHeaders(h http.Header) http.Header {
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return h
}

func parseOffset(raw string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

var (
	_ upload.Transport = (*Client)(nil)
	_ upload.JobAPI    = (*Client)(nil)
)
