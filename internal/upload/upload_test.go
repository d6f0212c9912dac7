package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepipe/internal/domain"
)

type fakeFile struct {
	size      int64
	received  int64
	completed bool
	calls     int
}

type fakeServer struct {
	mu        sync.Mutex
	sessions  int
	files     map[string]*fakeFile
	chunks    map[string][]ByteRange
	failAt    map[string]int
	createErr error
	block     bool
	started   chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		files:   make(map[string]*fakeFile),
		chunks:  make(map[string][]ByteRange),
		failAt:  make(map[string]int),
		started: make(chan struct{}),
	}
}

func (s *fakeServer) CreateSession(ctx context.Context, title string, files []FileSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.sessions++
	for _, f := range files {
		s.files[f.FileID] = &fakeFile{size: f.Size}
	}
	return fmt.Sprintf("remote-%d", s.sessions), nil
}

func (s *fakeServer) Offset(ctx context.Context, sessionID, fileID string) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return Ack{}, domain.ErrNotFound
	}
	return Ack{FileID: fileID, Received: f.received, Size: f.size, Completed: f.completed}, nil
}

func (s *fakeServer) UploadChunk(ctx context.Context, sessionID, fileID string, r ByteRange, data []byte) (Ack, error) {
	s.mu.Lock()
	if s.block {
		select {
		case <-s.started:
		default:
			close(s.started)
		}
		s.mu.Unlock()
		<-ctx.Done()
		return Ack{}, ctx.Err()
	}
	defer s.mu.Unlock()
	f := s.files[fileID]
	f.calls++
	s.chunks[fileID] = append(s.chunks[fileID], r)
	if n, ok := s.failAt[fileID]; ok && f.calls == n {
		return Ack{}, errors.New("connection reset by peer")
	}
	ack := Ack{FileID: fileID, Size: f.size}
	if r.Start > f.received {
		ack.Received = f.received
		return ack, domain.ErrRangeGap
	}
	if r.End > f.received {
		f.received = r.End
	}
	ack.Received = f.received
	return ack, nil
}

func (s *fakeServer) Complete(ctx context.Context, sessionID, fileID string) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.files[fileID]
	f.completed = f.received == f.size
	return Ack{FileID: fileID, Received: f.received, Size: f.size, Completed: f.completed}, nil
}

func (s *fakeServer) rangesFor(fileID string) []ByteRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ByteRange(nil), s.chunks[fileID]...)
}

type memSessions struct {
	mu      sync.Mutex
	saved   map[string]domain.UploadSession
	cleared []string
	saveErr error
}

func newMemSessions() *memSessions {
	return &memSessions{saved: make(map[string]domain.UploadSession)}
}

func (m *memSessions) Save(ctx context.Context, sess *domain.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	sess.Recount()
	cp := *sess
	cp.FileManifest = append([]domain.ManifestEntry(nil), sess.FileManifest...)
	m.saved[sess.ID] = cp
	return nil
}

func (m *memSessions) Clear(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, id)
	m.cleared = append(m.cleared, id)
	return nil
}

func (m *memSessions) get(id string) domain.UploadSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[id]
}

type byteSource struct {
	*bytes.Reader
}

func (byteSource) Close() error { return nil }

func memOpener(files map[string][]byte) Opener {
	return func(path string) (Source, error) {
		data, ok := files[path]
		if !ok {
			return nil, fmt.Errorf("open %s: no such file", path)
		}
		return byteSource{bytes.NewReader(data)}, nil
	}
}

func threeFiles() ([]File, Opener) {
	contents := map[string][]byte{
		"/videos/one.mp4":   []byte("0123456789"),
		"/videos/two.mp4":   []byte("abcdefghij"),
		"/videos/three.mp4": []byte("ABCDEFGHIJ"),
	}
	files := []File{
		{ID: "f1", Name: "one.mp4", Path: "/videos/one.mp4", Size: 10},
		{ID: "f2", Name: "two.mp4", Path: "/videos/two.mp4", Size: 10},
		{ID: "f3", Name: "three.mp4", Path: "/videos/three.mp4", Size: 10},
	}
	return files, memOpener(contents)
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(pr Progress) {
	p.mu.Lock()
	p.values = append(p.values, pr.Aggregate)
	p.mu.Unlock()
}

func (p *progressLog) snapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func TestBeginPartialFailureThenRetryFailedFile(t *testing.T) {
	server := newFakeServer()
	server.failAt["f2"] = 2
	sessions := newMemSessions()
	files, opener := threeFiles()
	u := New(server, sessions, zerolog.New(io.Discard)).WithOpener(opener)

	var log progressLog
	opts := Options{Title: "Week 1", ChunkSize: 4, OnProgress: log.record}
	h, err := u.Begin(context.Background(), files, opts)
	require.NoError(t, err)
	res := h.Wait()

	require.Len(t, res.Files, 3)
	assert.Equal(t, domain.FileStatusCompleted, res.Files[0].Status)
	assert.Equal(t, domain.FileStatusFailed, res.Files[1].Status)
	assert.Equal(t, domain.FileStatusCompleted, res.Files[2].Status)
	assert.ErrorIs(t, res.Files[1].Err, domain.ErrTransfer)
	assert.Equal(t, []string{"f2"}, res.Failed())
	assert.False(t, res.Complete())
	assert.Less(t, res.Aggregate, 100)

	values := log.snapshot()
	require.NotEmpty(t, values)
	for i, v := range values {
		assert.Less(t, v, 100, "progress reached 100 with an unacknowledged file")
		if i > 0 {
			assert.GreaterOrEqual(t, v, values[i-1])
		}
	}

	stored := sessions.get(res.SessionID)
	assert.Equal(t, "remote-1", stored.RemoteSessionID)
	assert.Equal(t, 2, stored.UploadedCount)
	assert.Equal(t, 3, stored.TotalCount)
	assert.Equal(t, domain.FileStatusFailed, stored.Entry("f2").Status)
	assert.Equal(t, int64(4), stored.Entry("f2").BytesSent)

	f1Chunks := len(server.rangesFor("f1"))
	delete(server.failAt, "f2")

	retry, err := u.Retry(context.Background(), stored, []string{"f2"}, opts)
	require.NoError(t, err)
	res = retry.Wait()
	assert.True(t, res.Complete())
	assert.Equal(t, 100, res.Aggregate)
	assert.Equal(t, f1Chunks, len(server.rangesFor("f1")), "acknowledged files are not re-sent")
	assert.Equal(t, []ByteRange{{0, 4}, {4, 8}, {4, 8}, {8, 10}}, server.rangesFor("f2"))
	assert.Equal(t, 3, sessions.get(res.SessionID).UploadedCount)
}

func TestBeginRejectsInvalidFilesButUploadsTheRest(t *testing.T) {
	server := newFakeServer()
	sessions := newMemSessions()
	u := New(server, sessions, zerolog.New(io.Discard)).WithOpener(memOpener(map[string][]byte{"/v/a.mp4": []byte("hello")}))

	h, err := u.Begin(context.Background(), []File{
		{Name: "a.mp4", Path: "/v/a.mp4", Size: 5},
		{Name: "notes.txt", Size: 5},
		{Name: "empty.mov", Size: 0},
		{Name: "huge.mkv", Size: 100},
	}, Options{MaxBytes: 50})
	require.NotNil(t, h)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidFile)
	var invalid *domain.InvalidFileError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, invalid.Rejected, 3)

	res := h.Wait()
	require.Len(t, res.Files, 1)
	assert.True(t, res.Complete())
}

func TestBeginAllRejectedReturnsNoHandle(t *testing.T) {
	u := New(newFakeServer(), newMemSessions(), zerolog.New(io.Discard))
	h, err := u.Begin(context.Background(), []File{{Name: "slides.pdf", Size: 3}}, Options{})
	assert.Nil(t, h)
	assert.ErrorIs(t, err, domain.ErrInvalidFile)
}

func TestBeginRefusesWhileAnotherSessionIsOpen(t *testing.T) {
	server := newFakeServer()
	sessions := newMemSessions()
	sessions.saveErr = domain.ErrSessionActive
	files, opener := threeFiles()
	u := New(server, sessions, zerolog.New(io.Discard)).WithOpener(opener)

	h, err := u.Begin(context.Background(), files, Options{})
	assert.Nil(t, h)
	assert.ErrorIs(t, err, domain.ErrSessionActive)
	assert.Equal(t, 0, server.sessions)
}

func TestBeginClearsSessionWhenRegistrationFails(t *testing.T) {
	server := newFakeServer()
	server.createErr = errors.New("503 service unavailable")
	sessions := newMemSessions()
	files, opener := threeFiles()
	u := New(server, sessions, zerolog.New(io.Discard)).WithOpener(opener)

	_, err := u.Begin(context.Background(), files, Options{})
	require.Error(t, err)
	assert.Len(t, sessions.cleared, 1)
	assert.Empty(t, sessions.saved)
}

func TestCancelStopsInFlightTransfers(t *testing.T) {
	server := newFakeServer()
	server.block = true
	sessions := newMemSessions()
	files, opener := threeFiles()
	u := New(server, sessions, zerolog.New(io.Discard)).WithOpener(opener)

	h, err := u.Begin(context.Background(), files, Options{ChunkSize: 4})
	require.NoError(t, err)
	<-server.started
	h.Cancel()
	res := h.Wait()

	for _, f := range res.Files {
		assert.Equal(t, domain.FileStatusCancelled, f.Status, f.FileID)
	}
	assert.Empty(t, res.Failed())
	assert.Equal(t, domain.UploadStageUploading, sessions.get(res.SessionID).Stage)
}

func TestAggregateProgressReservesAcknowledgment(t *testing.T) {
	cases := []struct {
		name    string
		entries []domain.ManifestEntry
		want    int
	}{
		{"nothing", nil, 0},
		{"transferred not acked", []domain.ManifestEntry{
			{Size: 10, BytesSent: 10, Status: domain.FileStatusTransferred},
		}, 90},
		{"half sent", []domain.ManifestEntry{
			{Size: 10, BytesSent: 5, Status: domain.FileStatusTransferring},
		}, 45},
		{"one of two acked", []domain.ManifestEntry{
			{Size: 10, BytesSent: 10, Status: domain.FileStatusCompleted},
			{Size: 10, BytesSent: 10, Status: domain.FileStatusTransferred},
		}, 95},
		{"all acked", []domain.ManifestEntry{
			{Size: 10, BytesSent: 10, Status: domain.FileStatusCompleted},
			{Size: 20, BytesSent: 20, Status: domain.FileStatusCompleted},
		}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AggregateProgress(tc.entries))
		})
	}
}

type fakeJobs struct {
	requests []SubmitRequest
	ids      []string
	err      error
}

func (f *fakeJobs) CreateJobs(ctx context.Context, req SubmitRequest) ([]string, error) {
	f.requests = append(f.requests, req)
	return f.ids, f.err
}

func uploadedSession() domain.UploadSession {
	return domain.UploadSession{
		ID:               "local-1",
		RemoteSessionID:  "remote-1",
		JobTitleDraft:    "Week 1",
		Stage:            domain.UploadStageUploading,
		IdempotencyToken: "tok-1",
		FileManifest: []domain.ManifestEntry{
			{ID: "f1", Name: "one.mp4", Size: 10, BytesSent: 10, Status: domain.FileStatusCompleted},
			{ID: "f2", Name: "two.mp4", Size: 10, BytesSent: 4, Status: domain.FileStatusFailed},
		},
	}
}

func TestClientSubmitMarksAndClearsSession(t *testing.T) {
	jobs := &fakeJobs{ids: []string{"job-1"}}
	sessions := newMemSessions()
	c := NewClient(jobs, sessions, zerolog.New(io.Discard))

	ids, err := c.Submit(context.Background(), uploadedSession(), domain.JobOptions{MergeMode: domain.MergeCombined}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ids)
	require.Len(t, jobs.requests, 1)
	assert.Equal(t, "remote-1", jobs.requests[0].SessionID)
	assert.Equal(t, "tok-1", jobs.requests[0].Token)
	assert.True(t, jobs.requests[0].Salvage)
	assert.Equal(t, []string{"local-1"}, sessions.cleared)
}

func TestClientSubmitKeepsSessionOnError(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("502 bad gateway")}
	sessions := newMemSessions()
	c := NewClient(jobs, sessions, zerolog.New(io.Discard))

	_, err := c.Submit(context.Background(), uploadedSession(), domain.JobOptions{}, true)
	require.Error(t, err)
	assert.Empty(t, sessions.cleared)
	assert.Empty(t, sessions.saved)
}

func TestClientSubmitRequiresAcknowledgedFiles(t *testing.T) {
	jobs := &fakeJobs{ids: []string{"job-1"}}
	c := NewClient(jobs, newMemSessions(), zerolog.New(io.Discard))

	_, err := c.Submit(context.Background(), uploadedSession(), domain.JobOptions{}, false)
	assert.ErrorIs(t, err, domain.ErrInvalidManifest)
	assert.Empty(t, jobs.requests)
}
