// Package sessionstore keeps client-local upload resume state in an embedded
// badger database.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"

	"coursepipe/internal/domain"
)

// DefaultWindow is how long an uploading session may go without a flush
// before it counts as interrupted.
const DefaultWindow = 30 * time.Minute

// Options configures Open.
type Options struct {
	Window time.Duration
	Logger zerolog.Logger
}

// Store holds at most one unsubmitted session at a time. Badger locks its
// directory, so one Store corresponds to one client context.
type Store struct {
	db     *badgerhold.Store
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// Open opens or creates the session database under dir.
func Open(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("sessionstore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: create directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open: %w", err)
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	opts.Logger.Debug().Str("path", dir).Msg("sessionstore: opened")
	return &Store{db: db, window: window, logger: opts.Logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Window returns the interruption window.
func (s *Store) Window() time.Duration {
	return s.window
}

// Save flushes sess, stamping UpdatedAt and recounting the manifest. Saving a
// new uploading session while another unsubmitted one exists fails with
// domain.ErrSessionActive; the existing one must be resumed or discarded
// first.
func (s *Store) Save(ctx context.Context, sess *domain.UploadSession) error {
	if sess == nil || sess.ID == "" {
		return errors.New("sessionstore: session id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Stage == domain.UploadStageUploading {
		var open []domain.UploadSession
		if err := s.db.Find(&open, badgerhold.Where("Stage").Eq(domain.UploadStageUploading)); err != nil {
			return fmt.Errorf("sessionstore: find open sessions: %w", err)
		}
		for _, other := range open {
			if other.ID != sess.ID {
				return fmt.Errorf("%w: %s is %s", domain.ErrSessionActive, other.ID, s.Classify(other))
			}
		}
	}

	now := s.now()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.Stage == "" {
		sess.Stage = domain.UploadStageUploading
	}
	sess.UpdatedAt = now
	sess.Recount()
	if err := s.db.Upsert(sess.ID, *sess); err != nil {
		return fmt.Errorf("sessionstore: save %s: %w", sess.ID, err)
	}
	return nil
}

// Load returns the session with id.
func (s *Store) Load(ctx context.Context, id string) (domain.UploadSession, error) {
	var sess domain.UploadSession
	if err := s.db.Get(id, &sess); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.UploadSession{}, domain.ErrNotFound
		}
		return domain.UploadSession{}, fmt.Errorf("sessionstore: load %s: %w", id, err)
	}
	return sess, nil
}

// Pending returns the unsubmitted session, if any, with its classification.
func (s *Store) Pending(ctx context.Context) (domain.UploadSession, domain.SessionState, error) {
	var open []domain.UploadSession
	if err := s.db.Find(&open, badgerhold.Where("Stage").Eq(domain.UploadStageUploading)); err != nil {
		return domain.UploadSession{}, "", fmt.Errorf("sessionstore: find open sessions: %w", err)
	}
	if len(open) == 0 {
		return domain.UploadSession{}, "", domain.ErrNotFound
	}
	sortNewestFirst(open)
	return open[0], s.Classify(open[0]), nil
}

// List returns every stored session, newest first.
func (s *Store) List(ctx context.Context) ([]domain.UploadSession, error) {
	var all []domain.UploadSession
	if err := s.db.Find(&all, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}
	sortNewestFirst(all)
	return all, nil
}

// Clear removes the session. Clearing an unknown id is not an error.
func (s *Store) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(id, domain.UploadSession{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("sessionstore: clear %s: %w", id, err)
	}
	s.logger.Debug().Str("session_id", id).Msg("sessionstore: cleared")
	return nil
}

// Classify reports whether sess is active, interrupted or submitted now.
func (s *Store) Classify(sess domain.UploadSession) domain.SessionState {
	return sess.Classify(s.now(), s.window)
}

func sortNewestFirst(sessions []domain.UploadSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}
