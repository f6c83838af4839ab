package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"trackweave/internal/config"
	"trackweave/internal/logging"
	"trackweave/internal/services"
)

// Manager creates and reopens sessions under the configured staging root.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewManager constructs a session manager.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{cfg: cfg, logger: logging.WithComponent(logger, "session")}
}

// Session is process-wide state bound to one output target. The advisory
// lock is held for the session's whole lifetime and released by Close.
type Session struct {
	ID         string
	TargetPath string
	Resumed    bool

	dir        string
	markerPath string
	lock       *flock.Flock
	store      *Store
	logger     *slog.Logger
}

// targetSlug derives the stable staging directory name for a target path.
func targetSlug(targetPath string) string {
	sum := sha256.Sum256([]byte(targetPath))
	return hex.EncodeToString(sum[:])[:16]
}

// Acquire locks the target and prepares its staging directory. With resume
// set, an existing marker's session identity (and any downloaded chunks)
// carry over; otherwise a fresh session id is minted. A target already held
// by another process fails fast with services.ErrLocked.
func (m *Manager) Acquire(targetPath string, resume bool) (*Session, error) {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "session", "acquire", "resolve target path", err)
	}

	dir := filepath.Join(m.cfg.Paths.StagingDir, "sessions", targetSlug(absTarget))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "session", "acquire", "create staging directory", err)
	}

	markerPath := filepath.Join(dir, "session.json")
	lock := flock.New(filepath.Join(dir, "session.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "session", "acquire", "acquire lock", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrLocked, "session", "acquire",
			fmt.Sprintf("target %s is held by another process", absTarget), nil)
	}

	release := func() { _ = lock.Unlock() }

	existing, err := readMarker(markerPath)
	if err != nil {
		release()
		return nil, err
	}

	sess := &Session{
		TargetPath: absTarget,
		dir:        dir,
		markerPath: markerPath,
		lock:       lock,
		logger:     m.logger,
	}
	if resume && existing != nil && existing.TargetPath == absTarget {
		sess.ID = existing.SessionID
		sess.Resumed = true
	} else {
		sess.ID = uuid.NewString()
	}

	marker := &Marker{
		TargetPath: absTarget,
		SessionID:  sess.ID,
		PID:        os.Getpid(),
		StartedAt:  time.Now().UTC(),
	}
	if existing != nil && sess.Resumed {
		marker.VariantIDs = existing.VariantIDs
	}
	if err := writeMarker(markerPath, marker); err != nil {
		release()
		return nil, err
	}

	store, err := OpenStore(filepath.Join(dir, "session.db"))
	if err != nil {
		release()
		return nil, err
	}
	sess.store = store

	m.logger.Info("session acquired",
		slog.String(logging.FieldSessionID, sess.ID),
		slog.String("target", absTarget),
		slog.Bool("resumed", sess.Resumed))
	return sess, nil
}

// Dir returns the session's staging directory.
func (s *Session) Dir() string { return s.dir }

// Store returns the bookkeeping database.
func (s *Session) Store() *Store { return s.store }

// VariantDir returns the chunk directory for one variant.
func (s *Session) VariantDir(variantID string) string {
	return filepath.Join(s.dir, "variants", variantID)
}

// TempDir returns the scratch directory for assembled tracks and mux output.
func (s *Session) TempDir() string {
	return filepath.Join(s.dir, "tmp")
}

// RecordVariants persists the variant ids in progress to the marker so a
// resumed session knows what it was acquiring.
func (s *Session) RecordVariants(ids []string) error {
	marker, err := readMarker(s.markerPath)
	if err != nil {
		return err
	}
	if marker == nil {
		marker = &Marker{TargetPath: s.TargetPath, SessionID: s.ID, PID: os.Getpid(), StartedAt: time.Now().UTC()}
	}
	marker.VariantIDs = append([]string(nil), ids...)
	return writeMarker(s.markerPath, marker)
}

// Close releases the lock. With preserve set (cooperative cancellation with
// resume requested) the staging directory survives for a later resume;
// otherwise the marker, chunks, and bookkeeping database are removed.
func (s *Session) Close(preserve bool) error {
	if s.store != nil {
		_ = s.store.Close()
	}
	var unlockErr error
	if s.lock != nil {
		unlockErr = s.lock.Unlock()
	}
	if preserve {
		s.logger.Info("session preserved for resume",
			slog.String(logging.FieldSessionID, s.ID))
		return unlockErr
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clean session directory: %w", err)
	}
	return unlockErr
}
