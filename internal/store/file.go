package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/flock"
)

// Directory and file permission constants.
const (
	dirPerm  = 0o750
	filePerm = 0o600
)

const lockRetryInterval = 50 * time.Millisecond

// FileStore implements Store on the local filesystem:
//
//	<root>/sessions/<session-id>/session.json
//	<root>/sessions/<session-id>/counters.json
//	<root>/sessions/<session-id>/tasks/<task-id>.json
type FileStore struct {
	root        string
	lockTimeout time.Duration
}

// NewFileStore creates a FileStore rooted at dir. If dir is empty, uses
// ~/.storyloom.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, constants.StoryloomHome)
	}
	return &FileStore{root: dir, lockTimeout: constants.LockTimeout}, nil
}

// Root returns the directory the store writes under.
func (s *FileStore) Root() string {
	return s.root
}

// SaveSession writes the session record and its tasks.
func (s *FileStore) SaveSession(ctx context.Context, session *domain.Session) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("failed to save session: session %w", slerrors.ErrEmptyValue)
	}
	if err := validateID("session", session.ID); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	data, err := sessionRecord(session)
	if err != nil {
		return err
	}

	return s.withLock(ctx, session.ID, func() error {
		if err := atomicWrite(filepath.Join(s.sessionDir(session.ID), constants.SessionFileName), data); err != nil {
			return fmt.Errorf("failed to save session '%s': %w", session.ID, err)
		}
		for _, t := range session.Tasks {
			if err := s.writeTask(session.ID, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSession reads a session, its tasks and its latest counters.
func (s *FileStore) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID("session", sessionID); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if _, err := os.Stat(s.sessionDir(sessionID)); os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load session '%s': %w", sessionID, slerrors.ErrSessionNotFound)
	}

	var session *domain.Session
	err := s.withLock(ctx, sessionID, func() error {
		var err error
		session, err = s.readSession(sessionID)
		if err != nil {
			return err
		}
		session.Tasks, err = s.readTasks(sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns every readable session, newest first. Corrupted
// records are skipped.
func (s *FileStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, constants.SessionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Session{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || validateID("session", entry.Name()) != nil {
			continue
		}
		session, err := s.readSession(entry.Name())
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	sortSessions(sessions)
	return sessions, nil
}

// SaveTaskResult upserts one task.
func (s *FileStore) SaveTaskResult(ctx context.Context, sessionID string, task *domain.Task) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateID("session", sessionID); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("failed to save task: task %w", slerrors.ErrEmptyValue)
	}
	return s.withLock(ctx, sessionID, func() error {
		return s.writeTask(sessionID, task)
	})
}

// LoadTaskResults returns the tasks of a session in creation order.
func (s *FileStore) LoadTaskResults(ctx context.Context, sessionID string) ([]*domain.Task, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID("session", sessionID); err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	var tasks []*domain.Task
	err := s.withLock(ctx, sessionID, func() error {
		var err error
		tasks, err = s.readTasks(sessionID)
		return err
	})
	return tasks, err
}

// LoadFoundationalContext returns completed foundational content of a category.
func (s *FileStore) LoadFoundationalContext(ctx context.Context, sessionID string, category constants.TaskCategory) ([]string, error) {
	tasks, err := s.LoadTaskResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return foundationalContent(tasks, category), nil
}

// UpdateSessionCounters writes the counters file.
func (s *FileStore) UpdateSessionCounters(ctx context.Context, sessionID string, stats domain.SessionStats) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateID("session", sessionID); err != nil {
		return fmt.Errorf("failed to update counters: %w", err)
	}
	data, err := jsonIndent(stats)
	if err != nil {
		return fmt.Errorf("failed to encode counters for '%s': %w", sessionID, err)
	}
	return s.withLock(ctx, sessionID, func() error {
		return atomicWrite(filepath.Join(s.sessionDir(sessionID), constants.CountersFileName), data)
	})
}

// readSession reads session.json and overlays counters.json when present.
func (s *FileStore) readSession(sessionID string) (*domain.Session, error) {
	dir := s.sessionDir(sessionID)
	data, err := os.ReadFile(filepath.Join(dir, constants.SessionFileName)) //#nosec G304 -- path built from validated id
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load session '%s': %w", sessionID, slerrors.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to read session '%s': %w", sessionID, err)
	}
	session, err := decodeSession(sessionID, data)
	if err != nil {
		return nil, err
	}

	counters, err := os.ReadFile(filepath.Join(dir, constants.CountersFileName)) //#nosec G304 -- path built from validated id
	switch {
	case err == nil:
		stats, decodeErr := decodeCounters(sessionID, counters)
		if decodeErr != nil {
			return nil, decodeErr
		}
		session.Stats = stats
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read counters of '%s': %w", sessionID, err)
	}
	return session, nil
}

func (s *FileStore) readTasks(sessionID string) ([]*domain.Task, error) {
	dir := filepath.Join(s.sessionDir(sessionID), constants.TasksDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Task{}, nil
		}
		return nil, fmt.Errorf("failed to list tasks of '%s': %w", sessionID, err)
	}

	tasks := make([]*domain.Task, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name)) //#nosec G304 -- directory entry of a validated path
		if err != nil {
			return nil, fmt.Errorf("failed to read task '%s': %w", name, err)
		}
		task, err := decodeTask(strings.TrimSuffix(name, ".json"), data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *FileStore) writeTask(sessionID string, task *domain.Task) error {
	if err := validateID("task", task.ID); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.sessionDir(sessionID), constants.TasksDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}
	if err := atomicWrite(filepath.Join(dir, task.ID+".json"), data); err != nil {
		return fmt.Errorf("failed to save task '%s': %w", task.ID, err)
	}
	return nil
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, constants.SessionsDir, sessionID)
}

// withLock runs fn while holding the session's exclusive file lock.
func (s *FileStore) withLock(ctx context.Context, sessionID string, fn func() error) error {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("session '%s': failed to create session directory: %w", sessionID, err)
	}

	lock, err := flock.Acquire(ctx, filepath.Join(dir, constants.SessionFileName+".lock"), s.lockTimeout, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("session '%s': %w", sessionID, err)
	}
	defer func() { _ = lock.Release() }()
	return fn()
}

// atomicWrite writes data to a temp file, syncs it and renames it into place.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
