// Package store persists sessions and task results.
//
// Two backends implement Store: FileStore keeps one directory per session
// under the storyloom home with atomic writes and flock-based locking, and
// RedisStore keeps the same records in Redis. Task results are upserted by
// task id, so a duplicate save is harmless.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// Store is the persistence contract consumed by the engine and the registry.
type Store interface {
	// SaveSession writes the session record and upserts every task it holds.
	SaveSession(ctx context.Context, session *domain.Session) error

	// LoadSession reads a session with its tasks (creation order) and latest counters.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns every session without tasks, newest first.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// SaveTaskResult upserts a task keyed by its id.
	SaveTaskResult(ctx context.Context, sessionID string, task *domain.Task) error

	// LoadTaskResults returns every task of a session in creation order.
	LoadTaskResults(ctx context.Context, sessionID string) ([]*domain.Task, error)

	// LoadFoundationalContext returns the content of completed foundational
	// tasks of a category, in creation order.
	LoadFoundationalContext(ctx context.Context, sessionID string, category constants.TaskCategory) ([]string, error)

	// UpdateSessionCounters records the latest aggregate counters.
	UpdateSessionCounters(ctx context.Context, sessionID string, stats domain.SessionStats) error
}

// validIDRegex matches session and task ids safe to use as path or key components.
var validIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// validateID rejects empty ids and ids that could escape their directory.
func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id %w", kind, slerrors.ErrEmptyValue)
	}
	if strings.Contains(id, "..") || !validIDRegex.MatchString(id) {
		return fmt.Errorf("%s id %q: %w", kind, id, slerrors.ErrPathTraversal)
	}
	return nil
}

// sessionRecord is the stored form of a session; tasks live in their own records.
func sessionRecord(s *domain.Session) ([]byte, error) {
	rec := *s
	rec.Tasks = nil
	if rec.SchemaVersion == "" {
		rec.SchemaVersion = constants.SessionSchemaVersion
	}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

func decodeSession(id string, data []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session %s: %w: %w", id, slerrors.ErrRecordCorrupted, err)
	}
	return &s, nil
}

func encodeTask(t *domain.Task) ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return data, nil
}

func decodeTask(id string, data []byte) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("task %s: %w: %w", id, slerrors.ErrRecordCorrupted, err)
	}
	return &t, nil
}

func decodeCounters(id string, data []byte) (domain.SessionStats, error) {
	var stats domain.SessionStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return stats, fmt.Errorf("counters %s: %w: %w", id, slerrors.ErrRecordCorrupted, err)
	}
	return stats, nil
}

// sortTasks orders tasks by creation sequence, then id.
func sortTasks(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Sequence != tasks[j].Sequence {
			return tasks[i].Sequence < tasks[j].Sequence
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// sortSessions orders sessions newest first.
func sortSessions(sessions []*domain.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// foundationalContent extracts the stored context for one category.
func foundationalContent(tasks []*domain.Task, category constants.TaskCategory) []string {
	sortTasks(tasks)
	var out []string
	for _, t := range tasks {
		if !t.IsFoundational || t.Category != category || t.Status != constants.TaskStatusCompleted {
			continue
		}
		if content := t.LatestContent(); content != "" {
			out = append(out, content)
		}
	}
	return out
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func jsonIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
