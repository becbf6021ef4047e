package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/flock"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{name: "file", open: func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		}},
		{name: "redis", open: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s := NewRedisStore("redis://" + mr.Addr())
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

var baseTime = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func testSession(id string, created time.Time) *domain.Session {
	return &domain.Session{
		ID:            id,
		Goal:          domain.Goal{Title: "The Cartographer", Mode: constants.ModeNovel, Chapters: 1},
		Status:        constants.SessionStatusRunning,
		PassThreshold: 0.7,
		MaxAttempts:   3,
		CreatedAt:     created,
		UpdatedAt:     created,
		Tasks: []*domain.Task{
			completedTask("brainstorm", constants.CategoryBrainstorm, 0, "seeds of the story"),
			{ID: "core_premise", Category: constants.CategoryCorePremise, Sequence: 1,
				Status: constants.TaskStatusPending, MaxAttempts: 3, IsFoundational: true},
		},
	}
}

func completedTask(id string, category constants.TaskCategory, seq int, content string) *domain.Task {
	result := &domain.TaskResult{Attempt: 1, Content: content, Provider: "scripted"}
	return &domain.Task{
		ID:             id,
		Category:       category,
		Sequence:       seq,
		Status:         constants.TaskStatusCompleted,
		AttemptCount:   1,
		MaxAttempts:    3,
		IsFoundational: true,
		Result:         result,
		Attempts:       []domain.TaskResult{*result},
	}
}

func TestStore_SaveAndLoadSession(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			s := b.open(t)
			ctx := context.Background()

			require.NoError(t, s.SaveSession(ctx, testSession("sess-1", baseTime)))

			got, err := s.LoadSession(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, "The Cartographer", got.Goal.Title)
			assert.Equal(t, constants.SessionStatusRunning, got.Status)
			assert.Equal(t, constants.SessionSchemaVersion, got.SchemaVersion)
			assert.True(t, baseTime.Equal(got.CreatedAt))
			require.Len(t, got.Tasks, 2)
			assert.Equal(t, "brainstorm", got.Tasks[0].ID)
			assert.Equal(t, "seeds of the story", got.Tasks[0].LatestContent())
			assert.Equal(t, "core_premise", got.Tasks[1].ID)
		})
	}
}

func TestStore_LoadMissingSession(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			_, err := b.open(t).LoadSession(context.Background(), "nope")
			require.ErrorIs(t, err, slerrors.ErrSessionNotFound)
		})
	}
}

func TestStore_SaveTaskResultIsUpsert(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			s := b.open(t)
			ctx := context.Background()
			require.NoError(t, s.SaveSession(ctx, testSession("sess-1", baseTime)))

			task := completedTask("core_premise", constants.CategoryCorePremise, 1, "a map that redraws itself")
			require.NoError(t, s.SaveTaskResult(ctx, "sess-1", task))
			require.NoError(t, s.SaveTaskResult(ctx, "sess-1", task))

			tasks, err := s.LoadTaskResults(ctx, "sess-1")
			require.NoError(t, err)
			require.Len(t, tasks, 2)
			assert.Equal(t, constants.TaskStatusCompleted, tasks[1].Status)
			assert.Equal(t, "a map that redraws itself", tasks[1].LatestContent())
		})
	}
}

func TestStore_LoadFoundationalContext(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			s := b.open(t)
			ctx := context.Background()
			require.NoError(t, s.SaveSession(ctx, testSession("sess-1", baseTime)))

			notFoundational := completedTask("chapter-001-content", constants.CategoryChapterContent, 5, "chapter text")
			notFoundational.IsFoundational = false
			require.NoError(t, s.SaveTaskResult(ctx, "sess-1", notFoundational))

			got, err := s.LoadFoundationalContext(ctx, "sess-1", constants.CategoryBrainstorm)
			require.NoError(t, err)
			assert.Equal(t, []string{"seeds of the story"}, got)

			got, err = s.LoadFoundationalContext(ctx, "sess-1", constants.CategoryCorePremise)
			require.NoError(t, err)
			assert.Empty(t, got, "pending foundational tasks have no context yet")

			got, err = s.LoadFoundationalContext(ctx, "sess-1", constants.CategoryChapterContent)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_CountersOverlaySession(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			s := b.open(t)
			ctx := context.Background()
			require.NoError(t, s.SaveSession(ctx, testSession("sess-1", baseTime)))

			stats := domain.SessionStats{
				TotalTasks:     8,
				CompletedTasks: 3,
				ProviderCalls:  5,
				Usage:          domain.TokenUsage{TotalTokens: 1200},
				CostUSD:        0.0024,
			}
			require.NoError(t, s.UpdateSessionCounters(ctx, "sess-1", stats))

			got, err := s.LoadSession(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, stats, got.Stats)
		})
	}
}

func TestStore_ListSessionsNewestFirst(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			s := b.open(t)
			ctx := context.Background()

			list, err := s.ListSessions(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, s.SaveSession(ctx, testSession("older", baseTime)))
			require.NoError(t, s.SaveSession(ctx, testSession("newer", baseTime.Add(time.Hour))))

			list, err = s.ListSessions(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "newer", list[0].ID)
			assert.Equal(t, "older", list[1].ID)
			assert.Empty(t, list[0].Tasks)
		})
	}
}

func TestStore_RejectsUnsafeIDs(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			s := b.open(t)
			ctx := context.Background()

			_, err := s.LoadSession(ctx, "../etc")
			require.ErrorIs(t, err, slerrors.ErrPathTraversal)

			_, err = s.LoadSession(ctx, "")
			require.ErrorIs(t, err, slerrors.ErrEmptyValue)

			err = s.SaveTaskResult(ctx, "sess-1", &domain.Task{ID: "a/b"})
			require.ErrorIs(t, err, slerrors.ErrPathTraversal)

			err = s.SaveSession(ctx, nil)
			require.ErrorIs(t, err, slerrors.ErrEmptyValue)
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(context.Background(), testSession("sess-1", baseTime)))

	sessionDir := filepath.Join(dir, constants.SessionsDir, "sess-1")
	info, err := os.Stat(filepath.Join(sessionDir, constants.SessionFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(sessionDir, constants.TasksDir, "brainstorm.json"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(sessionDir, constants.SessionFileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp files are renamed away")
}

func TestFileStore_CorruptedRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(context.Background(), testSession("sess-1", baseTime)))

	path := filepath.Join(dir, constants.SessionsDir, "sess-1", constants.SessionFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), filePerm))

	_, err = s.LoadSession(context.Background(), "sess-1")
	require.ErrorIs(t, err, slerrors.ErrRecordCorrupted)

	list, err := s.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "corrupted sessions are skipped")
}

func TestFileStore_LockTimeout(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	s.lockTimeout = 100 * time.Millisecond

	dir := s.sessionDir("sess-1")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	held, err := flock.Acquire(context.Background(), filepath.Join(dir, constants.SessionFileName+".lock"), time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	err = s.UpdateSessionCounters(context.Background(), "sess-1", domain.SessionStats{})
	require.ErrorIs(t, err, slerrors.ErrLockTimeout)
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, testSession("sess-1", baseTime)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			task := completedTask("brainstorm", constants.CategoryBrainstorm, 0, "draft")
			task.AttemptCount = n
			assert.NoError(t, s.SaveTaskResult(ctx, "sess-1", task))
		}(i)
	}
	wg.Wait()

	tasks, err := s.LoadTaskResults(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestFileStore_CanceledContext(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.SaveSession(ctx, testSession("sess-1", baseTime)), context.Canceled)
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := NewRedisStore("redis://"+mr.Addr(), WithKeyPrefix("tenant-a"))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.SaveSession(context.Background(), testSession("sess-1", baseTime)))

	assert.True(t, mr.Exists("tenant-a:session:sess-1"))
	assert.True(t, mr.Exists("tenant-a:session:sess-1:tasks"))
	assert.False(t, mr.Exists("storyloom:session:sess-1"))
}

func TestRedisStore_Unreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	s := NewRedisStore("redis://" + addr)
	t.Cleanup(func() { _ = s.Close() })
	require.Error(t, s.Ping(context.Background()))
}
