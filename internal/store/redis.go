package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// RedisStore implements Store on Redis. Keys, under a configurable prefix:
//
//	<prefix>:sessions                  sorted set of session ids by creation time
//	<prefix>:session:<id>              session record (JSON)
//	<prefix>:session:<id>:tasks        hash of task id -> task (JSON)
//	<prefix>:session:<id>:counters     counters (JSON)
type RedisStore struct {
	pool   *redis.Pool
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix replaces the default key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore creates a store that dials rawURL (redis://host:port/db).
func NewRedisStore(rawURL string, opts ...RedisOption) *RedisStore {
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, rawURL)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return NewRedisStoreFromPool(pool, opts...)
}

// NewRedisStoreFromPool creates a store on an existing pool.
func NewRedisStoreFromPool(pool *redis.Pool, opts ...RedisOption) *RedisStore {
	s := &RedisStore{pool: pool, prefix: constants.DefaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases pooled connections.
func (s *RedisStore) Close() error {
	return s.pool.Close()
}

// SaveSession writes the session record and its tasks in one transaction.
func (s *RedisStore) SaveSession(ctx context.Context, session *domain.Session) error {
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

	tasks := make([]any, 0, 1+2*len(session.Tasks))
	tasks = append(tasks, s.tasksKey(session.ID))
	for _, t := range session.Tasks {
		if err := validateID("task", t.ID); err != nil {
			return fmt.Errorf("failed to save task: %w", err)
		}
		encoded, err := encodeTask(t)
		if err != nil {
			return err
		}
		tasks = append(tasks, t.ID, encoded)
	}

	return s.do(ctx, func(conn redis.Conn) error {
		_ = conn.Send("MULTI")
		_ = conn.Send("SET", s.sessionKey(session.ID), data)
		_ = conn.Send("ZADD", s.indexKey(), session.CreatedAt.UnixNano(), session.ID)
		if len(tasks) > 1 {
			_ = conn.Send("HSET", tasks...)
		}
		if _, err := redis.DoContext(conn, ctx, "EXEC"); err != nil {
			return fmt.Errorf("failed to save session '%s': %w", session.ID, err)
		}
		return nil
	})
}

// LoadSession reads a session with its tasks and counters.
func (s *RedisStore) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := validateID("session", sessionID); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session *domain.Session
	err := s.do(ctx, func(conn redis.Conn) error {
		var err error
		session, err = s.readSession(ctx, conn, sessionID)
		if err != nil {
			return err
		}
		session.Tasks, err = s.readTasks(ctx, conn, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns every readable session, newest first.
func (s *RedisStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	sessions := []*domain.Session{}
	err := s.do(ctx, func(conn redis.Conn) error {
		ids, err := redis.Strings(redis.DoContext(conn, ctx, "ZREVRANGE", s.indexKey(), 0, -1))
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, id := range ids {
			session, err := s.readSession(ctx, conn, id)
			if err != nil {
				continue
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSessions(sessions)
	return sessions, nil
}

// SaveTaskResult upserts one task into the session's task hash.
func (s *RedisStore) SaveTaskResult(ctx context.Context, sessionID string, task *domain.Task) error {
	if err := validateID("session", sessionID); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("failed to save task: task %w", slerrors.ErrEmptyValue)
	}
	if err := validateID("task", task.ID); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	return s.do(ctx, func(conn redis.Conn) error {
		if _, err := redis.DoContext(conn, ctx, "HSET", s.tasksKey(sessionID), task.ID, data); err != nil {
			return fmt.Errorf("failed to save task '%s': %w", task.ID, err)
		}
		return nil
	})
}

// LoadTaskResults returns the tasks of a session in creation order.
func (s *RedisStore) LoadTaskResults(ctx context.Context, sessionID string) ([]*domain.Task, error) {
	if err := validateID("session", sessionID); err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	var tasks []*domain.Task
	err := s.do(ctx, func(conn redis.Conn) error {
		var err error
		tasks, err = s.readTasks(ctx, conn, sessionID)
		return err
	})
	return tasks, err
}

// LoadFoundationalContext returns completed foundational content of a category.
func (s *RedisStore) LoadFoundationalContext(ctx context.Context, sessionID string, category constants.TaskCategory) ([]string, error) {
	tasks, err := s.LoadTaskResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return foundationalContent(tasks, category), nil
}

// UpdateSessionCounters stores the latest counters.
func (s *RedisStore) UpdateSessionCounters(ctx context.Context, sessionID string, stats domain.SessionStats) error {
	if err := validateID("session", sessionID); err != nil {
		return fmt.Errorf("failed to update counters: %w", err)
	}
	data, err := jsonIndent(stats)
	if err != nil {
		return fmt.Errorf("failed to encode counters for '%s': %w", sessionID, err)
	}
	return s.do(ctx, func(conn redis.Conn) error {
		if _, err := redis.DoContext(conn, ctx, "SET", s.countersKey(sessionID), data); err != nil {
			return fmt.Errorf("failed to update counters of '%s': %w", sessionID, err)
		}
		return nil
	})
}

func (s *RedisStore) readSession(ctx context.Context, conn redis.Conn, sessionID string) (*domain.Session, error) {
	data, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", s.sessionKey(sessionID)))
	if errors.Is(err, redis.ErrNil) {
		return nil, fmt.Errorf("failed to load session '%s': %w", sessionID, slerrors.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session '%s': %w", sessionID, err)
	}
	session, err := decodeSession(sessionID, data)
	if err != nil {
		return nil, err
	}

	counters, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", s.countersKey(sessionID)))
	switch {
	case err == nil:
		stats, decodeErr := decodeCounters(sessionID, counters)
		if decodeErr != nil {
			return nil, decodeErr
		}
		session.Stats = stats
	case !errors.Is(err, redis.ErrNil):
		return nil, fmt.Errorf("failed to read counters of '%s': %w", sessionID, err)
	}
	return session, nil
}

func (s *RedisStore) readTasks(ctx context.Context, conn redis.Conn, sessionID string) ([]*domain.Task, error) {
	raw, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", s.tasksKey(sessionID)))
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks of '%s': %w", sessionID, err)
	}
	tasks := make([]*domain.Task, 0, len(raw))
	for id, data := range raw {
		task, err := decodeTask(id, []byte(data))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *RedisStore) do(ctx context.Context, fn func(redis.Conn) error) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return fn(conn)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":sessions"
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + ":session:" + id
}

func (s *RedisStore) tasksKey(id string) string {
	return s.sessionKey(id) + ":tasks"
}

func (s *RedisStore) countersKey(id string) string {
	return s.sessionKey(id) + ":counters"
}
