// Package memory keeps per-session semantic memory of extracted facts.
//
// Each session owns one chromem-go collection. Facts recorded by the engine
// and by capability after-task hooks are embedded on insert, and later tasks
// look up the facts most similar to their own description.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/domain"
)

const collectionPrefix = "session-"

// Metadata keys stored with every document.
const (
	metaSessionID = "session_id"
	metaTaskID    = "task_id"
	metaKind      = "kind"
	metaSubject   = "subject"
	metaSource    = "source"
	metaCreatedAt = "created_at"
)

// Store is a chromem-go backed semantic memory. It is safe for concurrent use.
type Store struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	logger zerolog.Logger

	mu  sync.Mutex
	seq map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedding replaces the default hashing embedding.
func WithEmbedding(fn chromem.EmbeddingFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.embed = fn
		}
	}
}

// New creates an in-memory store.
func New(logger zerolog.Logger, opts ...Option) *Store {
	return newStore(chromem.NewDB(), logger, opts...)
}

// Open creates a store persisted under dir.
func Open(dir string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("open memory db %s: %w", dir, err)
	}
	return newStore(db, logger, opts...), nil
}

func newStore(db *chromem.DB, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		embed:  HashEmbedding(),
		logger: logger,
		seq:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record embeds and stores facts. Facts without an id get one derived from
// their session and insertion order. Empty facts are ignored.
func (s *Store) Record(ctx context.Context, facts []domain.Fact) error {
	bySession := make(map[string][]chromem.Document)
	for _, f := range facts {
		if f.Text == "" || f.SessionID == "" {
			continue
		}
		if f.ID == "" {
			f.ID = s.nextID(f.SessionID)
		}
		created := f.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		bySession[f.SessionID] = append(bySession[f.SessionID], chromem.Document{
			ID:      f.ID,
			Content: f.Text,
			Metadata: map[string]string{
				metaSessionID: f.SessionID,
				metaTaskID:    f.TaskID,
				metaKind:      f.Kind,
				metaSubject:   f.Subject,
				metaSource:    f.Source,
				metaCreatedAt: created.Format(time.RFC3339Nano),
			},
		})
	}

	for sessionID, docs := range bySession {
		col, err := s.db.GetOrCreateCollection(collectionPrefix+sessionID, nil, s.embed)
		if err != nil {
			return fmt.Errorf("memory collection for %s: %w", sessionID, err)
		}
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("record %d facts for %s: %w", len(docs), sessionID, err)
		}
		s.logger.Debug().
			Str("session_id", sessionID).
			Int("facts", len(docs)).
			Int("total", col.Count()).
			Msg("recorded facts")
	}
	return nil
}

// Search returns up to k facts of a session most similar to query, best
// first. Unknown sessions and empty collections return no facts.
func (s *Store) Search(ctx context.Context, sessionID, query string, k int) ([]domain.Fact, error) {
	return s.search(ctx, sessionID, query, k, nil)
}

// SearchKind is Search restricted to one fact kind.
func (s *Store) SearchKind(ctx context.Context, sessionID, kind, query string, k int) ([]domain.Fact, error) {
	return s.search(ctx, sessionID, query, k, map[string]string{metaKind: kind})
}

func (s *Store) search(ctx context.Context, sessionID, query string, k int, where map[string]string) ([]domain.Fact, error) {
	if k <= 0 || query == "" {
		return nil, nil
	}
	col := s.db.GetCollection(collectionPrefix+sessionID, s.embed)
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, where, nil)
	if err != nil {
		// A filter can match fewer documents than k; retry with the widest
		// result set chromem accepts for that filter.
		if where == nil {
			return nil, fmt.Errorf("search memory for %s: %w", sessionID, err)
		}
		return s.searchFiltered(ctx, col, sessionID, query, k, where)
	}
	return toFacts(results), nil
}

func (s *Store) searchFiltered(ctx context.Context, col *chromem.Collection, sessionID, query string, k int, where map[string]string) ([]domain.Fact, error) {
	for n := k - 1; n > 0; n-- {
		results, err := col.Query(ctx, query, n, where, nil)
		if err == nil {
			return toFacts(results), nil
		}
	}
	s.logger.Debug().Str("session_id", sessionID).Interface("where", where).Msg("no facts match filter")
	return nil, nil
}

// Count returns the number of facts recorded for a session.
func (s *Store) Count(sessionID string) int {
	col := s.db.GetCollection(collectionPrefix+sessionID, s.embed)
	if col == nil {
		return 0
	}
	return col.Count()
}

// Forget drops all memory of a session.
func (s *Store) Forget(sessionID string) error {
	s.mu.Lock()
	delete(s.seq, sessionID)
	s.mu.Unlock()

	if s.db.GetCollection(collectionPrefix+sessionID, s.embed) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(collectionPrefix + sessionID); err != nil {
		return fmt.Errorf("forget session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) nextID(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[sessionID]++
	return sessionID + "-fact-" + strconv.Itoa(s.seq[sessionID])
}

func toFacts(results []chromem.Result) []domain.Fact {
	facts := make([]domain.Fact, 0, len(results))
	for _, r := range results {
		created, _ := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt])
		facts = append(facts, domain.Fact{
			ID:         r.ID,
			SessionID:  r.Metadata[metaSessionID],
			TaskID:     r.Metadata[metaTaskID],
			Kind:       r.Metadata[metaKind],
			Subject:    r.Metadata[metaSubject],
			Text:       r.Content,
			Source:     r.Metadata[metaSource],
			CreatedAt:  created,
			Similarity: r.Similarity,
		})
	}
	return facts
}
