package memory

import (
	"context"
	"fmt"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/planloop-dev/planloop/sessionloop"
)

const sessionsCollection = "sessions"

// DefaultTopK is how many prior sessions Search returns at most.
const DefaultTopK = 3

// Store indexes completed sessions in an embedded chromem-go vector
// database and surfaces them as memory records for new queries. It
// implements sessionloop.MemorySearcher.
type Store struct {
	db            *chromem.DB
	embed         chromem.EmbeddingFunc
	logger        *zap.Logger
	topK          int
	minSimilarity float32
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEmbeddingFunc replaces the default embedding function. Tests use
// this to avoid network calls.
func WithEmbeddingFunc(fn chromem.EmbeddingFunc) StoreOption {
	return func(s *Store) { s.embed = fn }
}

// WithTopK bounds how many records Search returns.
func WithTopK(k int) StoreOption {
	return func(s *Store) { s.topK = k }
}

// WithMinSimilarity drops search hits below the given cosine similarity.
func WithMinSimilarity(min float32) StoreOption {
	return func(s *Store) { s.minSimilarity = min }
}

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore opens (or creates) a persistent store at path.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating memory directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}

	s := &Store{
		db:     db,
		embed:  chromem.NewEmbeddingFuncDefault(),
		logger: zap.NewNop(),
		topK:   DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Create the collection eagerly so a fresh store is queryable.
	if _, err := db.GetOrCreateCollection(sessionsCollection, nil, s.embed); err != nil {
		return nil, fmt.Errorf("creating sessions collection: %w", err)
	}
	return s, nil
}

// IndexSession records a finished session so later queries can find it.
// Sessions that never reached a complete answer are skipped.
func (s *Store) IndexSession(ctx context.Context, session *sessionloop.Session) error {
	if session == nil || !session.Complete() {
		return nil
	}

	coll, err := s.db.GetOrCreateCollection(sessionsCollection, nil, s.embed)
	if err != nil {
		return fmt.Errorf("opening sessions collection: %w", err)
	}

	doc := chromem.Document{
		ID:      session.ID,
		Content: session.OriginalQuery,
		Metadata: map[string]string{
			"query":            session.OriginalQuery,
			"solution_summary": session.State.FinalAnswer,
			"confidence":       strconv.FormatFloat(session.State.Confidence, 'f', 2, 64),
			"file":             session.ID + ".json",
		},
	}
	if err := coll.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("indexing session %s: %w", session.ID, err)
	}

	s.logger.Debug("indexed session",
		zap.String("session_id", session.ID),
		zap.Int("collection_size", coll.Count()),
	)
	return nil
}

// Search implements sessionloop.MemorySearcher. It returns up to topK prior
// sessions similar to the query, most similar first. An empty store returns
// no records and no error.
func (s *Store) Search(ctx context.Context, query string) ([]sessionloop.MemoryRecord, error) {
	coll := s.db.GetCollection(sessionsCollection, s.embed)
	if coll == nil {
		return nil, nil
	}

	// chromem requires nResults <= document count.
	k := s.topK
	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := coll.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory query: %w", err)
	}

	var records []sessionloop.MemoryRecord
	for _, r := range results {
		if r.Similarity < s.minSimilarity {
			continue
		}
		records = append(records, sessionloop.MemoryRecord{
			File:              r.Metadata["file"],
			Query:             r.Metadata["query"],
			ResultRequirement: "a direct answer to the query",
			SolutionSummary:   r.Metadata["solution_summary"],
		})
	}

	s.logger.Debug("memory search",
		zap.String("query", query),
		zap.Int("hits", len(records)),
	)
	return records, nil
}

// Count returns the number of indexed sessions.
func (s *Store) Count() int {
	coll := s.db.GetCollection(sessionsCollection, s.embed)
	if coll == nil {
		return 0
	}
	return coll.Count()
}
