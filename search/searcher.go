package search

import (
	"context"
	"log/slog"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// DefaultMinSimilarity is the cosine similarity floor for a chunk to count
// as a hit.
const DefaultMinSimilarity = 0.60

// Searcher provides semantic search over embedded document chunks.
type Searcher struct {
	chunks        storage.ChunkRepository
	embedder      services.Embedder
	minSimilarity float32
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinSimilarity sets the similarity threshold for hits.
// Default is 0.60.
func WithMinSimilarity(min float32) Option {
	return func(s *Searcher) error {
		s.minSimilarity = min
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(chunks storage.ChunkRepository, embedder services.Embedder, opts ...Option) (*Searcher, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		chunks:        chunks,
		embedder:      embedder,
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default().With("component", "searcher"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FindSimilar searches for chunks similar to the query.
// Returns up to maxHits results, ranked by similarity score.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int) ([]*core.ChunkMatch, error) {
	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}

	matches, err := s.chunks.FindSimilar(ctx, embedding, s.minSimilarity, maxHits)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}

	s.logger.Debug("search complete", "hits", len(matches))
	return matches, nil
}

// FindSimilarInDocument searches like FindSimilar but keeps only chunks of
// the given document.
func (s *Searcher) FindSimilarInDocument(ctx context.Context, query string, docID core.ID, maxHits int) ([]*core.ChunkMatch, error) {
	// Over-fetch, then filter: the repository ranks globally.
	matches, err := s.FindSimilar(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	var filtered []*core.ChunkMatch
	for _, match := range matches {
		if match.Chunk.DocumentId != docID {
			continue
		}
		filtered = append(filtered, match)
		if maxHits > 0 && len(filtered) == maxHits {
			break
		}
	}
	return filtered, nil
}
