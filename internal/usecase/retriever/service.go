// Package retriever answers similarity queries against the persisted index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/metrics"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
)

// Service performs embedding-based nearest-neighbor search with a relevance
// cutoff. Scores are cosine similarity, higher is better; candidates below
// minScore are dropped even if fewer than k results remain. The index is
// loaded lazily on first use and can be swapped wholesale via Reload after
// a rebuild.
//
// Relevance policy: threshold filtering is deliberate (not raw top-k), so
// an off-topic query grounds the pipeline in nothing rather than in noise.
type Service struct {
	embedder Embedder
	store    Store
	minScore float64
	logger   *zap.Logger

	mu      sync.RWMutex
	loaded  bool
	loadErr error
	art     *index.Artifact
}

// New creates a retriever service.
func New(embedder Embedder, store Store, minScore float64, logger *zap.Logger) *Service {
	return &Service{
		embedder: embedder,
		store:    store,
		minScore: minScore,
		logger:   logger,
	}
}

// Search returns up to k chunks relevant to query, best first. A missing
// index yields an empty result, not an error: downstream stages must treat
// "no retrieved context" as a valid input. Ties on score break by source_id
// then chunk_index, so identical queries against an unchanged index always
// return the same ordered result set.
func (s *Service) Search(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}

	art, err := s.artifact()
	if err != nil {
		if errors.Is(err, domain.ErrIndexUnavailable) {
			metrics.RetrievalRequestsTotal.WithLabelValues("unavailable").Inc()
			s.logger.Warn("Search with no index available, returning empty result")
			return nil, nil
		}
		metrics.RetrievalRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	res, err := s.embedder.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(res.Embedding) != art.Manifest.Dimension {
		metrics.RetrievalRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("query vector: %w: got %d, index has %d",
			domain.ErrDimensionMismatch, len(res.Embedding), art.Manifest.Dimension)
	}

	hits := rank(art.Entries, res.Embedding, s.minScore, k)

	if len(hits) == 0 {
		metrics.RetrievalRequestsTotal.WithLabelValues("empty").Inc()
	} else {
		metrics.RetrievalRequestsTotal.WithLabelValues("ok").Inc()
	}
	metrics.RetrievalChunksReturned.Observe(float64(len(hits)))
	return hits, nil
}

// Ready reports whether an index is loadable. The error is
// domain.ErrIndexUnavailable when none exists.
func (s *Service) Ready() error {
	_, err := s.artifact()
	return err
}

// ChunkCount returns the number of indexed chunks, zero when unavailable.
func (s *Service) ChunkCount() int {
	art, err := s.artifact()
	if err != nil {
		return 0
	}
	return len(art.Entries)
}

// Reload discards the in-memory index so the next call loads the current
// artifact. Called after a rebuild; readers swap atomically to the new
// artifact instead of observing a mutation in place.
func (s *Service) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.art = nil
	s.loadErr = nil
}

// artifact returns the loaded index, loading it on first use. A load
// failure is cached until Reload so a missing index does not hammer disk on
// every query.
func (s *Service) artifact() (*index.Artifact, error) {
	s.mu.RLock()
	if s.loaded {
		art, err := s.art, s.loadErr
		s.mu.RUnlock()
		return art, err
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.art, s.loadErr
	}

	art, err := s.store.Load()
	s.loaded = true
	s.art = art
	s.loadErr = err
	if err == nil {
		s.logger.Info("Index loaded",
			zap.Int("chunks", len(art.Entries)),
			zap.Int("dimension", art.Manifest.Dimension))
	}
	return art, err
}

// rank scores every entry against the query vector and returns the top k
// above minScore with the documented tie-break.
func rank(entries []domain.IndexEntry, query []float32, minScore float64, k int) []domain.RetrievedChunk {
	var hits []domain.RetrievedChunk
	for _, e := range entries {
		score := cosineSimilarity(query, e.Vector)
		if score < minScore {
			continue
		}
		hits = append(hits, domain.RetrievedChunk{
			Text:       e.Text,
			SourceID:   e.SourceID,
			ChunkIndex: e.ChunkIndex,
			Score:      score,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].SourceID != hits[j].SourceID {
			return hits[i].SourceID < hits[j].SourceID
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
