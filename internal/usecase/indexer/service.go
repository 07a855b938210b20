// Package indexer builds the persisted similarity-search index from the
// reference corpus: chunk, attribute, embed, persist.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
)

// embedBatchSize bounds one embedding API call.
const embedBatchSize = 64

// Service builds index artifacts.
type Service struct {
	splitter     Splitter
	embedder     Embedder
	store        Store
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

// New creates an indexer service. chunkSize and chunkOverlap are recorded in
// the manifest so a parameter change forces a full rebuild.
func New(splitter Splitter, embedder Embedder, store Store, chunkSize, chunkOverlap int, logger *zap.Logger) *Service {
	return &Service{
		splitter:     splitter,
		embedder:     embedder,
		store:        store,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}
}

// Summary reports the outcome of a build.
type Summary struct {
	Documents int
	Chunks    int
	Dimension int
	Skipped   bool
	Duration  time.Duration
}

// Build chunks every document, embeds the chunks, and persists a fresh
// artifact. Documents that yield no chunks are skipped; if nothing at all
// yields chunks the build fails with domain.ErrEmptyCorpus. An unchanged
// corpus with unchanged parameters is skipped entirely, which keeps rebuilds
// idempotent at the document level.
func (s *Service) Build(ctx context.Context, docs []domain.SourceDocument) (Summary, error) {
	start := time.Now()

	if len(docs) == 0 {
		return Summary{}, fmt.Errorf("no source documents: %w", domain.ErrEmptyCorpus)
	}

	fingerprints := make(map[string]string, len(docs))
	for _, doc := range docs {
		fingerprints[doc.SourceID] = fingerprint(doc.Text)
	}

	if prev, err := s.store.Load(); err == nil &&
		prev.Manifest.SameBuild(s.chunkSize, s.chunkOverlap, fingerprints) {
		s.logger.Info("Corpus and parameters unchanged, keeping existing index",
			zap.Int("chunks", len(prev.Entries)))
		return Summary{
			Documents: len(prev.Manifest.Documents),
			Chunks:    len(prev.Entries),
			Dimension: prev.Manifest.Dimension,
			Skipped:   true,
			Duration:  time.Since(start),
		}, nil
	}

	var entries []domain.IndexEntry
	indexed := 0
	for _, doc := range docs {
		chunks := s.splitter.Split(doc.Text)
		if len(chunks) == 0 {
			s.logger.Warn("Document yielded no chunks, skipping",
				zap.String("source_id", doc.SourceID))
			delete(fingerprints, doc.SourceID)
			continue
		}
		for i, text := range chunks {
			entries = append(entries, domain.IndexEntry{
				SourceID:   doc.SourceID,
				ChunkIndex: i,
				Text:       text,
			})
		}
		indexed++
	}

	if len(entries) == 0 {
		return Summary{}, fmt.Errorf("no document produced chunks: %w", domain.ErrEmptyCorpus)
	}

	dimension, err := s.embedAll(ctx, entries)
	if err != nil {
		return Summary{}, err
	}

	art := &index.Artifact{
		Manifest: index.NewManifest(dimension, s.chunkSize, s.chunkOverlap, fingerprints),
		Entries:  entries,
	}
	if err := s.store.Save(art); err != nil {
		return Summary{}, fmt.Errorf("persist index: %w", err)
	}

	s.logger.Info("Index built",
		zap.Int("documents", indexed),
		zap.Int("chunks", len(entries)),
		zap.Int("dimension", dimension),
		zap.Duration("took", time.Since(start)))

	return Summary{
		Documents: indexed,
		Chunks:    len(entries),
		Dimension: dimension,
		Duration:  time.Since(start),
	}, nil
}

// embedAll fills entry vectors batch by batch and returns the shared
// dimension. Vectors of differing lengths are a configuration fault.
func (s *Service) embedAll(ctx context.Context, entries []domain.IndexEntry) (int, error) {
	dimension := 0
	for offset := 0; offset < len(entries); offset += embedBatchSize {
		end := offset + embedBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		texts := make([]string, end-offset)
		for i := range texts {
			texts[i] = entries[offset+i].Text
		}

		res, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed chunk batch at %d: %w", offset, err)
		}
		if len(res.Embeddings) != len(texts) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks: %w",
				len(res.Embeddings), len(texts), domain.ErrEmbeddingProviderError)
		}

		for i, vec := range res.Embeddings {
			if dimension == 0 {
				dimension = len(vec)
			}
			if len(vec) != dimension || dimension == 0 {
				return 0, fmt.Errorf("chunk %d: %w: got %d, index has %d",
					offset+i, domain.ErrDimensionMismatch, len(vec), dimension)
			}
			entries[offset+i].Vector = vec
		}
	}
	return dimension, nil
}

// HasIndex reports whether a previous artifact exists and loads cleanly.
func (s *Service) HasIndex() bool {
	_, err := s.store.Load()
	return err == nil || !errors.Is(err, domain.ErrIndexUnavailable)
}

func fingerprint(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
