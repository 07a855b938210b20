package indexer

import (
	"context"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
)

// Embedder vectorizes chunk batches.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// Splitter chunks one document's text.
type Splitter interface {
	Split(text string) []string
}

// Store persists and reads index artifacts.
type Store interface {
	Save(art *index.Artifact) error
	Load() (*index.Artifact, error)
}
