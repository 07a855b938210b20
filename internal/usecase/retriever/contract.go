package retriever

import (
	"context"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
)

// Embedder vectorizes the query text. Must be the same implementation that
// embedded the index.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Store reads the persisted index artifact.
type Store interface {
	Load() (*index.Artifact, error)
}
