package health

import "context"

// IndexChecker reports whether the similarity index is loadable.
type IndexChecker interface {
	Ready() error
}

// ProviderChecker checks an external model provider's availability.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}

// CachePinger checks the embedding cache backend.
type CachePinger interface {
	Ping(ctx context.Context) error
}
