package domain

import "errors"

var (
	// ErrEmptyCorpus signals that an index build produced zero chunks.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrIndexUnavailable signals that no persisted index could be loaded.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrDimensionMismatch signals an embedding dimension mismatch between
	// index time and query time. Configuration fault, not retryable.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrMalformedOutput signals model output that failed schema decoding
	// or validation.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrGenerationFailed signals a generation call that failed after all
	// retries were exhausted.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrStateInvariant signals a pipeline state missing fields a stage
	// declared as required input. Indicates an engine wiring bug.
	ErrStateInvariant = errors.New("pipeline state invariant violated")
	// ErrRunNotResumable signals a resume attempt on a state that is not
	// suspended at the answer-collection point.
	ErrRunNotResumable = errors.New("run is not awaiting answers")
)
