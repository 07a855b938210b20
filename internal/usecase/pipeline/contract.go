package pipeline

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/diagflow/internal/domain"
)

// Generator is the opaque structured-generation capability. stage labels
// observability only; instruction and payload form the prompt; out is the
// schema struct the model's JSON answer must decode into. Retry policy
// lives behind this interface, not in the engine.
type Generator interface {
	Generate(ctx context.Context, stage, instruction, payload string, out any) error
}

// Retriever searches the reference corpus. An unavailable or empty index
// yields an empty slice, which stages treat as valid reduced grounding.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error)
}

// AnswerFunc supplies answers to clarifying questions. When nil, the engine
// suspends at awaiting_answers and the caller resumes with real answers.
type AnswerFunc func(ctx context.Context, questions []domain.Question) (map[string]string, error)

// SimulatedAnswers is the default AnswerFunc of the reference flow: it
// fabricates placeholder answers instead of consulting a live user.
func SimulatedAnswers(_ context.Context, questions []domain.Question) (map[string]string, error) {
	answers := make(map[string]string, len(questions))
	for i, q := range questions {
		answers[q.Question] = fmt.Sprintf("Simulated answer %d", i+1)
	}
	return answers, nil
}
