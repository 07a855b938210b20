package retriever

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
)

// --- Mocks ---

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type mockStore struct {
	art   *index.Artifact
	err   error
	loads int
}

func (m *mockStore) Load() (*index.Artifact, error) {
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.art, nil
}

func artifact(entries ...domain.IndexEntry) *index.Artifact {
	return &index.Artifact{
		Manifest: index.Manifest{Version: 1, Dimension: 2, ChunkSize: 100, ChunkOverlap: 20},
		Entries:  entries,
	}
}

func entry(sourceID string, chunkIndex int, text string, vec ...float32) domain.IndexEntry {
	return domain.IndexEntry{SourceID: sourceID, ChunkIndex: chunkIndex, Text: text, Vector: vec}
}

// --- Tests ---

func TestSearch_RanksAndFilters(t *testing.T) {
	// Query along the x axis: [1,0] scores 1.0, [1,1] about 0.707, [0,1] 0.
	st := &mockStore{art: artifact(
		entry("off-topic.md", 0, "irrelevant", 0, 1),
		entry("migraine.md", 1, "diagnostic criteria", 1, 0),
		entry("migraine.md", 0, "overview", 1, 1),
	)}
	svc := New(&mockEmbedder{vec: []float32{1, 0}}, st, 0.25, zap.NewNop())

	hits, err := svc.Search(context.Background(), "migraine criteria", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %d: %+v", len(hits), hits)
	}
	if hits[0].Text != "diagnostic criteria" || hits[1].Text != "overview" {
		t.Errorf("unexpected order: %+v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores not descending: %v then %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].SourceID != "migraine.md" || hits[0].ChunkIndex != 1 {
		t.Errorf("attribution lost: %+v", hits[0])
	}
}

func TestSearch_TieBreakDeterministic(t *testing.T) {
	// All entries score identically against the query.
	st := &mockStore{art: artifact(
		entry("b.md", 0, "b0", 1, 0),
		entry("a.md", 1, "a1", 1, 0),
		entry("a.md", 0, "a0", 1, 0),
	)}
	svc := New(&mockEmbedder{vec: []float32{1, 0}}, st, 0.25, zap.NewNop())

	for run := 0; run < 3; run++ {
		hits, err := svc.Search(context.Background(), "q", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"a0", "a1", "b0"}
		for i, w := range want {
			if hits[i].Text != w {
				t.Errorf("run %d position %d: expected %q, got %q", run, i, w, hits[i].Text)
			}
		}
	}
}

func TestSearch_TruncatesToK(t *testing.T) {
	st := &mockStore{art: artifact(
		entry("a.md", 0, "one", 1, 0),
		entry("a.md", 1, "two", 1, 0),
		entry("a.md", 2, "three", 1, 0),
	)}
	svc := New(&mockEmbedder{vec: []float32{1, 0}}, st, 0.25, zap.NewNop())

	hits, err := svc.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected 2 hits, got %d", len(hits))
	}
}

func TestSearch_InvalidK(t *testing.T) {
	svc := New(&mockEmbedder{vec: []float32{1, 0}}, &mockStore{art: artifact()}, 0.25, zap.NewNop())
	if _, err := svc.Search(context.Background(), "q", 0); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestSearch_IndexUnavailable(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{1, 0}}
	svc := New(emb, &mockStore{err: domain.ErrIndexUnavailable}, 0.25, zap.NewNop())

	hits, err := svc.Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("missing index must not error, got %v", err)
	}
	if hits != nil {
		t.Errorf("expected empty result, got %+v", hits)
	}
	if emb.calls != 0 {
		t.Error("query must not be embedded when no index exists")
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	st := &mockStore{art: artifact(entry("a.md", 0, "x", 1, 0))}
	svc := New(&mockEmbedder{vec: []float32{1, 0, 0}}, st, 0.25, zap.NewNop())

	_, err := svc.Search(context.Background(), "q", 3)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearch_EmbedderError(t *testing.T) {
	provider := errors.New("timeout")
	st := &mockStore{art: artifact(entry("a.md", 0, "x", 1, 0))}
	svc := New(&mockEmbedder{err: provider}, st, 0.25, zap.NewNop())

	_, err := svc.Search(context.Background(), "q", 3)
	if !errors.Is(err, provider) {
		t.Errorf("expected embedder error, got %v", err)
	}
}

func TestSearch_CachesLoadUntilReload(t *testing.T) {
	st := &mockStore{art: artifact(entry("a.md", 0, "x", 1, 0))}
	svc := New(&mockEmbedder{vec: []float32{1, 0}}, st, 0.25, zap.NewNop())

	if _, err := svc.Search(context.Background(), "q", 1); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if _, err := svc.Search(context.Background(), "q", 1); err != nil {
		t.Fatalf("second search: %v", err)
	}
	if st.loads != 1 {
		t.Errorf("expected a single load, got %d", st.loads)
	}

	svc.Reload()
	if _, err := svc.Search(context.Background(), "q", 1); err != nil {
		t.Fatalf("search after reload: %v", err)
	}
	if st.loads != 2 {
		t.Errorf("expected a reload, got %d loads", st.loads)
	}
}

func TestReadyAndChunkCount(t *testing.T) {
	missing := New(&mockEmbedder{}, &mockStore{err: domain.ErrIndexUnavailable}, 0.25, zap.NewNop())
	if err := missing.Ready(); !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable, got %v", err)
	}
	if missing.ChunkCount() != 0 {
		t.Error("expected zero chunks when unavailable")
	}

	ready := New(&mockEmbedder{}, &mockStore{art: artifact(
		entry("a.md", 0, "x", 1, 0),
		entry("a.md", 1, "y", 0, 1),
	)}, 0.25, zap.NewNop())
	if err := ready.Ready(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if ready.ChunkCount() != 2 {
		t.Errorf("expected 2 chunks, got %d", ready.ChunkCount())
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, -1},
		{"zero vector", []float32{1, 0}, []float32{0, 0}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("cosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
