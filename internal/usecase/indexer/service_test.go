package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
)

// --- Mocks ---

// mockSplitter splits on "|" so tests control chunk boundaries exactly.
type mockSplitter struct{}

func (mockSplitter) Split(text string) []string {
	var chunks []string
	for _, p := range strings.Split(text, "|") {
		if p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

type mockEmbedder struct {
	dim      int
	err      error
	short    bool
	calls    int
	embedded []string
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.calls++
	m.embedded = append(m.embedded, texts...)
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	n := len(texts)
	if m.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, m.dim)
		out[i][0] = float32(i + 1)
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: n * 3}, nil
}

type mockStore struct {
	saved   *index.Artifact
	loadErr error
	saveErr error
}

func (m *mockStore) Save(art *index.Artifact) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = art
	return nil
}

func (m *mockStore) Load() (*index.Artifact, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.saved == nil {
		return nil, domain.ErrIndexUnavailable
	}
	return m.saved, nil
}

func newService(emb *mockEmbedder, st *mockStore) *Service {
	return New(mockSplitter{}, emb, st, 100, 20, zap.NewNop())
}

// --- Tests ---

func TestBuild_EmptyCorpus(t *testing.T) {
	svc := newService(&mockEmbedder{dim: 3}, &mockStore{})

	_, err := svc.Build(context.Background(), nil)
	if !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestBuild_AllDocumentsEmpty(t *testing.T) {
	svc := newService(&mockEmbedder{dim: 3}, &mockStore{})

	docs := []domain.SourceDocument{{SourceID: "a.txt", Text: "|"}}
	_, err := svc.Build(context.Background(), docs)
	if !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestBuild_HappyPath(t *testing.T) {
	emb := &mockEmbedder{dim: 3}
	st := &mockStore{}
	svc := newService(emb, st)

	docs := []domain.SourceDocument{
		{SourceID: "migraine.md", Text: "chunk one|chunk two"},
		{SourceID: "pots.md", Text: "chunk three"},
	}

	summary, err := svc.Build(context.Background(), docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Documents != 2 || summary.Chunks != 3 || summary.Dimension != 3 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.Skipped {
		t.Error("fresh build must not be skipped")
	}

	if st.saved == nil {
		t.Fatal("artifact not saved")
	}
	if len(st.saved.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(st.saved.Entries))
	}
	e := st.saved.Entries[1]
	if e.SourceID != "migraine.md" || e.ChunkIndex != 1 || e.Text != "chunk two" {
		t.Errorf("unexpected entry attribution: %+v", e)
	}
	for i, e := range st.saved.Entries {
		if len(e.Vector) != 3 {
			t.Errorf("entry %d missing vector", i)
		}
	}
	if st.saved.Manifest.Dimension != 3 || st.saved.Manifest.ChunkSize != 100 {
		t.Errorf("unexpected manifest: %+v", st.saved.Manifest)
	}
	if len(st.saved.Manifest.Documents) != 2 {
		t.Errorf("expected 2 fingerprints, got %d", len(st.saved.Manifest.Documents))
	}
}

func TestBuild_SkipsEmptyDocument(t *testing.T) {
	st := &mockStore{}
	svc := newService(&mockEmbedder{dim: 2}, st)

	docs := []domain.SourceDocument{
		{SourceID: "empty.txt", Text: "|"},
		{SourceID: "real.txt", Text: "content"},
	}

	summary, err := svc.Build(context.Background(), docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Documents != 1 || summary.Chunks != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if _, ok := st.saved.Manifest.Documents["empty.txt"]; ok {
		t.Error("skipped document must not be fingerprinted")
	}
}

func TestBuild_IdempotentRebuild(t *testing.T) {
	emb := &mockEmbedder{dim: 2}
	st := &mockStore{}
	svc := newService(emb, st)

	docs := []domain.SourceDocument{{SourceID: "a.txt", Text: "same content"}}

	if _, err := svc.Build(context.Background(), docs); err != nil {
		t.Fatalf("first build: %v", err)
	}
	callsAfterFirst := emb.calls

	summary, err := svc.Build(context.Background(), docs)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !summary.Skipped {
		t.Error("unchanged corpus must skip the rebuild")
	}
	if emb.calls != callsAfterFirst {
		t.Errorf("rebuild must not re-embed: %d calls after first, %d now", callsAfterFirst, emb.calls)
	}
}

func TestBuild_RebuildsOnContentChange(t *testing.T) {
	st := &mockStore{}
	svc := newService(&mockEmbedder{dim: 2}, st)

	if _, err := svc.Build(context.Background(),
		[]domain.SourceDocument{{SourceID: "a.txt", Text: "v1"}}); err != nil {
		t.Fatalf("first build: %v", err)
	}

	summary, err := svc.Build(context.Background(),
		[]domain.SourceDocument{{SourceID: "a.txt", Text: "v2"}})
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if summary.Skipped {
		t.Error("changed content must trigger a rebuild")
	}
}

func TestBuild_EmbedderError(t *testing.T) {
	provider := errors.New("quota exhausted")
	svc := newService(&mockEmbedder{dim: 2, err: provider}, &mockStore{})

	_, err := svc.Build(context.Background(),
		[]domain.SourceDocument{{SourceID: "a.txt", Text: "content"}})
	if !errors.Is(err, provider) {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestBuild_ShortEmbeddingBatch(t *testing.T) {
	svc := newService(&mockEmbedder{dim: 2, short: true}, &mockStore{})

	_, err := svc.Build(context.Background(),
		[]domain.SourceDocument{{SourceID: "a.txt", Text: "one|two"}})
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Errorf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestHasIndex(t *testing.T) {
	st := &mockStore{}
	svc := newService(&mockEmbedder{dim: 2}, st)

	if svc.HasIndex() {
		t.Error("expected no index before first build")
	}
	if _, err := svc.Build(context.Background(),
		[]domain.SourceDocument{{SourceID: "a.txt", Text: "x"}}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if !svc.HasIndex() {
		t.Error("expected index after build")
	}
}
