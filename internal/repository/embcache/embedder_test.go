package embcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/db"
	"github.com/kailas-cloud/diagflow/internal/domain"
)

// --- Mocks ---

type mockKV struct {
	data   map[string][]byte
	getErr error
	setErr error
	ttls   []time.Duration
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string][]byte)}
}

func (m *mockKV) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls = append(m.ttls, ttl)
	return nil
}

type mockEmbedder struct {
	calls      int
	batchCalls int
	batched    [][]string
	err        error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{
		Embedding:   []float32{float32(len(text)), 0.5},
		TotalTokens: 7,
	}, nil
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.batched = append(m.batched, texts)
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0.5}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts) * 7}, nil
}

// --- Tests ---

func TestEmbed_MissThenHit(t *testing.T) {
	kv := newMockKV()
	inner := &mockEmbedder{}
	c := New(inner, kv, time.Hour, nil, zap.NewNop())

	first, err := c.Embed(context.Background(), "headache")
	if err != nil {
		t.Fatalf("first embed: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 inner call, got %d", inner.calls)
	}
	if first.TotalTokens != 7 {
		t.Errorf("miss must report real token usage, got %d", first.TotalTokens)
	}

	second, err := c.Embed(context.Background(), "headache")
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("hit must not call the inner embedder, got %d calls", inner.calls)
	}
	if second.TotalTokens != 0 {
		t.Errorf("hit must report zero tokens, got %d", second.TotalTokens)
	}
	if len(second.Embedding) != len(first.Embedding) {
		t.Fatalf("cached vector length differs")
	}
	for i := range first.Embedding {
		if second.Embedding[i] != first.Embedding[i] {
			t.Errorf("cached vector differs at %d", i)
		}
	}
	if len(kv.ttls) != 1 || kv.ttls[0] != time.Hour {
		t.Errorf("expected one TTL write of 1h, got %v", kv.ttls)
	}
}

func TestEmbed_CacheGetFailureDegrades(t *testing.T) {
	kv := newMockKV()
	kv.getErr = errors.New("connection reset")
	inner := &mockEmbedder{}
	c := New(inner, kv, time.Hour, nil, zap.NewNop())

	if _, err := c.Embed(context.Background(), "headache"); err != nil {
		t.Fatalf("cache failure must degrade, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected inner embed on cache failure, got %d calls", inner.calls)
	}
}

func TestEmbed_CacheSetFailureDegrades(t *testing.T) {
	kv := newMockKV()
	kv.setErr = errors.New("readonly replica")
	c := New(&mockEmbedder{}, kv, time.Hour, nil, zap.NewNop())

	if _, err := c.Embed(context.Background(), "headache"); err != nil {
		t.Fatalf("cache write failure must degrade, got %v", err)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	provider := errors.New("rate limited")
	c := New(&mockEmbedder{err: provider}, newMockKV(), time.Hour, nil, zap.NewNop())

	if _, err := c.Embed(context.Background(), "headache"); !errors.Is(err, provider) {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestBatchEmbed_OnlyMissesEmbedded(t *testing.T) {
	kv := newMockKV()
	inner := &mockEmbedder{}
	c := New(inner, kv, time.Hour, nil, zap.NewNop())

	// Warm the cache with one of the three texts.
	if _, err := c.Embed(context.Background(), "two"); err != nil {
		t.Fatalf("warm: %v", err)
	}

	res, err := c.BatchEmbed(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(res.Embeddings))
	}
	if inner.batchCalls != 1 {
		t.Fatalf("expected 1 batch call, got %d", inner.batchCalls)
	}
	missed := inner.batched[0]
	if len(missed) != 2 || missed[0] != "one" || missed[1] != "three" {
		t.Errorf("expected only misses embedded, got %v", missed)
	}

	// Vectors line up with their original positions.
	for i, text := range []string{"one", "two", "three"} {
		if res.Embeddings[i][0] != float32(len(text)) {
			t.Errorf("vector %d does not match text %q", i, text)
		}
	}
}

func TestBatchEmbed_AllHits(t *testing.T) {
	kv := newMockKV()
	inner := &mockEmbedder{}
	c := New(inner, kv, time.Hour, nil, zap.NewNop())

	texts := []string{"one", "two"}
	if _, err := c.BatchEmbed(context.Background(), texts); err != nil {
		t.Fatalf("warm: %v", err)
	}
	callsAfterWarm := inner.batchCalls

	res, err := c.BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if inner.batchCalls != callsAfterWarm {
		t.Error("fully cached batch must not call the inner embedder")
	}
	if res.TotalTokens != 0 {
		t.Errorf("fully cached batch must report zero tokens, got %d", res.TotalTokens)
	}
}

func TestVectorCacheBytesRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	got, err := bytesToVector(vectorToCacheBytes(vec))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("length changed: %d", len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("value %d changed: %v", i, got[i])
		}
	}

	if _, err := bytesToVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated data")
	}
}
