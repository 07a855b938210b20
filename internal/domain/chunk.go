package domain

// RetrievedChunk is one retrieval hit handed to the pipeline.
//
// Score is cosine similarity, higher is better, in [-1, 1]. Chunks are
// transient per diagnosis run and never persisted.
type RetrievedChunk struct {
	Text       string  `json:"text"`
	SourceID   string  `json:"source_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// IndexEntry is one persisted chunk of the reference corpus: its text, the
// originating document, its position within that document, and its embedding.
// Entries are created once during an index build and read-only afterwards.
type IndexEntry struct {
	SourceID   string    `json:"source_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}

// SourceDocument is one raw reference document prior to chunking.
type SourceDocument struct {
	SourceID string
	Text     string
}
