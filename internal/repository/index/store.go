// Package index persists the similarity-search index as an on-disk artifact.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kailas-cloud/diagflow/internal/domain"
)

const (
	artifactName  = "index.json"
	formatVersion = 1
)

// Manifest describes how an artifact was built. A rebuild with different
// chunking parameters or embedding dimension always replaces the whole
// artifact; there is no partial update path.
type Manifest struct {
	Version      int       `json:"version"`
	Dimension    int       `json:"dimension"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	BuiltAt      time.Time `json:"built_at"`
	// Documents maps source_id to a fingerprint of the document content,
	// letting a rebuild skip work when nothing changed.
	Documents map[string]string `json:"documents"`
}

// Artifact is the full persisted index: manifest plus entries.
type Artifact struct {
	Manifest Manifest           `json:"manifest"`
	Entries  []domain.IndexEntry `json:"entries"`
}

// Store reads and writes index artifacts under a directory. Writes go to a
// temp file followed by an atomic rename, so a crash mid-write never leaves
// a half-written artifact discoverable as valid.
type Store struct {
	dir string
}

// NewStore creates an index store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save persists the artifact, replacing any previous one atomically.
func (s *Store) Save(art *Artifact) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	data, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, artifactName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp artifact: %w", err)
	}

	if err := os.Rename(tmpPath, s.path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

// Load reads the current artifact. Returns domain.ErrIndexUnavailable when
// no artifact exists yet.
func (s *Store) Load() (*Artifact, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrIndexUnavailable
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	if art.Manifest.Version != formatVersion {
		return nil, fmt.Errorf("unsupported index format version %d", art.Manifest.Version)
	}
	if art.Manifest.Dimension <= 0 {
		return nil, fmt.Errorf("artifact has invalid dimension %d", art.Manifest.Dimension)
	}
	for i, e := range art.Entries {
		if len(e.Vector) != art.Manifest.Dimension {
			return nil, fmt.Errorf("entry %d (%s:%d): %w: got %d, index has %d",
				i, e.SourceID, e.ChunkIndex, domain.ErrDimensionMismatch,
				len(e.Vector), art.Manifest.Dimension)
		}
	}
	return &art, nil
}

// Exists reports whether an artifact is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// NewManifest creates a manifest for the current build parameters.
func NewManifest(dimension, chunkSize, chunkOverlap int, fingerprints map[string]string) Manifest {
	return Manifest{
		Version:      formatVersion,
		Dimension:    dimension,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		BuiltAt:      time.Now().UTC(),
		Documents:    fingerprints,
	}
}

// SameBuild reports whether a previous manifest matches the given build
// parameters and document fingerprints, meaning a rebuild can be skipped.
func (m Manifest) SameBuild(chunkSize, chunkOverlap int, fingerprints map[string]string) bool {
	if m.ChunkSize != chunkSize || m.ChunkOverlap != chunkOverlap {
		return false
	}
	if len(m.Documents) != len(fingerprints) {
		return false
	}
	for id, fp := range fingerprints {
		if m.Documents[id] != fp {
			return false
		}
	}
	return true
}

func (s *Store) path() string {
	return filepath.Join(s.dir, artifactName)
}
