package corpus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
)

// Loader reads reference documents from a directory. Plain-text files are
// read wholesale; PDFs go through text extraction. A file that fails to
// load is logged and skipped so one bad document never sinks the batch.
type Loader struct {
	dir    string
	logger *zap.Logger
}

// NewLoader creates a corpus loader for the given directory.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// Load reads every supported file in the corpus directory, sorted by name
// so document order is stable across runs. Returns the documents that
// loaded successfully; an empty corpus is the caller's condition to handle.
func (l *Loader) Load() ([]domain.SourceDocument, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", l.dir, err)
	}

	var docs []domain.SourceDocument
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(l.dir, name)

		var text string
		switch strings.ToLower(filepath.Ext(name)) {
		case ".txt", ".md":
			text, err = loadText(path)
		case ".pdf":
			text, err = loadPDF(path)
		default:
			continue
		}
		if err != nil {
			l.logger.Warn("Skipping unreadable corpus document",
				zap.String("file", name), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			l.logger.Warn("Skipping empty corpus document", zap.String("file", name))
			continue
		}

		docs = append(docs, domain.SourceDocument{SourceID: name, Text: text})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceID < docs[j].SourceID })
	return docs, nil
}

func loadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

func loadPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
