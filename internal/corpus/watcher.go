package corpus

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher monitors the corpus directory and flags the persisted index as
// stale when reference documents change. It never rebuilds by itself; the
// owning process decides when to rebuild and clears the flag, so readers
// always see a stable artifact.
type Watcher struct {
	dir     string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stale   atomic.Bool
}

// NewWatcher creates a corpus watcher for dir.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, logger: logger, watcher: fsw}, nil
}

// Run consumes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			if w.stale.CompareAndSwap(false, true) {
				w.logger.Info("Corpus changed, index is stale until next rebuild",
					zap.String("file", filepath.Base(event.Name)),
					zap.String("op", event.Op.String()))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Corpus watcher error", zap.Error(err))
		}
	}
}

// Stale reports whether the corpus changed since the last ClearStale.
func (w *Watcher) Stale() bool {
	return w.stale.Load()
}

// ClearStale resets the staleness flag, called after a successful rebuild.
func (w *Watcher) ClearStale() {
	w.stale.Store(false)
}

func relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".txt", ".md", ".pdf":
		return true
	}
	return false
}
