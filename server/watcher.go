package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sevigo/policyrag/documentloaders"
)

// Watcher re-runs ingestion after changes under a document directory have
// been quiet for the debounce interval. Queries keep being served from the
// previous chunk set while a run is in progress.
type Watcher struct {
	root     string
	debounce time.Duration
	ingester Ingester
	logger   *slog.Logger
}

func NewWatcher(root string, debounce time.Duration, ingester Ingester, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		ingester: ingester,
		logger:   logger.With("component", "document_watcher", "root", root),
	}
}

// Run blocks until ctx is done. Failed re-ingestion is logged and the
// watcher keeps running.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	w.logger.InfoContext(ctx, "Watching documents", "debounce", w.debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(fw, event) {
				w.logger.DebugContext(ctx, "Document change", "path", event.Name, "op", event.Op.String())
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "Watcher error", "error", err)
		case <-timer.C:
			w.reingest(ctx)
		}
	}
}

func (w *Watcher) reingest(ctx context.Context) {
	result, err := w.ingester.Run(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Re-ingestion failed, keeping previous corpus", "error", err)
		return
	}
	w.logger.InfoContext(ctx, "Re-ingested documents", "result", result.String())
}

// relevant reports whether event can change the corpus. New directories are
// added to the watch list.
func (w *Watcher) relevant(fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, event.Name); err != nil {
				w.logger.Warn("Could not watch new directory", "path", event.Name, "error", err)
			}
			return true
		}
	}
	return documentloaders.Supported(event.Name)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && documentloaders.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
