package fingerprint

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports workspace drift as filesystem events arrive. It powers
// "status --watch": a cheap signal that the stored fingerprint is stale
// without recomputing it on every event.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	events  chan string
}

// NewWatcher starts watching the workspace tree, skipping the same
// directories the fingerprinter skips.
func NewWatcher(root string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    filepath.Clean(root),
		watcher: fsw,
		logger:  logger,
		events:  make(chan string, 16),
	}

	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && defaultSkipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Events yields relative paths that changed. The channel closes when Run
// returns.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run pumps filesystem events until the context is canceled. New
// directories are added to the watch set as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if defaultSkipDirs[name] {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if fi, statErr := os.Stat(event.Name); statErr == nil && fi.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				rel = event.Name
			}
			select {
			case w.events <- filepath.ToSlash(rel):
			default:
				// Drop events under backpressure; drift is a boolean
				// signal, not a log.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}
