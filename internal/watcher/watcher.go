package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/siftdev/siftd/internal/config"
)

// Watcher subscribes to filesystem notifications for the configured
// folders and fires a debounced trigger when they change.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger

	// recursiveRoots are the watched folders whose new subdirectories
	// must be registered as they appear.
	recursiveRoots []string
}

// New creates a watcher. trigger is called after events go quiet for
// the debounce window.
func New(debounce time.Duration, trigger func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:       fsw,
		debouncer: NewDebouncer(debounce, trigger),
		logger:    logger,
	}, nil
}

// Watch registers the folders marked for watching. Recursive folders
// get every subdirectory registered; fsnotify does not recurse on its
// own. Missing folders are logged and skipped.
func (w *Watcher) Watch(folders []config.Folder) {
	for _, folder := range folders {
		if !folder.Watch {
			continue
		}

		if !folder.Recursive {
			w.add(folder.Path)
			continue
		}

		w.recursiveRoots = append(w.recursiveRoots, folder.Path)
		err := filepath.WalkDir(folder.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				w.add(path)
			}
			return nil
		})
		if err != nil {
			w.logger.Warn("watch_folder_failed",
				slog.String("folder", folder.Path),
				slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) add(path string) {
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("watch_add_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// Run consumes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A directory created under a recursive root must be watched too,
	// or changes inside it would go unseen.
	if event.Op.Has(fsnotify.Create) && w.underRecursiveRoot(event.Name) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.add(event.Name)
		}
	}

	w.logger.Debug("watch_event",
		slog.String("path", event.Name),
		slog.String("op", event.Op.String()))
	w.debouncer.Bump()
}

func (w *Watcher) underRecursiveRoot(path string) bool {
	for _, root := range w.recursiveRoots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fsw.Close()
}
