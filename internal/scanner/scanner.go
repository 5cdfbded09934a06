// Package scanner discovers indexable files in the configured folders.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/siftdev/siftd/internal/config"
)

// resultBuffer is the capacity of the streaming result channel.
const resultBuffer = 256

// Entry describes a single regular file found during a scan.
type Entry struct {
	// Path is the absolute path of the file.
	Path string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the file modification time.
	ModTime time.Time
}

// Scanner walks the configured folders and streams matching files.
// A Scanner holds no state between scans; every Scan reflects the
// filesystem as it is at that moment.
type Scanner struct {
	exclude     *regexp.Regexp
	maxFileSize int64
	logger      *slog.Logger
}

// New creates a Scanner. exclude may be nil to disable pattern
// filtering; maxFileSize <= 0 disables the size limit.
func New(exclude *regexp.Regexp, maxFileSize int64, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		exclude:     exclude,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Scan streams all indexable files under the given folders.
// The channel is closed when every folder has been traversed or the
// context is cancelled. Traversal errors are logged and skipped; a
// missing folder does not abort the scan.
func (s *Scanner) Scan(ctx context.Context, folders []config.Folder) <-chan Entry {
	results := make(chan Entry, resultBuffer)

	go func() {
		defer close(results)
		for _, folder := range folders {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if folder.Recursive {
				s.walkFolder(ctx, folder.Path, results)
			} else {
				s.listFolder(ctx, folder.Path, results)
			}
		}
	}()

	return results
}

// walkFolder traverses a folder tree depth-first.
func (s *Scanner) walkFolder(ctx context.Context, root string, results chan<- Entry) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			s.logger.Warn("scan_entry_skipped",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}

		s.emit(ctx, path, d, results)
		return nil
	})

	if err != nil && err != context.Canceled {
		s.logger.Warn("scan_folder_failed",
			slog.String("folder", root),
			slog.String("error", err.Error()))
	}
}

// listFolder scans only the direct children of a non-recursive folder.
func (s *Scanner) listFolder(ctx context.Context, root string, results chan<- Entry) {
	entries, err := os.ReadDir(root)
	if err != nil {
		s.logger.Warn("scan_folder_failed",
			slog.String("folder", root),
			slog.String("error", err.Error()))
		return
	}

	for _, d := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d.IsDir() {
			continue
		}
		s.emit(ctx, filepath.Join(root, d.Name()), d, results)
	}
}

// emit applies the file-level filters and sends the entry downstream.
func (s *Scanner) emit(ctx context.Context, path string, d fs.DirEntry, results chan<- Entry) {
	// Only regular files are indexable. Symlinks, sockets, and devices
	// are skipped without a log line, same as excluded paths.
	if !d.Type().IsRegular() {
		return
	}

	if s.excluded(path) {
		return
	}

	info, err := d.Info()
	if err != nil {
		s.logger.Warn("scan_entry_skipped",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		return
	}

	select {
	case results <- Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()}:
	case <-ctx.Done():
	}
}

func (s *Scanner) excluded(path string) bool {
	return s.exclude != nil && s.exclude.MatchString(path)
}

// Collect drains a scan into a map keyed by path. Duplicate paths
// (overlapping folders) collapse to a single entry.
func Collect(ctx context.Context, results <-chan Entry) map[string]Entry {
	snapshot := make(map[string]Entry)
	for {
		select {
		case entry, ok := <-results:
			if !ok {
				return snapshot
			}
			snapshot[entry.Path] = entry
		case <-ctx.Done():
			return snapshot
		}
	}
}
