package pipeline

import (
	"context"

	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/scanner"
	"github.com/siftdev/siftd/internal/store"
)

// ChangeSet is the work a run has to do. The three slices are pairwise
// disjoint; a path appears in at most one of them.
type ChangeSet struct {
	// ToAdd are files on disk that the index has never seen.
	ToAdd []string

	// ToUpdate are indexed files whose size or mtime changed.
	ToUpdate []string

	// ToRemove are indexed files that no longer exist on disk.
	ToRemove []string
}

// Total returns the number of paths across all three sets.
func (c *ChangeSet) Total() int {
	return len(c.ToAdd) + len(c.ToUpdate) + len(c.ToRemove)
}

// Diff compares the filesystem snapshot against the index. Only
// metadata is compared: size plus mtime truncated to seconds, so a
// touch without a content change still re-indexes but sub-second
// timestamp drift does not. A failure listing the index is fatal; the
// run must not proceed on a partial view.
func Diff(ctx context.Context, snapshot map[string]scanner.Entry, idx store.Index) (*ChangeSet, error) {
	changes := &ChangeSet{}
	seen := make(map[string]struct{}, len(snapshot))

	err := idx.List(ctx, func(rec store.FileRecord) error {
		entry, onDisk := snapshot[rec.Path]
		if !onDisk {
			changes.ToRemove = append(changes.ToRemove, rec.Path)
			return nil
		}
		seen[rec.Path] = struct{}{}

		if entry.Size != rec.Size || entry.ModTime.Unix() != rec.Modified {
			changes.ToUpdate = append(changes.ToUpdate, rec.Path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiffFailed, err)
	}

	for path := range snapshot {
		if _, ok := seen[path]; !ok {
			changes.ToAdd = append(changes.ToAdd, path)
		}
	}

	return changes, nil
}
