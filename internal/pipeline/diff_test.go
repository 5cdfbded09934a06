package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/scanner"
	"github.com/siftdev/siftd/internal/store"
)

func entry(path string, size int64, modified int64) scanner.Entry {
	return scanner.Entry{Path: path, Size: size, ModTime: time.Unix(modified, 0)}
}

func TestDiff_NewFilesAreAdded(t *testing.T) {
	idx := newFakeIndex()
	snapshot := map[string]scanner.Entry{
		"/a.txt": entry("/a.txt", 10, 1000),
	}

	changes, err := Diff(context.Background(), snapshot, idx)
	require.NoError(t, err)

	assert.Equal(t, []string{"/a.txt"}, changes.ToAdd)
	assert.Empty(t, changes.ToUpdate)
	assert.Empty(t, changes.ToRemove)
}

func TestDiff_MissingFilesAreRemoved(t *testing.T) {
	idx := newFakeIndex()
	idx.seed(store.FileRecord{Path: "/gone.txt", Size: 10, Modified: 1000})

	changes, err := Diff(context.Background(), map[string]scanner.Entry{}, idx)
	require.NoError(t, err)

	assert.Equal(t, []string{"/gone.txt"}, changes.ToRemove)
	assert.Empty(t, changes.ToAdd)
	assert.Empty(t, changes.ToUpdate)
}

func TestDiff_ChangedMetadataTriggersUpdate(t *testing.T) {
	idx := newFakeIndex()
	idx.seed(
		store.FileRecord{Path: "/size.txt", Size: 10, Modified: 1000},
		store.FileRecord{Path: "/mtime.txt", Size: 10, Modified: 1000},
	)
	snapshot := map[string]scanner.Entry{
		"/size.txt":  entry("/size.txt", 99, 1000),
		"/mtime.txt": entry("/mtime.txt", 10, 2000),
	}

	changes, err := Diff(context.Background(), snapshot, idx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"/size.txt", "/mtime.txt"}, changes.ToUpdate)
	assert.Empty(t, changes.ToAdd)
	assert.Empty(t, changes.ToRemove)
}

func TestDiff_IdenticalMetadataIsUnchanged(t *testing.T) {
	idx := newFakeIndex()
	idx.seed(store.FileRecord{Path: "/same.txt", Size: 10, Modified: 1000})
	snapshot := map[string]scanner.Entry{
		"/same.txt": entry("/same.txt", 10, 1000),
	}

	changes, err := Diff(context.Background(), snapshot, idx)
	require.NoError(t, err)
	assert.Zero(t, changes.Total())
}

func TestDiff_SubSecondMtimeDriftIgnored(t *testing.T) {
	idx := newFakeIndex()
	idx.seed(store.FileRecord{Path: "/a.txt", Size: 10, Modified: 1000})
	snapshot := map[string]scanner.Entry{
		"/a.txt": {Path: "/a.txt", Size: 10, ModTime: time.Unix(1000, 999_000_000)},
	}

	changes, err := Diff(context.Background(), snapshot, idx)
	require.NoError(t, err)
	assert.Zero(t, changes.Total(), "mtime is compared at second precision")
}

func TestDiff_SetsArePairwiseDisjoint(t *testing.T) {
	idx := newFakeIndex()
	idx.seed(
		store.FileRecord{Path: "/keep.txt", Size: 10, Modified: 1000},
		store.FileRecord{Path: "/update.txt", Size: 10, Modified: 1000},
		store.FileRecord{Path: "/remove.txt", Size: 10, Modified: 1000},
	)
	snapshot := map[string]scanner.Entry{
		"/keep.txt":   entry("/keep.txt", 10, 1000),
		"/update.txt": entry("/update.txt", 20, 1000),
		"/new.txt":    entry("/new.txt", 5, 1000),
	}

	changes, err := Diff(context.Background(), snapshot, idx)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, path := range changes.ToAdd {
		seen[path]++
	}
	for _, path := range changes.ToUpdate {
		seen[path]++
	}
	for _, path := range changes.ToRemove {
		seen[path]++
	}
	for path, count := range seen {
		assert.Equal(t, 1, count, "path %s appears in more than one set", path)
	}
	assert.Equal(t, []string{"/new.txt"}, changes.ToAdd)
	assert.Equal(t, []string{"/update.txt"}, changes.ToUpdate)
	assert.Equal(t, []string{"/remove.txt"}, changes.ToRemove)
}

func TestDiff_ListFailureIsFatal(t *testing.T) {
	idx := newFakeIndex()
	idx.listErr = fmt.Errorf("backend unreachable")

	_, err := Diff(context.Background(), map[string]scanner.Entry{}, idx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDiffFailed, errors.GetCode(err))
	assert.True(t, errors.IsFatal(err))
}
