package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/logging"
)

func TestDebouncer_FiresOnceAfterQuietWindow(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	// A burst of events within the window collapses to one trigger.
	for i := 0; i < 10; i++ {
		d.Bump()
		time.Sleep(time.Millisecond)
	}

	assert.Eventually(t, func() bool { return fires.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// No further trigger without new events.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fires.Load())
}

func TestDebouncer_EventRestartsWindow(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(40*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	d.Bump()
	time.Sleep(25 * time.Millisecond)
	// Still inside the window, restart it.
	d.Bump()
	time.Sleep(25 * time.Millisecond)

	assert.Zero(t, fires.Load(), "window restarted, must not have fired yet")

	assert.Eventually(t, func() bool { return fires.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestDebouncer_StopCancelsPendingTrigger(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fires.Add(1) })

	d.Bump()
	d.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fires.Load())

	// Bump after Stop is a no-op.
	d.Bump()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fires.Load())
}

func startWatcher(t *testing.T, folders []config.Folder, fires *atomic.Int32) {
	t.Helper()
	w, err := New(20*time.Millisecond, func() { fires.Add(1) }, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	w.Watch(folders)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()
}

func TestWatcher_FileChangeFiresTrigger(t *testing.T) {
	dir := t.TempDir()
	var fires atomic.Int32
	startWatcher(t, []config.Folder{{Path: dir, Recursive: true, Watch: true}}, &fires)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return fires.Load() >= 1 },
		3*time.Second, 10*time.Millisecond)
}

func TestWatcher_BurstCollapsesToOneTrigger(t *testing.T) {
	dir := t.TempDir()
	var fires atomic.Int32
	startWatcher(t, []config.Folder{{Path: dir, Recursive: true, Watch: true}}, &fires)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte{byte(i)}, 0o644))
	}

	require.Eventually(t, func() bool { return fires.Load() >= 1 },
		3*time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fires.Load(), "a quick burst fires a single trigger")
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	var fires atomic.Int32
	startWatcher(t, []config.Folder{{Path: dir, Recursive: true, Watch: true}}, &fires)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Wait for the mkdir trigger, then verify changes inside the new
	// directory are seen too.
	require.Eventually(t, func() bool { return fires.Load() >= 1 },
		3*time.Second, 10*time.Millisecond)
	before := fires.Load()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return fires.Load() > before },
		3*time.Second, 10*time.Millisecond)
}

func TestWatcher_UnwatchedFolderIsIgnored(t *testing.T) {
	watched := t.TempDir()
	unwatched := t.TempDir()
	var fires atomic.Int32
	startWatcher(t, []config.Folder{
		{Path: watched, Recursive: true, Watch: true},
		{Path: unwatched, Recursive: true, Watch: false},
	}, &fires)

	require.NoError(t, os.WriteFile(filepath.Join(unwatched, "a.txt"), []byte("x"), 0o644))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fires.Load())
}

func TestWatcher_MissingFolderDoesNotFail(t *testing.T) {
	var fires atomic.Int32
	w, err := New(20*time.Millisecond, func() { fires.Add(1) }, logging.Discard())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	w.Watch([]config.Folder{{Path: "/does/not/exist", Recursive: true, Watch: true}})
}
