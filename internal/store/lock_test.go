package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLockAndUnlock(t *testing.T) {
	dir := t.TempDir()
	lock := NewFileLock(dir)

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, lock.Unlock())
}

func TestFileLock_UnlockWithoutLockIsSafe(t *testing.T) {
	lock := NewFileLock(t.TempDir())
	assert.NoError(t, lock.Unlock())
	assert.NoError(t, lock.Unlock())
}

func TestFileLock_PathUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	lock := NewFileLock(dir)
	assert.Contains(t, lock.Path(), dir)
}
