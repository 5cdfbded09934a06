package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:     "debug",
		FilePath:  filepath.Join(dir, "logs", "siftd.log"),
		MaxSizeMB: 1,
		MaxFiles:  2,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("pipeline_started", slog.Int("folders", 3))
	cleanup()

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"pipeline_started"`)
	assert.Contains(t, string(data), `"folders":3`)
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siftd.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	// Write past the 1MB limit to force a rotation.
	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "expected a rotated file after exceeding the size limit")
}

func TestRotatingWriter_KeepsAtMostMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siftd.log")

	// Pre-create rotated files up to the cap.
	for _, name := range []string{"siftd.log.1", "siftd.log.2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("old"), 0644))
	}

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	chunk := strings.Repeat("y", 256*1024)
	for i := 0; i < 8; i++ {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "files beyond max_files must be deleted")
}

func TestRotatingWriter_FailedRotationDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siftd.log")

	// maxSizeMB 0 makes every write trigger a rotation attempt.
	w, err := NewRotatingWriter(path, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("first"))
	require.NoError(t, err)

	// Pull the directory out from under the writer so rotation fails
	// after it has already closed the current file.
	require.NoError(t, os.RemoveAll(dir))

	assert.NotPanics(t, func() {
		_, err = w.Write([]byte("second"))
		assert.Error(t, err)
		_, err = w.Write([]byte("third"))
		assert.Error(t, err)
	})
}
