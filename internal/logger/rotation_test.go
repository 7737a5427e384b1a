package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriterCreatesDirectory(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "subdir", "test.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)

	chunk := []byte(strings.Repeat("x", 700*1024))
	_, err = rw.Write(chunk)
	require.NoError(t, err)
	_, err = rw.Write(chunk)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	matches, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestRotatingWriterCompresses(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, true)
	require.NoError(t, err)

	chunk := []byte(strings.Repeat("y", 700*1024))
	_, _ = rw.Write(chunk)
	_, _ = rw.Write(chunk)
	require.NoError(t, rw.Close())

	matches, err := filepath.Glob(logFile + ".*.gz")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRotatingWriterCleanup(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")
	old := logFile + ".20200101-000000.000"

	require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriterClosed(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "c.log"), 1, 0, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.Error(t, err)
}
