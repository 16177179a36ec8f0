package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"), WithOutputPaths([]string{"stdout"}))
	require.Error(t, err)
}

func TestNewLoggerCreatesLogDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.log")

	log, err := NewLogger(WithOutputPaths([]string{path}), WithEncoding("console"))
	require.NoError(t, err)
	log.Info("hello", String("k", "v"))
	_ = log.Sync()

	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestTestLoggerSharesEntriesAcrossChildren(t *testing.T) {
	root := NewTestLogger()
	child := root.Named("raster").With(Int("page", 2))
	child.Warn("slow page")
	root.Info("done")

	entries := root.GetEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "raster", entries[0].Logger)
	assert.Equal(t, int64(2), entries[0].FieldMap()["page"])
	assert.Len(t, root.EntriesAt("WARN"), 1)

	root.Clear()
	assert.Empty(t, root.GetEntries())
}

func TestFromContextAddsRunFields(t *testing.T) {
	root := NewTestLogger()
	ctx := WithDocument(WithRunID(context.Background(), "r-1"), "scan")

	FromContext(ctx, root).Info("start")

	fields := root.GetEntries()[0].FieldMap()
	assert.Equal(t, "r-1", fields["run_id"])
	assert.Equal(t, "scan", fields["document"])
}
