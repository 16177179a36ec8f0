package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

func TestPublisherStoresUnderPrefix(t *testing.T) {
	root := t.TempDir()
	st, err := NewStorage(context.Background(), StorageTypeLocal, Options{LocalDir: root}, logger.NewTestLogger())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "report_final.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF final"), 0o644))

	pub := NewPublisher(st, "searchable/2024", logger.NewTestLogger())
	key, err := pub.Publish(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "searchable/2024/report_final.pdf", key)

	rc, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF final", string(body))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	st, err := NewStorage(context.Background(), StorageTypeLocal, Options{LocalDir: t.TempDir()}, logger.NewTestLogger())
	require.NoError(t, err)
	_, err = st.Store(context.Background(), strings.NewReader("x"), "../outside.pdf")
	assert.Error(t, err)
}

func TestLocalStorageCleanupAndDelete(t *testing.T) {
	root := t.TempDir()
	st, err := NewStorage(context.Background(), StorageTypeLocal, Options{LocalDir: root}, logger.NewTestLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = st.Store(ctx, strings.NewReader("old"), "a/old.pdf")
	require.NoError(t, err)
	_, err = st.Store(ctx, strings.NewReader("new"), "a/new.pdf")
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a", "old.pdf"), past, past))

	_, err = st.Store(ctx, strings.NewReader("other"), "b/old.pdf")
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(filepath.Join(root, "b", "old.pdf"), past, past))

	require.NoError(t, st.CleanupBefore(ctx, "a/", time.Now().Add(-24*time.Hour)))
	_, err = os.Stat(filepath.Join(root, "a", "old.pdf"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "b", "old.pdf"))
	assert.NoError(t, err, "objects outside the prefix are kept")
	require.NoError(t, st.CleanupBefore(ctx, "missing/", time.Now()))

	require.NoError(t, st.Delete(ctx, "a/new.pdf"))
	require.NoError(t, st.Delete(ctx, "a/new.pdf"), "deleting twice is fine")
}

func TestNewStorageUnknownType(t *testing.T) {
	_, err := NewStorage(context.Background(), "ftp", Options{}, logger.NewTestLogger())
	assert.Error(t, err)
}

func TestPublisherPruneKeepsRecentDocuments(t *testing.T) {
	root := t.TempDir()
	st, err := NewStorage(context.Background(), StorageTypeLocal, Options{LocalDir: root}, logger.NewTestLogger())
	require.NoError(t, err)
	ctx := context.Background()
	pub := NewPublisher(st, "searchable/", logger.NewTestLogger())

	for _, name := range []string{"old_final.pdf", "new_final.pdf"} {
		src := filepath.Join(t.TempDir(), name)
		require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o644))
		_, err := pub.Publish(ctx, src)
		require.NoError(t, err)
	}
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "searchable", "old_final.pdf"), past, past))

	require.NoError(t, pub.Prune(ctx, 48*time.Hour))
	_, err = os.Stat(filepath.Join(root, "searchable", "old_final.pdf"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "searchable", "new_final.pdf"))
	assert.NoError(t, err)
}
