package docdex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkit/docdex/blobstore"
	"github.com/ragkit/docdex/snapshot"
)

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	cfg := DefaultConfig(4)
	cfg.IndexPath = filepath.Join(t.TempDir(), "docs.idx")

	src := testManager(t, cfg)
	insertN(t, src, 10)
	require.NoError(t, src.ExportSnapshot(ctx, store, "exports/docs-v1.idx"))

	// Export saved first, so the source is clean.
	assert.False(t, src.Stats().Dirty)

	names, err := store.List(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"exports/docs-v1.idx",
		"exports/docs-v1.idx" + snapshot.SidecarSuffix,
	}, names)

	dst := testManager(t, DefaultConfig(4))
	require.NoError(t, dst.ImportSnapshot(ctx, store, "exports/docs-v1.idx"))

	assert.Equal(t, 10, dst.Count())
	assert.Empty(t, dst.IndexPath())
	assert.True(t, dst.Stats().Dirty)

	results, err := dst.Search(ctx, testVector(6), 1)
	require.NoError(t, err)
	assert.Equal(t, "doc-6", results[0].Document.ID)
	assert.Equal(t, "text 6", results[0].Document.Text)
}

func TestExportRequiresIndexPath(t *testing.T) {
	m := testManager(t, DefaultConfig(4))

	err := m.ExportSnapshot(context.Background(), blobstore.NewMemoryStore(), "exports/x.idx")
	require.ErrorIs(t, err, ErrNoIndexPath)
}

func TestExportEmptyName(t *testing.T) {
	m := testManager(t, DefaultConfig(4))

	err := m.ExportSnapshot(context.Background(), blobstore.NewMemoryStore(), "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestImportMissingObject(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, DefaultConfig(4))
	insertN(t, m, 3)

	err := m.ImportSnapshot(ctx, blobstore.NewMemoryStore(), "exports/absent.idx")
	require.ErrorIs(t, err, ErrNotFound)

	// Failed import leaves the state alone.
	assert.Equal(t, 3, m.Count())
}

func TestExportWithUploadLimit(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	cfg := DefaultConfig(4)
	cfg.IndexPath = filepath.Join(t.TempDir(), "docs.idx")

	m := testManager(t, cfg, WithUploadLimit(1<<20, 64<<10))
	insertN(t, m, 5)

	require.NoError(t, m.ExportSnapshot(ctx, store, "throttled.idx"))

	dst := testManager(t, DefaultConfig(4))
	require.NoError(t, dst.ImportSnapshot(ctx, store, "throttled.idx"))
	assert.Equal(t, 5, dst.Count())
}
