package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, _, err := s.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	content := []byte("snapshot bytes")
	require.NoError(t, s.Put(ctx, "exports/docs.idx", bytes.NewReader(content), int64(len(content))))
	require.NoError(t, s.Put(ctx, "exports/docs.idx.metadata.json", strings.NewReader("{}"), 2))
	require.NoError(t, s.Put(ctx, "other/thing", strings.NewReader("x"), 1))

	rc, size, err := s.Open(ctx, "exports/docs.idx")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, content, got)

	names, err := s.List(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/docs.idx", "exports/docs.idx.metadata.json"}, names)

	require.NoError(t, s.Delete(ctx, "exports/docs.idx"))
	require.NoError(t, s.Delete(ctx, "exports/docs.idx")) // idempotent

	_, _, err = s.Open(ctx, "exports/docs.idx")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreOpenIsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "a", strings.NewReader("v1"), 2))

	rc, _, err := s.Open(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a", strings.NewReader("v2"), 2))

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
}

func TestThrottledReader(t *testing.T) {
	// 1 KiB/s with a 256 byte burst: 1 KiB should take most of a second.
	limiter := rate.NewLimiter(1024, 256)
	data := bytes.Repeat([]byte("x"), 1024)

	r := NewThrottledReader(context.Background(), bytes.NewReader(data), limiter)

	start := time.Now()
	got, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Len(t, got, 1024)
	assert.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestThrottledReaderCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	limiter := rate.NewLimiter(1, 1)
	r := NewThrottledReader(ctx, strings.NewReader("abc"), limiter)

	_, err := io.ReadAll(r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context"))
}
