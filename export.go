package docdex

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/ragkit/docdex/blobstore"
	"github.com/ragkit/docdex/snapshot"
)

// ExportSnapshot writes a fresh snapshot to the configured index path and
// uploads both files to the object store under name and name plus the
// sidecar suffix. Uploads honor the configured rate limit.
func (m *Manager) ExportSnapshot(ctx context.Context, store blobstore.Store, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if name == "" {
		return fmt.Errorf("%w: export name must not be empty", ErrInvalidArgument)
	}

	if err := m.saveLocked(ctx, m.cfg.IndexPath); err != nil {
		return translateError(err)
	}

	indexPath := m.cfg.IndexPath

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.upload(ctx, store, name, indexPath)
	})
	g.Go(func() error {
		return m.upload(ctx, store, name+snapshot.SidecarSuffix, snapshot.SidecarPath(indexPath))
	})
	if err := g.Wait(); err != nil {
		return err
	}

	m.logger.WithPath(indexPath).Info("snapshot exported", "object", name)
	return nil
}

func (m *Manager) upload(ctx context.Context, store blobstore.Store, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for export: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s for export: %w", path, err)
	}

	var r io.Reader = f
	if m.uploadLimit != nil {
		r = blobstore.NewThrottledReader(ctx, f, m.uploadLimit)
	}

	if err := store.Put(ctx, name, r, info.Size()); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// ImportSnapshot downloads a snapshot pair from the object store and loads
// it, replacing the in-memory state. The configured index path is unchanged
// and the imported state is dirty until the next save. On any error the
// in-memory state is unchanged.
func (m *Manager) ImportSnapshot(ctx context.Context, store blobstore.Store, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if name == "" {
		return fmt.Errorf("%w: import name must not be empty", ErrInvalidArgument)
	}

	dir, err := os.MkdirTemp("", "docdex-import-*")
	if err != nil {
		return fmt.Errorf("create import dir: %w", err)
	}
	defer os.RemoveAll(dir)

	indexPath := filepath.Join(dir, "import.idx")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return download(gctx, store, name, indexPath)
	})
	g.Go(func() error {
		return download(gctx, store, name+snapshot.SidecarSuffix, snapshot.SidecarPath(indexPath))
	})
	if err := g.Wait(); err != nil {
		return translateError(err)
	}

	if err := m.loadLocked(ctx, indexPath); err != nil {
		return translateError(err)
	}

	// The loaded state exists only in the temp dir, which is about to go.
	m.dirty = true

	m.logger.Info("snapshot imported", "object", name, "documents", m.docs.Len())
	return nil
}

func download(ctx context.Context, store blobstore.Store, name, path string) error {
	rc, _, err := store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open object %s: %w", name, err)
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", name, err)
	}
	return f.Close()
}
