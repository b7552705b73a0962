package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// File is the writable-file surface the controller needs.
type File interface {
	io.Writer
	Name() string
	Sync() error
	Close() error
}

// FS abstracts the filesystem operations of the commit protocol so tests can
// inject failures at specific steps.
type FS interface {
	MkdirAll(dir string, perm os.FileMode) error
	CreateTemp(dir, pattern string) (File, error)
	Create(name string) (File, error)
	Open(name string) (io.ReadCloser, error)
	ReadFile(name string) ([]byte, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
	Chmod(name string, mode os.FileMode) error
	SyncDir(dir string) error
}

// OSFS is the real filesystem.
type OSFS struct{}

func (OSFS) MkdirAll(dir string, perm os.FileMode) error  { return os.MkdirAll(dir, perm) }
func (OSFS) CreateTemp(dir, pattern string) (File, error) { return os.CreateTemp(dir, pattern) }
func (OSFS) Create(name string) (File, error)             { return os.Create(name) }
func (OSFS) Open(name string) (io.ReadCloser, error)      { return os.Open(name) }
func (OSFS) ReadFile(name string) ([]byte, error)         { return os.ReadFile(name) }
func (OSFS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) }
func (OSFS) Remove(name string) error                     { return os.Remove(name) }
func (OSFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (OSFS) Chmod(name string, mode os.FileMode) error    { return os.Chmod(name, mode) }

// SyncDir fsyncs a directory so renames within it survive a crash. Windows
// cannot open directories for sync; skipped there.
func (OSFS) SyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}

	d, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
