package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ragkit/docdex/codec"
)

const (
	tempPattern  = ".tmp-*"
	backupSuffix = ".bak"

	writeBufferSize = 256 * 1024
)

// ContentWriter produces the uncompressed graph payload.
type ContentWriter func(w io.Writer) error

// Options configure a Controller.
type Options struct {
	// FS is the filesystem; override in tests to inject failures.
	FS FS

	// Codec encodes the metadata sidecar.
	Codec codec.Codec

	// Compression applied to the index payload.
	Compression Compression
}

// Controller persists and restores index/sidecar snapshot pairs. A snapshot
// write replaces both files or neither: temp files are built next to the
// destination, existing files are parked as backups, and the backups are
// restored if any placement step fails.
type Controller struct {
	fs          FS
	codec       codec.Codec
	compression Compression
}

// NewController returns a controller writing with zstd compression and the
// default codec.
func NewController(optFns ...func(o *Options)) *Controller {
	opts := Options{
		FS:          OSFS{},
		Codec:       codec.Default,
		Compression: CompressionZstd,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Controller{
		fs:          opts.FS,
		codec:       opts.Codec,
		compression: opts.Compression,
	}
}

// Snapshot is a fully validated on-disk state.
type Snapshot struct {
	Header  Header
	Payload []byte // uncompressed graph bytes
	Sidecar *Sidecar
}

// Write commits a snapshot pair to indexPath and its sidecar. It returns the
// size of the written index file. On error the previous pair, if any, is
// intact.
func (c *Controller) Write(ctx context.Context, indexPath string, dimension uint32, count uint64, payload ContentWriter, side *Sidecar) (int64, error) {
	dir := filepath.Dir(indexPath)
	base := filepath.Base(indexPath)
	sidePath := SidecarPath(indexPath)

	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}

	sideBytes, err := EncodeSidecar(side, c.codec)
	if err != nil {
		return 0, err
	}

	// The temp files are independent; build them concurrently.
	var (
		idxTmp, sideTmp string
		idxSize         int64
	)

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		idxTmp, idxSize, err = c.writeIndexTemp(dir, base, dimension, count, payload)
		return err
	})
	g.Go(func() error {
		var err error
		sideTmp, err = c.writeTemp(dir, filepath.Base(sidePath), sideBytes)
		return err
	})

	if err := g.Wait(); err != nil {
		c.removeTemps(idxTmp, sideTmp)
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		c.removeTemps(idxTmp, sideTmp)
		return 0, err
	}

	if err := c.commit(indexPath, sidePath, idxTmp, sideTmp); err != nil {
		return 0, err
	}

	if err := c.fs.SyncDir(dir); err != nil {
		return 0, err
	}

	return idxSize, nil
}

// Read loads and validates the snapshot pair at indexPath. Checksum, header
// and sidecar failures, and any disagreement between the two files, are
// reported as ErrCorrupt.
func (c *Controller) Read(ctx context.Context, indexPath string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := c.fs.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}

	content, err := verifyChecksum(raw)
	if err != nil {
		return nil, err
	}

	var hdr Header
	if _, err := hdr.ReadFrom(bytes.NewReader(content)); err != nil {
		return nil, err
	}

	payload, err := decompress(hdr.Compression, content[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
	}

	sideRaw, err := c.fs.ReadFile(SidecarPath(indexPath))
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}

	side, err := DecodeSidecar(sideRaw, c.codec)
	if err != nil {
		return nil, err
	}

	if side.Dimension != int(hdr.Dimension) {
		return nil, fmt.Errorf("%w: dimension disagreement: index %d, sidecar %d", ErrCorrupt, hdr.Dimension, side.Dimension)
	}
	if hdr.Count != uint64(len(side.Documents)) {
		return nil, fmt.Errorf("%w: count disagreement: index %d, sidecar %d", ErrCorrupt, hdr.Count, len(side.Documents))
	}

	return &Snapshot{Header: hdr, Payload: payload, Sidecar: side}, nil
}

// Remove deletes the snapshot pair at indexPath. Missing files are not an
// error.
func (c *Controller) Remove(indexPath string) error {
	if err := c.fs.Remove(indexPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove index file: %w", err)
	}
	if err := c.fs.Remove(SidecarPath(indexPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar: %w", err)
	}
	return nil
}

// Exists reports whether an index file is present at indexPath.
func (c *Controller) Exists(indexPath string) bool {
	_, err := c.fs.Stat(indexPath)
	return err == nil
}

func (c *Controller) writeIndexTemp(dir, base string, dimension uint32, count uint64, payload ContentWriter) (string, int64, error) {
	f, err := c.fs.CreateTemp(dir, base+tempPattern)
	if err != nil {
		return "", 0, fmt.Errorf("create index temp: %w", err)
	}
	name := f.Name()

	if err := c.writeIndexContent(f, dimension, count, payload); err != nil {
		f.Close()
		c.fs.Remove(name)
		return "", 0, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		c.fs.Remove(name)
		return "", 0, fmt.Errorf("sync index temp: %w", err)
	}
	if err := f.Close(); err != nil {
		c.fs.Remove(name)
		return "", 0, fmt.Errorf("close index temp: %w", err)
	}
	if err := c.fs.Chmod(name, 0o644); err != nil {
		c.fs.Remove(name)
		return "", 0, fmt.Errorf("chmod index temp: %w", err)
	}

	info, err := c.fs.Stat(name)
	if err != nil {
		c.fs.Remove(name)
		return "", 0, fmt.Errorf("stat index temp: %w", err)
	}

	return name, info.Size(), nil
}

func (c *Controller) writeIndexContent(f File, dimension uint32, count uint64, payload ContentWriter) error {
	bw := bufio.NewWriterSize(f, writeBufferSize)
	cw := newChecksumWriter(bw)

	hdr := Header{
		Magic:       Magic,
		Version:     FormatVersion,
		Compression: c.compression,
		Dimension:   dimension,
		Count:       count,
		CreatedAt:   time.Now().Unix(),
	}
	if _, err := hdr.WriteTo(cw); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	zw, err := compressor(c.compression, cw)
	if err != nil {
		return err
	}
	if err := payload(zw); err != nil {
		zw.Close()
		return fmt.Errorf("write payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush compressor: %w", err)
	}

	if err := cw.Finish(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush index temp: %w", err)
	}

	return nil
}

func (c *Controller) writeTemp(dir, base string, data []byte) (string, error) {
	f, err := c.fs.CreateTemp(dir, base+tempPattern)
	if err != nil {
		return "", fmt.Errorf("create sidecar temp: %w", err)
	}
	name := f.Name()

	fail := func(step string, err error) (string, error) {
		f.Close()
		c.fs.Remove(name)
		return "", fmt.Errorf("%s sidecar temp: %w", step, err)
	}

	if _, err := f.Write(data); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		c.fs.Remove(name)
		return "", fmt.Errorf("close sidecar temp: %w", err)
	}
	if err := c.fs.Chmod(name, 0o644); err != nil {
		c.fs.Remove(name)
		return "", fmt.Errorf("chmod sidecar temp: %w", err)
	}

	return name, nil
}

// commit atomically swaps the temp pair into place. Existing files are
// parked with a backup suffix first and restored when any later step fails.
func (c *Controller) commit(indexPath, sidePath, idxTmp, sideTmp string) error {
	idxBak, err := c.park(indexPath)
	if err != nil {
		c.removeTemps(idxTmp, sideTmp)
		return fmt.Errorf("park index file: %w", err)
	}

	sideBak, err := c.park(sidePath)
	if err != nil {
		c.restore(idxBak, indexPath)
		c.removeTemps(idxTmp, sideTmp)
		return fmt.Errorf("park sidecar: %w", err)
	}

	if err := c.place(idxTmp, indexPath); err != nil {
		c.restore(idxBak, indexPath)
		c.restore(sideBak, sidePath)
		c.removeTemps(idxTmp, sideTmp)
		return fmt.Errorf("place index file: %w", err)
	}

	if err := c.place(sideTmp, sidePath); err != nil {
		c.fs.Remove(indexPath)
		c.restore(idxBak, indexPath)
		c.restore(sideBak, sidePath)
		c.removeTemps(sideTmp)
		return fmt.Errorf("place sidecar: %w", err)
	}

	if idxBak != "" {
		c.fs.Remove(idxBak)
	}
	if sideBak != "" {
		c.fs.Remove(sideBak)
	}

	return nil
}

// park moves an existing file aside and returns the backup name, or "" when
// the file does not exist.
func (c *Controller) park(path string) (string, error) {
	if _, err := c.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	bak := path + backupSuffix
	if err := c.fs.Rename(path, bak); err != nil {
		return "", err
	}
	return bak, nil
}

func (c *Controller) restore(bak, path string) {
	if bak == "" {
		return
	}
	c.fs.Rename(bak, path)
}

// place moves a temp file to its destination, falling back to copy plus
// delete when rename is not available across the two paths.
func (c *Controller) place(tmp, dst string) error {
	if err := c.fs.Rename(tmp, dst); err == nil {
		return nil
	}

	in, err := c.fs.Open(tmp)
	if err != nil {
		return fmt.Errorf("open temp for copy: %w", err)
	}
	defer in.Close()

	out, err := c.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		c.fs.Remove(dst)
		return fmt.Errorf("copy to destination: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		c.fs.Remove(dst)
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		c.fs.Remove(dst)
		return fmt.Errorf("close destination: %w", err)
	}

	c.fs.Remove(tmp)
	return nil
}

func (c *Controller) removeTemps(names ...string) {
	for _, name := range names {
		if name != "" {
			c.fs.Remove(name)
		}
	}
}

func compressor(compression Compression, w io.Writer) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("init zstd writer: %w", err)
		}
		return zw, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", compression)
	}
}

func decompress(compression Compression, data []byte) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unknown compression %d", compression)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
