// Package snapshot persists an index/document pair as two files: a binary
// index file holding the compressed graph, and a JSON metadata sidecar next
// to it holding documents, parameters and stats. Writes are atomic for the
// pair: readers see either the previous complete snapshot or the new one.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies an index file ("DDX1" little-endian).
const Magic uint32 = 0x31584444

// FormatVersion is bumped on incompatible layout changes.
const FormatVersion uint16 = 1

// headerSize is the fixed prefix of an index file. Unused bytes are zero.
const headerSize = 64

// Compression identifies the payload compression of an index file.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ErrCorrupt marks a snapshot that failed structural validation. Wrapped
// errors carry the detail.
var ErrCorrupt = errors.New("corrupt snapshot")

// Header is the fixed prefix of an index file.
type Header struct {
	Magic       uint32
	Version     uint16
	Compression Compression
	Dimension   uint32
	Count       uint64 // live vectors in the payload
	CreatedAt   int64  // unix seconds
}

// WriteTo writes the fixed-size header.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, headerSize)

	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = byte(h.Compression)
	binary.LittleEndian.PutUint32(buf[8:12], h.Dimension)
	binary.LittleEndian.PutUint64(buf[12:20], h.Count)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.CreatedAt))

	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom reads and validates the fixed-size header.
func (h *Header) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, headerSize)

	n, err := io.ReadFull(r, buf)
	if err != nil {
		return int64(n), fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}

	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Compression = Compression(buf[6])
	h.Dimension = binary.LittleEndian.Uint32(buf[8:12])
	h.Count = binary.LittleEndian.Uint64(buf[12:20])
	h.CreatedAt = int64(binary.LittleEndian.Uint64(buf[20:28]))

	if h.Magic != Magic {
		return int64(n), fmt.Errorf("%w: bad magic 0x%08x", ErrCorrupt, h.Magic)
	}
	if h.Version != FormatVersion {
		return int64(n), fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, h.Version)
	}
	if h.Compression > CompressionLZ4 {
		return int64(n), fmt.Errorf("%w: unknown compression %d", ErrCorrupt, h.Compression)
	}

	return int64(n), nil
}
