package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// ChecksumMismatchError reports a trailing CRC32 that does not match the
// file content.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrCorrupt }

// checksumWriter mirrors everything written into a CRC32 (IEEE) and appends
// the sum on Finish.
type checksumWriter struct {
	w    io.Writer
	hash hash.Hash32
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, hash: crc32.NewIEEE()}
}

func (cw *checksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.hash.Write(p[:n])
	}
	return n, err
}

// Finish writes the 4-byte little-endian checksum of everything written.
func (cw *checksumWriter) Finish() error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], cw.hash.Sum32())

	if _, err := cw.w.Write(buf[:]); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}

// verifyChecksum checks the trailing 4-byte CRC32 of data and returns the
// content without the checksum.
func verifyChecksum(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated checksum", ErrCorrupt)
	}

	content := data[:len(data)-4]
	expected := binary.LittleEndian.Uint32(data[len(data)-4:])
	actual := crc32.ChecksumIEEE(content)

	if expected != actual {
		return nil, &ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return content, nil
}
