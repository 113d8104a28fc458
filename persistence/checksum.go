package persistence

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// Checksum returns the CRC32 (IEEE) checksum of data.
//
// CRC32 detects accidental corruption only; it offers no tamper protection.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// ChecksumWriter wraps an io.Writer and computes a running CRC32 checksum.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash32
}

// NewChecksumWriter creates a new checksumming writer.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, hash: crc32.NewIEEE()}
}

// Write implements io.Writer.
func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	_, _ = cw.hash.Write(p[:n])
	return n, err
}

// Sum returns the checksum of everything written so far.
func (cw *ChecksumWriter) Sum() uint32 { return cw.hash.Sum32() }

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrCorrupt) match checksum failures.
func (e *ChecksumMismatchError) Unwrap() error { return ErrCorrupt }

// VerifyChecksum compares the checksum of data against expected.
func VerifyChecksum(data []byte, expected uint32) error {
	if actual := Checksum(data); actual != expected {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
