package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrCorrupt reports structurally invalid encoded data.
var ErrCorrupt = errors.New("persistence: corrupt data")

// MaxSliceLen bounds length prefixes accepted by Reader.
const MaxSliceLen = 1 << 28

// Writer writes little-endian primitives to an underlying io.Writer.
type Writer struct {
	w   io.Writer
	buf [8]byte
	n   int64
	err error
}

// NewWriter creates a new binary writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (bw *Writer) write(p []byte) {
	if bw.err != nil {
		return
	}
	n, err := bw.w.Write(p)
	bw.n += int64(n)
	bw.err = err
}

// Err returns the first write error.
func (bw *Writer) Err() error { return bw.err }

// Written returns the number of bytes written.
func (bw *Writer) Written() int64 { return bw.n }

func (bw *Writer) Uint8(v uint8) {
	bw.buf[0] = v
	bw.write(bw.buf[:1])
}

func (bw *Writer) Bool(v bool) {
	if v {
		bw.Uint8(1)
		return
	}
	bw.Uint8(0)
}

func (bw *Writer) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(bw.buf[:2], v)
	bw.write(bw.buf[:2])
}

func (bw *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(bw.buf[:4], v)
	bw.write(bw.buf[:4])
}

func (bw *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(bw.buf[:8], v)
	bw.write(bw.buf[:8])
}

func (bw *Writer) Int64(v int64) { bw.Uint64(uint64(v)) }

func (bw *Writer) Float32(v float32) { bw.Uint32(math.Float32bits(v)) }

// Float32s writes vec without a length prefix.
func (bw *Writer) Float32s(vec []float32) {
	if bw.err != nil || len(vec) == 0 {
		return
	}
	out := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	bw.write(out)
}

// Bytes writes a uint32 length prefix followed by b.
func (bw *Writer) Bytes(b []byte) {
	bw.Uint32(uint32(len(b)))
	if len(b) > 0 {
		bw.write(b)
	}
}

// String writes a uint32 length prefix followed by s.
func (bw *Writer) String(s string) {
	bw.Bytes([]byte(s))
}

// Reader reads little-endian primitives from an underlying io.Reader.
type Reader struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewReader creates a new binary reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first read error. A truncated stream is reported as
// io.ErrUnexpectedEOF wrapped in ErrCorrupt.
func (br *Reader) Err() error { return br.err }

func (br *Reader) read(p []byte) bool {
	if br.err != nil {
		return false
	}
	if _, err := io.ReadFull(br.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: %w", ErrCorrupt, io.ErrUnexpectedEOF)
		}
		br.err = err
		return false
	}
	return true
}

// Fail records err unless an error is already set.
func (br *Reader) Fail(err error) {
	if br.err == nil {
		br.err = err
	}
}

func (br *Reader) Uint8() uint8 {
	if !br.read(br.buf[:1]) {
		return 0
	}
	return br.buf[0]
}

func (br *Reader) Bool() bool { return br.Uint8() != 0 }

func (br *Reader) Uint16() uint16 {
	if !br.read(br.buf[:2]) {
		return 0
	}
	return binary.LittleEndian.Uint16(br.buf[:2])
}

func (br *Reader) Uint32() uint32 {
	if !br.read(br.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(br.buf[:4])
}

func (br *Reader) Uint64() uint64 {
	if !br.read(br.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(br.buf[:8])
}

func (br *Reader) Int64() int64 { return int64(br.Uint64()) }

func (br *Reader) Float32() float32 { return math.Float32frombits(br.Uint32()) }

// Float32s reads n float32 values.
func (br *Reader) Float32s(n int) []float32 {
	if n < 0 || n > MaxSliceLen {
		br.Fail(fmt.Errorf("%w: vector length %d", ErrCorrupt, n))
		return nil
	}
	raw := make([]byte, 4*n)
	if !br.read(raw) {
		return nil
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec
}

// Len reads a uint32 count and checks it against limit.
func (br *Reader) Len(limit int) int {
	n := int(br.Uint32())
	if br.err == nil && n > limit {
		br.Fail(fmt.Errorf("%w: length %d exceeds %d", ErrCorrupt, n, limit))
		return 0
	}
	return n
}

// Bytes reads a length-prefixed byte slice.
func (br *Reader) Bytes() []byte {
	n := br.Len(MaxSliceLen)
	if br.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	if !br.read(b) {
		return nil
	}
	return b
}

// String reads a length-prefixed string.
func (br *Reader) String() string {
	return string(br.Bytes())
}
