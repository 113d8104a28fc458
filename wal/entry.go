package wal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/vecdb/metadata"
	"github.com/hupe1980/vecdb/persistence"
)

// Kind is the operation recorded by an entry.
type Kind uint8

const (
	// KindUpsert inserts or overwrites a record.
	KindUpsert Kind = 1
	// KindDelete tombstones a record.
	KindDelete Kind = 2
	// KindCompact purges tombstones deleted at or before Cutoff.
	KindCompact Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindUpsert:
		return "upsert"
	case KindDelete:
		return "delete"
	case KindCompact:
		return "compact"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Entry is a single logged mutation.
type Entry struct {
	Seq        uint64
	Kind       Kind
	Timestamp  int64
	Collection string
	ID         string
	Vector     []float32
	Metadata   metadata.Document
	Cutoff     int64
}

const (
	frameHeaderSize = 4 + 1 + 8 + 8 + 4

	// MaxPayloadSize bounds a single entry payload.
	MaxPayloadSize = 64 << 20
)

var (
	// ErrCorrupt reports a damaged log: torn frame, checksum mismatch or sequence gap.
	ErrCorrupt = errors.New("wal: corrupt log")

	// ErrPayloadTooLarge is returned when an entry exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("wal: payload too large")
)

// encodeFrame serializes e into a complete frame.
func encodeFrame(e *Entry) ([]byte, error) {
	var payload bytes.Buffer
	pw := persistence.NewWriter(&payload)
	pw.String(e.Collection)
	pw.String(e.ID)
	pw.Uint32(uint32(len(e.Vector)))
	pw.Float32s(e.Vector)

	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("wal: encode metadata: %w", err)
		}
		meta = b
	}
	pw.Bytes(meta)
	pw.Int64(e.Cutoff)
	if err := pw.Err(); err != nil {
		return nil, err
	}
	if payload.Len() > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payload.Len())
	}

	frame := make([]byte, frameHeaderSize+payload.Len())
	frame[4] = byte(e.Kind)
	binary.LittleEndian.PutUint64(frame[5:], e.Seq)
	binary.LittleEndian.PutUint64(frame[13:], uint64(e.Timestamp))
	binary.LittleEndian.PutUint32(frame[21:], uint32(payload.Len()))
	copy(frame[frameHeaderSize:], payload.Bytes())
	binary.LittleEndian.PutUint32(frame[0:], crc32.ChecksumIEEE(frame[4:]))
	return frame, nil
}

// readFrame decodes one frame from r. It returns io.EOF at a clean end of log,
// and ErrCorrupt for torn or damaged frames.
func readFrame(r io.Reader) (*Entry, int64, error) {
	var hdr [frameHeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("%w: torn frame header", ErrCorrupt)
		}
		return nil, 0, err
	}

	size := binary.LittleEndian.Uint32(hdr[21:])
	if size > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: frame length %d", ErrCorrupt, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("%w: torn frame payload", ErrCorrupt)
		}
		return nil, 0, err
	}

	crc := crc32.NewIEEE()
	_, _ = crc.Write(hdr[4:])
	_, _ = crc.Write(payload)
	if want, got := binary.LittleEndian.Uint32(hdr[0:]), crc.Sum32(); want != got {
		return nil, 0, fmt.Errorf("%w: checksum mismatch (0x%08x != 0x%08x)", ErrCorrupt, got, want)
	}

	e := &Entry{
		Kind:      Kind(hdr[4]),
		Seq:       binary.LittleEndian.Uint64(hdr[5:]),
		Timestamp: int64(binary.LittleEndian.Uint64(hdr[13:])),
	}
	switch e.Kind {
	case KindUpsert, KindDelete, KindCompact:
	default:
		return nil, 0, fmt.Errorf("%w: unknown entry kind %d", ErrCorrupt, e.Kind)
	}

	pr := persistence.NewReader(bytes.NewReader(payload))
	e.Collection = pr.String()
	e.ID = pr.String()
	e.Vector = pr.Float32s(pr.Len(persistence.MaxSliceLen))
	meta := pr.Bytes()
	e.Cutoff = pr.Int64()
	if err := pr.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: payload: %w", ErrCorrupt, err)
	}
	if len(e.Vector) == 0 {
		e.Vector = nil
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, 0, fmt.Errorf("%w: metadata: %w", ErrCorrupt, err)
		}
	}

	return e, int64(frameHeaderSize) + int64(size), nil
}
