package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/vecdb/internal/fs"
)

const (
	headerSize = 24
	version    = 1
)

var magic = [8]byte{'V', 'D', 'B', 'W', 'A', 'L', 0, 1}

var (
	// ErrClosed is returned for operations on a closed log.
	ErrClosed = errors.New("wal: closed")

	// ErrIO is returned when an append could not be made durable after all retries.
	ErrIO = errors.New("wal: storage io error")
)

// Options configures a log.
type Options struct {
	// FileSystem used for all file access. Defaults to the local file system.
	FileSystem fs.FileSystem

	// MaxRetries bounds the retries of a failed append.
	MaxRetries uint64

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns the options used by Open.
func DefaultOptions() Options {
	return Options{
		FileSystem:     fs.Default,
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Logger:         slog.New(slog.DiscardHandler),
	}
}

// Report describes what Open found while scanning the log.
type Report struct {
	// Entries is the number of valid entries in the log.
	Entries int
	// Truncated is set when a damaged tail was cut off.
	Truncated bool
	// TruncatedBytes is the size of the discarded tail.
	TruncatedBytes int64
	// Reason wraps ErrCorrupt when Truncated is set.
	Reason error
}

// WAL is an append-only, checksummed operation log.
type WAL struct {
	mu      sync.Mutex
	opts    Options
	path    string
	file    fs.File
	size    int64
	base    uint64
	lastSeq uint64
	entries int
	report  Report
	closed  bool
}

// Open opens or creates the log at path. A damaged tail is truncated away and
// described by Report.
func Open(path string, optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FileSystem == nil {
		opts.FileSystem = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := opts.FileSystem.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	f, err := opts.FileSystem.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}

	w := &WAL{opts: opts, path: path, file: f}
	if err := w.load(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAL) load() error {
	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat: %w", err)
	}

	if info.Size() == 0 {
		if err := w.writeHeader(w.file, 0); err != nil {
			return err
		}
		if err := fs.Datasync(w.file); err != nil {
			return fmt.Errorf("wal: sync header: %w", err)
		}
		w.size = headerSize
		return nil
	}

	base, err := readHeader(w.file)
	if err != nil {
		return err
	}
	w.base, w.lastSeq = base, base

	if _, err := w.file.Seek(headerSize, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}

	br := bufio.NewReaderSize(w.file, 64<<10)
	offset := int64(headerSize)
	var reason error
	for {
		e, n, err := readFrame(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !errors.Is(err, ErrCorrupt) {
				return fmt.Errorf("wal: scan: %w", err)
			}
			reason = err
			break
		}
		if e.Seq != w.lastSeq+1 {
			reason = fmt.Errorf("%w: sequence gap at %d (expected %d)", ErrCorrupt, e.Seq, w.lastSeq+1)
			break
		}
		w.lastSeq = e.Seq
		w.entries++
		offset += n
	}

	w.size = offset
	w.report = Report{Entries: w.entries}

	if reason != nil || offset < info.Size() {
		if reason == nil {
			reason = fmt.Errorf("%w: trailing bytes", ErrCorrupt)
		}
		w.report.Truncated = true
		w.report.TruncatedBytes = info.Size() - offset
		w.report.Reason = reason

		w.opts.Logger.Warn("wal: truncating damaged tail",
			"path", w.path,
			"offset", offset,
			"bytes", w.report.TruncatedBytes,
			"last_seq", w.lastSeq,
			"reason", reason,
		)
		if err := w.file.Truncate(offset); err != nil {
			return fmt.Errorf("wal: truncate tail: %w", err)
		}
		if err := fs.Datasync(w.file); err != nil {
			return fmt.Errorf("wal: sync truncation: %w", err)
		}
	}
	return nil
}

func (w *WAL) writeHeader(f fs.File, base uint64) error {
	var hdr [headerSize]byte
	copy(hdr[:8], magic[:])
	binary.LittleEndian.PutUint16(hdr[8:], version)
	binary.LittleEndian.PutUint64(hdr[12:], base)
	binary.LittleEndian.PutUint32(hdr[20:], crc32.ChecksumIEEE(hdr[:20]))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek header: %w", err)
	}
	if _, err := f.Write(hdr[:]); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return nil
}

func readHeader(r io.ReaderAt) (uint64, error) {
	var hdr [headerSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: short header", ErrCorrupt)
		}
		return 0, fmt.Errorf("wal: read header: %w", err)
	}
	if [8]byte(hdr[:8]) != magic {
		return 0, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(hdr[8:]); v != version {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	if want, got := binary.LittleEndian.Uint32(hdr[20:]), crc32.ChecksumIEEE(hdr[:20]); want != got {
		return 0, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	return binary.LittleEndian.Uint64(hdr[12:]), nil
}

// Report returns the result of the scan performed by Open.
func (w *WAL) Report() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.report
}

// LastSeq returns the sequence number of the newest durable entry, or Base when
// the log holds no entries.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Base returns the sequence number the log continues from.
func (w *WAL) Base() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base
}

// Len returns the number of entries in the log.
func (w *WAL) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries
}

// Size returns the log size in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Append assigns the next sequence number to e, writes it and waits until it
// is durable. On failure the file is rolled back and the append is retried.
func (w *WAL) Append(ctx context.Context, e *Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	e.Seq = w.lastSeq + 1
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixNano()
	}

	frame, err := encodeFrame(e)
	if err != nil {
		return 0, err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := w.writeFrame(frame)
		if err == nil {
			return nil
		}
		w.opts.Logger.Warn("wal: append failed",
			"path", w.path,
			"seq", e.Seq,
			"attempt", attempt,
			"error", err,
		)
		if rbErr := w.rollback(); rbErr != nil {
			return backoff.Permanent(fmt.Errorf("%w (rollback: %w)", err, rbErr))
		}
		return err
	}

	if err := backoff.Retry(op, w.newBackOff(ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: seq %d after %d attempts: %w", ErrIO, e.Seq, attempt, err)
	}

	w.size += int64(len(frame))
	w.lastSeq = e.Seq
	w.entries++
	return e.Seq, nil
}

func (w *WAL) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.opts.InitialBackoff
	eb.MaxInterval = w.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, w.opts.MaxRetries), ctx)
}

func (w *WAL) writeFrame(frame []byte) error {
	if _, err := w.file.Seek(w.size, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(frame); err != nil {
		return err
	}
	return fs.Datasync(w.file)
}

// rollback discards a partially written frame.
func (w *WAL) rollback() error {
	if err := w.file.Truncate(w.size); err != nil {
		return err
	}
	_, err := w.file.Seek(w.size, io.SeekStart)
	return err
}

// Replay calls fn for every entry with a sequence number greater than after,
// in sequence order.
//
// If after is newer than the log, the log is reset to continue from after.
// If after is older than Base, entries were lost and ErrCorrupt is returned.
func (w *WAL) Replay(after uint64, fn func(e *Entry) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if after < w.base {
		return 0, fmt.Errorf("%w: log starts at %d, snapshot covers only %d", ErrCorrupt, w.base, after)
	}
	if after > w.lastSeq {
		w.opts.Logger.Warn("wal: log behind snapshot, resetting",
			"path", w.path,
			"last_seq", w.lastSeq,
			"snapshot_seq", after,
		)
		if err := w.rewrite(after, nil); err != nil {
			return 0, err
		}
		return 0, nil
	}

	if _, err := w.file.Seek(headerSize, io.SeekStart); err != nil {
		return 0, fmt.Errorf("wal: seek: %w", err)
	}
	r := bufio.NewReaderSize(io.LimitReader(w.file, w.size-headerSize), 64<<10)

	applied := 0
	for {
		e, _, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return applied, fmt.Errorf("wal: replay: %w", err)
		}
		if e.Seq <= after {
			continue
		}
		if err := fn(e); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// TruncateBefore drops every entry with a sequence number up to and including
// seq. The log then continues from seq.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if seq <= w.base {
		return nil
	}
	if seq > w.lastSeq {
		seq = w.lastSeq
	}

	var keep [][]byte
	if _, err := w.file.Seek(headerSize, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	r := bufio.NewReaderSize(io.LimitReader(w.file, w.size-headerSize), 64<<10)
	for {
		e, _, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("wal: truncate: %w", err)
		}
		if e.Seq <= seq {
			continue
		}
		frame, err := encodeFrame(e)
		if err != nil {
			return err
		}
		keep = append(keep, frame)
	}

	return w.rewrite(seq, keep)
}

// rewrite atomically replaces the log with a new file based at base holding frames.
func (w *WAL) rewrite(base uint64, frames [][]byte) error {
	fsys := w.opts.FileSystem

	err := fs.WriteFileAtomic(fsys, w.path, func(out io.Writer) error {
		var hdr [headerSize]byte
		copy(hdr[:8], magic[:])
		binary.LittleEndian.PutUint16(hdr[8:], version)
		binary.LittleEndian.PutUint64(hdr[12:], base)
		binary.LittleEndian.PutUint32(hdr[20:], crc32.ChecksumIEEE(hdr[:20]))
		if _, err := out.Write(hdr[:]); err != nil {
			return err
		}
		for _, f := range frames {
			if _, err := out.Write(f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wal: rewrite: %w", err)
	}

	f, err := fsys.OpenFile(w.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen: %w", err)
	}
	_ = w.file.Close()
	w.file = f

	size := int64(headerSize)
	for _, fr := range frames {
		size += int64(len(fr))
	}
	w.size = size
	w.base = base
	w.entries = len(frames)
	w.lastSeq = base + uint64(len(frames))
	return nil
}

// Close closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
