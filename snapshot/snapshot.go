package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/vecdb/internal/fs"
	"github.com/hupe1980/vecdb/internal/resource"
)

const (
	headerSize = 40
	version    = 1

	filePrefix = "snapshot-"
	fileSuffix = ".snap"

	// DefaultRetain is the number of snapshots kept after garbage collection.
	DefaultRetain = 2

	maxRawSize = 1 << 40
)

var magic = [8]byte{'V', 'D', 'B', 'S', 'N', 'A', 'P', 1}

var (
	// ErrCorrupt reports an unreadable or damaged snapshot file.
	ErrCorrupt = errors.New("snapshot: corrupt")

	// ErrNotFound is returned by Load when the directory holds no snapshot.
	ErrNotFound = errors.New("snapshot: not found")
)

// Info describes a snapshot file on disk.
type Info struct {
	Seq  uint64
	Path string
	Size int64
}

// Options configures a Manager.
type Options struct {
	FileSystem  fs.FileSystem
	Compression Compression
	// Retain is the number of newest snapshots kept by GC. Values below one keep one.
	Retain int
	// Resources throttles snapshot IO. Nil means unthrottled.
	Resources *resource.Controller
	Logger    *slog.Logger
}

// Manager writes, loads and garbage collects the snapshots of one directory.
type Manager struct {
	dir  string
	opts Options
}

// NewManager returns a manager for the snapshots stored in dir.
func NewManager(dir string, optFns ...func(o *Options)) *Manager {
	opts := Options{
		FileSystem:  fs.Default,
		Compression: CompressionLZ4,
		Retain:      DefaultRetain,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FileSystem == nil {
		opts.FileSystem = fs.Default
	}
	if opts.Retain < 1 {
		opts.Retain = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{dir: dir, opts: opts}
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.dir }

// FileName returns the file name used for the snapshot at seq.
func FileName(seq uint64) string {
	return fmt.Sprintf("%s%020d%s", filePrefix, seq, fileSuffix)
}

func parseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Write durably stores raw as the snapshot for seq and returns its description.
func (m *Manager) Write(ctx context.Context, seq uint64, raw []byte) (Info, error) {
	if err := m.opts.FileSystem.MkdirAll(m.dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("snapshot: create dir: %w", err)
	}

	body, codec, err := compress(raw, m.opts.Compression)
	if err != nil {
		return Info{}, err
	}

	var hdr [headerSize]byte
	copy(hdr[:8], magic[:])
	binary.LittleEndian.PutUint16(hdr[8:], version)
	hdr[10] = byte(codec)
	binary.LittleEndian.PutUint64(hdr[12:], seq)
	binary.LittleEndian.PutUint64(hdr[20:], uint64(len(raw)))
	binary.LittleEndian.PutUint64(hdr[28:], uint64(len(body)))
	binary.LittleEndian.PutUint32(hdr[36:], crc32.ChecksumIEEE(body))

	path := filepath.Join(m.dir, FileName(seq))
	err = fs.WriteFileAtomic(m.opts.FileSystem, path, func(w io.Writer) error {
		lw := resource.LimitWriter(ctx, w, m.opts.Resources)
		if _, err := lw.Write(hdr[:]); err != nil {
			return err
		}
		_, err := lw.Write(body)
		return err
	})
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: write %s: %w", path, err)
	}

	m.opts.Logger.Debug("snapshot written",
		"path", path,
		"seq", seq,
		"raw_bytes", len(raw),
		"stored_bytes", len(body),
		"compression", codec.String(),
	)

	return Info{Seq: seq, Path: path, Size: int64(headerSize + len(body))}, nil
}

// List returns the snapshots in the directory, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := m.opts.FileSystem.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		info := Info{Seq: seq, Path: filepath.Join(m.dir, e.Name())}
		if fi, err := e.Info(); err == nil {
			info.Size = fi.Size()
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.Seq > b.Seq:
			return -1
		case a.Seq < b.Seq:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

// Load reads the newest snapshot. It returns ErrNotFound when there is none
// and an error wrapping ErrCorrupt when the newest one is damaged.
func (m *Manager) Load(ctx context.Context) (uint64, []byte, error) {
	list, err := m.List()
	if err != nil {
		return 0, nil, err
	}
	if len(list) == 0 {
		return 0, nil, ErrNotFound
	}
	raw, err := m.Read(ctx, list[0].Path)
	if err != nil {
		return 0, nil, err
	}
	return list[0].Seq, raw, nil
}

// Read reads and verifies the snapshot file at path.
func (m *Manager) Read(ctx context.Context, path string) ([]byte, error) {
	f, err := m.opts.FileSystem.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	seq, raw, err := Decode(resource.LimitReader(ctx, f, m.opts.Resources))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", filepath.Base(path), err)
	}
	if want, ok := parseFileName(filepath.Base(path)); ok && want != seq {
		return nil, fmt.Errorf("%w: %s holds seq %d", ErrCorrupt, filepath.Base(path), seq)
	}
	return raw, nil
}

// Decode reads a complete snapshot stream and returns its sequence number and body.
func Decode(r io.Reader) (uint64, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: short header", ErrCorrupt)
		}
		return 0, nil, err
	}
	if [8]byte(hdr[:8]) != magic {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(hdr[8:]); v != version {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	codec := Compression(hdr[10])
	seq := binary.LittleEndian.Uint64(hdr[12:])
	rawLen := binary.LittleEndian.Uint64(hdr[20:])
	bodyLen := binary.LittleEndian.Uint64(hdr[28:])
	sum := binary.LittleEndian.Uint32(hdr[36:])

	if rawLen > maxRawSize || bodyLen > maxRawSize {
		return 0, nil, fmt.Errorf("%w: implausible lengths %d/%d", ErrCorrupt, rawLen, bodyLen)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, int64(bodyLen)))
	if err != nil {
		return 0, nil, err
	}
	if uint64(n) != bodyLen {
		return 0, nil, fmt.Errorf("%w: body truncated (%d of %d bytes)", ErrCorrupt, n, bodyLen)
	}
	body := buf.Bytes()
	if got := crc32.ChecksumIEEE(body); got != sum {
		return 0, nil, fmt.Errorf("%w: checksum mismatch (0x%08x != 0x%08x)", ErrCorrupt, got, sum)
	}

	raw, err := decompress(body, codec, rawLen)
	if err != nil {
		return 0, nil, err
	}
	if uint64(len(raw)) != rawLen {
		return 0, nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrCorrupt, len(raw), rawLen)
	}
	return seq, raw, nil
}

// GC removes all but the newest Retain snapshots and any leftover temporary files.
func (m *Manager) GC() (int, error) {
	list, err := m.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, info := range list[min(m.opts.Retain, len(list)):] {
		if err := m.opts.FileSystem.Remove(info.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if entries, err := m.opts.FileSystem.ReadDir(m.dir); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileSuffix+".tmp") {
				_ = m.opts.FileSystem.Remove(filepath.Join(m.dir, e.Name()))
			}
		}
	}

	if removed > 0 {
		m.opts.Logger.Debug("snapshots collected", "dir", m.dir, "removed", removed)
	}
	return removed, errors.Join(errs...)
}
