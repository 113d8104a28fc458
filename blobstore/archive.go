package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	vfs "github.com/hupe1980/vecdb/internal/fs"
	"github.com/hupe1980/vecdb/internal/resource"
)

const (
	// LatestName is the pointer blob naming the newest archived snapshot.
	LatestName = "LATEST"

	// ConfigName is the archived collection descriptor.
	ConfigName = "collection.json"

	snapshotPrefix = "snapshot-"
)

// ArchiveOptions configures an Archive.
type ArchiveOptions struct {
	// Retain is the number of snapshots kept per collection. Values below one keep one.
	Retain int
	// Resources throttles transfers. Nil means unthrottled.
	Resources *resource.Controller
	// FileSystem used for local reads and writes.
	FileSystem vfs.FileSystem
	Logger     *slog.Logger
}

// Archive copies collection snapshots to a Store and restores them.
type Archive struct {
	store Store
	opts  ArchiveOptions
}

// NewArchive returns an archive backed by store.
func NewArchive(store Store, optFns ...func(o *ArchiveOptions)) *Archive {
	opts := ArchiveOptions{Retain: 1, FileSystem: vfs.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Retain < 1 {
		opts.Retain = 1
	}
	if opts.FileSystem == nil {
		opts.FileSystem = vfs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Archive{store: store, opts: opts}
}

// Store returns the underlying blob store.
func (a *Archive) Store() Store { return a.store }

func (a *Archive) putFile(ctx context.Context, name, local string) error {
	f, err := a.opts.FileSystem.OpenFile(local, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return a.store.Put(ctx, name, resource.LimitReader(ctx, f, a.opts.Resources), info.Size())
}

// Upload archives the collection descriptor and the snapshot file, moves the
// LATEST pointer and prunes snapshots beyond the retention.
func (a *Archive) Upload(ctx context.Context, collection, configPath, snapshotPath string) error {
	snapName := filepath.Base(snapshotPath)
	if !strings.HasPrefix(snapName, snapshotPrefix) {
		return fmt.Errorf("blobstore: not a snapshot file: %s", snapshotPath)
	}

	if err := a.putFile(ctx, path.Join(collection, ConfigName), configPath); err != nil {
		return fmt.Errorf("blobstore: upload descriptor: %w", err)
	}
	if err := a.putFile(ctx, path.Join(collection, snapName), snapshotPath); err != nil {
		return fmt.Errorf("blobstore: upload snapshot: %w", err)
	}
	if err := a.store.Put(ctx, path.Join(collection, LatestName), strings.NewReader(snapName), int64(len(snapName))); err != nil {
		return fmt.Errorf("blobstore: update pointer: %w", err)
	}

	a.opts.Logger.Debug("snapshot archived", "collection", collection, "snapshot", snapName)

	return a.prune(ctx, collection)
}

func (a *Archive) prune(ctx context.Context, collection string) error {
	names, err := a.store.List(ctx, path.Join(collection, snapshotPrefix))
	if err != nil {
		return fmt.Errorf("blobstore: list snapshots: %w", err)
	}
	// Zero-padded sequence numbers sort lexically.
	slices.Sort(names)
	if len(names) <= a.opts.Retain {
		return nil
	}

	var errs []error
	for _, name := range names[:len(names)-a.opts.Retain] {
		if err := a.store.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Collections returns the names of collections with a complete archive.
func (a *Archive) Collections(ctx context.Context) ([]string, error) {
	names, err := a.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}

	var out []string
	for _, name := range names {
		dir, base := path.Split(name)
		if base == LatestName && dir != "" {
			out = append(out, strings.TrimSuffix(dir, "/"))
		}
	}
	return out, nil
}

// Latest returns the file name of the newest archived snapshot of collection.
func (a *Archive) Latest(ctx context.Context, collection string) (string, error) {
	rc, err := a.store.Get(ctx, path.Join(collection, LatestName))
	if err != nil {
		return "", err
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, 256))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(b))
	if !strings.HasPrefix(name, snapshotPrefix) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("blobstore: invalid pointer %q for %s", name, collection)
	}
	return name, nil
}

// Restore downloads the descriptor and newest snapshot of collection into dir.
func (a *Archive) Restore(ctx context.Context, collection, dir string) (string, error) {
	snapName, err := a.Latest(ctx, collection)
	if err != nil {
		return "", err
	}

	if err := a.opts.FileSystem.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, name := range []string{snapName, ConfigName} {
		if err := a.getFile(ctx, path.Join(collection, name), filepath.Join(dir, name)); err != nil {
			return "", fmt.Errorf("blobstore: restore %s: %w", name, err)
		}
	}

	a.opts.Logger.Info("collection restored from archive", "collection", collection, "snapshot", snapName)
	return snapName, nil
}

func (a *Archive) getFile(ctx context.Context, name, local string) error {
	rc, err := a.store.Get(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	return vfs.WriteFileAtomic(a.opts.FileSystem, local, func(w io.Writer) error {
		_, err := io.Copy(w, resource.LimitReader(ctx, rc, a.opts.Resources))
		return err
	})
}

// Remove deletes every archived blob of collection.
func (a *Archive) Remove(ctx context.Context, collection string) error {
	names, err := a.store.List(ctx, collection+"/")
	if err != nil {
		return fmt.Errorf("blobstore: list: %w", err)
	}

	// Drop the pointer first so a concurrent restore never follows it into a half-deleted archive.
	slices.SortFunc(names, func(x, y string) int {
		return boolCmp(path.Base(y) == LatestName, path.Base(x) == LatestName)
	})

	var errs []error
	for _, name := range names {
		if err := a.store.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

// ReadAll reads a whole blob.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	rc, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
