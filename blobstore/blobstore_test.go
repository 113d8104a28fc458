package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecdb/internal/resource"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "docs/a", strings.NewReader("alpha"), 5))
			require.NoError(t, s.Put(ctx, "docs/b", strings.NewReader("beta"), 4))
			require.NoError(t, s.Put(ctx, "other/c", strings.NewReader("gamma"), -1))

			data, err := ReadAll(ctx, s, "docs/a")
			require.NoError(t, err)
			assert.Equal(t, "alpha", string(data))

			names, err := s.List(ctx, "docs/")
			require.NoError(t, err)
			assert.Equal(t, []string{"docs/a", "docs/b"}, names)

			require.NoError(t, s.Put(ctx, "docs/a", strings.NewReader("again"), 5))
			data, err = ReadAll(ctx, s, "docs/a")
			require.NoError(t, err)
			assert.Equal(t, "again", string(data))

			require.NoError(t, s.Delete(ctx, "docs/a"))
			require.NoError(t, s.Delete(ctx, "docs/a"))
			_, err = s.Get(ctx, "docs/a")
			require.ErrorIs(t, err, ErrNotFound)

			err = s.Put(ctx, "docs/short", strings.NewReader("abc"), 10)
			require.Error(t, err)
		})
	}
}

func TestLocalStoreListMissingRoot(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestArchiveUploadRestore(t *testing.T) {
	ctx := context.Background()
	local := t.TempDir()
	store := NewMemoryStore()
	rc := resource.NewController(resource.Config{IOBytesPerSec: 1 << 20})
	a := NewArchive(store, func(o *ArchiveOptions) {
		o.Retain = 2
		o.Resources = rc
	})

	cfg := writeFile(t, local, ConfigName, `{"name":"docs"}`)
	for i, snap := range []string{"snapshot-00000000000000000001.snap", "snapshot-00000000000000000002.snap", "snapshot-00000000000000000010.snap"} {
		p := writeFile(t, local, snap, strings.Repeat("x", i+1))
		require.NoError(t, a.Upload(ctx, "docs", cfg, p))
	}

	names, err := store.List(ctx, "docs/snapshot-")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/snapshot-00000000000000000002.snap", "docs/snapshot-00000000000000000010.snap"}, names)

	cols, err := a.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, cols)

	latest, err := a.Latest(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-00000000000000000010.snap", latest)

	target := filepath.Join(t.TempDir(), "docs")
	got, err := a.Restore(ctx, "docs", target)
	require.NoError(t, err)
	assert.Equal(t, latest, got)

	data, err := os.ReadFile(filepath.Join(target, latest))
	require.NoError(t, err)
	assert.Equal(t, "xxx", string(data))
	data, err = os.ReadFile(filepath.Join(target, ConfigName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"docs"}`, string(data))

	require.NoError(t, a.Remove(ctx, "docs"))
	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = a.Restore(ctx, "docs", target)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveRejectsBadPointer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "docs/LATEST", strings.NewReader("../../etc/passwd"), -1))

	_, err := NewArchive(store).Latest(ctx, "docs")
	require.Error(t, err)
}

func TestArchiveUploadRejectsNonSnapshot(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "wal.log", "x")
	err := NewArchive(NewMemoryStore()).Upload(context.Background(), "docs", p, p)
	require.Error(t, err)
}
