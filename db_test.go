package vecdb_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecdb"
	"github.com/hupe1980/vecdb/blobstore"
	"github.com/hupe1980/vecdb/metadata"
)

func openDB(t *testing.T, root string, opts ...vecdb.Option) *vecdb.DB {
	t.Helper()
	db, err := vecdb.Open(context.Background(), root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDocsScenario(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())

	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))

	_, err := db.Upsert(ctx, "docs", "1", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	_, err = db.Upsert(ctx, "docs", "2", []float32{0, 1, 0}, nil)
	require.NoError(t, err)

	results, err := db.Query(ctx, "docs", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	db := openDB(t, root)

	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine, vecdb.WithM(8), vecdb.WithEF(32)))
	require.NoError(t, db.CreateCollection(ctx, "images", 2, vecdb.MetricEuclidean))

	err := db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine)
	require.ErrorIs(t, err, vecdb.ErrAlreadyExists)

	err = db.CreateCollection(ctx, "x", 3, vecdb.MetricCosine)
	require.ErrorIs(t, err, vecdb.ErrInvalidArgument)
	err = db.CreateCollection(ctx, "bad", 0, vecdb.MetricCosine)
	require.ErrorIs(t, err, vecdb.ErrInvalidArgument)

	assert.Equal(t, []string{"docs", "images"}, db.ListCollections())

	info, err := db.Collection("docs")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Dimension)
	assert.Equal(t, vecdb.MetricCosine, info.Metric)
	assert.Equal(t, 8, info.M)
	assert.Equal(t, 32, info.EF)
	assert.FileExists(t, filepath.Join(root, "docs", "collection.json"))

	require.NoError(t, db.DropCollection(ctx, "docs"))
	assert.NoDirExists(t, filepath.Join(root, "docs"))
	assert.Equal(t, []string{"images"}, db.ListCollections())

	err = db.DropCollection(ctx, "docs")
	require.ErrorIs(t, err, vecdb.ErrNotFound)
	_, err = db.Collection("docs")
	require.ErrorIs(t, err, vecdb.ErrNotFound)

	require.NoError(t, db.CreateCollection(ctx, "docs", 4, vecdb.MetricDot))
	info, err = db.Collection("docs")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Dimension)
	assert.Zero(t, info.Count)
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))

	_, err := db.Upsert(ctx, "missing", "a", []float32{1, 0, 0}, nil)
	require.ErrorIs(t, err, vecdb.ErrNotFound)

	_, err = db.Upsert(ctx, "docs", "a", []float32{1, 0}, nil)
	require.ErrorIs(t, err, &vecdb.ErrDimensionMismatch{})
	var dm *vecdb.ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, err = db.Upsert(ctx, "docs", "a", []float32{0, 0, 0}, nil)
	require.ErrorIs(t, err, vecdb.ErrZeroVector)

	_, err = db.Upsert(ctx, "docs", "a", []float32{1, float32(math.NaN()), 0}, nil)
	require.ErrorIs(t, err, vecdb.ErrInvalidArgument)
	_, err = db.Query(ctx, "docs", []float32{float32(math.Inf(-1)), 0, 0}, 1)
	require.ErrorIs(t, err, vecdb.ErrInvalidArgument)

	_, err = db.Query(ctx, "docs", []float32{1, 0, 0, 0}, 1)
	require.ErrorIs(t, err, &vecdb.ErrDimensionMismatch{})

	_, err = db.Query(ctx, "docs", []float32{1, 0, 0}, 0)
	require.ErrorIs(t, err, vecdb.ErrInvalidArgument)

	err = db.Delete(ctx, "docs", "nope")
	require.ErrorIs(t, err, vecdb.ErrNotFound)

	_, err = db.GetRecord(ctx, "docs", "nope")
	require.ErrorIs(t, err, vecdb.ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = db.Upsert(cancelled, "docs", "a", []float32{1, 0, 0}, nil)
	require.ErrorIs(t, err, vecdb.ErrCancelled)
	_, err = db.Query(cancelled, "docs", []float32{1, 0, 0}, 1)
	require.ErrorIs(t, err, vecdb.ErrCancelled)

	err = db.Reset(ctx)
	require.ErrorIs(t, err, vecdb.ErrResetDisabled)
}

func TestUpsertDeleteQuery(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricEuclidean))

	id, err := db.Upsert(ctx, "docs", "", []float32{1, 2, 3}, metadata.Document{"lang": metadata.String("en")})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	rec, err := db.GetRecord(ctx, "docs", id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, rec.Vector)
	assert.Equal(t, "en", rec.Metadata["lang"].S)

	_, err = db.Upsert(ctx, "docs", "b", []float32{0, 0, 0}, metadata.Document{"lang": metadata.String("de")})
	require.NoError(t, err)

	results, err := db.Query(ctx, "docs", []float32{0, 0, 0}, 10, func(o *vecdb.QueryOptions) {
		o.IncludeVectors = true
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, []float32{0, 0, 0}, results[0].Vector)

	results, err = db.Query(ctx, "docs", []float32{0, 0, 0}, 10, func(o *vecdb.QueryOptions) {
		o.Filter = metadata.NewFilterSet(metadata.Eq("lang", metadata.String("en")))
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)

	require.NoError(t, db.Delete(ctx, "docs", "b"))
	results, err = db.Query(ctx, "docs", []float32{0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)

	n, err := db.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReopenRecoversState(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	db, err := vecdb.Open(ctx, root)
	require.NoError(t, err)
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	require.NoError(t, db.CreateCollection(ctx, "notes", 2, vecdb.MetricDot))
	for i := 0; i < 20; i++ {
		_, err := db.Upsert(ctx, "docs", fmt.Sprintf("d%02d", i), []float32{1, float32(i), 0.5}, nil)
		require.NoError(t, err)
	}
	_, err = db.Upsert(ctx, "notes", "n", []float32{1, 1}, nil)
	require.NoError(t, err)

	before, err := db.Query(ctx, "docs", []float32{1, 3, 0.5}, 5)
	require.NoError(t, err)

	_, err = db.Snapshot(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, db.Delete(ctx, "docs", "d03"))
	require.NoError(t, db.Close())

	_, err = db.Query(ctx, "docs", []float32{1, 3, 0.5}, 5)
	require.ErrorIs(t, err, vecdb.ErrClosed)

	metrics := &vecdb.BasicMetricsCollector{}
	db2 := openDB(t, root, vecdb.WithMetricsCollector(metrics))
	assert.Equal(t, []string{"docs", "notes"}, db2.ListCollections())
	assert.Equal(t, int64(2), metrics.GetStats().RecoveredEntries)

	after, err := db2.Query(ctx, "docs", []float32{1, 3, 0.5}, 5)
	require.NoError(t, err)
	want := make([]string, 0, 4)
	for _, r := range before {
		if r.ID != "d03" {
			want = append(want, r.ID)
		}
	}
	got := make([]string, 0, len(after))
	for _, r := range after {
		got = append(got, r.ID)
	}
	assert.Equal(t, want, got[:len(want)])

	n, err := db2.Count(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTornWALTailIsRecovered(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	db, err := vecdb.Open(ctx, root)
	require.NoError(t, err)
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	for _, id := range []string{"a", "b", "c"} {
		_, err := db.Upsert(ctx, "docs", id, []float32{1, 0, 1}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	walPath := filepath.Join(root, "docs", "wal.log")
	fi, err := os.Stat(walPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(walPath, fi.Size()-1))

	metrics := &vecdb.BasicMetricsCollector{}
	db2 := openDB(t, root, vecdb.WithMetricsCollector(metrics))
	n, err := db2.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(1), metrics.GetStats().TruncatedLogs)

	_, err = db2.GetRecord(ctx, "docs", "c")
	require.ErrorIs(t, err, vecdb.ErrNotFound)
}

func TestCorruptSnapshotFailsOpen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	db, err := vecdb.Open(ctx, root)
	require.NoError(t, err)
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	_, err = db.Upsert(ctx, "docs", "a", []float32{1, 0, 1}, nil)
	require.NoError(t, err)
	info, err := db.Snapshot(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, os.WriteFile(info.Path, []byte("garbage"), 0o644))

	_, err = vecdb.Open(ctx, root)
	require.ErrorIs(t, err, vecdb.ErrCorruptLog)
}

func TestInMemoryMode(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "unused")
	db := openDB(t, root, vecdb.WithPersistence(false))

	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	_, err := db.Upsert(ctx, "docs", "a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)

	info, err := db.Snapshot(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, info.Seq)
	assert.NoDirExists(t, root)
}

func TestResetAndCompact(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	db := openDB(t, root, vecdb.WithAllowReset(true))

	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	for _, id := range []string{"a", "b", "c"} {
		_, err := db.Upsert(ctx, "docs", id, []float32{1, 1, 0}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, db.Delete(ctx, "docs", "b"))

	purged, err := db.Compact(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	info, err := db.Collection("docs")
	require.NoError(t, err)
	assert.Zero(t, info.Tombstones)
	assert.Equal(t, 2, info.IndexNodes)

	require.NoError(t, db.Reset(ctx))
	assert.Empty(t, db.ListCollections())
	assert.NoDirExists(t, filepath.Join(root, "docs"))
}

func TestTelemetryToggle(t *testing.T) {
	ctx := context.Background()
	metrics := &vecdb.BasicMetricsCollector{}
	db := openDB(t, t.TempDir(), vecdb.WithMetricsCollector(metrics), vecdb.WithTelemetry(false))

	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	_, err := db.Upsert(ctx, "docs", "a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	assert.Zero(t, metrics.GetStats().UpsertCount)

	metrics2 := &vecdb.BasicMetricsCollector{}
	db2 := openDB(t, t.TempDir(), vecdb.WithMetricsCollector(metrics2))
	require.NoError(t, db2.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	_, err = db2.Upsert(ctx, "docs", "a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	_, err = db2.Query(ctx, "docs", []float32{1, 0, 0}, 1)
	require.NoError(t, err)

	stats := metrics2.GetStats()
	assert.Equal(t, int64(1), stats.UpsertCount)
	assert.Equal(t, int64(1), stats.QueryCount)
}

func TestMemoryLimit(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir(), vecdb.WithResourceLimits(vecdb.ResourceLimits{MemoryLimitBytes: 3 * 4}))
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))

	_, err := db.Upsert(ctx, "docs", "a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	_, err = db.Upsert(ctx, "docs", "b", []float32{0, 1, 0}, nil)
	require.ErrorIs(t, err, vecdb.ErrResourceExhausted)
}

func TestArchiveRestore(t *testing.T) {
	ctx := context.Background()
	archive := blobstore.NewArchive(blobstore.NewMemoryStore())

	db, err := vecdb.Open(ctx, t.TempDir(), vecdb.WithArchive(archive, true))
	require.NoError(t, err)
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	_, err = db.Upsert(ctx, "docs", "a", []float32{1, 0, 0}, metadata.Document{"k": metadata.Bool(true)})
	require.NoError(t, err)
	_, err = db.Snapshot(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	names, err := archive.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names)

	fresh := openDB(t, t.TempDir(), vecdb.WithArchive(archive, true))
	rec, err := fresh.GetRecord(ctx, "docs", "a")
	require.NoError(t, err)
	assert.True(t, rec.Metadata["k"].B)

	require.NoError(t, fresh.DropCollection(ctx, "docs"))
	names, err = archive.Collections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestConcurrentCollectionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir(), vecdb.WithWorkers(4))

	names := []string{"c-one", "c-two", "c-three", "c-four"}
	for _, name := range names {
		require.NoError(t, db.CreateCollection(ctx, name, 4, vecdb.MetricEuclidean))
	}

	var wg sync.WaitGroup
	for ci, name := range names {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				vec := []float32{float32(ci), float32(i), 1, 1}
				_, err := db.Upsert(ctx, name, fmt.Sprintf("%s-%d", name, i), vec, nil)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := db.Query(ctx, name, []float32{1, 1, 1, 1}, 3)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, name := range names {
		n, err := db.Count(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, 50, n)

		results, err := db.Query(ctx, name, []float32{0, 0, 1, 1}, 50)
		require.NoError(t, err)
		for _, r := range results {
			assert.Contains(t, r.ID, name)
		}
	}
}

func TestNoGoroutineLeaks(t *testing.T) {
	ctx := context.Background()
	before := runtime.NumGoroutine()

	db, err := vecdb.Open(ctx, t.TempDir(),
		vecdb.WithWorkers(4),
		vecdb.WithSnapshotEvery(5),
		vecdb.WithSnapshotInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine))
	for i := 0; i < 20; i++ {
		_, err := db.Upsert(ctx, "docs", fmt.Sprintf("r%d", i), []float32{1, float32(i), 0}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 10*time.Millisecond)
}
