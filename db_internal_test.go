package vecdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusyCollectionDoesNotStallOthers(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, t.TempDir(), WithWorkers(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.CreateCollection(ctx, "coll-a", 2, MetricEuclidean))
	require.NoError(t, db.CreateCollection(ctx, "coll-b", 2, MetricEuclidean))

	// Hold the only background job slot so snapshots of coll-a park on its workers.
	require.NoError(t, db.resources.AcquireJob(ctx))
	released := false
	release := func() {
		if !released {
			released = true
			db.resources.ReleaseJob()
		}
	}
	t.Cleanup(release)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Snapshot(ctx, "coll-a")
			assert.NoError(t, err)
		}()
	}

	a, err := db.get("coll-a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.Pending() >= 2 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := db.Upsert(ctx, "coll-b", "x", []float32{1, 2}, nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("upsert on coll-b blocked behind coll-a")
	}

	n, err := db.Count(ctx, "coll-b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	release()
	wg.Wait()
}
