package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecdb"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(labels...).Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.RecordUpsert("docs", time.Millisecond, nil)
	c.RecordQuery("docs", 10, time.Millisecond, nil)
	c.RecordSnapshot("docs", 1024, time.Millisecond, nil)
	c.RecordRecovery("docs", 3, true, time.Millisecond)
	c.SetCollectionSize("docs", 7)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"vecdb_operations_total",
		"vecdb_operation_duration_seconds",
		"vecdb_query_k",
		"vecdb_snapshot_bytes",
		"vecdb_recovered_entries_total",
		"vecdb_wal_truncations_total",
		"vecdb_collection_records",
	} {
		assert.True(t, names[want], "metric %q not registered", want)
	}

	_, err = NewCollector(reg)
	require.Error(t, err)
}

func TestCollectorStatusLabels(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.RecordDelete("docs", time.Millisecond, vecdb.ErrNotFound)
	c.RecordUpsert("docs", time.Millisecond, &vecdb.ErrDimensionMismatch{Expected: 3, Actual: 2})
	c.RecordQuery("docs", 1, time.Millisecond, vecdb.ErrCancelled)

	assert.Equal(t, 1.0, counterValue(t, c.Operations, "docs", "delete", "not_found"))
	assert.Equal(t, 1.0, counterValue(t, c.Operations, "docs", "upsert", "invalid"))
	assert.Equal(t, 1.0, counterValue(t, c.Operations, "docs", "query", "cancelled"))
}

func TestCollectorWithDB(t *testing.T) {
	ctx := context.Background()
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	db, err := vecdb.Open(ctx, t.TempDir(), vecdb.WithMetricsCollector(c))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.CreateCollection(ctx, "docs", 2, vecdb.MetricEuclidean))
	_, err = db.Upsert(ctx, "docs", "a", []float32{1, 2}, nil)
	require.NoError(t, err)
	_, err = db.Upsert(ctx, "docs", "b", []float32{2, 1}, nil)
	require.NoError(t, err)
	_, err = db.Query(ctx, "docs", []float32{1, 1}, 2)
	require.NoError(t, err)
	info, err := db.Snapshot(ctx, "docs")
	require.NoError(t, err)

	assert.Equal(t, 2.0, counterValue(t, c.Operations, "docs", "upsert", "ok"))
	assert.Equal(t, 1.0, counterValue(t, c.Operations, "docs", "query", "ok"))
	assert.Equal(t, 2.0, gaugeValue(t, c.CollectionSize, "docs"))
	assert.Equal(t, float64(info.Size), gaugeValue(t, c.SnapshotBytes, "docs"))

	require.NoError(t, db.DropCollection(ctx, "docs"))
	assert.Zero(t, gaugeValue(t, c.CollectionSize, "docs"))
}
