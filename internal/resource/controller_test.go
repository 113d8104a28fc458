package resource

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.ReserveMemory(60))
	require.NoError(t, c.ReserveMemory(40))
	assert.Equal(t, int64(100), c.MemoryUsage())

	err := c.ReserveMemory(1)
	require.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(100), c.MemoryUsage())

	c.ReleaseMemory(40)
	require.NoError(t, c.ReserveMemory(1))
	assert.Equal(t, int64(61), c.MemoryUsage())
}

func TestUnlimitedMemory(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.ReserveMemory(1<<40))
	c.ReleaseMemory(1 << 39)
	assert.Equal(t, int64(1<<39), c.MemoryUsage())
}

func TestJobs(t *testing.T) {
	c := NewController(Config{MaxBackgroundJobs: 2})

	require.NoError(t, c.AcquireJob(context.Background()))
	assert.True(t, c.TryAcquireJob())
	assert.False(t, c.TryAcquireJob())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, c.AcquireJob(ctx))

	c.ReleaseJob()
	assert.True(t, c.TryAcquireJob())
}

func TestNilControllerIsUnlimited(t *testing.T) {
	var c *Controller
	require.NoError(t, c.ReserveMemory(10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsage())
	require.NoError(t, c.AcquireJob(context.Background()))
	assert.True(t, c.TryAcquireJob())
	c.ReleaseJob()
	require.NoError(t, c.WaitIO(context.Background(), 1<<30))
}

func TestLimitedIOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOBytesPerSec: 1 << 20})

	var buf bytes.Buffer
	w := LimitWriter(context.Background(), &buf, c)
	n, err := w.Write(make([]byte, 1<<20+10))
	require.NoError(t, err)
	assert.Equal(t, 1<<20+10, n)

	r := LimitReader(context.Background(), strings.NewReader("hello"), c)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestLimitedWriterHonorsContext(t *testing.T) {
	c := NewController(Config{IOBytesPerSec: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := LimitWriter(ctx, io.Discard, c)
	_, err := w.Write(make([]byte, 100))
	require.Error(t, err)
}
