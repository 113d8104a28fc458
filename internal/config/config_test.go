package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.True(t, cfg.Storage.Persistent)
	assert.False(t, cfg.Storage.AllowReset)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, uint64(10_000), cfg.Snapshot.Every)
	assert.Equal(t, 5*time.Minute, cfg.Snapshot.Interval)
	assert.Equal(t, "lz4", cfg.Snapshot.Compression)
	assert.Equal(t, "none", cfg.Archive.Kind)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  path: /var/lib/vecdb
log:
  level: debug
  format: json
snapshot:
  interval: 30s
archive:
  kind: minio
  minio:
    endpoint: localhost:9000
    bucket: snapshots
`), 0o644))

	t.Setenv("VECDB_STORAGE_ALLOW_RESET", "true")
	t.Setenv("VECDB_TELEMETRY_ENABLED", "false")
	t.Setenv("VECDB_SNAPSHOT_EVERY", "500")
	t.Setenv("VECDB_ARCHIVE_MINIO_USE_SSL", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/vecdb", cfg.Storage.Path)
	assert.True(t, cfg.Storage.AllowReset)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, uint64(500), cfg.Snapshot.Every)
	assert.Equal(t, 30*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, "minio", cfg.Archive.Kind)
	assert.Equal(t, "snapshots", cfg.Archive.MinIO.Bucket)
	assert.False(t, cfg.Archive.MinIO.UseSSL)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VECDB_WORKERS=7\n"), 0o644))

	t.Setenv("VECDB_WORKERS", "")
	require.NoError(t, os.Unsetenv("VECDB_WORKERS"))

	require.NoError(t, LoadDotEnv(envFile, filepath.Join(dir, "missing.env")))
	t.Cleanup(func() { _ = os.Unsetenv("VECDB_WORKERS") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"log format", map[string]string{"VECDB_LOG_FORMAT": "xml"}},
		{"log level", map[string]string{"VECDB_LOG_LEVEL": "loud"}},
		{"compression", map[string]string{"VECDB_SNAPSHOT_COMPRESSION": "gzip"}},
		{"archive kind", map[string]string{"VECDB_ARCHIVE_KIND": "ftp"}},
		{"s3 bucket", map[string]string{"VECDB_ARCHIVE_KIND": "s3"}},
		{"local path", map[string]string{"VECDB_ARCHIVE_KIND": "local"}},
		{"minio endpoint", map[string]string{"VECDB_ARCHIVE_KIND": "minio", "VECDB_ARCHIVE_MINIO_BUCKET": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "storage.allow_reset", envKey("VECDB_STORAGE_ALLOW_RESET"))
	assert.Equal(t, "archive.s3.commit_table", envKey("VECDB_ARCHIVE_S3_COMMIT_TABLE"))
	assert.Equal(t, "workers", envKey("VECDB_WORKERS"))
	assert.Equal(t, "custom.key", envKey("VECDB_CUSTOM_KEY"))
}
