// Package config loads the vecdbd daemon configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. VECDB_STORAGE_PATH.
const EnvPrefix = "VECDB_"

type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
	Workers   int             `koanf:"workers"`
	Snapshot  SnapshotConfig  `koanf:"snapshot"`
	Limits    LimitsConfig    `koanf:"limits"`
	Archive   ArchiveConfig   `koanf:"archive"`
}

type StorageConfig struct {
	Path       string `koanf:"path"`
	Persistent bool   `koanf:"persistent"`
	AllowReset bool   `koanf:"allow_reset"`
}

type TelemetryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"` // metrics listener, e.g. :9090
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type SnapshotConfig struct {
	Every       uint64        `koanf:"every"`
	Interval    time.Duration `koanf:"interval"`
	Compression string        `koanf:"compression"` // none, lz4, zstd
	Retain      int           `koanf:"retain"`
}

type LimitsConfig struct {
	MemoryBytes    int64 `koanf:"memory_bytes"`
	BackgroundJobs int   `koanf:"background_jobs"`
	IOBytesPerSec  int   `koanf:"io_bytes_per_sec"`
}

type ArchiveConfig struct {
	Kind    string      `koanf:"kind"` // none, local, s3, minio
	Restore bool        `koanf:"restore"`
	Retain  int         `koanf:"retain"`
	Local   LocalConfig `koanf:"local"`
	S3      S3Config    `koanf:"s3"`
	MinIO   MinIOConfig `koanf:"minio"`
}

type LocalConfig struct {
	Path string `koanf:"path"`
}

type S3Config struct {
	Bucket   string `koanf:"bucket"`
	Prefix   string `koanf:"prefix"`
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"`
	// CommitTable enables DynamoDB-versioned LATEST pointers when set.
	CommitTable string `koanf:"commit_table"`
}

type MinIOConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
}

var defaults = map[string]any{
	"storage.path":             "./data",
	"storage.persistent":       true,
	"storage.allow_reset":      false,
	"telemetry.enabled":        true,
	"telemetry.addr":           ":9090",
	"log.level":                "info",
	"log.format":               "text",
	"workers":                  0,
	"snapshot.every":           10_000,
	"snapshot.interval":        "5m",
	"snapshot.compression":     "lz4",
	"snapshot.retain":          2,
	"limits.memory_bytes":      0,
	"limits.background_jobs":   0,
	"limits.io_bytes_per_sec":  0,
	"archive.kind":             "none",
	"archive.restore":          false,
	"archive.retain":           1,
	"archive.local.path":       "",
	"archive.s3.bucket":        "",
	"archive.s3.prefix":        "",
	"archive.s3.region":        "",
	"archive.s3.endpoint":      "",
	"archive.s3.commit_table":  "",
	"archive.minio.endpoint":   "",
	"archive.minio.bucket":     "",
	"archive.minio.prefix":     "",
	"archive.minio.access_key": "",
	"archive.minio.secret_key": "",
	"archive.minio.use_ssl":    true,
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads defaults, then the YAML file at path (if any), then VECDB_*
// environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// VECDB_STORAGE_ALLOW_RESET -> storage.allow_reset
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to a known key. Underscores are
// ambiguous, so the name is matched against the flattened defaults first.
func envKey(s string) string {
	name := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for key := range defaults {
		if strings.ReplaceAll(key, ".", "_") == name {
			return key
		}
	}
	return strings.ReplaceAll(name, "_", ".")
}

// Validate checks enumerated values and the settings each archive kind needs.
func (c *Config) Validate() error {
	if c.Storage.Persistent && c.Storage.Path == "" {
		return errors.New("config: storage.path is required when storage.persistent is set")
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Snapshot.Compression) {
		return fmt.Errorf("config: unknown snapshot.compression %q", c.Snapshot.Compression)
	}

	switch c.Archive.Kind {
	case "", "none":
	case "local":
		if c.Archive.Local.Path == "" {
			return errors.New("config: archive.local.path is required")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return errors.New("config: archive.s3.bucket is required")
		}
	case "minio":
		if c.Archive.MinIO.Endpoint == "" || c.Archive.MinIO.Bucket == "" {
			return errors.New("config: archive.minio.endpoint and archive.minio.bucket are required")
		}
	default:
		return fmt.Errorf("config: unknown archive.kind %q", c.Archive.Kind)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}
