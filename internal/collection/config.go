package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/index/hnsw"
	"github.com/hupe1980/vecdb/internal/fs"
)

// ConfigFile is the name of the collection descriptor inside a collection directory.
const ConfigFile = "collection.json"

var (
	// ErrInvalidConfig reports an invalid collection descriptor.
	ErrInvalidConfig = errors.New("collection: invalid config")

	namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{1,61}[a-zA-Z0-9]$`)
)

// Config describes a collection. It is immutable after creation.
type Config struct {
	Name           string          `json:"name"`
	Dimension      int             `json:"dimension"`
	Metric         distance.Metric `json:"metric"`
	M              int             `json:"m"`
	EFConstruction int             `json:"ef_construction"`
	EF             int             `json:"ef"`
	Seed           uint64          `json:"seed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ValidateName checks a collection name: 3 to 63 characters from
// [a-zA-Z0-9._-], starting and ending with a letter or digit.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name %q", ErrInvalidConfig, name)
	}
	return nil
}

// WithDefaults fills unset index parameters.
func (c Config) WithDefaults() Config {
	if c.M == 0 {
		c.M = hnsw.DefaultM
	}
	if c.EFConstruction == 0 {
		c.EFConstruction = hnsw.DefaultEFConstruction
	}
	if c.EF == 0 {
		c.EF = hnsw.DefaultEF
	}
	if c.Seed == 0 {
		c.Seed = hnsw.DefaultSeed
	}
	return c
}

// Validate checks the descriptor.
func (c Config) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	}
	if !c.Metric.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, distance.ErrUnknownMetric)
	}
	if c.M < 2 || c.EFConstruction < 1 || c.EF < 1 {
		return fmt.Errorf("%w: m=%d ef_construction=%d ef=%d", ErrInvalidConfig, c.M, c.EFConstruction, c.EF)
	}
	return nil
}

func (c Config) indexOptions(o *hnsw.Options) {
	o.Dimension = c.Dimension
	o.Metric = c.Metric
	o.M = c.M
	o.EFConstruction = c.EFConstruction
	o.EF = c.EF
	o.Seed = c.Seed
}

// SaveConfig atomically writes cfg to path.
func SaveConfig(fsys fs.FileSystem, path string, cfg Config) error {
	return fs.WriteFileAtomic(fsys, path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	})
}

// LoadConfig reads and validates the descriptor at path.
func LoadConfig(fsys fs.FileSystem, path string) (Config, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
