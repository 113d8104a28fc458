package distance

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrZeroVector is returned when a cosine distance involves a vector with zero norm.
var ErrZeroVector = errors.New("zero vector")

// ErrNonFinite is returned by Validate for vectors holding NaN or infinite components.
var ErrNonFinite = errors.New("non-finite component")

// ErrUnknownMetric is returned by ParseMetric for unsupported metric names.
var ErrUnknownMetric = errors.New("unknown metric")

// ErrDimensionMismatch is returned when two vectors differ in length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Metric represents the distance metric used for vector comparison.
type Metric uint8

const (
	MetricEuclidean Metric = iota
	MetricCosine
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricEuclidean:
		return "euclidean"
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m <= MetricDot
}

// ParseMetric parses a metric name. "l2" is accepted as an alias for euclidean
// and "ip" for dot.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "euclidean", "l2":
		return MetricEuclidean, nil
	case "cosine":
		return MetricCosine, nil
	case "dot", "ip":
		return MetricDot, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMetric, m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(b []byte) error {
	parsed, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// IsZero reports whether v has zero L2 norm.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	n := Norm(src)
	if n == 0 {
		return nil, false
	}
	dst := slices.Clone(src)
	inv := 1 / n
	for i := range dst {
		dst[i] *= inv
	}
	return dst, true
}

// Func computes the distance between two vectors of equal length.
type Func func(a, b []float32) float32

func euclidean(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
	if d < 0 {
		// rounding on near-identical vectors
		return 0
	}
	return d
}

func negDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Kernel returns the unchecked distance function for m.
// It does not validate lengths and maps zero vectors to a cosine distance of 1;
// callers validate inputs once at the boundary.
func Kernel(m Metric) Func {
	switch m {
	case MetricCosine:
		return cosine
	case MetricDot:
		return negDot
	default:
		return euclidean
	}
}

// Distance computes the distance between a and b under metric m.
//
// It returns *ErrDimensionMismatch if the lengths differ and ErrZeroVector if
// m is MetricCosine and either vector has zero norm.
func Distance(a, b []float32, m Metric) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	if !m.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMetric, m)
	}
	if m == MetricCosine && (IsZero(a) || IsZero(b)) {
		return 0, ErrZeroVector
	}
	return Kernel(m)(a, b), nil
}

// Validate checks that v is usable as a vector of dimension dim under metric m.
func Validate(v []float32, dim int, m Metric) error {
	if len(v) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}
	if m == MetricCosine && IsZero(v) {
		return ErrZeroVector
	}
	return nil
}
