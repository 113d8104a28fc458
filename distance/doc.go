// Package distance provides the vector distance functions used by collections and the ANN index.
//
// Every metric is expressed as a distance: smaller means more similar.
//
// # Supported Metrics
//
//   - MetricEuclidean: square root of the summed squared differences
//   - MetricCosine: 1 - cosine similarity; zero-norm vectors are rejected
//   - MetricDot: negated inner product
//
// # Usage
//
//	d, err := distance.Distance(a, b, distance.MetricCosine)
//	kernel := distance.Kernel(distance.MetricEuclidean) // unchecked hot-path variant
package distance
