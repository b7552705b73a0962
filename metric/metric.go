// Package metric provides the distance functions used by the vector index.
//
// All functions return a distance, not a similarity: smaller means closer.
package metric

import (
	"errors"
	"math"
)

// ErrLengthMismatch is returned when the two vectors differ in length.
var ErrLengthMismatch = errors.New("metric: vector lengths do not match")

// DistanceFunc computes the distance between two vectors.
type DistanceFunc func(a, b []float32) (float32, error)

// Stable names recorded in snapshot sidecars.
const (
	NameSquaredL2 = "squared_l2"
	NameCosine    = "cosine"
)

// ByName returns a built-in distance function by its stable name.
func ByName(name string) (DistanceFunc, bool) {
	switch name {
	case NameSquaredL2:
		return SquaredL2, true
	case NameCosine:
		return CosineDistance, true
	default:
		return nil, false
	}
}

// SquaredL2 computes the squared Euclidean distance between a and b.
// The square root is skipped; it preserves ordering and is cheaper.
func SquaredL2(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}

	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum, nil
}

// CosineDistance computes 1 - cosine similarity between a and b.
// A zero-magnitude vector has distance 1 to everything.
func CosineDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}

	var dot, magA, magB float32
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 1, nil
	}

	return 1 - dot/float32(math.Sqrt(float64(magA))*math.Sqrt(float64(magB))), nil
}
