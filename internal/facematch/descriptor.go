// Package facematch compares face descriptors against enrolled identities.
//
// A descriptor is a 128-dimensional embedding produced by the face-api model used by the
// check-in kiosk. Stored payloads come in several historical shapes; everything entering a
// comparison goes through Normalize first so distances are always computed over equal
// length vectors.
package facematch

import "math"

// DescriptorLength is the dimensionality of a face descriptor.
const DescriptorLength = 128

// DefaultMatchThreshold is the Euclidean distance under which two descriptors are
// considered the same face.
const DefaultMatchThreshold = 0.6

// FeatureVector is a normalized face descriptor.
type FeatureVector [DescriptorLength]float64

// Normalize pads values with zeros or truncates them so the result has exactly
// DescriptorLength elements. The first min(len(values), DescriptorLength) values are kept
// in order.
func Normalize(values []float64) FeatureVector {
	var v FeatureVector
	copy(v[:], values)
	return v
}

// Slice returns the vector as a float64 slice.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, DescriptorLength)
	copy(out, v[:])
	return out
}

// Float32 returns the vector as float32 values, the precision used by the pgvector column.
func (v FeatureVector) Float32() []float32 {
	out := make([]float32, DescriptorLength)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Distance returns the Euclidean distance between two descriptors.
func Distance(a, b FeatureVector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Confidence maps a distance to a score in [0, 1]: 1 for identical descriptors, falling
// linearly to 0 at the threshold. It is not a calibrated probability.
func Confidence(distance, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	c := 1 - distance/threshold
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
