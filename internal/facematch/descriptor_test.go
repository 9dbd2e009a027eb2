package facematch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sequence(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"empty", 0},
		{"short", 5},
		{"one below", 127},
		{"exact", 128},
		{"one above", 129},
		{"long", 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := sequence(tt.length, 1)
			v := Normalize(input)

			assert.Len(t, v, DescriptorLength)
			kept := min(tt.length, DescriptorLength)
			assert.Equal(t, input[:kept], v.Slice()[:kept])
			for i := kept; i < DescriptorLength; i++ {
				assert.Zero(t, v[i], "padding at %d", i)
			}
		})
	}
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	input := sequence(DescriptorLength, 0)
	v := Normalize(input)
	input[0] = 42

	assert.Zero(t, v[0])
}

func TestDistance(t *testing.T) {
	a := Normalize(sequence(DescriptorLength, -3))
	b := Normalize(sequence(64, 0.25))

	assert.Zero(t, Distance(a, a))
	assert.Zero(t, Distance(b, b))
	assert.Equal(t, Distance(a, b), Distance(b, a))
	assert.GreaterOrEqual(t, Distance(a, b), 0.0)

	var zero FeatureVector
	unit := zero
	unit[0] = 3
	unit[1] = 4
	assert.InDelta(t, 5.0, Distance(zero, unit), 1e-12)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		threshold float64
		expected  float64
	}{
		{"identical", 0, 0.6, 1},
		{"half way", 0.3, 0.6, 0.5},
		{"at threshold", 0.6, 0.6, 0},
		{"beyond threshold", 2, 0.6, 0},
		{"negative distance clamps", -1, 0.6, 1},
		{"zero threshold", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Confidence(tt.distance, tt.threshold)
			if math.Abs(c-tt.expected) > 0.0001 {
				t.Errorf("Confidence(%v, %v) = %v, want %v", tt.distance, tt.threshold, c, tt.expected)
			}
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
		})
	}
}

func TestFloat32(t *testing.T) {
	v := Normalize([]float64{0.5, -1.25})
	f := v.Float32()

	assert.Len(t, f, DescriptorLength)
	assert.Equal(t, float32(0.5), f[0])
	assert.Equal(t, float32(-1.25), f[1])
	assert.Zero(t, f[2])
}
