package embedding

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero norm left", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero norm right", []float32{1, 1}, []float32{0, 0}, 0},
		{"both empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosine_ScaleInvariant(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := make([]float32, len(a))
	for i, v := range a {
		b[i] = v * 40
	}
	if got := Cosine(a, b); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("Cosine(a, 40a) = %v, want 1", got)
	}
}

func TestNormalize(t *testing.T) {
	vec := []float32{3, 4}
	normalize(vec)
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("normalize = %v, want [0.6 0.8]", vec)
	}

	zero := []float32{0, 0}
	normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("normalize(zero) = %v, want unchanged", zero)
	}
}
