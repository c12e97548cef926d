package vector

import (
	"math"
	"testing"
)

// TestCosine tests cosine similarity for common vector pairs.
func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"scaled", Vector{1, 2, 3}, Vector{2, 4, 6}, 1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"opposite", Vector{1, 0}, Vector{-1, 0}, -1},
		{"zero vector", Vector{0, 0}, Vector{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Cosine() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCosine_DimensionMismatch tests that vectors of different length are rejected.
func TestCosine_DimensionMismatch(t *testing.T) {
	if _, err := Cosine(Vector{1}, Vector{1, 2}); err != ErrDimensionMismatch {
		t.Errorf("Cosine() error = %v, want ErrDimensionMismatch", err)
	}
	if _, err := Dot(Vector{1}, Vector{1, 2}); err != ErrDimensionMismatch {
		t.Errorf("Dot() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestClip01(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0.3, 0.3},
		{1.2, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := Clip01(tt.in); got != tt.want {
			t.Errorf("Clip01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	v := Vector{3, 4}.Normalize()
	if math.Abs(v.Norm()-1) > 1e-6 {
		t.Errorf("Normalize().Norm() = %v, want 1", v.Norm())
	}

	d, err := Dot(v, Vector{3, 4}.Normalize())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(d-1) > 1e-6 {
		t.Errorf("Dot of unit vectors = %v, want 1", d)
	}

	zero := Vector{0, 0}.Normalize()
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Normalize(zero) = %v", zero)
	}
}
