// helpers_test.go - Gemeinsame Test-Helfer des merge-Pakets
package merge

import (
	"math"
	"testing"

	"github.com/smelter/smelt/tensor"
)

// f32 baut einen F32-Tensor aus Werten und Shape
func f32(values []float32, shape ...int64) *tensor.Tensor {
	return tensor.FromFloat32s(values, shape...)
}

// zeros baut einen F32-Null-Tensor
func zeros(shape ...int64) *tensor.Tensor {
	return tensor.Zeros(tensor.DataTypeF32, shape...)
}

// wantFloat32s vergleicht die dekodierten Werte eines Tensors exakt
func wantFloat32s(t *testing.T, got *tensor.Tensor, want []float32) {
	t.Helper()

	values := got.Float32s()
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d", len(values), len(want))
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("value %d = %v, want %v", i, values[i], want[i])
		}
	}
}

// wantClose vergleicht Werte mit Toleranz
func wantClose(t *testing.T, got *tensor.Tensor, want []float32, eps float64) {
	t.Helper()

	values := got.Float32s()
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d", len(values), len(want))
	}
	for i := range want {
		if math.Abs(float64(values[i]-want[i])) > eps {
			t.Errorf("value %d = %v, want %v (eps %v)", i, values[i], want[i], eps)
		}
	}
}
