// cast_test.go - Unit Tests fuer die Praezisions-Konvertierung
//
// Testet Cast sowie die FP8-Kodierung (Rundung, Saettigung, Spezialwerte).
package tensor

import (
	"math"
	"testing"
)

// TestCastRoundTrip testet exakt darstellbare Werte durch alle Zieltypen
func TestCastRoundTrip(t *testing.T) {
	// Werte, die in jedem der fuenf Formate exakt darstellbar sind
	vals := []float32{0, 1, -1, 0.5, -0.25, 2, 8, -16}

	for _, target := range []DataType{DataTypeF32, DataTypeF16, DataTypeBF16, DataTypeF8E4M3, DataTypeF8E5M2} {
		t.Run(target.String(), func(t *testing.T) {
			in := FromFloat32s(vals, int64(len(vals)))
			out, err := Cast(in, target)
			if err != nil {
				t.Fatalf("Cast: %v", err)
			}
			if out.DType != target {
				t.Errorf("dtype = %s, want %s", out.DType, target)
			}

			got := out.Float32s()
			for i, want := range vals {
				if got[i] != want {
					t.Errorf("[%d] = %g, want %g", i, got[i], want)
				}
			}
		})
	}
}

// TestCastUnsupported testet den Fehlerfall bei unbekanntem Zieltyp
func TestCastUnsupported(t *testing.T) {
	in := FromFloat32s([]float32{1}, 1)
	if _, err := Cast(in, DataType(99)); err == nil {
		t.Fatal("Erwartete Fehler fuer unbekannten Zieltyp")
	}
}

// TestCastSameTypeNoCopy testet, dass der Tensor bei identischem Typ
// unveraendert zurueckkommt
func TestCastSameTypeNoCopy(t *testing.T) {
	in := FromFloat32s([]float32{1, 2}, 2)
	out, err := Cast(in, DataTypeF32)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Error("Erwartete denselben Tensor bei identischem Zieltyp")
	}
}

// TestFP8E4M3 testet Kodierung von float8_e4m3fn
func TestFP8E4M3(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{1, 1},
		{-1, -1},
		{448, 448},    // groesster endlicher Wert
		{1000, 448},   // Saettigung
		{-1000, -448}, // Saettigung negativ
		{0.875, 0.875},
		{1.0 / 512, 1.0 / 512}, // kleinste Subnormale 2^-9
		{1.0 / 4096, 0},        // unterhalb des Bereichs
	}

	for _, tt := range tests {
		got := fp8e4m3ToFloat32(fp8e4m3FromFloat32(tt.in))
		if got != tt.want {
			t.Errorf("e4m3(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}

	if !math.IsNaN(float64(fp8e4m3ToFloat32(fp8e4m3FromFloat32(float32(math.NaN()))))) {
		t.Error("NaN muss NaN bleiben")
	}
	if !math.IsNaN(float64(fp8e4m3ToFloat32(fp8e4m3FromFloat32(float32(math.Inf(1)))))) {
		t.Error("Inf wird zu NaN, e4m3fn kennt kein Inf")
	}
}

// TestFP8E5M2 testet Kodierung von float8_e5m2
func TestFP8E5M2(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{1, 1},
		{-1, -1},
		{57344, 57344}, // groesster endlicher Wert
		{1.5, 1.5},
		{1.0 / 65536, 1.0 / 65536}, // kleinste Subnormale 2^-16
	}

	for _, tt := range tests {
		got := fp8e5m2ToFloat32(fp8e5m2FromFloat32(tt.in))
		if got != tt.want {
			t.Errorf("e5m2(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}

	if !math.IsInf(float64(fp8e5m2ToFloat32(fp8e5m2FromFloat32(1e9))), 1) {
		t.Error("Ueberlauf muss Inf ergeben")
	}
	if !math.IsInf(float64(fp8e5m2ToFloat32(fp8e5m2FromFloat32(float32(math.Inf(-1))))), -1) {
		t.Error("-Inf muss -Inf bleiben")
	}
	if !math.IsNaN(float64(fp8e5m2ToFloat32(fp8e5m2FromFloat32(float32(math.NaN()))))) {
		t.Error("NaN muss NaN bleiben")
	}
}

// TestFP8RoundToNearestEven testet die Rundungsregel
func TestFP8RoundToNearestEven(t *testing.T) {
	// 1.0625 liegt exakt zwischen 1.0 (Mantisse 000) und 1.125 (Mantisse 001),
	// round-to-nearest-even waehlt die gerade Mantisse 000
	if got := fp8e4m3ToFloat32(fp8e4m3FromFloat32(1.0625)); got != 1.0 {
		t.Errorf("e4m3(1.0625) = %g, want 1.0", got)
	}
	// 1.1875 liegt zwischen 1.125 (001) und 1.25 (010), gerade ist 010
	if got := fp8e4m3ToFloat32(fp8e4m3FromFloat32(1.1875)); got != 1.25 {
		t.Errorf("e4m3(1.1875) = %g, want 1.25", got)
	}
}
