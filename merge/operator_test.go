// operator_test.go - Tests fuer Methoden-Parsing, Arithmetik und Kanal-Sonderfaelle
package merge

import (
	"errors"
	"testing"

	"github.com/smelter/smelt/tensor"
)

func TestParseMethod(t *testing.T) {
	cases := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"", MethodNone, false},
		{"none", MethodNone, false},
		{"weighted-sum", MethodWeightedSum, false},
		{"Weighted sum", MethodWeightedSum, false},
		{"add-difference", MethodAddDifference, false},
		{"Add difference", MethodAddDifference, false},
		{"extract-unet", MethodExtractUnet, false},
		{"extract-vae", MethodExtractVAE, false},
		{"extract-te", MethodExtractTE, false},
		{"Extract Text encoder(s)", MethodExtractTE, false},
		{"cosine", 0, true},
	}

	for _, tt := range cases {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMethod(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseMethod(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWeightedSumIdentities(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}

	t.Run("alpha zero keeps a", func(t *testing.T) {
		var flags Flags
		out, err := blendPair("k", f32(a, 4), f32(b, 4), weightedSum, 0, &flags)
		if err != nil {
			t.Fatal(err)
		}
		wantFloat32s(t, out, a)
	})

	t.Run("alpha one yields b", func(t *testing.T) {
		var flags Flags
		out, err := blendPair("k", f32(a, 4), f32(b, 4), weightedSum, 1, &flags)
		if err != nil {
			t.Fatal(err)
		}
		wantFloat32s(t, out, b)
	})

	t.Run("midpoint", func(t *testing.T) {
		var flags Flags
		out, err := blendPair("k", f32(a, 4), f32(b, 4), weightedSum, 0.5, &flags)
		if err != nil {
			t.Fatal(err)
		}
		wantFloat32s(t, out, []float32{3, 4, 5, 6})
	})
}

func TestAddDifferenceIdentity(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{8, 6, 4, 2}
	c := []float32{1, 1, 1, 1}

	// b - c vorab falten, wie es der Orchestrator tut
	delta := append([]float32(nil), b...)
	difference(delta, c, 0)
	wantFloat32s(t, f32(delta, 4), []float32{7, 5, 3, 1})

	t.Run("alpha zero keeps a", func(t *testing.T) {
		var flags Flags
		out, err := blendPair("k", f32(a, 4), f32(delta, 4), addDifference, 0, &flags)
		if err != nil {
			t.Fatal(err)
		}
		wantFloat32s(t, out, a)
	})

	t.Run("alpha one adds delta", func(t *testing.T) {
		var flags Flags
		out, err := blendPair("k", f32(a, 4), f32(delta, 4), addDifference, 1, &flags)
		if err != nil {
			t.Fatal(err)
		}
		wantFloat32s(t, out, []float32{8, 7, 6, 5})
	})
}

func TestBlendPairChannelCases(t *testing.T) {
	// Conv-Gewichte [out, in, kh, kw]; nur Dimension 1 variiert
	conv := func(channels int64, fill float32) *tensor.Tensor {
		n := 2 * channels
		values := make([]float32, n)
		for i := range values {
			values[i] = fill
		}
		return f32(values, 2, channels, 1, 1)
	}

	t.Run("inpainting primary", func(t *testing.T) {
		var flags Flags
		out, err := blendPair("k", conv(9, 1), conv(4, 3), weightedSum, 0.5, &flags)
		if err != nil {
			t.Fatal(err)
		}
		if !flags.Inpainting || flags.InstructPix2Pix {
			t.Errorf("flags = %+v, want inpainting only", flags)
		}

		// Erste 4 Kanaele gemischt, Kanaele 5-9 unveraendert
		values := out.Float32s()
		for i := range values {
			want := float32(1)
			if i%9 < 4 {
				want = 2
			}
			if values[i] != want {
				t.Errorf("value %d = %v, want %v", i, values[i], want)
			}
		}
	})

	t.Run("instruct-pix2pix primary", func(t *testing.T) {
		var flags Flags
		out, err := blendPair("k", conv(8, 1), conv(4, 3), weightedSum, 0.5, &flags)
		if err != nil {
			t.Fatal(err)
		}
		if !flags.InstructPix2Pix || flags.Inpainting {
			t.Errorf("flags = %+v, want instruct-pix2pix only", flags)
		}

		values := out.Float32s()
		for i := range values {
			want := float32(1)
			if i%8 < 4 {
				want = 2
			}
			if values[i] != want {
				t.Errorf("value %d = %v, want %v", i, values[i], want)
			}
		}
	})

	t.Run("inpainting secondary fails", func(t *testing.T) {
		var flags Flags
		_, err := blendPair("k", conv(4, 1), conv(9, 3), weightedSum, 0.5, &flags)

		var compErr *CompatibilityError
		if !errors.As(err, &compErr) {
			t.Fatalf("error = %v, want CompatibilityError", err)
		}
	})

	t.Run("instruct-pix2pix secondary fails", func(t *testing.T) {
		var flags Flags
		_, err := blendPair("k", conv(4, 1), conv(8, 3), weightedSum, 0.5, &flags)

		var compErr *CompatibilityError
		if !errors.As(err, &compErr) {
			t.Fatalf("error = %v, want CompatibilityError", err)
		}
	})

	t.Run("other channel pair fails", func(t *testing.T) {
		var flags Flags
		_, err := blendPair("k", conv(6, 1), conv(4, 3), weightedSum, 0.5, &flags)

		var compErr *CompatibilityError
		if !errors.As(err, &compErr) {
			t.Fatalf("error = %v, want CompatibilityError", err)
		}
	})

	t.Run("mismatched rank fails", func(t *testing.T) {
		var flags Flags
		_, err := blendPair("k", f32([]float32{1, 2}, 2), f32([]float32{1, 2, 3}, 3), weightedSum, 0.5, &flags)

		var compErr *CompatibilityError
		if !errors.As(err, &compErr) {
			t.Fatalf("error = %v, want CompatibilityError", err)
		}
	})
}

func TestBlendPairPartialKeepsDType(t *testing.T) {
	// Teilweiser Kanal-Merge behaelt den Datentyp des Primaermodells
	a, err := tensor.Cast(f32(make([]float32, 18), 2, 9, 1, 1), tensor.DataTypeF16)
	if err != nil {
		t.Fatal(err)
	}

	var flags Flags
	out, err := blendPair("k", a, f32(make([]float32, 8), 2, 4, 1, 1), weightedSum, 0.5, &flags)
	if err != nil {
		t.Fatal(err)
	}
	if out.DType != tensor.DataTypeF16 {
		t.Errorf("dtype = %s, want %s", out.DType, tensor.DataTypeF16)
	}
}

func TestPromote(t *testing.T) {
	cases := []struct {
		a, b, want tensor.DataType
	}{
		{tensor.DataTypeF16, tensor.DataTypeF16, tensor.DataTypeF16},
		{tensor.DataTypeF16, tensor.DataTypeF32, tensor.DataTypeF32},
		{tensor.DataTypeBF16, tensor.DataTypeF16, tensor.DataTypeF32},
		{tensor.DataTypeF8E4M3, tensor.DataTypeF8E5M2, tensor.DataTypeF16},
		{tensor.DataTypeF8E4M3, tensor.DataTypeBF16, tensor.DataTypeBF16},
		{tensor.DataTypeF32, tensor.DataTypeF8E5M2, tensor.DataTypeF32},
	}

	for _, tt := range cases {
		if got := promote(tt.a, tt.b); got != tt.want {
			t.Errorf("promote(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSkipKey(t *testing.T) {
	if !skipKey("cond_stage_model.transformer.text_model.embeddings.position_ids") {
		t.Error("position_ids should be skipped")
	}
	if skipKey("model.diffusion_model.input_blocks.0.0.weight") {
		t.Error("backbone key should not be skipped")
	}
}
