// operator.go - Arithmetik-Kern des Mergers
//
// Dieses Modul enthaelt:
// - Method: Enum der Interpolationsmethoden
// - weightedSum/difference/addDifference: elementweise Operationen (blas32)
// - blendPair: Paar-Merge inklusive Kanal-Sonderfaelle (Inpainting, Pix2Pix)
// - CompatibilityError: illegale Shape-Kombinationen
//
// Die Arithmetik laeuft auf dekodierten float32-Werten ueber gonum
// blas32; das Ergebnis wird in den promovierten Datentyp des Paares
// zurueckkodiert.
package merge

import (
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/smelter/smelt/tensor"
)

// Method ist die Interpolationsmethode eines Merge-Laufs
type Method int

const (
	MethodNone Method = iota
	MethodWeightedSum
	MethodAddDifference
	MethodExtractUnet
	MethodExtractVAE
	MethodExtractTE
)

// ParseMethod parst einen Methoden-Namen (CLI-Kurzform oder Anzeigename)
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MethodNone, nil
	case "weighted-sum", "weighted_sum", "weighted sum":
		return MethodWeightedSum, nil
	case "add-difference", "add_difference", "add difference":
		return MethodAddDifference, nil
	case "extract-unet", "extract unet":
		return MethodExtractUnet, nil
	case "extract-vae", "extract vae":
		return MethodExtractVAE, nil
	case "extract-te", "extract-text-encoder", "extract text encoder(s)":
		return MethodExtractTE, nil
	default:
		return 0, fmt.Errorf("unknown interpolation method %q", s)
	}
}

// String gibt den Anzeigenamen zurueck (landet auch im Merge-Rezept)
func (m Method) String() string {
	switch m {
	case MethodNone:
		return "None"
	case MethodWeightedSum:
		return "Weighted sum"
	case MethodAddDifference:
		return "Add difference"
	case MethodExtractUnet:
		return "Extract Unet"
	case MethodExtractVAE:
		return "Extract VAE"
	case MethodExtractTE:
		return "Extract Text encoder(s)"
	default:
		return "unknown"
	}
}

// NeedsSecondary meldet, ob die Methode ein zweites Modell braucht
func (m Method) NeedsSecondary() bool {
	return m == MethodWeightedSum || m == MethodAddDifference
}

// NeedsTertiary meldet, ob die Methode ein drittes Modell braucht
func (m Method) NeedsTertiary() bool {
	return m == MethodAddDifference
}

// IsExtract meldet, ob die Methode nur einen Teilblock extrahiert
func (m Method) IsExtract() bool {
	return m == MethodExtractUnet || m == MethodExtractVAE || m == MethodExtractTE
}

// ExtractBlock gibt den zu extrahierenden Block zurueck
func (m Method) ExtractBlock() Block {
	switch m {
	case MethodExtractUnet:
		return BlockBackbone
	case MethodExtractVAE:
		return BlockVAE
	case MethodExtractTE:
		return BlockTextEncoder
	default:
		return BlockNone
	}
}

// CompatibilityError meldet eine illegale Shape-Kombination beim Merge
type CompatibilityError struct {
	Key    string
	AShape []int64
	BShape []int64
	Reason string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("incompatible tensors for %s (A=%v, B=%v): %s", e.Key, e.AShape, e.BShape, e.Reason)
}

// skipOnMerge - Positions-Buffer, die nie verrechnet werden und unveraendert
// aus dem Primaermodell durchgereicht werden
var skipOnMerge = []string{
	"cond_stage_model.transformer.text_model.embeddings.position_ids",
}

func skipKey(key string) bool {
	return slices.Contains(skipOnMerge, key)
}

// Flags markiert das Ergebnis eines Merge-Laufs
type Flags struct {
	Inpainting      bool
	InstructPix2Pix bool
}

// opFunc verrechnet b in-place in dst (dst enthaelt zu Beginn a)
type opFunc func(dst, b []float32, alpha float32)

// weightedSum: dst = (1-alpha)*dst + alpha*b
func weightedSum(dst, b []float32, alpha float32) {
	v := blas32.Vector{N: len(dst), Inc: 1, Data: dst}
	blas32.Scal(1-alpha, v)
	blas32.Axpy(alpha, blas32.Vector{N: len(b), Inc: 1, Data: b}, v)
}

// difference: dst = dst - b
func difference(dst, b []float32, _ float32) {
	blas32.Axpy(-1, blas32.Vector{N: len(b), Inc: 1, Data: b}, blas32.Vector{N: len(dst), Inc: 1, Data: dst})
}

// addDifference: dst = dst + alpha*b
func addDifference(dst, b []float32, alpha float32) {
	blas32.Axpy(alpha, blas32.Vector{N: len(b), Inc: 1, Data: b}, blas32.Vector{N: len(dst), Inc: 1, Data: dst})
}

// promote bestimmt den Ergebnis-Datentyp eines Tensor-Paares: der breitere
// Typ gewinnt, zwei verschiedene Typen gleicher Breite promovieren eine
// Stufe hoeher (F16/BF16 -> F32, E4M3/E5M2 -> F16).
func promote(a, b tensor.DataType) tensor.DataType {
	if a == b {
		return a
	}

	rank := func(t tensor.DataType) int {
		switch t {
		case tensor.DataTypeF32:
			return 2
		case tensor.DataTypeF16, tensor.DataTypeBF16:
			return 1
		default:
			return 0
		}
	}

	ra, rb := rank(a), rank(b)
	switch {
	case ra > rb:
		return a
	case rb > ra:
		return b
	case ra == 1:
		return tensor.DataTypeF32
	default:
		return tensor.DataTypeF16
	}
}

// channelMismatch meldet, ob zwei Shapes bis auf die Kanal-Dimension
// (Dimension 1) identisch sind
func channelMismatch(a, b []int64) bool {
	if len(a) != len(b) || len(a) < 2 || a[1] == b[1] {
		return false
	}
	return slices.Equal(a[:1], b[:1]) && slices.Equal(a[2:], b[2:])
}

// blendPair verrechnet ein Tensor-Paar mit der gegebenen Operation und
// setzt bei den Kanal-Sonderfaellen die Ergebnis-Flags. Der Rueckgabewert
// ersetzt a im Primaer-Store.
func blendPair(key string, a, b *tensor.Tensor, op opFunc, alpha float32, flags *Flags) (*tensor.Tensor, error) {
	if a.SameShape(b) {
		fa, fb := a.Float32s(), b.Float32s()
		op(fa, fb, alpha)

		out := &tensor.Tensor{DType: promote(a.DType, b.DType), Shape: slices.Clone(a.Shape)}
		out.SetFloat32s(fa)
		return out, nil
	}

	if !channelMismatch(a.Shape, b.Shape) {
		return nil, &CompatibilityError{Key: key, AShape: a.Shape, BShape: b.Shape, Reason: "incompatible shapes"}
	}

	ca, cb := a.Shape[1], b.Shape[1]
	switch {
	case ca == 4 && cb == 9:
		return nil, &CompatibilityError{Key: key, AShape: a.Shape, BShape: b.Shape, Reason: "when merging an inpainting model with a normal one, the inpainting model must be primary"}
	case ca == 4 && cb == 8:
		return nil, &CompatibilityError{Key: key, AShape: a.Shape, BShape: b.Shape, Reason: "when merging an instruct-pix2pix model with a normal one, the instruct-pix2pix model must be primary"}
	case ca == 8 && cb == 4:
		flags.InstructPix2Pix = true
	case ca == 9 && cb == 4:
		flags.Inpainting = true
	default:
		return nil, &CompatibilityError{Key: key, AShape: a.Shape, BShape: b.Shape, Reason: "incompatible shapes"}
	}

	// Nur die ersten 4 Kanaele von A werden mit B verrechnet, die
	// restlichen Kanaele (Masken- und Bild-Latents) bleiben unveraendert.
	fa, fb := a.Float32s(), b.Float32s()

	inner := int64(1)
	for _, d := range a.Shape[2:] {
		inner *= d
	}

	for i := int64(0); i < a.Shape[0]; i++ {
		dst := fa[i*ca*inner : i*ca*inner+4*inner]
		src := fb[i*cb*inner : (i+1)*cb*inner]
		op(dst, src, alpha)
	}

	// Ergebnis behaelt den Datentyp von A, analog zur in-place Mutation
	// des Primaermodells
	out := &tensor.Tensor{DType: a.DType, Shape: slices.Clone(a.Shape)}
	out.SetFloat32s(fa)
	return out, nil
}
