// cast.go - Praezisions-Konvertierung fuer Tensoren
//
// Dieses Modul enthaelt:
// - Cast: Konvertiert einen Tensor in einen der fuenf Ziel-Datentypen
// - fp8e4m3/fp8e5m2 Kodierung und Dekodierung (round-to-nearest-even)
//
// F16 laeuft ueber github.com/x448/float16, BF16 ueber
// github.com/d4l3k/go-bfloat16. Fuer die beiden FP8-Varianten existiert
// keine Bibliothek; die Bit-Konvertierung ist hier implementiert.
// E4M3 saettigt bei Ueberlauf auf +-448 (kein Inf im Format), E5M2
// laeuft nach IEEE-Muster auf Inf ueber.
package tensor

import (
	"fmt"
	"math"
	"slices"
)

// Cast konvertiert einen Tensor in den Ziel-Datentyp. Der Eingabetensor
// bleibt unveraendert; bei identischem Typ wird er direkt zurueckgegeben.
func Cast(t *Tensor, target DataType) (*Tensor, error) {
	switch target {
	case DataTypeF32, DataTypeF16, DataTypeBF16, DataTypeF8E4M3, DataTypeF8E5M2:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPrecision, target)
	}

	if t.DType == target {
		return t, nil
	}

	out := &Tensor{DType: target, Shape: slices.Clone(t.Shape)}
	out.SetFloat32s(t.Float32s())
	return out, nil
}

// fp8e4m3ToFloat32 dekodiert float8_e4m3fn (Bias 7, kein Inf, NaN = 0x7f)
func fp8e4m3ToFloat32(v uint8) float32 {
	sign := 1.0
	if v&0x80 != 0 {
		sign = -1
	}
	exp := int(v>>3) & 0xf
	man := int(v) & 0x7

	switch {
	case exp == 0xf && man == 0x7:
		return float32(math.NaN())
	case exp == 0:
		// subnormal: man * 2^-9
		return float32(sign * math.Ldexp(float64(man), -9))
	default:
		return float32(sign * math.Ldexp(float64(8+man), exp-10))
	}
}

// fp8e5m2ToFloat32 dekodiert float8_e5m2 (Bias 15, IEEE-artig)
func fp8e5m2ToFloat32(v uint8) float32 {
	sign := 1.0
	if v&0x80 != 0 {
		sign = -1
	}
	exp := int(v>>2) & 0x1f
	man := int(v) & 0x3

	switch {
	case exp == 0x1f && man != 0:
		return float32(math.NaN())
	case exp == 0x1f:
		return float32(sign * math.Inf(1))
	case exp == 0:
		// subnormal: man * 2^-16
		return float32(sign * math.Ldexp(float64(man), -16))
	default:
		return float32(sign * math.Ldexp(float64(4+man), exp-17))
	}
}

// fp8e4m3FromFloat32 enkodiert nach float8_e4m3fn mit Saettigung auf +-448
func fp8e4m3FromFloat32(f float32) uint8 {
	bits := math.Float32bits(f)
	sign := uint8(bits >> 24 & 0x80)
	abs := bits & 0x7fffffff

	if abs >= 0x7f800000 {
		// Inf und NaN werden beide zu NaN, das Format kennt kein Inf
		return sign | 0x7f
	}

	exp := int32(abs >> 23)
	if exp == 0 {
		// fp32-Subnormale liegen weit unter dem fp8-Bereich
		return sign
	}

	sig := abs&0x7fffff | 0x800000
	q, te := roundSignificand(sig, exp-127+7, 3)

	if te > 15 || (te == 15 && q == 7) {
		return sign | 0x7e
	}
	return sign | uint8(te)<<3 | uint8(q)
}

// fp8e5m2FromFloat32 enkodiert nach float8_e5m2, Ueberlauf ergibt Inf
func fp8e5m2FromFloat32(f float32) uint8 {
	bits := math.Float32bits(f)
	sign := uint8(bits >> 24 & 0x80)
	abs := bits & 0x7fffffff

	if abs > 0x7f800000 {
		return sign | 0x7f
	}
	if abs == 0x7f800000 {
		return sign | 0x7c
	}

	exp := int32(abs >> 23)
	if exp == 0 {
		return sign
	}

	sig := abs&0x7fffff | 0x800000
	q, te := roundSignificand(sig, exp-127+15, 2)

	if te >= 31 {
		return sign | 0x7c
	}
	return sign | uint8(te)<<2 | uint8(q)
}

// roundSignificand rundet ein 24-bit Signifikand (implizites Bit gesetzt)
// auf manBits Mantissenbits, round-to-nearest-even. te ist der Ziel-Exponent
// (biased); te == 0 liefert eine Subnormale. Rueckgabe: Mantisse ohne
// implizites Bit und der gegebenenfalls korrigierte Exponent.
func roundSignificand(sig uint32, te int32, manBits uint) (uint32, int32) {
	shift := int32(23 - manBits)
	if te <= 0 {
		shift += 1 - te
		te = 0
	}
	if shift > 31 {
		shift = 31
	}

	q := sig >> uint(shift)
	rem := sig & (1<<uint(shift) - 1)
	half := uint32(1) << uint(shift-1)
	if rem > half || (rem == half && q&1 == 1) {
		q++
	}

	hidden := uint32(1) << manBits
	if te == 0 {
		if q >= hidden {
			// Rundung hat in den normalen Bereich getragen
			te = 1
			q -= hidden
		}
	} else {
		if q >= hidden<<1 {
			q >>= 1
			te++
		}
		q -= hidden
	}
	return q, te
}
