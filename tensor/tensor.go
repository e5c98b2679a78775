// Package tensor - Tensor-Werttyp fuer Checkpoint-Gewichte
//
// Dieses Modul enthaelt die Tensor-Hauptstruktur:
// - Tensor: Rohdaten (little-endian) plus Shape und DataType
// - Elems/Bytes: Groessenberechnung
// - Float32s/SetFloat32s: Dekodierung und Enkodierung der Elemente
// - Zeros/Clone: Konstruktion
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor ist ein mehrdimensionaler Wert mit rohen little-endian Daten.
// Die Daten gehoeren dem Tensor; Aufrufer duerfen sie nach Uebergabe
// nicht weiter veraendern.
type Tensor struct {
	DType DataType
	Shape []int64
	Data  []byte
}

// Elems gibt die Anzahl der Elemente zurueck
func (t *Tensor) Elems() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Bytes gibt die erwartete Datenlaenge in Bytes zurueck
func (t *Tensor) Bytes() int64 {
	return t.Elems() * t.DType.Size()
}

// SameShape meldet, ob beide Tensoren dieselbe Shape haben
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.Shape, o.Shape)
}

// Zeros erstellt einen Null-Tensor mit gegebener Shape und Typ
func Zeros(dtype DataType, shape ...int64) *Tensor {
	t := &Tensor{DType: dtype, Shape: slices.Clone(shape)}
	t.Data = make([]byte, t.Bytes())
	return t
}

// Clone erstellt eine tiefe Kopie
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		DType: t.DType,
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

// Float32s dekodiert alle Elemente nach float32
func (t *Tensor) Float32s() []float32 {
	switch t.DType {
	case DataTypeF32:
		f32s := make([]float32, t.Elems())
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
		return f32s
	case DataTypeF16:
		f32s := make([]float32, t.Elems())
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[i*2:])).Float32()
		}
		return f32s
	case DataTypeBF16:
		return bfloat16.DecodeFloat32(t.Data)
	case DataTypeF8E4M3:
		f32s := make([]float32, t.Elems())
		for i := range f32s {
			f32s[i] = fp8e4m3ToFloat32(t.Data[i])
		}
		return f32s
	case DataTypeF8E5M2:
		f32s := make([]float32, t.Elems())
		for i := range f32s {
			f32s[i] = fp8e5m2ToFloat32(t.Data[i])
		}
		return f32s
	default:
		panic(fmt.Sprintf("tensor: cannot decode dtype %s", t.DType))
	}
}

// SetFloat32s enkodiert die Werte in den Element-Typ des Tensors.
// len(f32s) muss Elems() entsprechen.
func (t *Tensor) SetFloat32s(f32s []float32) {
	if int64(len(f32s)) != t.Elems() {
		panic(fmt.Sprintf("tensor: element count mismatch: %d != %d", len(f32s), t.Elems()))
	}

	switch t.DType {
	case DataTypeF32:
		t.Data = encodeFloat32s(f32s)
	case DataTypeF16:
		bts := make([]byte, len(f32s)*2)
		for i, f := range f32s {
			binary.LittleEndian.PutUint16(bts[i*2:], float16.Fromfloat32(f).Bits())
		}
		t.Data = bts
	case DataTypeBF16:
		t.Data = bfloat16.EncodeFloat32(f32s)
	case DataTypeF8E4M3:
		bts := make([]byte, len(f32s))
		for i, f := range f32s {
			bts[i] = fp8e4m3FromFloat32(f)
		}
		t.Data = bts
	case DataTypeF8E5M2:
		bts := make([]byte, len(f32s))
		for i, f := range f32s {
			bts[i] = fp8e5m2FromFloat32(f)
		}
		t.Data = bts
	default:
		panic(fmt.Sprintf("tensor: cannot encode dtype %s", t.DType))
	}
}

// FromFloat32s erstellt einen F32-Tensor aus Werten
func FromFloat32s(f32s []float32, shape ...int64) *Tensor {
	t := &Tensor{DType: DataTypeF32, Shape: slices.Clone(shape)}
	t.Data = encodeFloat32s(f32s)
	if int64(len(f32s)) != t.Elems() {
		panic(fmt.Sprintf("tensor: element count mismatch: %d != %d", len(f32s), t.Elems()))
	}
	return t
}

func encodeFloat32s(f32s []float32) []byte {
	bts := make([]byte, len(f32s)*4)
	for i, f := range f32s {
		binary.LittleEndian.PutUint32(bts[i*4:], math.Float32bits(f))
	}
	return bts
}
