// dtype.go - Datentypen fuer Checkpoint-Tensoren
//
// Dieses Modul enthaelt den DataType-Enum fuer die fuenf unterstuetzten
// Element-Typen sowie Parsing und Groessenberechnung:
// - ParseDataType: Parst einen safetensors dtype-String
// - String: Gibt den safetensors dtype-String zurueck
// - Size: Bytes pro Element
package tensor

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPrecision wird bei unbekannten Ziel-Datentypen zurueckgegeben
var ErrUnsupportedPrecision = errors.New("unsupported precision")

// DataType identifiziert den Element-Typ eines Tensors
type DataType uint32

const (
	DataTypeF32 DataType = iota
	DataTypeF16
	DataTypeBF16
	DataTypeF8E4M3
	DataTypeF8E5M2
)

// ParseDataType parst einen safetensors dtype-String
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "F32":
		return DataTypeF32, nil
	case "F16":
		return DataTypeF16, nil
	case "BF16":
		return DataTypeBF16, nil
	case "F8_E4M3":
		return DataTypeF8E4M3, nil
	case "F8_E5M2":
		return DataTypeF8E5M2, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedPrecision, s)
	}
}

// String gibt den safetensors dtype-String zurueck
func (t DataType) String() string {
	switch t {
	case DataTypeF32:
		return "F32"
	case DataTypeF16:
		return "F16"
	case DataTypeBF16:
		return "BF16"
	case DataTypeF8E4M3:
		return "F8_E4M3"
	case DataTypeF8E5M2:
		return "F8_E5M2"
	default:
		return "unknown"
	}
}

// Size gibt die Bytes pro Element zurueck
func (t DataType) Size() int64 {
	switch t {
	case DataTypeF32:
		return 4
	case DataTypeF16, DataTypeBF16:
		return 2
	case DataTypeF8E4M3, DataTypeF8E5M2:
		return 1
	default:
		return 0
	}
}
