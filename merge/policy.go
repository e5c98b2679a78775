// policy.go - Save-Policies pro Teilblock
//
// Dieses Modul enthaelt:
// - Policy: entfernen / unveraendert lassen / auf Zielpraezision casten
// - ParsePolicy: Parst den Policy-String eines Requests
//
// Jeder der drei Teilbloecke (Backbone, VAE, Text-Encoder) traegt eine
// unabhaengige Policy; die Zuordnung laeuft ueber eine Map von Block auf
// Policy statt ueber Bitmasken.
package merge

import (
	"fmt"
	"strings"

	"github.com/smelter/smelt/tensor"
)

// Policy beschreibt die Behandlung eines Teilblocks beim Speichern
type Policy struct {
	// Remove streift den Block bereits beim Laden
	Remove bool

	// Cast rekodiert den Block beim Speichern auf DType
	Cast  bool
	DType tensor.DataType
}

// ParsePolicy parst einen Policy-String: "no-change" (leer), "remove"
// oder ein Praezisionsname (float32, float16, bfloat16, fp8e4m3, fp8e5m2)
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no-change", "no change":
		return Policy{}, nil
	case "remove", "none (remove)":
		return Policy{Remove: true}, nil
	case "float32", "fp32":
		return Policy{Cast: true, DType: tensor.DataTypeF32}, nil
	case "float16", "fp16":
		return Policy{Cast: true, DType: tensor.DataTypeF16}, nil
	case "bfloat16", "bf16":
		return Policy{Cast: true, DType: tensor.DataTypeBF16}, nil
	case "fp8e4m3", "fp8_e4m3":
		return Policy{Cast: true, DType: tensor.DataTypeF8E4M3}, nil
	case "fp8e5m2", "fp8_e5m2":
		return Policy{Cast: true, DType: tensor.DataTypeF8E5M2}, nil
	default:
		return Policy{}, fmt.Errorf("unknown save policy %q", s)
	}
}

// String gibt die Policy als Request-String zurueck
func (p Policy) String() string {
	switch {
	case p.Remove:
		return "remove"
	case p.Cast:
		switch p.DType {
		case tensor.DataTypeF32:
			return "float32"
		case tensor.DataTypeF16:
			return "float16"
		case tensor.DataTypeBF16:
			return "bfloat16"
		case tensor.DataTypeF8E4M3:
			return "fp8e4m3"
		case tensor.DataTypeF8E5M2:
			return "fp8e5m2"
		}
	}
	return "no-change"
}
