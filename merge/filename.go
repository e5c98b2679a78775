// filename.go - Deterministische Dateinamen fuer Merge-Ergebnisse
//
// Dieses Modul enthaelt:
// - OutputName: Erzeugt den Dateinamen (ohne Endung) pro Methode
//
// Ein benutzerdefinierter Name ueberschreibt die Generierung immer.
// Ergebnis-Flags haengen feste Suffixe vor die Endung.
package merge

import (
	"fmt"
	"math"
	"strconv"
)

// roundMultiplier rundet den Blend-Faktor auf zwei Nachkommastellen
func roundMultiplier(m float64) string {
	return strconv.FormatFloat(math.Round(m*100)/100, 'g', -1, 64)
}

// OutputName erzeugt den Dateinamen fuer einen Merge-Lauf, ohne Endung.
// a, b, c sind die Modellnamen von Primaer-, Sekundaer- und Tertiaermodell.
func OutputName(method Method, multiplier float64, a, b, c string) string {
	switch method {
	case MethodWeightedSum:
		return fmt.Sprintf("%s(%s) + %s(%s)", roundMultiplier(1-multiplier), a, roundMultiplier(multiplier), b)
	case MethodAddDifference:
		return fmt.Sprintf("%s + %s(%s - %s)", a, roundMultiplier(multiplier), b, c)
	case MethodExtractUnet:
		return "[UNET]-" + a
	case MethodExtractVAE:
		return "[VAE]-" + a
	case MethodExtractTE:
		return "[TE]-" + a
	default:
		// Praefix verhindert das Ueberschreiben des Originals
		return "[]" + a
	}
}

// FlagSuffix gibt die Dateinamen-Suffixe der Ergebnis-Flags zurueck
func (f Flags) FlagSuffix() string {
	var s string
	if f.Inpainting {
		s += ".inpainting"
	}
	if f.InstructPix2Pix {
		s += ".instruct-pix2pix"
	}
	return s
}
