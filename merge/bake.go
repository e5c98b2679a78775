// bake.go - Einbacken externer VAE- und Text-Encoder-Teilmodelle
//
// Dieses Modul enthaelt:
// - Bake: Baut aus einer extern geladenen Gewichts-Map ein Delta im
//   Namensraum der Zielarchitektur
//
// Der Ablauf entspricht dem Rezept des Remapping-Kollaborateurs: eine
// Singleton-Probe-Map mit dem architektur-identifizierenden Key (Wert
// ist ein Platzhalter) steuert das Remapping, der Probe-Key wird aus dem
// Ergebnis wieder entfernt. Bei unbekanntem Architektur-Tag wird nicht
// gebacken; der Aufrufer ueberspringt das Overlay ohne Fehler.
package merge

import (
	"log/slog"

	"github.com/smelter/smelt/tensor"
)

// Bake remappt source in den Namensraum der Zielarchitektur und gibt das
// Delta zurueck. Bei ArchUnknown ist das Ergebnis nil und das Einbacken
// entfaellt.
func Bake(remapper Remapper, arch Architecture, probeKey string, source Theta) (Theta, error) {
	if arch == ArchUnknown || probeKey == "" {
		slog.Warn("unknown model architecture, skipping bake")
		return nil, nil
	}

	probe := Theta{probeKey: tensor.FromFloat32s([]float32{0}, 1)}

	delta, err := remapper.Remap(probe, source, arch)
	if err != nil {
		return nil, err
	}

	delete(delta, probeKey)
	return delta, nil
}

// Overlay schreibt alle Delta-Eintraege in den Ziel-Store (last-writer-wins)
func (theta Theta) Overlay(delta Theta) {
	for key, t := range delta {
		theta[key] = t
	}
}
