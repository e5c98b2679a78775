// remap.go - Key-Remapping externer Teilmodelle in den Ziel-Namensraum
//
// Dieses Modul enthaelt:
// - Remapper: Schnittstelle des Remapping-Kollaborateurs
// - PrefixRemapper: Standard-Implementierung ueber Praefix-Tabellen
//
// Externe VAE- und Text-Encoder-Dateien tragen ihre Keys im eigenen
// Namensraum (z.B. "decoder.conv_in.weight"); vor dem Einbacken muessen
// sie in den Namensraum der Zielarchitektur umgeschrieben werden. Die
// Tabellen sind pro Architektur-Tag geordnet, der erste passende Praefix
// gewinnt; Keys ohne Treffer laufen unveraendert durch.
package merge

import (
	"maps"
	"strings"
)

// Remapper schreibt die Keys einer externen Gewichts-Map in den
// Namensraum der Zielarchitektur um. probe enthaelt nur den
// architektur-identifizierenden Key und laeuft unveraendert durch.
type Remapper interface {
	Remap(probe, source Theta, arch Architecture) (Theta, error)
}

// prefixRule bildet einen Quell-Praefix auf einen Ziel-Praefix ab
type prefixRule struct {
	from string
	to   string
}

// remapTables - Praefix-Tabellen pro Architektur
var remapTables = map[Architecture][]prefixRule{
	ArchSD15: {
		{"encoder.", "first_stage_model.encoder."},
		{"decoder.", "first_stage_model.decoder."},
		{"quant_conv.", "first_stage_model.quant_conv."},
		{"post_quant_conv.", "first_stage_model.post_quant_conv."},
		{"text_model.", "cond_stage_model.transformer.text_model."},
	},
	ArchSDXL: {
		{"encoder.", "first_stage_model.encoder."},
		{"decoder.", "first_stage_model.decoder."},
		{"quant_conv.", "first_stage_model.quant_conv."},
		{"post_quant_conv.", "first_stage_model.post_quant_conv."},
		{"text_model.", "conditioner.embedders.0.transformer.text_model."},
	},
	ArchFlux: {
		{"encoder.", "vae.encoder."},
		{"decoder.", "vae.decoder."},
		{"text_model.", "text_encoders.clip_l.transformer.text_model."},
	},
}

// PrefixRemapper ist der eingebaute Remapper auf Basis der Praefix-Tabellen
type PrefixRemapper struct{}

// Remap schreibt source-Keys per Tabelle um; probe-Eintraege bleiben erhalten
func (PrefixRemapper) Remap(probe, source Theta, arch Architecture) (Theta, error) {
	rules := remapTables[arch]

	out := maps.Clone(probe)
	if out == nil {
		out = make(Theta, len(source))
	}

	for key, t := range source {
		mapped := key
		for _, rule := range rules {
			if strings.HasPrefix(key, rule.from) {
				mapped = rule.to + strings.TrimPrefix(key, rule.from)
				break
			}
		}
		out[mapped] = t
	}

	return out, nil
}
