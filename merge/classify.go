// classify.go - Klassifizierung von Checkpoint-Keys in Architektur-Bloecke
//
// Dieses Modul enthaelt:
// - Block: Enum fuer die drei Teil-Bloecke (Backbone, VAE, Text-Encoder)
// - Classify: Ordnet einen Key genau einem Block zu (oder keinem)
// - DetectArchitecture: Erkennt die Modellfamilie ueber Probe-Keys
//
// Die Zuordnung laeuft ueber eine geordnete Regel-Tabelle aus
// (Pattern, Block)-Paaren; der erste Treffer gewinnt. Neue Architekturen
// brauchen nur neue Tabelleneintraege.
package merge

import "regexp"

// Block identifiziert einen Architektur-Teilblock
type Block int

const (
	BlockNone Block = iota
	BlockBackbone
	BlockVAE
	BlockTextEncoder
)

// String gibt den Block-Namen zurueck
func (b Block) String() string {
	switch b {
	case BlockBackbone:
		return "unet"
	case BlockVAE:
		return "vae"
	case BlockTextEncoder:
		return "text_encoder"
	default:
		return "none"
	}
}

// Blocks listet die drei Teil-Bloecke in fester Reihenfolge
var Blocks = []Block{BlockBackbone, BlockVAE, BlockTextEncoder}

// blockRules ist die geordnete Regel-Tabelle; der erste Treffer gewinnt
var blockRules = []struct {
	pattern *regexp.Regexp
	block   Block
}{
	{regexp.MustCompile(`\b(text_model|conditioner\.embedders|cond_stage_model\.model)\.`), BlockTextEncoder},
	{regexp.MustCompile(`\b(first_stage_model|vae)\.`), BlockVAE},
	{regexp.MustCompile(`\bmodel\.diffusion_model\.`), BlockBackbone},
}

// Classify ordnet einen Key genau einem Block zu. Keys ohne Treffer
// ergeben BlockNone und bleiben von Strip-Operationen unberuehrt.
func Classify(key string) Block {
	for _, rule := range blockRules {
		if rule.pattern.MatchString(key) {
			return rule.block
		}
	}
	return BlockNone
}

// Architecture ist der erkannte Modellfamilien-Tag
type Architecture string

const (
	ArchSD15    Architecture = "sd15"
	ArchSDXL    Architecture = "sdxl"
	ArchFlux    Architecture = "flux"
	ArchUnknown Architecture = ""
)

// archProbes ordnet familienspezifische Backbone-Keys den Architekturen zu.
// Die Reihenfolge ist fest: SD1.5 zuerst, dann SDXL, dann FLUX.
var archProbes = []struct {
	key  string
	arch Architecture
}{
	{"model.diffusion_model.output_blocks.10.0.emb_layers.1.bias", ArchSD15},
	{"model.diffusion_model.output_blocks.8.0.emb_layers.1.bias", ArchSDXL},
	{"model.diffusion_model.double_blocks.0.img_attn.norm.key_norm.scale", ArchFlux},
}

// DetectArchitecture prueft die Probe-Keys in fester Prioritaet und gibt
// den Tag sowie den gefundenen Probe-Key zurueck. Sind alle drei abwesend,
// ist das Ergebnis ArchUnknown; Aufrufer muessen das tolerieren.
func DetectArchitecture(theta Theta) (Architecture, string) {
	for _, probe := range archProbes {
		if _, ok := theta[probe.key]; ok {
			return probe.arch, probe.key
		}
	}
	return ArchUnknown, ""
}
