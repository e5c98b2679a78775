// recipe.go - Merge-Rezept und Herkunfts-Metadaten
//
// Dieses Modul enthaelt:
// - Recipe: Herkunftsdatensatz eines Merge-Laufs
// - ModelRecord: Identitaets-Eintrag eines beteiligten Modells
//
// Beide werden als JSON-Strings in die Metadaten der Ausgabedatei
// eingebettet. Die Feldnamen folgen der verbreiteten webui-Konvention
// (sd_merge_recipe / sd_merge_models), damit andere Werkzeuge die
// Herkunft weiterlesen koennen.
package merge

import "encoding/json"

// Metadaten-Keys der Ausgabedatei
const (
	RecipeMetadataKey = "sd_merge_recipe"
	ModelsMetadataKey = "sd_merge_models"
)

// Recipe beschreibt, wie ein Checkpoint erzeugt wurde. Es wird genau
// einmal pro erfolgreichem Lauf erstellt und danach nie veraendert.
type Recipe struct {
	Type              string   `json:"type"`
	PrimaryHash       string   `json:"primary_model_hash"`
	SecondaryHash     string   `json:"secondary_model_hash,omitempty"`
	TertiaryHash      string   `json:"tertiary_model_hash,omitempty"`
	Method            string   `json:"interp_method"`
	Multiplier        float64  `json:"multiplier"`
	SaveAs            string   `json:"save_as"`
	CustomName        string   `json:"custom_name,omitempty"`
	BakeInVAE         string   `json:"bake_in_vae,omitempty"`
	BakeInTE          []string `json:"bake_in_te,omitempty"`
	DiscardWeights    string   `json:"discard_weights,omitempty"`
	IsInpainting      bool     `json:"is_inpainting"`
	IsInstructPix2Pix bool     `json:"is_instruct_pix2pix"`
}

// ModelRecord identifiziert ein beteiligtes Modell im Rezept, gekeyt
// ueber dessen Content-Hash. MergeRecipe traegt das Rezept des Modells
// weiter, falls es selbst ein Merge war.
type ModelRecord struct {
	Name        string          `json:"name"`
	LegacyHash  string          `json:"legacy_hash,omitempty"`
	MergeRecipe json.RawMessage `json:"sd_merge_recipe,omitempty"`
}
