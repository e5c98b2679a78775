// types.go - API-Typen fuer den smelt-Dienst
// Enthaelt: MergeRequest, ProgressResponse, ListResponse, ModelResponse,
//           ShowRequest, ShowResponse, StatusError
package api

import (
	"fmt"
	"time"
)

// StatusError is the error returned for non-2xx API responses.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the smelt server logs for details"
	}
}

// MergeRequest is the request passed to [Client.Merge]. Primary is always
// required; Secondary and Tertiary depend on the interpolation method.
type MergeRequest struct {
	// Primary is the name of model A.
	Primary string `json:"primary"`

	// Secondary is the name of model B, required by weighted-sum and
	// add-difference.
	Secondary string `json:"secondary,omitempty"`

	// Tertiary is the name of model C, required by add-difference.
	Tertiary string `json:"tertiary,omitempty"`

	// Method is the interpolation method: none, weighted-sum,
	// add-difference, extract-unet, extract-vae or extract-te.
	Method string `json:"method"`

	// Multiplier is the blend factor alpha, typically in [0, 1].
	Multiplier float64 `json:"multiplier"`

	// SaveUnet, SaveVAE and SaveTE select the per-block save policy:
	// "no-change" (default), "remove", or a target precision
	// (float32, float16, bfloat16, fp8e4m3, fp8e5m2).
	SaveUnet string `json:"save_unet,omitempty"`
	SaveVAE  string `json:"save_vae,omitempty"`
	SaveTE   string `json:"save_te,omitempty"`

	// DiscardWeights drops all keys matching this regular expression.
	DiscardWeights string `json:"discard_weights,omitempty"`

	// BakeInVAE names an external VAE to bake into the result.
	// "built-in" keeps the primary model's VAE even when SaveVAE
	// requests removal.
	BakeInVAE string `json:"bake_in_vae,omitempty"`

	// BakeInTE names external text encoders to bake in, applied in order.
	BakeInTE []string `json:"bake_in_te,omitempty"`

	// CustomName overrides the generated output filename.
	CustomName string `json:"custom_name,omitempty"`

	// CalcFP32 upcasts all tensors to float32 before merging.
	CalcFP32 bool `json:"calc_fp32,omitempty"`

	// SaveMetadata embeds metadata into the output file.
	SaveMetadata bool `json:"save_metadata,omitempty"`

	// CopyMetadataFields copies the participating models' metadata.
	CopyMetadataFields bool `json:"copy_metadata_fields,omitempty"`

	// AddMergeRecipe embeds the merge recipe into the output metadata.
	AddMergeRecipe bool `json:"add_merge_recipe,omitempty"`

	// MetadataJSON is a user-supplied JSON object merged into the
	// output metadata; parse failures are reported but non-fatal.
	MetadataJSON string `json:"metadata_json,omitempty"`

	// Stream specifies whether the response is streaming; it is true by default.
	Stream *bool `json:"stream,omitempty"`
}

// ProgressResponse is the response passed to progress functions like
// [MergeProgressFunc] while a merge run is underway.
type ProgressResponse struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`

	// Path is the output file, set on the final success response.
	Path string `json:"path,omitempty"`
}

// ModelResponse is a single model description in [ListResponse].
type ModelResponse struct {
	Name       string    `json:"name"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListResponse is the response from [Client.List].
type ListResponse struct {
	Models []ModelResponse `json:"models"`
}

// ShowRequest is the request passed to [Client.Show].
type ShowRequest struct {
	Model string `json:"model"`
}

// ShowResponse is the response returned from [Client.Show].
type ShowResponse struct {
	Name       string            `json:"name"`
	Filename   string            `json:"filename"`
	Size       int64             `json:"size"`
	ModifiedAt time.Time         `json:"modified_at"`
	Tensors    int               `json:"tensors"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
