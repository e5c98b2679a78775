// cmd_merge.go - Merge und Extract Commands
// Hauptfunktionen: MergeHandler, ExtractHandler, runMerge
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smelter/smelt/api"
	"github.com/smelter/smelt/progress"
)

// newMergeCmd - Erstellt den merge Command
func newMergeCmd() *cobra.Command {
	mergeCmd := &cobra.Command{
		Use:     "merge PRIMARY [SECONDARY [TERTIARY]]",
		Short:   "Merge checkpoints into a new one",
		Args:    cobra.RangeArgs(1, 3),
		PreRunE: checkServerHeartbeat,
		RunE:    MergeHandler,
	}

	mergeCmd.Flags().StringP("method", "m", "weighted-sum", "Interpolation method (none, weighted-sum, add-difference)")
	mergeCmd.Flags().Float64P("alpha", "a", 0.5, "Blend factor, typically in [0, 1]")
	mergeCmd.Flags().String("save-unet", "", "Unet save policy (no-change, remove, or a precision like float16)")
	mergeCmd.Flags().String("save-vae", "", "VAE save policy")
	mergeCmd.Flags().String("save-te", "", "Text encoder save policy")
	mergeCmd.Flags().String("discard", "", "Discard keys matching this regular expression")
	mergeCmd.Flags().String("bake-vae", "", "Bake an external VAE into the result")
	mergeCmd.Flags().StringArray("bake-te", nil, "Bake external text encoders into the result, in order")
	mergeCmd.Flags().String("name", "", "Custom output filename")
	mergeCmd.Flags().Bool("fp32", false, "Upcast all tensors to float32 before merging")
	mergeCmd.Flags().Bool("no-metadata", false, "Do not embed metadata into the output file")
	mergeCmd.Flags().Bool("copy-metadata", false, "Copy metadata fields from the merged models")
	mergeCmd.Flags().Bool("no-recipe", false, "Do not embed the merge recipe into the output metadata")
	mergeCmd.Flags().String("metadata-json", "", "Extra metadata as a JSON object")

	return mergeCmd
}

// newExtractCmd - Erstellt den extract Command
func newExtractCmd() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:     "extract {unet|vae|te} MODEL",
		Short:   "Extract a component from a checkpoint",
		Args:    cobra.ExactArgs(2),
		PreRunE: checkServerHeartbeat,
		RunE:    ExtractHandler,
	}

	extractCmd.Flags().String("name", "", "Custom output filename")

	return extractCmd
}

// MergeHandler - Fuehrt einen Merge-Lauf auf dem Server aus
func MergeHandler(cmd *cobra.Command, args []string) error {
	req := api.MergeRequest{Primary: args[0]}
	if len(args) > 1 {
		req.Secondary = args[1]
	}
	if len(args) > 2 {
		req.Tertiary = args[2]
	}

	req.Method, _ = cmd.Flags().GetString("method")
	req.Multiplier, _ = cmd.Flags().GetFloat64("alpha")
	req.SaveUnet, _ = cmd.Flags().GetString("save-unet")
	req.SaveVAE, _ = cmd.Flags().GetString("save-vae")
	req.SaveTE, _ = cmd.Flags().GetString("save-te")
	req.DiscardWeights, _ = cmd.Flags().GetString("discard")
	req.BakeInVAE, _ = cmd.Flags().GetString("bake-vae")
	req.BakeInTE, _ = cmd.Flags().GetStringArray("bake-te")
	req.CustomName, _ = cmd.Flags().GetString("name")
	req.CalcFP32, _ = cmd.Flags().GetBool("fp32")
	req.MetadataJSON, _ = cmd.Flags().GetString("metadata-json")
	req.CopyMetadataFields, _ = cmd.Flags().GetBool("copy-metadata")

	noMetadata, _ := cmd.Flags().GetBool("no-metadata")
	noRecipe, _ := cmd.Flags().GetBool("no-recipe")
	req.SaveMetadata = !noMetadata
	req.AddMergeRecipe = !noMetadata && !noRecipe

	return runMerge(cmd, &req)
}

// ExtractHandler - Extrahiert einen Teilblock auf dem Server
func ExtractHandler(cmd *cobra.Command, args []string) error {
	var method string
	switch strings.ToLower(args[0]) {
	case "unet":
		method = "extract-unet"
	case "vae":
		method = "extract-vae"
	case "te", "text-encoder":
		method = "extract-te"
	default:
		return fmt.Errorf("unknown component %q (expected unet, vae or te)", args[0])
	}

	req := api.MergeRequest{
		Primary: args[1],
		Method:  method,
	}
	req.CustomName, _ = cmd.Flags().GetString("name")

	return runMerge(cmd, &req)
}

// runMerge - Startet den Lauf und zeigt den Fortschritt an
func runMerge(cmd *cobra.Command, req *api.MergeRequest) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	p := progress.NewProgress(os.Stderr)
	defer p.Stop()

	bars := make(map[string]*progress.Bar)

	var status string
	var spinner *progress.Spinner
	var path string

	fn := func(resp api.ProgressResponse) error {
		if resp.Path != "" {
			path = resp.Path
		}

		if resp.Digest != "" {
			if resp.Completed == 0 {
				return nil
			}

			if spinner != nil {
				spinner.Stop()
			}

			bar, ok := bars[resp.Digest]
			if !ok {
				bar = progress.NewBar(fmt.Sprintf("%s:", resp.Status), resp.Total, resp.Completed)
				bars[resp.Digest] = bar
				p.Add(resp.Digest, bar)
			}

			bar.Set(resp.Completed)
		} else if status != resp.Status {
			if spinner != nil {
				spinner.Stop()
			}

			status = resp.Status
			spinner = progress.NewSpinner(status)
			p.Add(status, spinner)
		}

		return nil
	}

	if err := client.Merge(cmd.Context(), req, fn); err != nil {
		return err
	}

	p.Stop()
	if path != "" {
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	}
	return nil
}
