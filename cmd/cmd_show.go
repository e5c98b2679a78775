// cmd_show.go - Show Command
// Hauptfunktionen: ShowHandler
package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/smelter/smelt/api"
	"github.com/smelter/smelt/format"
)

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "show MODEL",
		Short:   "Show information for a checkpoint",
		Args:    cobra.ExactArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ShowHandler,
	}
}

// ShowHandler - Zeigt Details und Metadaten eines Checkpoints an
func ShowHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.Show(cmd.Context(), &api.ShowRequest{Model: args[0]})
	if err != nil {
		return err
	}

	fmt.Printf("  Name       %s\n", resp.Name)
	fmt.Printf("  File       %s\n", resp.Filename)
	fmt.Printf("  Size       %s\n", format.HumanBytes(resp.Size))
	fmt.Printf("  Tensors    %d\n", resp.Tensors)
	fmt.Printf("  Modified   %s\n", format.HumanTime(resp.ModifiedAt, "Never"))

	if len(resp.Metadata) > 0 {
		fmt.Println()
		fmt.Println("  Metadata")

		keys := make([]string, 0, len(resp.Metadata))
		for k := range resp.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		var data [][]string
		for _, k := range keys {
			v := resp.Metadata[k]
			if len(v) > 80 {
				v = v[:77] + "..."
			}
			data = append(data, []string{k, v})
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(data)
		table.Render()
	}

	return nil
}
