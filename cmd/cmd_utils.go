// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: checkServerHeartbeat
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smelter/smelt/api"
	"github.com/smelter/smelt/envconfig"
)

// checkServerHeartbeat - Prueft ob der Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	if err := client.Heartbeat(cmd.Context()); err != nil {
		if strings.Contains(err.Error(), " refused") || strings.Contains(err.Error(), "could not connect") {
			return fmt.Errorf("could not connect to smelt server at %s, is it running? (start it with 'smelt serve')", envconfig.Host())
		}
		return err
	}

	return nil
}
