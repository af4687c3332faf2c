// Package recollectcmder
package recollectcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/recollectco/recollect/cmd/recollect/config"
	servecmder "github.com/recollectco/recollect/cmd/recollect/serve"
	versioncmder "github.com/recollectco/recollect/cmd/version"
)

const recollectLongDesc string = `Recollect is a memory ledger for your agents.

Run services using:
  recollect serve      Run the MCP and API servers together

Manage configuration using:
  recollect config     Get, set, or list configuration values`

const recollectShortDesc string = "Recollect - Agent Memory Ledger"

func NewRecollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recollect",
		Short: recollectShortDesc,
		Long:  recollectLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .recollect/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
