// Package configcmder provides the config command for managing persistent
// recollect configuration stored in the .recollect/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent recollect configuration.

Configuration is stored as config.toml in the .recollect/ directory and
provides default values for command flags. CLI flags always take precedence
over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path, api.listen,
  memory_store.provider, memory_store.target, memory_store.api_key,
  blobs.base_path,
  events.enabled, events.topic

Use subcommands to get, set, or list configuration values:
  recollect config set <key> <value>    Set a configuration value
  recollect config get <key>            Get a configuration value
  recollect config list                 List all configuration values

Examples:
  recollect config set memory_store.provider mem0
  recollect config set memory_store.target http://localhost:8765
  recollect config get api.listen
  recollect config list`

const configShortDesc string = "Manage persistent recollect configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
