// Package configcmder provides the config command for managing persistent
// scout configuration stored in the .scout/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent scout configuration.

Configuration is stored as config.toml in the .scout/ directory and provides
default values for command flags. Environment variables (SCOUT_*) override
the file and CLI flags override both.

Keys use dotted notation matching the TOML section structure, for example:
  server.listen, upstream.base_url, upstream.api_key,
  search.provider, dataset.dataset_id,
  vector_store.provider, embedding.model,
  session.provider, session.ttl,
  events.provider, events.brokers,
  matching.workflow_id, client.target

Use subcommands to get, set, or list configuration values:
  scout config set <key> <value>    Set a configuration value
  scout config get <key>            Get a configuration value
  scout config list                 List all configuration values

Examples:
  scout config set upstream.api_key app-xxxxxxxx
  scout config set session.ttl 12h
  scout config get search.provider
  scout config list`

const configShortDesc string = "Manage persistent scout configuration"

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
