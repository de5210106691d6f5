// Package scoutcmder is the root of the scout command tree.
package scoutcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/scout/cmd/scout/chat"
	configcmder "github.com/papercomputeco/scout/cmd/scout/config"
	searchcmder "github.com/papercomputeco/scout/cmd/scout/search"
	seedcmder "github.com/papercomputeco/scout/cmd/scout/seed"
	servecmder "github.com/papercomputeco/scout/cmd/scout/serve"
	versioncmder "github.com/papercomputeco/scout/cmd/version"
)

const scoutLongDesc string = `Scout is a conversational company search service.

It relays chat to a Dify app as a server-sent event stream and answers
with matching companies from a knowledge base or vector store.

Run the server and talk to it using:
  scout serve      Run the server
  scout chat       Chat with a running server
  scout search     Search companies directly
  scout seed       Load companies into the vector store`

const scoutShortDesc string = "Scout - conversational company search"

func NewScoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "scout",
		Short:         scoutShortDesc,
		Long:          scoutLongDesc,
		SilenceUsage:  true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding config.toml (default: ./.scout or ~/.scout)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(seedcmder.NewSeedCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
