// Package cmd holds the offline-engine command line.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// RootCommand builds the command tree.
func RootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "offline-engine",
		Short: "Offline-first caching proxy and request sync engine",
		Long: `offline-engine sits between a web client and its origin. It serves
cached shell and API responses when the network is gone, synthesizes
placeholder payloads for uncached API calls, and queues mutating requests
for replay once connectivity returns.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: search ./config.yaml)")

	root.AddCommand(
		serveCommand(&configPath),
		queueCommand(&configPath),
		storesCommand(&configPath),
		versionCommand(),
	)
	return root
}
