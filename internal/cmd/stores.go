package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func storesCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List persisted cache stores and their entry counts",
		Long: `List the cache stores owned by this engine. Only the sqlite cache
backend persists stores between runs; the memory backend always starts empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			names, err := rt.engine.Cache().Names(ctx)
			if err != nil {
				return err
			}
			current := rt.engine.Version()
			for _, name := range names {
				store, err := rt.engine.Cache().Open(ctx, name)
				if err != nil {
					return err
				}
				n, err := store.Count(ctx)
				if err != nil {
					return err
				}
				marker := ""
				if name == current.ShellStore || name == current.RuntimeStore {
					marker = " (current)"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d%s\n", name, n, marker)
			}
			return nil
		},
	}
}
